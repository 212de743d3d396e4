// Command fabricsub runs one fabric's subscriber FSM: it bootstraps
// derived network state from a management controller, subscribes to live
// events, and dispatches work to downstream analyzer workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/fabricsub/pkg/api"
	"github.com/cuemby/fabricsub/pkg/bus"
	"github.com/cuemby/fabricsub/pkg/config"
	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/dispatch"
	"github.com/cuemby/fabricsub/pkg/log"
	"github.com/cuemby/fabricsub/pkg/storage"
	"github.com/cuemby/fabricsub/pkg/subscriber"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fabricsub",
	Short:   "fabricsub runs a fabric subscriber coordinator",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fabricsub version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a fabricsub.yaml config file")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the subscriber FSM for one fabric until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if fabricFlag, _ := cmd.Flags().GetString("fabric"); fabricFlag != "" {
			cfg.Fabric = fabricFlag
		}
		if cfg.Fabric == "" {
			return fmt.Errorf("fabric id is required (--fabric or config fabric:)")
		}

		log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
		logger := log.WithFabric(cfg.Fabric)

		store, err := storage.NewBoltStore(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		if err := seedSettings(store, cfg); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}

		busConn := bus.NewMemory()
		defer busConn.Close()

		// A real management-controller Session/Subscription speaks REST over
		// HTTPS against the fabric's controller API; that transport is out
		// of scope here (pkg/controller's doc comment). The fake in-memory
		// collaborators let this binary run standalone the same way the
		// teacher's "cluster init" brings up an embedded containerd instead
		// of requiring an external one.
		session := controller.NewFakeSession(subscriber.MinimumSupportedVersion)
		sub := controller.NewFakeSubscription()

		table := buildWorkerTable(cfg.Workers)

		fsmCfg := subscriber.Config{
			Fabric:                    cfg.Fabric,
			SubscriptionCheckInterval: cfg.Subscriber.SubscriptionCheckInterval,
			HelloInterval:             cfg.Subscriber.HelloInterval,
			StatsInterval:             cfg.Subscriber.StatsInterval,
			BgEventHandlerInterval:    cfg.Subscriber.BgEventHandlerInterval,
			MaxEpmBuildTime:           cfg.Subscriber.MaxEpmBuildTime,
		}
		fsm := subscriber.New(fsmCfg, session, sub, store, busConn, table)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		healthSrv := api.NewHealthServer(fsm, fsm.Watchdog(), Version)
		go func() {
			if err := healthSrv.Start(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error().Err(err).Msg("health server exited")
			}
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("fabricsub: health/metrics endpoint listening")

		errCh := make(chan error, 1)
		go func() {
			errCh <- fsm.Run(ctx)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("fabricsub: received interrupt, shutting down")
			cancel()
			<-errCh
		case err := <-errCh:
			if err != nil {
				logger.Error().Err(err).Msg("fabricsub: subscriber terminated")
				healthSrv.Stop()
				return err
			}
		}

		healthSrv.Stop()
		logger.Info().Msg("fabricsub: shutdown complete")
		return nil
	},
}

func init() {
	runCmd.Flags().String("fabric", "", "Fabric id this process coordinates (overrides config)")
}

// seedSettings writes config.Settings as the fabric's Settings row if the
// store doesn't already have one, so a fresh deployment boots with
// operator-supplied defaults instead of SnapshotBuilder finding nothing.
func seedSettings(store storage.Store, cfg *config.Config) error {
	if _, err := store.GetSettings(cfg.Fabric); err == nil {
		return nil
	}
	return store.SaveSettings(&types.Settings{
		Fabric:             cfg.Fabric,
		OverlayVnid:        cfg.Settings.OverlayVnid,
		VpcPairType:        types.VpcPairType(cfg.Settings.VpcPairType),
		Tz:                 cfg.Settings.Tz,
		QueueInitEvents:    cfg.Settings.QueueInitEvents,
		QueueInitEpmEvents: cfg.Settings.QueueInitEpmEvents,
	})
}

// buildWorkerTable constructs a fixed worker/watcher table from config.
// Queue keys are "<role>-<n>/q<i>", matching the "<workerId>/<qnum>" shape
// pkg/dispatch and pkg/bus's in-memory queues use elsewhere in this repo.
func buildWorkerTable(cfg config.WorkersConfig) dispatch.ActiveWorkerTable {
	table := dispatch.ActiveWorkerTable{}
	table[types.RoleWorker] = buildWorkers(types.RoleWorker, cfg.WorkerCount, cfg.QueuesPerWorker)
	table[types.RoleWatcher] = buildWorkers(types.RoleWatcher, cfg.WatcherCount, cfg.QueuesPerWorker)
	return table
}

func buildWorkers(role types.WorkerRole, count, queuesPerWorker int) []*types.Worker {
	if count <= 0 {
		count = 1
	}
	if queuesPerWorker <= 0 {
		queuesPerWorker = 1
	}
	workers := make([]*types.Worker, 0, count)
	for i := 0; i < count; i++ {
		workerID := fmt.Sprintf("%s-%d", role, i)
		queues := make([]string, 0, queuesPerWorker)
		for q := 0; q < queuesPerWorker; q++ {
			queues = append(queues, fmt.Sprintf("%s/q%d", workerID, q))
		}
		workers = append(workers, &types.Worker{WorkerID: workerID, Role: role, Queues: queues})
	}
	return workers
}
