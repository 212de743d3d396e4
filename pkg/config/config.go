// Package config loads fabricsub's process configuration from layered
// sources: built-in defaults, an optional YAML file, then environment
// variables, each overriding the last (mirroring dpup-prefab's koanf
// layering, adapted from a global singleton to a typed struct since one
// process can host more than one fabric's subscriber).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
)

// EnvPrefix is stripped from environment variable names before they are
// mapped onto config keys, e.g. FABRICSUB_LOG__LEVEL -> log.level.
const EnvPrefix = "FABRICSUB_"

// Config is the top-level process configuration.
type Config struct {
	Fabric     string           `koanf:"fabric"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Storage    StorageConfig    `koanf:"storage"`
	Bus        BusConfig        `koanf:"bus"`
	Controller ControllerConfig `koanf:"controller"`
	Subscriber SubscriberConfig `koanf:"subscriber"`
	Settings   SettingsConfig   `koanf:"settings"`
	Workers    WorkersConfig    `koanf:"workers"`
}

// WorkersConfig describes the fixed worker/watcher table this process
// dispatches to. Membership is static for the life of the process (§1
// Non-goals: no dynamic add/remove); changing it requires a restart.
type WorkersConfig struct {
	WorkerCount     int `koanf:"workerCount"`
	WatcherCount    int `koanf:"watcherCount"`
	QueuesPerWorker int `koanf:"queuesPerWorker"`
}

// LogConfig controls pkg/log.
type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// MetricsConfig controls the promhttp exposition address.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// StorageConfig points at the bbolt data directory.
type StorageConfig struct {
	DataDir string `koanf:"dataDir"`
}

// BusConfig addresses the message bus backing pkg/bus.Bus. Only the
// in-memory reference implementation ships in this repo (§2 C4/Bus is an
// external collaborator in production); Addr is carried so a future
// broker-backed Bus has somewhere to read its connection string from.
type BusConfig struct {
	Addr string `koanf:"addr"`
}

// ControllerConfig addresses the management controller session (§2 C4,
// external collaborator; wired here for deployments that construct a real
// controller.Session out-of-tree against this same config).
type ControllerConfig struct {
	Addr     string `koanf:"addr"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// SubscriberConfig mirrors subscriber.Config's tunable intervals.
type SubscriberConfig struct {
	SubscriptionCheckInterval time.Duration `koanf:"subscriptionCheckInterval"`
	HelloInterval             time.Duration `koanf:"helloInterval"`
	StatsInterval             time.Duration `koanf:"statsInterval"`
	BgEventHandlerInterval    time.Duration `koanf:"bgEventHandlerInterval"`
	MaxEpmBuildTime           time.Duration `koanf:"maxEpmBuildTime"`
}

// SettingsConfig seeds types.Settings defaults for a fabric that has no
// row yet in the Store (first boot).
type SettingsConfig struct {
	OverlayVnid        uint32 `koanf:"overlayVnid"`
	VpcPairType        string `koanf:"vpcPairType"`
	Tz                 string `koanf:"tz"`
	QueueInitEvents    bool   `koanf:"queueInitEvents"`
	QueueInitEpmEvents bool   `koanf:"queueInitEpmEvents"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log.level":                            "info",
		"log.json":                             false,
		"metrics.addr":                         "127.0.0.1:9090",
		"storage.dataDir":                      "./fabricsub-data",
		"bus.addr":                             "",
		"controller.addr":                      "",
		"controller.username":                  "",
		"controller.password":                  "",
		"subscriber.subscriptionCheckInterval": "5s",
		"subscriber.helloInterval":             "10s",
		"subscriber.statsInterval":             "15s",
		"subscriber.bgEventHandlerInterval":    "2s",
		"subscriber.maxEpmBuildTime":           "5m",
		"settings.overlayVnid":                 0,
		"settings.vpcPairType":                 "",
		"settings.tz":                          "UTC",
		"settings.queueInitEvents":             true,
		"settings.queueInitEpmEvents":          true,
		"workers.workerCount":                  1,
		"workers.watcherCount":                 1,
		"workers.queuesPerWorker":               1,
	}
}

// Load builds a Config from built-in defaults, then an optional YAML file
// at path (skipped silently if path is empty or the file doesn't exist),
// then environment variables prefixed with EnvPrefix. Later sources win.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// transformEnv converts FABRICSUB_SUBSCRIBER__HELLO_INTERVAL to
// subscriber.helloInterval.
func transformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	segments := strings.Split(s, "__")
	for i, segment := range segments {
		parts := strings.Split(segment, "_")
		for j := 1; j < len(parts); j++ {
			parts[j] = capitalize(parts[j])
		}
		segments[i] = strings.Join(parts, "")
	}
	return strings.Join(segments, ".")
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}
