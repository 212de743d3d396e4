// Package api exposes the subscriber process's HTTP surface: Prometheus
// scraping and the health/ready/live probes a process supervisor polls.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/fabricsub/pkg/metrics"
	"github.com/cuemby/fabricsub/pkg/subscriber"
	"github.com/cuemby/fabricsub/pkg/watchdog"
)

// criticalComponents gates /ready: all three must be registered and
// healthy before this process is considered fit to receive dispatched work.
var criticalComponents = []string{"bus", "store", "controller"}

// componentHealth is the last-known health of one collaborator.
type componentHealth struct {
	healthy bool
	message string
	updated time.Time
}

// healthReport is the JSON body served from /health and /ready.
type healthReport struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// HealthServer exposes /health, /ready, /live and /metrics for one
// subscriber FSM. It polls the FSM and its watchdog on a short interval
// and tracks each collaborator's last-known health itself, so /health and
// /ready reflect live state rather than a snapshot taken at startup.
type HealthServer struct {
	fsm *subscriber.FSM
	wd  *watchdog.Watchdog
	mux *http.ServeMux

	mu         sync.RWMutex
	components map[string]componentHealth
	version    string
	startedAt  time.Time

	stopCh chan struct{}
}

// NewHealthServer creates a health check HTTP server over one fabric's FSM.
func NewHealthServer(fsm *subscriber.FSM, wd *watchdog.Watchdog, version string) *HealthServer {
	hs := &HealthServer{
		fsm:        fsm,
		wd:         wd,
		mux:        http.NewServeMux(),
		components: make(map[string]componentHealth),
		version:    version,
		startedAt:  time.Now(),
		stopCh:     make(chan struct{}),
	}

	hs.mux.Handle("/metrics", metrics.Handler())
	hs.mux.HandleFunc("/health", hs.healthHandler)
	hs.mux.HandleFunc("/ready", hs.readyHandler)
	hs.mux.HandleFunc("/live", hs.livenessHandler)

	return hs
}

// Start polls component health in the background until ctx is cancelled or
// Stop is called, and serves HTTP until ctx is cancelled.
func (hs *HealthServer) Start(ctx context.Context, addr string) error {
	go hs.pollLoop(ctx)

	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop ends the background poll loop.
func (hs *HealthServer) Stop() {
	close(hs.stopCh)
}

func (hs *HealthServer) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	hs.probe(ctx)
	for {
		select {
		case <-ticker.C:
			hs.probe(ctx)
		case <-hs.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// probe records FSM/watchdog liveness against this server's own component
// registry. "bus"/"store"/"controller" match criticalComponents above;
// "subscriber" is reported in /health but doesn't gate /ready on its own.
func (hs *HealthServer) probe(ctx context.Context) {
	state := hs.fsm.State()
	fsmHealthy := state != subscriber.StateTerminated
	hs.registerComponent("subscriber", fsmHealthy, "state: "+state.String())

	controllerHealthy := hs.wd.SubscriptionAlive()
	hs.registerComponent("controller", controllerHealthy, "subscription alive")

	storeErr := hs.wd.DBReachable(ctx)
	hs.registerComponent("store", storeErr == nil, errMessage(storeErr))

	// The in-memory bus used by this repo has no connectivity state of its
	// own, so it is always reported healthy.
	hs.registerComponent("bus", true, "ok")
}

func (hs *HealthServer) registerComponent(name string, healthy bool, message string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.components[name] = componentHealth{healthy: healthy, message: message, updated: time.Now()}
}

func (hs *HealthServer) health() healthReport {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(hs.components))
	for name, comp := range hs.components {
		if !comp.healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.message
		} else {
			components[name] = "healthy"
		}
	}

	return healthReport{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    hs.version,
		Uptime:     time.Since(hs.startedAt).String(),
	}
}

func (hs *HealthServer) readiness() healthReport {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string, len(criticalComponents))

	for _, name := range criticalComponents {
		comp, exists := hs.components[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.message
		default:
			components[name] = "ready"
		}
	}

	return healthReport{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    hs.version,
		Uptime:     time.Since(hs.startedAt).String(),
	}
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := hs.health()
	w.Header().Set("Content-Type", "application/json")
	if report.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	report := hs.readiness()
	w.Header().Set("Content-Type", "application/json")
	if report.Status != "ready" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

func (hs *HealthServer) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
		"uptime": time.Since(hs.startedAt).String(),
	})
}

func errMessage(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
