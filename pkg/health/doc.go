/*
Package health provides reusable reachability checkers for the subscriber's
external collaborators: the management controller, the message bus, and
any networked store a deployment swaps in for the default embedded one.

It is deliberately decoupled from pkg/watchdog, which already tracks
subscription liveness and store reachability directly. pkg/health exists for collaborators
that only a probe can answer for, not the FSM's own state machine: "is the
controller's HTTP endpoint answering", "is this TCP port accepting
connections". watchdog.New accepts an optional health.Checker precisely so
a deployment with a networked store can plug one in without pkg/watchdog
needing to know anything about HTTP or TCP.

# Checkers

All checkers implement:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

HTTPChecker performs a request against a URL and classifies the response
by status code range (see http.go). TCPChecker dials an address and
checks that the connection succeeds (see tcp.go). Both respect the
context passed to Check, so callers control the check's deadline.

# Status and hysteresis

Status accumulates Results over time and requires Config.Retries
consecutive failures before flipping Healthy to false, so a single
dropped request against a flaky controller endpoint doesn't flap
/ready:

	status := health.NewStatus()
	cfg := health.Config{Interval: 10 * time.Second, Timeout: 5 * time.Second, Retries: 3}
	checker := health.NewHTTPChecker("https://apic.example.com/health")

	for {
		if status.InStartPeriod(cfg) {
			time.Sleep(cfg.Interval)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		result := checker.Check(ctx)
		cancel()
		status.Update(result, cfg)
		time.Sleep(cfg.Interval)
	}

# Usage with the watchdog

	dbCheck := health.NewTCPChecker("store.internal:5432").WithTimeout(3 * time.Second)
	wd := watchdog.New(sub, store, dbCheck)

Passing nil instead uses watchdog's own reachability probe against the
embedded store, which is the right default for a single-process
deployment with no separate store to dial.
*/
package health
