package subscriber

import (
	"time"

	"github.com/cuemby/fabricsub/pkg/controller"
)

// Defaults mirror the interval names spec.md calls out by symbolic
// constant (§4.5, §5).
const (
	DefaultSubscriptionCheckInterval = 5 * time.Second
	DefaultSubscriptionRefresh       = 30 * time.Second
	DefaultHelloInterval             = 10 * time.Second
	DefaultStatsInterval             = 15 * time.Second
	DefaultBgEventHandlerInterval    = 2 * time.Second
	DefaultMaxEpmBuildTime           = 5 * time.Minute
)

// MinimumSupportedVersion is the lowest controller version this subscriber
// will operate against; an older controller aborts bootstrap to
// terminated(failed) (§4.5 validating→building).
var MinimumSupportedVersion = controller.Version{Major: 4, Minor: 0, Build: 1}

// Config configures an FSM instance.
type Config struct {
	Fabric                    string
	SubscriptionCheckInterval time.Duration
	HelloInterval             time.Duration
	StatsInterval             time.Duration
	BgEventHandlerInterval    time.Duration
	MaxEpmBuildTime           time.Duration
}

// withDefaults fills zero-valued fields with their package defaults.
func (c Config) withDefaults() Config {
	if c.SubscriptionCheckInterval <= 0 {
		c.SubscriptionCheckInterval = DefaultSubscriptionCheckInterval
	}
	if c.HelloInterval <= 0 {
		c.HelloInterval = DefaultHelloInterval
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.BgEventHandlerInterval <= 0 {
		c.BgEventHandlerInterval = DefaultBgEventHandlerInterval
	}
	if c.MaxEpmBuildTime <= 0 {
		c.MaxEpmBuildTime = DefaultMaxEpmBuildTime
	}
	return c
}
