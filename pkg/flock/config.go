package flock

import (
	"time"

	"github.com/ryandielhenn/flock/internal/clock"
	"github.com/ryandielhenn/flock/pkg/transport"
)

const (
	// DefaultChannelName is used when Config.ChannelName is empty.
	DefaultChannelName = "flock_channel_v1"

	defaultHeartbeatInterval = 2 * time.Second
	defaultHeartbeatTTL      = 5 * time.Second
	defaultCheckInterval     = 1 * time.Second
	defaultCedeExclusion     = 1500 * time.Millisecond
	registerSyncDelay        = 500 * time.Millisecond
)

// Config carries everything needed to construct one Flock. Only the
// first construction for a given ChannelName is honored by the factory
// ("first writer wins"), since all participants on a channel must
// share one set of timings.
type Config struct {
	ChannelName       string
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	// CheckInterval is the monitor tick period. Defaults to 1s; tests
	// needing tighter virtual-clock control may override it.
	CheckInterval time.Duration
	Debug         bool
	// EtcdEndpoints, if non-empty, selects the etcd shared-storage
	// Transport instead of the in-process native variant.
	EtcdEndpoints []string
	// TransportPreference forces a specific Transport variant,
	// bypassing EtcdEndpoints-based selection. Tests use this to force
	// transport.PreferLoopbackOnly.
	TransportPreference transport.Preference
	// Clock is the time source backing every timer. Defaults to
	// clock.Real{}; tests inject a *clock.Virtual.
	Clock clock.Clock
}

func (c Config) withDefaults() Config {
	if c.ChannelName == "" {
		c.ChannelName = DefaultChannelName
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = defaultHeartbeatTTL
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaultCheckInterval
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	return c
}
