// Package factory implements a process-scoped multiton: one Flock per
// channel name, first construction wins.
package factory

import (
	"sync"

	"github.com/ryandielhenn/flock/pkg/flock"
)

// Factory maintains the channelName -> Flock mapping. The zero value is
// usable; Default returns a process-wide singleton for callers that
// don't need an isolated registry (tests do, via New).
type Factory struct {
	mu     sync.Mutex
	flocks map[string]*flock.Flock
}

// New constructs an empty, independent Factory. Tests use this instead
// of Default so parallel test cases don't share multiton state.
func New() *Factory {
	return &Factory{flocks: make(map[string]*flock.Flock)}
}

var (
	defaultOnce sync.Once
	defaultInst *Factory
)

// Default returns the process-wide Factory, constructing it on first use.
func Default() *Factory {
	defaultOnce.Do(func() { defaultInst = New() })
	return defaultInst
}

// Get returns the existing Flock for cfg.ChannelName, or constructs one
// with cfg if this is the first call for that channel. Every subsequent
// call for the same channel ignores cfg and returns the original
// instance -- "first writer wins".
func (fac *Factory) Get(cfg flock.Config) *flock.Flock {
	name := cfg.ChannelName
	if name == "" {
		name = flock.DefaultChannelName
	}

	fac.mu.Lock()
	defer fac.mu.Unlock()
	if fac.flocks == nil {
		fac.flocks = make(map[string]*flock.Flock)
	}
	if f, ok := fac.flocks[name]; ok {
		return f
	}
	f := flock.New(cfg)
	fac.flocks[name] = f
	return f
}

// Reset tears down and forgets every Flock this Factory constructed.
// Intended for test teardown between cases that reuse channel names.
func (fac *Factory) Reset() {
	fac.mu.Lock()
	flocks := fac.flocks
	fac.flocks = make(map[string]*flock.Flock)
	fac.mu.Unlock()

	for _, f := range flocks {
		f.Shutdown()
	}
}
