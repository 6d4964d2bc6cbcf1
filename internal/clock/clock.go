// Package clock provides an injectable time source so that flock's
// election and retry timers can be driven deterministically in tests
// instead of racing the wall clock.
package clock

import "time"

// Clock is the time source used throughout pkg/flock and pkg/member.
// Real is used in production; Virtual is used in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer mirrors the subset of *time.Timer that flock needs.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// Ticker mirrors the subset of *time.Ticker that flock needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool                 { return r.t.Stop() }
func (r realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
