package clock

import (
	"sync"
	"time"
)

// Virtual is a manually-advanced Clock for deterministic tests. Advance
// fires every timer/ticker whose deadline falls within the advanced
// window, in deadline order, before returning (fire-all-due semantics).
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*virtualTimer
	tickers []*virtualTicker
}

// NewVirtual returns a Virtual clock starting at the given time.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the clock forward by d, firing any due timers/tickers in
// deadline order. Callbacks run with the lock released so they may
// themselves call back into the clock (e.g. AfterFunc a follow-up timer).
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		fn, deadline, ok := v.popNextDue(target)
		if !ok {
			v.mu.Lock()
			v.now = target
			v.mu.Unlock()
			return
		}
		v.mu.Lock()
		v.now = deadline
		v.mu.Unlock()
		fn()
	}
}

func (v *Virtual) popNextDue(target time.Time) (func(), time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var (
		best     time.Time
		pick     int  = -1
		pickKind byte // 't' timer, 'k' ticker
		found    bool
	)

	for i, t := range v.timers {
		if t.stopped || t.fired {
			continue
		}
		if !t.deadline.After(target) && (!found || t.deadline.Before(best)) {
			best, pick, pickKind, found = t.deadline, i, 't', true
		}
	}
	for i, tk := range v.tickers {
		if tk.stopped {
			continue
		}
		if !tk.next.After(target) && (!found || tk.next.Before(best)) {
			best, pick, pickKind, found = tk.next, i, 'k', true
		}
	}

	if !found {
		return nil, time.Time{}, false
	}

	if pickKind == 't' {
		t := v.timers[pick]
		t.fired = true
		return t.fn, best, true
	}
	tk := v.tickers[pick]
	deadline := tk.next
	tk.next = tk.next.Add(tk.period)
	return func() {
		select {
		case tk.ch <- deadline:
		default:
		}
	}, best, true
}

func (v *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &virtualTimer{deadline: v.now.Add(d), fn: f, v: v}
	v.timers = append(v.timers, t)
	return t
}

func (v *Virtual) NewTicker(d time.Duration) Ticker {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &virtualTicker{period: d, next: v.now.Add(d), ch: make(chan time.Time, 1), v: v}
	v.tickers = append(v.tickers, t)
	return t
}

type virtualTimer struct {
	deadline time.Time
	fn       func()
	fired    bool
	stopped  bool
	v        *Virtual
}

func (t *virtualTimer) Stop() bool {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (t *virtualTimer) Reset(d time.Duration) bool {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = false
	t.fired = false
	t.deadline = t.v.now.Add(d)
	return wasActive
}

type virtualTicker struct {
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
	v       *Virtual
}

func (t *virtualTicker) C() <-chan time.Time { return t.ch }

func (t *virtualTicker) Stop() {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	t.stopped = true
}
