package member

import (
	"context"
	"encoding/json"
	"sync"
)

// Future is the promise returned by SendRequest. It resolves exactly
// once, either with a response payload or with *ErrMaxRetriesReached
// once the request's retry budget is exhausted.
type Future struct {
	once    sync.Once
	done    chan struct{}
	payload json.RawMessage
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (ft *Future) settle(payload json.RawMessage, err error) {
	ft.once.Do(func() {
		ft.payload, ft.err = payload, err
		close(ft.done)
	})
}

// Wait blocks until the request resolves or ctx is done, whichever
// comes first. A context cancellation does not cancel the underlying
// request -- the retry queue and pending map are unaffected -- it only
// stops this particular caller from waiting on it.
func (ft *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ft.done:
		return ft.payload, ft.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
