package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ryandielhenn/flock/internal/clock"
)

// removalDelay is how long after a Put the Etcd transport deletes its
// own key again, to keep the keyspace from accumulating stale entries.
const removalDelay = 50 * time.Millisecond

// selfTagTTL bounds how long a nonce is remembered for self-delivery
// suppression; watch delivery is local and fast, so a few seconds is
// generous and keeps the set from growing unbounded if a Delete races.
const selfTagTTL = 5 * time.Second

// wireFrame is what actually gets stored at the etcd key. The nonce lets
// OnMessage recognize and drop envelopes this same *Etcd instance wrote,
// since -- unlike InProc, which simply never dispatches to its own
// subscriber -- an etcd watch on a key delivers every put to every
// watcher, including the one that wrote it. Neither transport variant
// should self-deliver (Flock performs loopback explicitly), so Etcd has
// to manufacture that suppression itself.
type wireFrame struct {
	Nonce string   `json:"n"`
	Env   Envelope `json:"e"`
}

// Etcd is the shared-storage Transport variant: a single well-known key
// per channel holds the latest envelope, and etcd's watch stream is the
// change-notification hook.
type Etcd struct {
	client  *clientv3.Client
	key     string
	clock   clock.Clock
	cancel  context.CancelFunc
	closeCh chan struct{}

	selfMu  sync.Mutex
	selfTag map[string]time.Time
}

// NewEtcd dials endpoints and constructs the Etcd transport for channel.
// This is the one fatal constructor in the system: a dial failure
// returns *ErrSetup and the caller must fall back to another variant.
func NewEtcd(endpoints []string, channel string, cl clock.Clock) (*Etcd, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, &ErrSetup{Transport: "etcd", Err: fmt.Errorf("dial %v: %w", endpoints, err)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Status(ctx, endpoints[0]); err != nil {
		cli.Close()
		return nil, &ErrSetup{Transport: "etcd", Err: fmt.Errorf("status check: %w", err)}
	}

	return &Etcd{
		client:  cli,
		key:     "/flock/" + channel,
		clock:   cl,
		closeCh: make(chan struct{}),
		selfTag: make(map[string]time.Time),
	}, nil
}

func (t *Etcd) Post(env Envelope) {
	nonce := uuid.NewString()
	t.markSelf(nonce)

	b, err := json.Marshal(wireFrame{Nonce: nonce, Env: env})
	if err != nil {
		// serialization failure: dropped silently.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err = t.client.Put(ctx, t.key, string(b))
	cancel()
	if err != nil {
		return
	}

	t.clock.AfterFunc(removalDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = t.client.Delete(ctx, t.key)
	})
}

func (t *Etcd) markSelf(nonce string) {
	t.selfMu.Lock()
	defer t.selfMu.Unlock()
	now := time.Now()
	t.selfTag[nonce] = now
	for n, at := range t.selfTag {
		if now.Sub(at) > selfTagTTL {
			delete(t.selfTag, n)
		}
	}
}

func (t *Etcd) isSelf(nonce string) bool {
	t.selfMu.Lock()
	defer t.selfMu.Unlock()
	if _, ok := t.selfTag[nonce]; ok {
		delete(t.selfTag, nonce)
		return true
	}
	return false
}

func (t *Etcd) OnMessage(handler func(Envelope)) {
	if t.cancel != nil {
		// Replace the previous handler: cancelling its watch closes
		// that watch channel, which ends its goroutine.
		t.cancel()
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	watchCh := t.client.Watch(watchCtx, t.key)

	go func() {
		for {
			select {
			case <-t.closeCh:
				return
			case resp, ok := <-watchCh:
				if !ok {
					return
				}
				for _, ev := range resp.Events {
					if ev.Type != clientv3.EventTypePut {
						continue
					}
					var frame wireFrame
					if err := json.Unmarshal(ev.Kv.Value, &frame); err != nil || !frame.Env.Valid() {
						continue
					}
					if t.isSelf(frame.Nonce) {
						continue
					}
					handler(frame.Env)
				}
			}
		}
	}()
}

func (t *Etcd) Close() error {
	select {
	case <-t.closeCh:
	default:
		close(t.closeCh)
	}
	if t.cancel != nil {
		t.cancel()
	}
	return t.client.Close()
}
