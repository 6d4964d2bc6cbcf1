package member

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ryandielhenn/flock/internal/clock"
	"github.com/ryandielhenn/flock/pkg/flock"
	"github.com/ryandielhenn/flock/pkg/transport"
)

func newTestFlock(t *testing.T, cl *clock.Virtual, channel string) *flock.Flock {
	t.Helper()
	f := flock.New(flock.Config{
		ChannelName:         channel,
		Clock:               cl,
		TransportPreference: transport.PreferLoopbackOnly,
	})
	t.Cleanup(f.Shutdown)
	return f
}

func TestSendRequestResolvesFromLeader(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	f := newTestFlock(t, cl, "member-1")

	leader := New(f, WithRequestHandler(func(payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	}))
	cl.Advance(time.Second)
	if !leader.IsLeader() {
		t.Fatal("leader.IsLeader() = false, want true (sole candidate)")
	}

	requester := New(f)
	cl.Advance(0) // flush the incumbent-leader announcement

	payload := json.RawMessage(`{"x":1}`)
	ft := requester.SendRequest(payload)
	res, err := ft.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if string(res) != string(payload) {
		t.Fatalf("Wait() = %s, want %s", res, payload)
	}
}

func TestSendMessageToLeaderAcksViaCallback(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	f := newTestFlock(t, cl, "member-2")

	var gotSender, gotKind string
	New(f, WithMessageHandler(func(kind, senderID string, payload json.RawMessage) {
		gotKind, gotSender = kind, senderID
	}))
	cl.Advance(time.Second)

	requester := New(f)
	cl.Advance(0)

	acked := make(chan error, 1)
	requester.SendMessageToLeader(json.RawMessage(`"hi"`), WithCallback(func(_ json.RawMessage, err error) {
		acked <- err
	}))

	select {
	case err := <-acked:
		if err != nil {
			t.Fatalf("ack callback error = %v", err)
		}
	default:
		t.Fatal("ack callback was not invoked synchronously")
	}
	if gotKind != "leader-message" || gotSender != requester.ID() {
		t.Fatalf("leader saw kind=%q sender=%q, want leader-message/%s", gotKind, gotSender, requester.ID())
	}
}

func TestProcessRetryExhaustsAfterMaxRetries(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	f := newTestFlock(t, cl, "member-3")

	m := New(f)
	cl.Advance(time.Second)
	if !m.IsLeader() {
		t.Fatal("precondition: m.IsLeader() = false, want true")
	}

	// Step down, leaving the channel permanently leaderless (m is the
	// only candidate), and stop believing we're the leader ourselves so
	// processRetry doesn't take the "self-addressed, drop" branch.
	m.Resign()
	bogus := "nobody"
	m.mu.Lock()
	m.lastKnownLeaderID = &bogus
	m.mu.Unlock()

	ft := m.SendRequest(json.RawMessage(`1`), WithTimeout(50*time.Millisecond))
	for i := 0; i <= MaxRetries; i++ {
		cl.Advance(51 * time.Millisecond)
	}

	_, err := ft.Wait(context.Background())
	var target *ErrMaxRetriesReached
	if !errors.As(err, &target) {
		t.Fatalf("Wait() error = %v, want *ErrMaxRetriesReached", err)
	}
	if target.RequestID == "" {
		t.Fatalf("ErrMaxRetriesReached.RequestID is empty, want the exhausted request's ID")
	}
}

func TestLeadershipChangeSuppressesRetryOnInitialDiscovery(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	f := newTestFlock(t, cl, "member-4")

	m := New(f)
	// m has never seen a leader yet: lastKnownLeaderID is nil.
	m.mu.Lock()
	entry := &pendingEntry{requestID: "r1", kind: "request", payload: json.RawMessage(`1`), future: newFuture()}
	m.pending["r1"] = entry
	m.mu.Unlock()

	leaderID := "somebody-else"
	m.HandleLeadershipChange(&leaderID)

	m.mu.Lock()
	_, stillPending := m.pending["r1"]
	retryLen := len(m.retryQueue)
	m.mu.Unlock()

	if !stillPending || retryLen != 0 {
		t.Fatalf("initial discovery moved pending entry to retry queue (stillPending=%v retryLen=%d), want left alone", stillPending, retryLen)
	}
}

func TestGetMembersInfoMergesLocalAndRemote(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	a := flock.New(flock.Config{ChannelName: "member-5", Clock: cl})
	t.Cleanup(a.Shutdown)
	b := flock.New(flock.Config{ChannelName: "member-5", Clock: cl})
	t.Cleanup(b.Shutdown)

	ma := New(a)
	cl.Advance(time.Second)
	mb := New(b)
	cl.Advance(0)

	info := mb.GetMembersInfo()
	found := false
	for _, id := range info {
		if id == ma.ID() {
			found = true
		}
	}
	if !found {
		t.Fatalf("GetMembersInfo() = %v, want to include remote leader %s", info, ma.ID())
	}
}
