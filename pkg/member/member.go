package member

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/flock/internal/clock"
	"github.com/ryandielhenn/flock/internal/telemetry"
	"github.com/ryandielhenn/flock/pkg/flock"
	"github.com/ryandielhenn/flock/pkg/logging"
	"github.com/ryandielhenn/flock/pkg/transport"
)

// MaxRetries bounds how many times a pending entry is resent before it
// is rejected (requests) or dropped (messages).
const MaxRetries = 3

// RetrySweepInterval is how often the retry queue is re-processed even
// without a fresh leadership-change event.
const RetrySweepInterval = 5 * time.Second

type pendingEntry struct {
	requestID string
	kind      string // "request" | "message-to-leader"
	payload   json.RawMessage
	future    *Future // nil for message-to-leader
	callback  func(json.RawMessage, error)
	attempts  int
	timeout   clock.Timer
	// timeoutDuration is reused on every resend, so a caller's
	// WithTimeout override survives retries instead of reverting to
	// the package default.
	timeoutDuration time.Duration
}

// Member is a single participant registered with a Flock. It implements
// flock.LocalMember; callers construct one per local actor (an HTTP
// server instance, a worker, ...) and register it with a Flock obtained
// from pkg/factory.
type Member struct {
	id    string
	flock *flock.Flock
	clock clock.Clock
	log   *zap.Logger

	mu                sync.Mutex
	pending           map[string]*pendingEntry
	retryQueue        []*pendingEntry
	lastKnownLeaderID *string
	retrySweepTimer   clock.Timer
	resigned          bool

	onRequest          func(json.RawMessage) (json.RawMessage, error)
	onMessage          func(kind, senderID string, payload json.RawMessage)
	onLeadershipChange func(leaderID *string)
}

// New constructs a Member and registers it with f immediately: it learns
// of an incumbent leader on the next clock turn, or triggers an election
// after 500ms if nobody else answers.
func New(f *flock.Flock, opts ...Option) *Member {
	m := &Member{
		id:      newID(),
		flock:   f,
		clock:   f.Clock(),
		log:     logging.Nop(),
		pending: make(map[string]*pendingEntry),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.retrySweepTimer = m.clock.AfterFunc(RetrySweepInterval, m.retrySweepTick)
	f.Register(m)
	return m
}

// ID returns this member's identity, as seen in envelopes and in
// Flock's candidate selection.
func (m *Member) ID() string { return m.id }

// IsLeader reports whether this specific member -- not merely some
// local member in this process -- is the current leader.
func (m *Member) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isLeaderLocked()
}

func (m *Member) isLeaderLocked() bool {
	return m.lastKnownLeaderID != nil && *m.lastKnownLeaderID == m.id
}

// SendRequest publishes a request envelope and returns a Future that
// resolves when the leader's response arrives, or when the retry
// budget is exhausted.
func (m *Member) SendRequest(payload json.RawMessage, opts ...RequestOption) *Future {
	o := requestOptions{timeout: m.flock.HeartbeatTTL() + 500*time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	requestID := newID()
	ft := newFuture()
	entry := &pendingEntry{requestID: requestID, kind: "request", payload: payload, future: ft, callback: o.callback, timeoutDuration: o.timeout}

	m.mu.Lock()
	m.pending[requestID] = entry
	entry.timeout = m.clock.AfterFunc(o.timeout, func() { m.onPendingTimeout(requestID) })
	telemetry.MemberPending.WithLabelValues(m.flock.ChannelName()).Set(float64(len(m.pending)))
	m.mu.Unlock()

	m.flock.Publish(transport.Envelope{
		Type:      transport.TypeRequest,
		SenderID:  m.id,
		RequestID: requestID,
		Payload:   payload,
	})
	return ft
}

// SendMessageToLeader is a one-way send with no user-visible promise.
// Success is signalled internally by the leader's synthetic ack, which
// also invokes the callback if one was supplied; failures beyond
// MaxRetries are dropped silently, without invoking the callback.
func (m *Member) SendMessageToLeader(payload json.RawMessage, opts ...RequestOption) {
	o := requestOptions{timeout: m.flock.HeartbeatTTL() + 500*time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	requestID := newID()
	entry := &pendingEntry{requestID: requestID, kind: "message-to-leader", payload: payload, callback: o.callback, timeoutDuration: o.timeout}

	m.mu.Lock()
	m.pending[requestID] = entry
	entry.timeout = m.clock.AfterFunc(o.timeout, func() { m.onPendingTimeout(requestID) })
	telemetry.MemberPending.WithLabelValues(m.flock.ChannelName()).Set(float64(len(m.pending)))
	m.mu.Unlock()

	m.flock.Publish(transport.Envelope{
		Type:      transport.TypeMessageToLeader,
		SenderID:  m.id,
		RequestID: requestID,
		Payload:   payload,
	})
}

// ResolvePending implements flock.LocalMember: route a response to
// whichever SendRequest/SendMessageToLeader call is waiting on
// requestID. A response for an unknown or already-settled requestID is
// a no-op.
func (m *Member) ResolvePending(requestID string, payload json.RawMessage) {
	m.mu.Lock()
	entry, ok := m.pending[requestID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, requestID)
	if entry.timeout != nil {
		entry.timeout.Stop()
	}
	telemetry.MemberPending.WithLabelValues(m.flock.ChannelName()).Set(float64(len(m.pending)))
	m.mu.Unlock()

	if entry.kind == "message-to-leader" {
		if entry.callback != nil {
			entry.callback(nil, nil)
		}
		return
	}
	if entry.future != nil {
		entry.future.settle(payload, nil)
	}
	if entry.callback != nil {
		entry.callback(payload, nil)
	}
}

// HandleRequest implements flock.LocalMember. A member with no
// registered request handler still answers with a nil payload so the
// caller's pending entry resolves.
func (m *Member) HandleRequest(payload json.RawMessage, reply func(json.RawMessage)) {
	if m.onRequest == nil {
		reply(nil)
		return
	}
	res, err := m.onRequest(payload)
	if err != nil {
		reply(nil)
		return
	}
	reply(res)
}

// HandleMessage implements flock.LocalMember.
func (m *Member) HandleMessage(kind, senderID string, payload json.RawMessage) {
	if m.onMessage != nil {
		m.onMessage(kind, senderID, payload)
	}
}

// SendToMember is a no-op unless this member is leader.
func (m *Member) SendToMember(targetID string, payload json.RawMessage) {
	if !m.IsLeader() {
		return
	}
	m.flock.Publish(transport.Envelope{Type: transport.TypeDirectMessage, SenderID: m.id, TargetID: targetID, Payload: payload})
}

// BroadcastToMembers is a no-op unless this member is leader.
func (m *Member) BroadcastToMembers(payload json.RawMessage) {
	if !m.IsLeader() {
		return
	}
	m.flock.Publish(transport.Envelope{Type: transport.TypeBroadcast, SenderID: m.id, Payload: payload})
}

// GetMembersInfo returns the merged, deduplicated set of local and
// non-stale remote members.
func (m *Member) GetMembersInfo() []string {
	return m.flock.MembersInfo()
}

// CedeLeadership relinquishes leadership while staying registered. A
// no-op if this member isn't currently leader.
func (m *Member) CedeLeadership() {
	if !m.IsLeader() {
		return
	}
	m.flock.CedeLeadership(m.id)
}

// Resign permanently tears this member down. It stops the retry sweep
// timer and unregisters from Flock; Flock's own resign handler performs
// the subsequent election if this member was leader.
func (m *Member) Resign() {
	m.mu.Lock()
	if m.resigned {
		m.mu.Unlock()
		return
	}
	m.resigned = true
	if m.retrySweepTimer != nil {
		m.retrySweepTimer.Stop()
	}
	m.mu.Unlock()

	m.flock.Unregister(m.id)
}
