package member

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ryandielhenn/flock/pkg/logging"
)

// Option configures a Member at construction.
type Option func(*Member)

// WithID overrides the generated member ID. Mostly useful in tests that
// want deterministic IDs instead of a fresh UUID per run.
func WithID(id string) Option {
	return func(m *Member) { m.id = id }
}

// WithRequestHandler registers the function invoked when this member is
// leader-local and a request envelope targets the leader. A member with
// no request handler still answers with a nil payload so the sender's
// pending entry resolves instead of timing out.
func WithRequestHandler(fn func(payload json.RawMessage) (json.RawMessage, error)) Option {
	return func(m *Member) { m.onRequest = fn }
}

// WithMessageHandler registers the function invoked for broadcast,
// direct, and (leader-only) leader-message deliveries.
func WithMessageHandler(fn func(kind, senderID string, payload json.RawMessage)) Option {
	return func(m *Member) { m.onMessage = fn }
}

// WithLeadershipChangeHandler registers the function invoked whenever
// this member's view of the channel's leader changes.
func WithLeadershipChangeHandler(fn func(leaderID *string)) Option {
	return func(m *Member) { m.onLeadershipChange = fn }
}

// WithDebug enables Debug-level logging of this member's retry and
// leadership-change activity, the same knob flock.Config.Debug exposes
// on the coordinator side. The Flock this member registers with must
// already be constructed (New applies options after setting m.flock),
// so the log is tagged with the same channel name.
func WithDebug(debug bool) Option {
	return func(m *Member) {
		if debug {
			m.log = logging.New(m.flock.ChannelName(), true)
		}
	}
}

func newID() string { return uuid.NewString() }

// requestOptions carries the optional per-call knobs for SendRequest and
// SendMessageToLeader.
type requestOptions struct {
	timeout  time.Duration
	callback func(json.RawMessage, error)
}

// RequestOption configures a single SendRequest/SendMessageToLeader call.
type RequestOption func(*requestOptions)

// WithTimeout overrides the default request timeout
// (heartbeatTTL+500ms).
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// WithCallback wires a node-style callback onto the request in addition
// to (or instead of) waiting on the returned Future.
func WithCallback(cb func(json.RawMessage, error)) RequestOption {
	return func(o *requestOptions) { o.callback = cb }
}
