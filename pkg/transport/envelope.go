package transport

import "encoding/json"

// EnvelopeType is a closed sum of the wire protocol's message kinds.
// Unknown values are ignored by receivers rather than rejected: a peer
// running a newer build may emit a type this build doesn't know about
// yet.
type EnvelopeType string

const (
	TypeClaim             EnvelopeType = "claim"
	TypeHeartbeat         EnvelopeType = "heartbeat"
	TypeResign            EnvelopeType = "resign"
	TypeRequestLeaderSync EnvelopeType = "request-leader-sync"
	TypeRequest           EnvelopeType = "request"
	TypeMessageToLeader   EnvelopeType = "message-to-leader"
	TypeResponse          EnvelopeType = "response"
	TypeBroadcast         EnvelopeType = "broadcast"
	TypeDirectMessage     EnvelopeType = "direct-message"
)

// Envelope is the wire record exchanged over a Transport. Payload is kept
// as raw JSON so Transport implementations never need to know the shape
// of caller data; only Flock and Member interpret it.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	SenderID  string          `json:"senderId,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Ts        int64           `json:"_ts"`
}

// Valid reports whether the envelope carries a non-empty type; an
// unknown type still counts as valid and is ignored by Flock's dispatch.
// A malformed envelope (missing type) is dropped silently by the Etcd
// transport and by Flock's dispatch.
func (e Envelope) Valid() bool {
	return e.Type != ""
}

// Marshal serializes the envelope on its own. Neither built-in Transport
// uses it: Etcd marshals the envelope inside its nonce-tagged wireFrame,
// and InProc passes the struct by value.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes bytes written by Marshal. A failure here is a
// serialization failure: callers must drop the message silently, never
// propagate the error to a user.
func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}
