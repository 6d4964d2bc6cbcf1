package flock

import "encoding/json"

// LocalMember is the narrow surface Flock needs from a same-process
// participant. pkg/member's Member implements it; Flock never imports
// pkg/member so the dependency only runs one way (member -> flock). A
// Flock dispatches onRequest/onMessage/onLeadershipChange by calling
// straight through to whichever of these the member actually wired up,
// instead of juggling an untyped bag of optional callbacks.
type LocalMember interface {
	ID() string

	// HandleRequest is invoked only when this member is the leader and
	// a "request" envelope targets the leader. reply publishes the
	// response envelope back to the original sender.
	HandleRequest(payload json.RawMessage, reply func(json.RawMessage))

	// HandleMessage is invoked for "broadcast", "direct-message", and
	// (when this member is the leader) "message-to-leader" deliveries.
	HandleMessage(kind string, senderID string, payload json.RawMessage)

	// HandleLeadershipChange is invoked whenever this Flock's view of
	// the current leader changes, including the initial announcement
	// made to a newly registered member.
	HandleLeadershipChange(leaderID *string)

	// ResolvePending routes a "response" envelope addressed to this
	// member back to whichever Member.SendRequest/SendMessageToLeader
	// call is still waiting on requestID.
	ResolvePending(requestID string, payload json.RawMessage)
}
