package flock

import (
	"encoding/json"

	"github.com/ryandielhenn/flock/pkg/transport"
)

// handleRequest dispatches a "request" envelope: only the leader-local
// member answers, and reply publishes the correlated response back to
// the original sender.
func (f *Flock) handleRequest(env transport.Envelope) {
	f.mu.Lock()
	f.noteRemoteLocked(env.SenderID)
	leader := f.leaderMemberLocked()
	f.mu.Unlock()

	if leader == nil {
		return
	}
	requestID, originSender := env.RequestID, env.SenderID
	leader.HandleRequest(env.Payload, func(res json.RawMessage) {
		f.publish(transport.Envelope{
			Type:      transport.TypeResponse,
			TargetID:  originSender,
			RequestID: requestID,
			Payload:   res,
		})
	})
}

// handleMessageToLeader dispatches a "message-to-leader" envelope,
// including the synthetic ack response that cancels the sender's
// pending timeout even though there is no real payload.
func (f *Flock) handleMessageToLeader(env transport.Envelope) {
	f.mu.Lock()
	f.noteRemoteLocked(env.SenderID)
	leader := f.leaderMemberLocked()
	f.mu.Unlock()

	if leader == nil {
		return
	}
	leader.HandleMessage("leader-message", env.SenderID, env.Payload)
	f.publish(transport.Envelope{
		Type:      transport.TypeResponse,
		TargetID:  env.SenderID,
		RequestID: env.RequestID,
	})
}

// handleResponse routes a response to whichever local member is
// waiting on requestID. A response for a member that isn't registered
// locally (or that already gave up) is a silent no-op.
func (f *Flock) handleResponse(env transport.Envelope) {
	f.mu.Lock()
	target, ok := f.localMembers[env.TargetID]
	f.mu.Unlock()
	if !ok {
		return
	}
	target.ResolvePending(env.RequestID, env.Payload)
}

// handleBroadcast notifies every local member.
func (f *Flock) handleBroadcast(env transport.Envelope) {
	f.mu.Lock()
	f.noteRemoteLocked(env.SenderID)
	members := make([]LocalMember, 0, len(f.localOrder))
	for _, id := range f.localOrder {
		members = append(members, f.localMembers[id])
	}
	f.mu.Unlock()

	for _, m := range members {
		m.HandleMessage("broadcast", env.SenderID, env.Payload)
	}
}

// handleDirectMessage notifies only the targeted local member. A
// target that isn't registered locally is a silent no-op.
func (f *Flock) handleDirectMessage(env transport.Envelope) {
	f.mu.Lock()
	f.noteRemoteLocked(env.SenderID)
	target, ok := f.localMembers[env.TargetID]
	f.mu.Unlock()
	if !ok {
		return
	}
	target.HandleMessage("direct-message", env.SenderID, env.Payload)
}

// leaderMemberLocked returns the local LocalMember hosting leadership,
// or nil if this process isn't leader-local. Caller must hold f.mu.
func (f *Flock) leaderMemberLocked() LocalMember {
	if !f.isLeaderLocalLocked() {
		return nil
	}
	return f.localMembers[*f.leaderID]
}
