package flock

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/flock/internal/telemetry"
	"github.com/ryandielhenn/flock/pkg/transport"
)

// handleEnvelope is the single dispatch point for every inbound
// envelope, whether it arrived over the wire or via publish's explicit
// loopback. It never blocks on user code while holding f.mu: election
// bookkeeping happens under lock, then the lock is released before any
// transport.Post or LocalMember callback.
func (f *Flock) handleEnvelope(env transport.Envelope) {
	if !env.Valid() {
		return
	}

	switch env.Type {
	case transport.TypeClaim:
		f.handleClaim(env)
	case transport.TypeHeartbeat:
		f.handleHeartbeat(env)
	case transport.TypeResign:
		f.handleResign(env)
	case transport.TypeRequestLeaderSync:
		f.handleRequestLeaderSync(env)
	case transport.TypeRequest:
		f.handleRequest(env)
	case transport.TypeMessageToLeader:
		f.handleMessageToLeader(env)
	case transport.TypeResponse:
		f.handleResponse(env)
	case transport.TypeBroadcast:
		f.handleBroadcast(env)
	case transport.TypeDirectMessage:
		f.handleDirectMessage(env)
	default:
		// unknown type: ignored.
	}
}

func (f *Flock) handleClaim(env transport.Envelope) {
	candidate := env.SenderID

	f.mu.Lock()
	f.noteRemoteLocked(candidate)

	if f.isLeaderLocalLocked() && f.leaderID != nil && *f.leaderID != candidate {
		// We are the incumbent local leader and someone else just
		// claimed: assert leadership by heartbeating, per the
		// transition table's first row.
		state := f.stateLabelLocked()
		f.mu.Unlock()
		telemetry.ClaimsTotal.WithLabelValues(f.channelName, "asserted").Inc()
		f.log.Debug("election transition", zap.String("channel", f.channelName), zap.String("from", state), zap.String("to", state), zap.String("trigger", "claim-asserted"))
		f.publish(transport.Envelope{Type: transport.TypeHeartbeat})
		return
	}

	from := f.stateLabelLocked()
	changed := f.leaderID == nil || *f.leaderID != candidate
	id := candidate
	f.leaderID = &id
	f.lastHeartbeatAt = f.clock.Now()
	becameLeaderLocal := f.isLeaderLocalLocked()
	to := f.stateLabelLocked()
	f.mu.Unlock()

	telemetry.ClaimsTotal.WithLabelValues(f.channelName, "accepted").Inc()
	if changed {
		f.log.Debug("election transition", zap.String("channel", f.channelName), zap.String("from", from), zap.String("to", to), zap.String("trigger", "claim"))
	}
	if becameLeaderLocal {
		f.onBecameLeaderLocal()
	} else {
		f.stopHeartbeat()
	}
	if changed {
		f.notifyLeadershipChange()
		telemetry.LeadershipTransitions.WithLabelValues(f.channelName).Inc()
	}
}

func (f *Flock) handleHeartbeat(env transport.Envelope) {
	telemetry.HeartbeatsTotal.WithLabelValues(f.channelName, "received").Inc()

	f.mu.Lock()
	f.noteRemoteLocked(env.SenderID)
	f.lastHeartbeatAt = f.clock.Now()

	from := f.stateLabelLocked()
	changed := false
	if env.SenderID != "" && (f.leaderID == nil || *f.leaderID != env.SenderID) {
		id := env.SenderID
		f.leaderID = &id
		changed = true
	}
	becameLeaderLocal := f.isLeaderLocalLocked()
	to := f.stateLabelLocked()
	f.mu.Unlock()

	if changed {
		f.log.Debug("election transition", zap.String("channel", f.channelName), zap.String("from", from), zap.String("to", to), zap.String("trigger", "heartbeat"))
	}
	if !becameLeaderLocal {
		f.stopHeartbeat()
	}
	if changed {
		f.notifyLeadershipChange()
		telemetry.LeadershipTransitions.WithLabelValues(f.channelName).Inc()
	}
}

func (f *Flock) handleResign(env transport.Envelope) {
	f.mu.Lock()
	if f.leaderID == nil || *f.leaderID != env.SenderID {
		f.mu.Unlock()
		return
	}
	from := f.stateLabelLocked()
	f.leaderID = nil
	f.mu.Unlock()

	f.log.Debug("election transition", zap.String("channel", f.channelName), zap.String("from", from), zap.String("to", "NO_LEADER"), zap.String("trigger", "resign"))
	f.stopHeartbeat()
	f.notifyLeadershipChange()
	f.triggerElection()
}

func (f *Flock) handleRequestLeaderSync(env transport.Envelope) {
	f.mu.Lock()
	f.noteRemoteLocked(env.SenderID)
	isLeaderLocal := f.isLeaderLocalLocked()
	f.mu.Unlock()

	if isLeaderLocal {
		f.publish(transport.Envelope{Type: transport.TypeHeartbeat})
	}
}

// onBecameLeaderLocal publishes the immediate assertion heartbeat and
// starts the periodic heartbeat timer.
func (f *Flock) onBecameLeaderLocal() {
	f.mu.Lock()
	if f.heartbeatTimer != nil {
		f.mu.Unlock()
		return // already running
	}
	f.heartbeatTimer = f.clock.AfterFunc(f.heartbeatInterval, f.heartbeatTick)
	f.mu.Unlock()

	telemetry.HeartbeatsTotal.WithLabelValues(f.channelName, "sent").Inc()
	f.log.Debug("heartbeat sent", zap.String("channel", f.channelName), zap.String("trigger", "became-leader-local"))
	f.publish(transport.Envelope{Type: transport.TypeHeartbeat})
}

func (f *Flock) heartbeatTick() {
	f.mu.Lock()
	if f.closed || !f.isLeaderLocalLocked() {
		f.heartbeatTimer = nil
		f.mu.Unlock()
		return
	}
	f.heartbeatTimer = f.clock.AfterFunc(f.heartbeatInterval, f.heartbeatTick)
	f.mu.Unlock()

	telemetry.HeartbeatsTotal.WithLabelValues(f.channelName, "sent").Inc()
	f.log.Debug("heartbeat sent", zap.String("channel", f.channelName), zap.String("trigger", "heartbeat-tick"))
	f.publish(transport.Envelope{Type: transport.TypeHeartbeat})
}

func (f *Flock) stopHeartbeat() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heartbeatTimer != nil {
		f.heartbeatTimer.Stop()
		f.heartbeatTimer = nil
	}
}

// monitorTick is the checkInterval-period watchdog: if this process
// isn't leader-local and the incumbent looks dead, clear it and trigger
// an election. It always reschedules itself unless Flock has been shut
// down.
func (f *Flock) monitorTick() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.monitorTimer = f.clock.AfterFunc(f.checkInterval, f.monitorTick)

	leaderLocal := f.isLeaderLocalLocked()
	stale := f.leaderID == nil || f.clock.Now().Sub(f.lastHeartbeatAt) > f.heartbeatTTL
	needsElection := !leaderLocal && stale
	if needsElection {
		f.leaderID = nil
	}
	f.mu.Unlock()

	if needsElection {
		f.triggerElection()
	}
}

// triggerElection publishes a claim for the winning local candidate, if
// any exists. The publish's own loopback is what actually makes the
// candidate a leader; a competing claim or heartbeat arriving first
// will override it.
func (f *Flock) triggerElection() {
	f.mu.Lock()
	candidate := f.selectCandidateLocked()
	f.mu.Unlock()

	if candidate == "" {
		return
	}
	telemetry.ElectionsTotal.WithLabelValues(f.channelName).Inc()
	f.publish(transport.Envelope{Type: transport.TypeClaim, SenderID: candidate})
}

// selectCandidateLocked picks the local member that should claim
// leadership next, preferring the current incumbent if it's still
// registered locally. Caller must hold f.mu.
func (f *Flock) selectCandidateLocked() string {
	if f.isLeaderLocalLocked() && f.leaderID != nil {
		if _, ok := f.localMembers[*f.leaderID]; ok {
			return *f.leaderID
		}
	}
	for _, id := range f.localOrder {
		if id == f.excludedCandidateID {
			continue
		}
		return id
	}
	return ""
}

// CedeLeadership excludes memberID from candidate selection for
// 1500ms, then resigns. Invoked by Member.CedeLeadership.
func (f *Flock) CedeLeadership(memberID string) {
	f.mu.Lock()
	if f.exclusionTimer != nil {
		f.exclusionTimer.Stop()
	}
	f.excludedCandidateID = memberID
	f.exclusionTimer = f.clock.AfterFunc(defaultCedeExclusion, func() {
		f.mu.Lock()
		if f.excludedCandidateID == memberID {
			f.excludedCandidateID = ""
		}
		f.exclusionTimer = nil
		f.mu.Unlock()
	})
	f.mu.Unlock()

	f.publish(transport.Envelope{Type: transport.TypeResign, SenderID: memberID})
}

// notifyLeadershipChange invokes every local member's
// HandleLeadershipChange with the current leader, outside the lock.
func (f *Flock) notifyLeadershipChange() {
	f.mu.Lock()
	leaderID := f.leaderID
	members := make([]LocalMember, 0, len(f.localOrder))
	for _, id := range f.localOrder {
		members = append(members, f.localMembers[id])
	}
	f.mu.Unlock()

	for _, m := range members {
		m.HandleLeadershipChange(leaderID)
	}
}
