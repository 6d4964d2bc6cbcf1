package flock

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/flock/pkg/transport"
)

// Register inserts the member, schedules an immediate announcement of
// any incumbent leader, publishes a sync request so peers answer with a
// heartbeat, and -- if nobody answers within 500ms -- triggers an
// election ourselves.
func (f *Flock) Register(m LocalMember) {
	f.mu.Lock()
	id := m.ID()
	if _, exists := f.localMembers[id]; !exists {
		f.localOrder = append(f.localOrder, id)
	}
	f.localMembers[id] = m
	incumbent := f.leaderID
	f.mu.Unlock()

	f.log.Debug("member registered", zap.String("channel", f.channelName), zap.String("memberId", id))

	if incumbent != nil {
		leaderID := *incumbent
		f.clock.AfterFunc(0, func() {
			m.HandleLeadershipChange(&leaderID)
		})
	}

	f.publish(transport.Envelope{Type: transport.TypeRequestLeaderSync, SenderID: id})

	f.clock.AfterFunc(registerSyncDelay, func() {
		f.mu.Lock()
		stillNoLeader := f.leaderID == nil
		f.mu.Unlock()
		if stillNoLeader {
			f.triggerElection()
		}
	})
}

// Unregister tears the member down. If the departing member was the
// leader, the resign handler -- not this method -- owns the
// leaderId=nil transition and the subsequent election.
func (f *Flock) Unregister(memberID string) {
	f.mu.Lock()
	m, ok := f.localMembers[memberID]
	if !ok {
		f.mu.Unlock()
		return
	}
	delete(f.localMembers, memberID)
	for i, id := range f.localOrder {
		if id == memberID {
			f.localOrder = append(f.localOrder[:i], f.localOrder[i+1:]...)
			break
		}
	}
	wasLeader := f.leaderID != nil && *f.leaderID == memberID
	f.mu.Unlock()

	f.log.Debug("member unregistered", zap.String("channel", f.channelName), zap.String("memberId", memberID), zap.Bool("wasLeader", wasLeader))

	if wasLeader {
		m.HandleLeadershipChange(nil)
		f.publish(transport.Envelope{Type: transport.TypeResign, SenderID: memberID})
	}
}
