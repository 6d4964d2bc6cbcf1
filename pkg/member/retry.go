package member

import (
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/flock/internal/telemetry"
	"github.com/ryandielhenn/flock/pkg/transport"
)

// HandleLeadershipChange implements flock.LocalMember's retry-migration
// rule. When this member has no recorded leader and learns of one
// (isInitialDiscovery), pending entries are left alone -- the ack for
// them may still be in flight -- rather than being yanked into the
// retry queue. lastKnownLeaderID is cleared on every change to a nil
// leader, so this applies to the first leader this member sees and
// equally to any leader seen after a nil leader; no lifetime history
// is kept.
func (m *Member) HandleLeadershipChange(leaderID *string) {
	m.mu.Lock()
	amILeader := leaderID != nil && *leaderID == m.id
	isInitialDiscovery := m.lastKnownLeaderID == nil && leaderID != nil

	var toRetry []*pendingEntry
	if amILeader || !isInitialDiscovery {
		toRetry = make([]*pendingEntry, 0, len(m.pending))
		for id, entry := range m.pending {
			if entry.timeout != nil {
				entry.timeout.Stop()
			}
			entry.attempts = 0
			toRetry = append(toRetry, entry)
			delete(m.pending, id)
		}
		m.retryQueue = append(m.retryQueue, toRetry...)
	}

	if leaderID != nil {
		id := *leaderID
		m.lastKnownLeaderID = &id
	} else {
		m.lastKnownLeaderID = nil
	}
	telemetry.MemberPending.WithLabelValues(m.flock.ChannelName()).Set(float64(len(m.pending)))
	telemetry.MemberRetry.WithLabelValues(m.flock.ChannelName()).Set(float64(len(m.retryQueue)))
	m.mu.Unlock()

	if leaderID != nil {
		m.log.Debug("leadership change observed", zap.String("leaderId", *leaderID), zap.Bool("isInitialDiscovery", isInitialDiscovery))
	} else {
		m.log.Debug("leadership change observed", zap.Bool("isInitialDiscovery", isInitialDiscovery))
	}

	if toRetry != nil {
		m.processRetry()
	}

	if m.onLeadershipChange != nil {
		m.onLeadershipChange(leaderID)
	}
}

// onPendingTimeout moves a timed-out pending entry into the retry
// queue.
func (m *Member) onPendingTimeout(requestID string) {
	m.mu.Lock()
	entry, ok := m.pending[requestID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, requestID)
	m.retryQueue = append(m.retryQueue, entry)
	telemetry.MemberPending.WithLabelValues(m.flock.ChannelName()).Set(float64(len(m.pending)))
	telemetry.MemberRetry.WithLabelValues(m.flock.ChannelName()).Set(float64(len(m.retryQueue)))
	m.mu.Unlock()

	m.processRetry()
}

func (m *Member) retrySweepTick() {
	m.mu.Lock()
	if m.resigned {
		m.mu.Unlock()
		return
	}
	m.retrySweepTimer = m.clock.AfterFunc(RetrySweepInterval, m.retrySweepTick)
	hasLeader := m.lastKnownLeaderID != nil
	nonEmpty := len(m.retryQueue) > 0
	m.mu.Unlock()

	if hasLeader && nonEmpty {
		m.processRetry()
	}
}

// processRetry drains the retry queue. If this member is itself the
// leader, the queue is self-addressed work and is simply dropped with
// no rejections; otherwise every entry is resent (or, past MaxRetries,
// escalated to a rejection/silent drop).
func (m *Member) processRetry() {
	m.mu.Lock()
	if m.isLeaderLocked() {
		m.retryQueue = nil
		telemetry.MemberRetry.WithLabelValues(m.flock.ChannelName()).Set(0)
		m.mu.Unlock()
		return
	}
	queue := m.retryQueue
	m.retryQueue = nil
	m.mu.Unlock()

	for _, entry := range queue {
		entry.attempts++
		if entry.attempts > MaxRetries {
			m.rejectExhausted(entry)
			continue
		}
		m.log.Debug("retrying request", zap.String("requestId", entry.requestID), zap.Int("attempt", entry.attempts))
		m.resend(entry)
	}

	m.mu.Lock()
	telemetry.MemberRetry.WithLabelValues(m.flock.ChannelName()).Set(float64(len(m.retryQueue)))
	m.mu.Unlock()
}

func (m *Member) rejectExhausted(entry *pendingEntry) {
	telemetry.RetriesExhaustedTotal.WithLabelValues(m.flock.ChannelName()).Inc()
	m.log.Debug("max retries reached", zap.String("requestId", entry.requestID), zap.String("kind", entry.kind))
	if entry.kind == "message-to-leader" {
		return // dropped silently, no response ever promised
	}
	err := &ErrMaxRetriesReached{RequestID: entry.requestID}
	if entry.future != nil {
		entry.future.settle(nil, err)
	}
	if entry.callback != nil {
		entry.callback(nil, err)
	}
}

// resend reinserts entry into pending with a fresh timeout, then
// republishes its envelope. On that timeout firing again, the entry is
// pushed back into the retry queue unchanged except for its attempts
// counter, which was already incremented by the caller.
func (m *Member) resend(entry *pendingEntry) {
	requestID := entry.requestID
	timeout := entry.timeoutDuration
	if timeout <= 0 {
		timeout = m.flock.HeartbeatTTL() + 500*time.Millisecond
	}

	m.mu.Lock()
	m.pending[requestID] = entry
	entry.timeout = m.clock.AfterFunc(timeout, func() { m.onPendingTimeout(requestID) })
	telemetry.MemberPending.WithLabelValues(m.flock.ChannelName()).Set(float64(len(m.pending)))
	m.mu.Unlock()

	envType := transport.TypeRequest
	if entry.kind == "message-to-leader" {
		envType = transport.TypeMessageToLeader
	}
	m.flock.Publish(transport.Envelope{
		Type:      envType,
		SenderID:  m.id,
		RequestID: requestID,
		Payload:   entry.payload,
	})
}
