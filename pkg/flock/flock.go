package flock

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/flock/internal/clock"
	"github.com/ryandielhenn/flock/pkg/logging"
	"github.com/ryandielhenn/flock/pkg/transport"
)

// Flock is the unique coordinator for one channel name within the
// process (that uniqueness is enforced by pkg/factory, not here --
// Flock itself has no opinion on how many instances of itself exist, it
// just has to behave correctly as one).
type Flock struct {
	channelName       string
	heartbeatInterval time.Duration
	heartbeatTTL      time.Duration
	checkInterval     time.Duration

	clock     clock.Clock
	transport transport.Transport
	log       *zap.Logger

	mu              sync.Mutex
	localMembers    map[string]LocalMember
	localOrder      []string // insertion order, for candidate selection
	remoteMembers   map[string]time.Time
	leaderID        *string
	lastHeartbeatAt time.Time

	heartbeatTimer clock.Timer
	monitorTimer   clock.Timer

	excludedCandidateID string
	exclusionTimer      clock.Timer

	closed bool
}

// New constructs a Flock directly. Most callers should go through
// pkg/factory so that uniqueness holds across a process; New is
// exported for tests and for hosts that intentionally want
// several independent coordinators on the same channel name (e.g. to
// simulate separate browser contexts sharing one Transport medium).
func New(cfg Config) *Flock {
	cfg = cfg.withDefaults()

	t, chosen := transport.Select(transport.SelectConfig{
		Channel:       cfg.ChannelName,
		EtcdEndpoints: cfg.EtcdEndpoints,
		Preference:    cfg.TransportPreference,
		Clock:         cfg.Clock,
	})

	log := logging.Nop()
	if cfg.Debug {
		log = logging.New(cfg.ChannelName, true)
	}
	log.Debug("transport selected", zap.String("variant", chosen))

	f := &Flock{
		channelName:       cfg.ChannelName,
		heartbeatInterval: cfg.HeartbeatInterval,
		heartbeatTTL:      cfg.HeartbeatTTL,
		checkInterval:     cfg.CheckInterval,
		clock:             cfg.Clock,
		transport:         t,
		log:               log,
		localMembers:      make(map[string]LocalMember),
		remoteMembers:     make(map[string]time.Time),
	}

	t.OnMessage(f.handleEnvelope)
	f.monitorTimer = f.clock.AfterFunc(f.checkInterval, f.monitorTick)
	return f
}

// ChannelName returns the channel this Flock coordinates.
func (f *Flock) ChannelName() string { return f.channelName }

// HeartbeatTTL returns the configured failure-detector window, used by
// pkg/member to size its default request timeout (heartbeatTTL+500ms).
func (f *Flock) HeartbeatTTL() time.Duration { return f.heartbeatTTL }

// Clock returns the time source backing this Flock, so pkg/member's
// timers advance in lockstep with it under a virtual clock in tests.
func (f *Flock) Clock() clock.Clock { return f.clock }

// Publish lets pkg/member originate user-level envelopes (request,
// message-to-leader, direct-message, broadcast) through the same
// post-then-loopback path Flock uses for its own election envelopes.
func (f *Flock) Publish(env transport.Envelope) { f.publish(env) }

// Shutdown stops every timer and closes the transport. Intended for
// non-process-global hosts (tests, pkg/factory.Reset); a process-global
// Flock is typically never explicitly shut down.
func (f *Flock) Shutdown() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	if f.heartbeatTimer != nil {
		f.heartbeatTimer.Stop()
	}
	if f.monitorTimer != nil {
		f.monitorTimer.Stop()
	}
	if f.exclusionTimer != nil {
		f.exclusionTimer.Stop()
	}
	f.mu.Unlock()
	f.transport.Close()
}

// isLeaderLocalLocked reports whether the current leaderID is one of
// this process's own local members. Caller must hold f.mu.
func (f *Flock) isLeaderLocalLocked() bool {
	if f.leaderID == nil {
		return false
	}
	_, ok := f.localMembers[*f.leaderID]
	return ok
}

// stateLabelLocked renders the channel's current election state as
// NO_LEADER, FOLLOWER(<id>), or LEADER_LOCAL(<id>) for debug logging.
// Caller must hold f.mu.
func (f *Flock) stateLabelLocked() string {
	if f.leaderID == nil {
		return "NO_LEADER"
	}
	if f.isLeaderLocalLocked() {
		return "LEADER_LOCAL(" + *f.leaderID + ")"
	}
	return "FOLLOWER(" + *f.leaderID + ")"
}

// IsLeaderLocal reports whether this process currently hosts the leader
// for this channel (any local member, not a specific one).
func (f *Flock) IsLeaderLocal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isLeaderLocalLocked()
}

// LeaderID returns the current leader, or nil if none is known.
func (f *Flock) LeaderID() *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaderID == nil {
		return nil
	}
	id := *f.leaderID
	return &id
}

// publish posts env to every other context, then loops a copy back to
// this process's own handler. Neither Transport variant self-delivers,
// so Flock is responsible for the loopback, and the transport post
// happens before the local call to preserve ordering.
func (f *Flock) publish(env transport.Envelope) {
	env.Ts = f.clock.Now().UnixMilli()
	if env.SenderID == "" {
		f.mu.Lock()
		env.SenderID = f.selfSenderIDLocked()
		f.mu.Unlock()
	}
	f.transport.Post(env)
	f.handleEnvelope(env)
}

// selfSenderIDLocked picks a sender identity for envelopes Flock itself
// originates (heartbeat, claim, resign) rather than a specific member,
// preferring the current leader-local member if there is one. Caller
// must hold f.mu.
func (f *Flock) selfSenderIDLocked() string {
	if f.leaderID != nil {
		if _, ok := f.localMembers[*f.leaderID]; ok {
			return *f.leaderID
		}
	}
	if len(f.localOrder) > 0 {
		return f.localOrder[0]
	}
	return ""
}

// MembersInfo returns the deduplicated union of local member IDs and
// remote members heard from within the last heartbeatTTL.
func (f *Flock) MembersInfo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	seen := make(map[string]struct{}, len(f.localOrder)+len(f.remoteMembers))
	out := make([]string, 0, len(f.localOrder)+len(f.remoteMembers))
	for _, id := range f.localOrder {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for id, lastSeen := range f.remoteMembers {
		if now.Sub(lastSeen) > f.heartbeatTTL {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// noteRemoteLocked records sender as a remote peer unless it is one of
// our own local members (in which case it isn't "remote" at all -- this
// only matters for the single-process multi-Flock test topology, where
// several Flock instances share one Transport bus). Caller must hold
// f.mu.
func (f *Flock) noteRemoteLocked(senderID string) {
	if senderID == "" {
		return
	}
	if _, ok := f.localMembers[senderID]; ok {
		return
	}
	f.remoteMembers[senderID] = f.clock.Now()
}
