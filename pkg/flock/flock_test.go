package flock

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ryandielhenn/flock/internal/clock"
	"github.com/ryandielhenn/flock/pkg/transport"
)

// fakeMember is a minimal LocalMember for white-box tests of the
// election state machine, independent of pkg/member.
type fakeMember struct {
	id        string
	leaderLog []*string
}

func newFakeMember(id string) *fakeMember { return &fakeMember{id: id} }

func (m *fakeMember) ID() string                                           { return m.id }
func (m *fakeMember) HandleRequest(json.RawMessage, func(json.RawMessage)) {}
func (m *fakeMember) HandleMessage(string, string, json.RawMessage)        {}
func (m *fakeMember) HandleLeadershipChange(leaderID *string) {
	m.leaderLog = append(m.leaderLog, leaderID)
}
func (m *fakeMember) ResolvePending(string, json.RawMessage) {}

func newTestFlock(t *testing.T, cl *clock.Virtual, channel string) *Flock {
	t.Helper()
	f := New(Config{
		ChannelName:         channel,
		Clock:               cl,
		TransportPreference: transport.PreferLoopbackOnly,
	})
	t.Cleanup(f.Shutdown)
	return f
}

func TestSoleLocalMemberBecomesLeader(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	f := newTestFlock(t, cl, "t1")
	m := newFakeMember("m1")

	f.Register(m)
	cl.Advance(registerSyncDelay)

	if got := f.LeaderID(); got == nil || *got != "m1" {
		t.Fatalf("LeaderID() = %v, want m1", got)
	}
	if !f.IsLeaderLocal() {
		t.Fatal("IsLeaderLocal() = false, want true")
	}
}

func TestCandidateSelectionPrefersInsertionOrder(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	f := newTestFlock(t, cl, "t2")
	m1, m2 := newFakeMember("m1"), newFakeMember("m2")

	f.Register(m1)
	f.Register(m2)
	cl.Advance(registerSyncDelay)

	if got := f.LeaderID(); got == nil || *got != "m1" {
		t.Fatalf("LeaderID() = %v, want m1 (first registered)", got)
	}
}

func TestResignTriggersElectionAmongRemainingMembers(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	f := newTestFlock(t, cl, "t3")
	m1, m2 := newFakeMember("m1"), newFakeMember("m2")

	f.Register(m1)
	f.Register(m2)
	cl.Advance(registerSyncDelay)
	if got := f.LeaderID(); got == nil || *got != "m1" {
		t.Fatalf("precondition: LeaderID() = %v, want m1", got)
	}

	f.Unregister("m1")

	if got := f.LeaderID(); got == nil || *got != "m2" {
		t.Fatalf("LeaderID() = %v, want m2 after m1 resigns", got)
	}
	if !f.IsLeaderLocal() {
		t.Fatal("expected m2 to be leader-local after election")
	}
}

func TestCedeLeadershipExcludesCandidateTemporarily(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	f := newTestFlock(t, cl, "t4")
	m1, m2 := newFakeMember("m1"), newFakeMember("m2")

	f.Register(m1)
	f.Register(m2)
	cl.Advance(registerSyncDelay)
	if got := f.LeaderID(); got == nil || *got != "m1" {
		t.Fatalf("precondition: LeaderID() = %v, want m1", got)
	}

	f.CedeLeadership("m1")

	if got := f.LeaderID(); got == nil || *got != "m2" {
		t.Fatalf("LeaderID() = %v, want m2 after m1 cedes", got)
	}

	f.mu.Lock()
	excluded := f.excludedCandidateID
	f.mu.Unlock()
	if excluded != "m1" {
		t.Fatalf("excludedCandidateID = %q, want m1 during exclusion window", excluded)
	}

	cl.Advance(defaultCedeExclusion + time.Millisecond)

	f.mu.Lock()
	excluded = f.excludedCandidateID
	f.mu.Unlock()
	if excluded != "" {
		t.Fatalf("excludedCandidateID = %q, want cleared after exclusion window", excluded)
	}
}

func TestRegisterLearnsIncumbentLeaderWithoutElection(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	f := newTestFlock(t, cl, "t5")
	m1 := newFakeMember("m1")
	f.Register(m1)
	cl.Advance(registerSyncDelay)

	m2 := newFakeMember("m2")
	f.Register(m2)
	cl.Advance(0)

	if len(m2.leaderLog) == 0 || m2.leaderLog[0] == nil || *m2.leaderLog[0] != "m1" {
		t.Fatalf("m2 leaderLog = %v, want first entry m1 (incumbent announcement)", m2.leaderLog)
	}
	if got := f.LeaderID(); got == nil || *got != "m1" {
		t.Fatalf("LeaderID() = %v, want m1 unchanged", got)
	}
}

func TestFollowerReturnsToNoLeaderOnHeartbeatTimeout(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	leader := New(Config{ChannelName: "t6", Clock: cl})
	t.Cleanup(leader.Shutdown)
	follower := New(Config{ChannelName: "t6", Clock: cl})
	t.Cleanup(follower.Shutdown)

	leader.Register(newFakeMember("leader-m"))
	cl.Advance(registerSyncDelay)

	if got := follower.LeaderID(); got == nil || *got != "leader-m" {
		t.Fatalf("follower LeaderID() = %v, want leader-m", got)
	}

	// Simulate the leader's process dying outright (its timers stop,
	// it drops off the transport) and advance past heartbeatTTL with
	// nobody heartbeating.
	leader.Shutdown()
	cl.Advance(defaultHeartbeatTTL + time.Second)

	if got := follower.LeaderID(); got != nil {
		t.Fatalf("follower LeaderID() = %v, want nil after stale timeout", *got)
	}
}

func TestClaimCollisionSelfCorrectsWithinOneHeartbeatRound(t *testing.T) {
	cl := clock.NewVirtual(time.Unix(0, 0))
	a := New(Config{ChannelName: "t7", Clock: cl})
	t.Cleanup(a.Shutdown)
	b := New(Config{ChannelName: "t7", Clock: cl})
	t.Cleanup(b.Shutdown)

	a.Register(newFakeMember("a-m"))
	cl.Advance(registerSyncDelay)
	if got := a.LeaderID(); got == nil || *got != "a-m" {
		t.Fatalf("precondition: a.LeaderID() = %v, want a-m", got)
	}

	// A competing claim from a context with no actual registered
	// member: the incumbent leader immediately reasserts via heartbeat,
	// and any context that momentarily believed the foreign claim
	// converges back within one heartbeat round.
	b.Publish(transport.Envelope{Type: transport.TypeClaim, SenderID: "rogue"})
	if got := a.LeaderID(); got == nil || *got != "a-m" {
		t.Fatalf("a.LeaderID() = %v, want unchanged a-m after foreign claim", got)
	}

	cl.Advance(defaultHeartbeatInterval)
	if got := b.LeaderID(); got == nil || *got != "a-m" {
		t.Fatalf("b.LeaderID() = %v, want a-m after the next heartbeat round", got)
	}
}
