package transport

import "github.com/ryandielhenn/flock/internal/clock"

// Preference controls which variant Select is willing to pick.
type Preference int

const (
	// PreferAuto tries InProc first, then Etcd if endpoints are
	// configured. This is the default for production use.
	PreferAuto Preference = iota
	// PreferLoopbackOnly forces the degraded loopback-only variant,
	// used by tests that want to assert single-context isolation.
	PreferLoopbackOnly
)

// SelectConfig carries what Select needs to pick and construct a
// Transport. It is a subset of flock.Config so pkg/transport has no
// dependency on pkg/flock.
type SelectConfig struct {
	Channel       string
	EtcdEndpoints []string
	Preference    Preference
	Clock         clock.Clock
}

// Select runs a one-shot selection policy: try native (InProc) first;
// if the caller configured etcd endpoints, try Etcd, replacing InProc
// as the cross-process medium when it succeeds; otherwise fall back to
// Loopback only when explicitly requested. Selection never fails:
// Etcd's dial failure is swallowed here, falling back to InProc,
// because losing cross-process delivery is recoverable -- the only
// fatal error is a *caller* constructing transport.Etcd directly and
// checking its own error.
func Select(cfg SelectConfig) (t Transport, chosen string) {
	if cfg.Preference == PreferLoopbackOnly {
		return NewLoopback(), "loopback"
	}

	if len(cfg.EtcdEndpoints) > 0 {
		cl := cfg.Clock
		if cl == nil {
			cl = clock.Real{}
		}
		if et, err := NewEtcd(cfg.EtcdEndpoints, cfg.Channel, cl); err == nil {
			return et, "etcd"
		}
	}

	return NewInProc(cfg.Channel), "inproc"
}
