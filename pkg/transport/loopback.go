package transport

// Loopback is the degraded variant used when neither the native nor the
// shared-storage medium is available. It delivers nowhere but back to
// its own handler -- which Flock already does explicitly on every Post,
// so Loopback's Post is intentionally a no-op. It exists so pure
// in-process test harnesses can assert a Flock sees only its own local
// members.
type Loopback struct{}

// NewLoopback constructs the loopback-only Transport variant.
func NewLoopback() *Loopback { return &Loopback{} }

func (*Loopback) Post(Envelope) {}

func (*Loopback) OnMessage(func(Envelope)) {}

func (*Loopback) Close() error { return nil }
