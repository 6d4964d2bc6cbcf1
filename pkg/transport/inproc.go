package transport

import "sync"

// inprocBus is the shared medium for every InProc transport registered
// under the same channel name -- the direct analogue of a browser
// BroadcastChannel shared by several tabs. Unlike a browser
// BroadcastChannel, several independent InProc instances on one channel
// name can coexist inside a single Go process; this is what lets tests
// simulate several separate "contexts" (the two-member convergence
// scenario, channel isolation, etc.) without spinning up real processes.
type inprocBus struct {
	mu   sync.Mutex
	subs map[*InProc]func(Envelope)
}

var (
	busesMu sync.Mutex
	buses   = map[string]*inprocBus{}
)

func busFor(channel string) *inprocBus {
	busesMu.Lock()
	defer busesMu.Unlock()
	b, ok := buses[channel]
	if !ok {
		b = &inprocBus{subs: map[*InProc]func(Envelope){}}
		buses[channel] = b
	}
	return b
}

// InProc is the native-broadcast-channel Transport variant: always
// constructible, delivers to every other subscriber on the same channel
// name, and -- like a real BroadcastChannel -- never delivers back to
// its own sender (Flock performs that loopback explicitly).
type InProc struct {
	channel string
	bus     *inprocBus
}

// NewInProc constructs the native Transport variant for channel.
func NewInProc(channel string) *InProc {
	t := &InProc{channel: channel, bus: busFor(channel)}
	t.bus.mu.Lock()
	t.bus.subs[t] = nil
	t.bus.mu.Unlock()
	return t
}

func (t *InProc) Post(env Envelope) {
	t.bus.mu.Lock()
	handlers := make([]func(Envelope), 0, len(t.bus.subs)-1)
	for sub, h := range t.bus.subs {
		if sub == t || h == nil {
			continue
		}
		handlers = append(handlers, h)
	}
	t.bus.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

func (t *InProc) OnMessage(handler func(Envelope)) {
	t.bus.mu.Lock()
	t.bus.subs[t] = handler
	t.bus.mu.Unlock()
}

func (t *InProc) Close() error {
	t.bus.mu.Lock()
	delete(t.bus.subs, t)
	t.bus.mu.Unlock()
	return nil
}
