// Package loopback implements an in-memory engine.Transport backed by byte
// queues, for driving the engine deterministically in tests and for
// exercising command flows without attaching real hardware.
package loopback

import "sync"

// Transport is a multi-port in-memory Transport. Outbound writes (from the
// engine's perspective) land in a per-port buffer the test drains with
// Sent; a test feeds
// simulated device responses through Feed, which the engine's next Read
// will observe.
type Transport struct {
	mu    sync.Mutex
	ports []*portState
	clock uint32
}

type portState struct {
	toDevice []byte
	toEngine []byte
}

// New constructs a Transport with n independently-buffered ports.
func New(n int) *Transport {
	t := &Transport{ports: make([]*portState, n)}
	for i := range t.ports {
		t.ports[i] = &portState{}
	}
	return t
}

// Init satisfies engine.Transport; loopback ports need no setup.
func (t *Transport) Init(port int) error { return nil }

// Read satisfies engine.Transport.
func (t *Transport) Read(port int, buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.ports[port]
	n := copy(buf, p.toEngine)
	p.toEngine = p.toEngine[n:]
	return n, nil
}

// Write satisfies engine.Transport, accepting the entire buffer
// unconditionally (loopback never backpressures).
func (t *Transport) Write(port int, buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.ports[port]
	p.toDevice = append(p.toDevice, buf...)
	return len(buf), nil
}

// NowMS satisfies engine.Transport, returning a manually-advanced clock
// shared across all ports.
func (t *Transport) NowMS(port int) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock
}

// Advance moves the shared clock forward by ms milliseconds.
func (t *Transport) Advance(ms uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock += ms
}

// Feed appends bytes the engine will observe on its next Read for port.
func (t *Transport) Feed(port int, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ports[port].toEngine = append(t.ports[port].toEngine, data...)
}

// Sent returns and clears everything written to port by the engine so far.
func (t *Transport) Sent(port int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.ports[port]
	out := p.toDevice
	p.toDevice = nil
	return out
}
