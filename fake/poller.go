// Package fake provides deterministic, manually-driven test doubles for
// the bridge core's pluggable seams: api.Poller and api.SocketImpl.
package fake

import (
	"sync"

	"github.com/momentics/vsockbridge/api"
)

// Poller is a manually-driven fake implementing api.Poller. Tests
// register descriptors, then call Raise to enqueue an event, which the
// next Wait call delivers — there is no real OS polling involved, so
// tests get fully deterministic event ordering.
type Poller struct {
	mu        sync.Mutex
	handlers  map[uintptr]uintptr // fd -> handler
	pending   []api.Event
	closed    bool
}

// NewPoller constructs an empty fake poller.
func NewPoller() *Poller {
	return &Poller{handlers: make(map[uintptr]uintptr)}
}

// Factory adapts a fixed Poller as an api.PollerFactory, for tests that
// want every IOThread in a pool to share one deterministic poller.
type Factory struct {
	P *Poller
}

func (f Factory) New() (api.Poller, error) {
	if f.P != nil {
		return f.P, nil
	}
	return NewPoller(), nil
}

func (p *Poller) Register(fd uintptr, handler uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return api.ErrPollerClosed
	}
	p.handlers[fd] = handler
	return nil
}

func (p *Poller) Deregister(fd uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, fd)
	return nil
}

// Raise enqueues a readiness event for fd, to be delivered on the next
// Wait call. Panics if fd was never registered, so tests fail loudly on a
// typo'd fd rather than silently dropping the event.
func (p *Poller) Raise(fd uintptr, flags api.IOFlags) {
	p.mu.Lock()
	defer p.mu.Unlock()
	handler, ok := p.handlers[fd]
	if !ok {
		panic("fake poller: raise on unregistered fd")
	}
	p.pending = append(p.pending, api.Event{IOFlags: flags, FD: fd, Handler: handler})
}

func (p *Poller) Wait(events []api.Event, timeoutMs int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(events, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
