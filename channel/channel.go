// Package channel implements DirectChannel, the pair object that cross-
// wires two sockets and drives their four-call I/O sequence each time an
// I/O thread schedules it.
package channel

import (
	"github.com/momentics/vsockbridge/socket"
)

// Handle is the opaque per-socket token an I/O thread packs into the
// poller registration, letting a readiness event be routed straight back
// to its owning channel and fd without a hash lookup.
type Handle struct {
	Channel *DirectChannel
	FD      uintptr
}

// DirectChannel exclusively owns two Sockets and cross-wires them as
// peers. ID is stable for the channel's lifetime and unique only within
// the owning I/O thread (used for logging).
type DirectChannel struct {
	ID uint64

	A *socket.Socket
	B *socket.Socket
}

// New binds a and b as each other's peer and returns the channel wrapping
// them under id.
func New(id uint64, a, b *socket.Socket) *DirectChannel {
	a.SetPeer(b)
	b.SetPeer(a)
	return &DirectChannel{ID: id, A: a, B: b}
}

// PerformIO issues, unconditionally and in this order, the four calls
// that make up one scheduling quantum for the channel: A reads into B's
// buffer, B reads into A's buffer, A drains its own buffer to its
// descriptor, B drains its own. The state machine's closed/!ready guards
// make the no-op calls cheap, trading a few extra branches for simple,
// order-independent reasoning.
func (c *DirectChannel) PerformIO() {
	c.A.ReadInput()
	c.B.ReadInput()
	c.A.WriteOutput()
	c.B.WriteOutput()
}

// CanReadWriteMore reports whether either socket could still make
// progress right now: read-ready with room to read into, or write-ready
// with queued data to drain. A channel for which this is false has
// exhausted its readiness hints and should leave the ready set until the
// poller raises a new edge.
func (c *DirectChannel) CanReadWriteMore() bool {
	return canProgress(c.A) || canProgress(c.B)
}

func canProgress(s *socket.Socket) bool {
	if s.Closed() {
		return false
	}
	// s.ReadInput reads from s's descriptor into its peer's buffer, so
	// forward progress on the read side needs room in the peer, not s.
	if s.InputReady() && s.PeerHasRoom() {
		return true
	}
	// s.WriteOutput drains s's own buffer, filled by the peer's reads.
	if s.OutputReady() && s.HasQueuedData() {
		return true
	}
	return false
}

// CanBeTerminated reports whether both sockets have reached the terminal
// closed state, meaning the channel can be dropped and its descriptors
// released.
func (c *DirectChannel) CanBeTerminated() bool {
	return c.A.Closed() && c.B.Closed()
}

// SocketByFD resolves which of the channel's two sockets owns fd, letting
// an I/O thread route a readiness event back to the right socket using
// only the handle it registered with the poller.
func (c *DirectChannel) SocketByFD(fd uintptr) (*socket.Socket, bool) {
	if uintptr(c.A.FD()) == fd {
		return c.A, true
	}
	if uintptr(c.B.FD()) == fd {
		return c.B, true
	}
	return nil, false
}
