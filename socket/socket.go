// Package socket implements the half-duplex connection state machine that
// is the bridge core's unit of correctness: half-close handling,
// backpressure, asynchronous connect completion, and drain-on-peer-close.
package socket

import (
	"github.com/momentics/vsockbridge/api"
	"github.com/momentics/vsockbridge/buffer"
	"github.com/momentics/vsockbridge/logging"
)

// Socket is a live bridge endpoint. It owns exactly one Buffer, which is
// filled by its peer's ReadInput and drained by its own WriteOutput — the
// producer of a socket's buffer is its peer, the consumer is the socket
// itself.
type Socket struct {
	fd   int
	impl api.SocketImpl
	buf  *buffer.Buffer

	peer   *Socket
	poller api.Poller
	log    *logging.Logger

	connected    bool
	inputClosed  bool
	outputClosed bool
	inputReady   bool
	outputReady  bool
}

// New constructs a Socket over fd using impl for I/O, with a buffer of the
// given capacity (buffer.DefaultCapacity if capacity <= 0). The socket
// starts disconnected; production code marks outbound sockets connected
// once the initial connect(2) succeeds synchronously, or leaves them
// pending for CheckConnected to resolve on the first write-readiness
// event.
func New(fd int, impl api.SocketImpl, capacity int, log *logging.Logger) *Socket {
	return &Socket{
		fd:   fd,
		impl: impl,
		buf:  buffer.New(capacity),
		log:  log,
	}
}

// FD returns the underlying descriptor.
func (s *Socket) FD() int { return s.fd }

// SetPeer wires the other socket of the channel. Called once by the
// channel constructor.
func (s *Socket) SetPeer(p *Socket) { s.peer = p }

// SetPoller records which poller this socket is registered with, so Close
// can deregister it.
func (s *Socket) SetPoller(p api.Poller) { s.poller = p }

// MarkConnected transitions a socket straight to connected, for the
// listen-side of a channel (accept(2) already yields a connected
// descriptor; only the outbound/connect side needs CheckConnected).
func (s *Socket) MarkConnected() { s.connected = true }

// Connected reports whether the socket has completed connection setup.
func (s *Socket) Connected() bool { return s.connected }

// Closed reports the terminal state: both input and output shut down.
func (s *Socket) Closed() bool { return s.inputClosed && s.outputClosed }

// InputReady reports the optimistic input-readiness hint, set by the last
// poll event and cleared on EAGAIN.
func (s *Socket) InputReady() bool { return s.inputReady }

// OutputReady reports the optimistic output-readiness hint.
func (s *Socket) OutputReady() bool { return s.outputReady }

// MarkInputReady records that the poller observed input readiness.
func (s *Socket) MarkInputReady() { s.inputReady = true }

// MarkOutputReady records that the poller observed output readiness.
func (s *Socket) MarkOutputReady() { s.outputReady = true }

// HasRoom reports whether this socket's own buffer can accept another
// read, i.e. whether it is safe for the peer to read into it.
func (s *Socket) HasRoom() bool { return s.buf.HasRemainingCapacity() }

// PeerHasRoom reports whether this socket's peer buffer has capacity for
// another read, i.e. whether ReadInput on this socket has anywhere to
// deliver newly read bytes right now.
func (s *Socket) PeerHasRoom() bool { return s.peer.HasRoom() }

// HasQueuedData reports whether this socket's own buffer still holds
// unwritten bytes.
func (s *Socket) HasQueuedData() bool { return !s.buf.Consumed() }

// ReadInput attempts to read from this socket's descriptor into the
// peer's buffer. Preconditions: peer is set. Returns whether the caller
// should expect more forward progress is possible right now.
func (s *Socket) ReadInput() bool {
	if s.peer.outputClosed && !s.inputClosed {
		// Peer can no longer write out anything we deliver; no point
		// reading data nobody can consume.
		s.log.Debug().Int("fd", s.fd).Msg("peer output closed, closing input")
		s.inputClosed = true
		return false
	}

	if !s.connected || s.inputClosed {
		return false
	}

	progressed := s.readInto(s.peer.buf)

	if s.inputClosed {
		s.Close()
	}

	return progressed
}

// readInto issues one read into dst's free region and updates flags per
// its outcome.
func (s *Socket) readInto(dst *buffer.Buffer) bool {
	if !dst.HasRemainingCapacity() {
		return false
	}

	n, err := s.impl.Read(s.fd, dst.Tail())
	switch {
	case n > 0:
		dst.Produce(n)
		return true
	case n == 0 && err == nil:
		s.log.Debug().Int("fd", s.fd).Msg("read returned EOF, closing input")
		s.inputClosed = true
		return false
	case api.Classify(err) == api.KindWouldBlock:
		s.inputReady = false
		return false
	default:
		s.log.Warn().Int("fd", s.fd).Err(err).Msg("read error, closing input")
		s.inputClosed = true
		return false
	}
}

// WriteOutput attempts to drain this socket's own buffer to its
// descriptor. Preconditions: peer is set.
func (s *Socket) WriteOutput() bool {
	if !s.connected || s.outputClosed {
		return false
	}

	progressed := false
	if !s.buf.Consumed() {
		progressed = s.drain()
		if s.buf.Consumed() {
			s.buf.Reset()
		}
	}

	if s.peer.Closed() && s.buf.Consumed() {
		s.log.Debug().Int("fd", s.fd).Msg("finished draining after peer close, closing")
		s.Close()
	}

	return progressed
}

// drain writes head..tail to the descriptor until EAGAIN or the buffer is
// empty.
func (s *Socket) drain() bool {
	progressed := false
	for !s.buf.Consumed() {
		n, err := s.impl.Write(s.fd, s.buf.Head())
		switch {
		case n > 0:
			s.buf.Consume(n)
			progressed = true
		case api.Classify(err) == api.KindWouldBlock:
			s.outputReady = false
			return progressed
		default:
			s.log.Warn().Int("fd", s.fd).Err(err).Msg("write error, closing")
			s.Close()
			return progressed
		}
	}
	return progressed
}

// CheckConnected resolves an in-progress asynchronous connect. It issues a
// zero-length write, which surfaces a pending connect(2) error reliably on
// Linux without a separate getsockopt(SO_ERROR) probe.
func (s *Socket) CheckConnected() {
	_, err := s.impl.Write(s.fd, nil)
	switch api.Classify(err) {
	case api.KindNone:
		s.connected = true
		s.log.Debug().Int("fd", s.fd).Msg("connected")
	case api.KindWouldBlock:
		// still pending; a later OutputReady/Error event resolves it.
	default:
		s.log.Warn().Int("fd", s.fd).Err(err).Msg("connect failed, closing")
		s.Close()
	}
}

// Close is idempotent and performs, in order: mark both directions
// closed, deregister from the poller, invoke the vtable close, notify the
// peer.
func (s *Socket) Close() {
	if s.Closed() {
		return
	}

	s.inputClosed = true
	s.outputClosed = true

	if s.poller != nil {
		// Kernel auto-deregistration on close has been observed
		// unreliable on some systems; do it explicitly.
		if err := s.poller.Deregister(uintptr(s.fd)); err != nil {
			s.log.Debug().Int("fd", s.fd).Err(err).Msg("deregister failed")
		}
	}

	if err := s.impl.Close(s.fd); err != nil {
		s.log.Debug().Int("fd", s.fd).Err(err).Msg("close syscall failed")
	}

	s.log.Debug().Int("fd", s.fd).Msg("closed")

	if s.peer != nil {
		s.peer.onPeerClosed()
	}
}

// onPeerClosed runs on a socket whose peer just closed. It forces one
// last drain attempt, then — if the peer still had undeliverable data
// queued in its own buffer — closes this socket too, since that data can
// never be flushed once the peer's descriptor is gone.
func (s *Socket) onPeerClosed() {
	if s.Closed() {
		return
	}

	s.WriteOutput()

	if s.peer.HasQueuedData() {
		s.log.Debug().Int("fd", s.fd).Msg("peer has undeliverable queued data, closing")
		s.Close()
	}
}

// CloseDescriptor closes the underlying fd directly without deregistering
// from any poller or notifying the peer. Used when dropping a pair before
// it was ever wired into an I/O thread's live set: a channel that failed
// poller registration, or a pair the adoption queue rejected.
func (s *Socket) CloseDescriptor() {
	s.inputClosed = true
	s.outputClosed = true
	_ = s.impl.Close(s.fd)
}
