package ioengine

import (
	"sync/atomic"
	"unsafe"

	"github.com/momentics/vsockbridge/api"
	"github.com/momentics/vsockbridge/channel"
	"github.com/momentics/vsockbridge/internal/affinity"
	"github.com/momentics/vsockbridge/logging"
	"github.com/momentics/vsockbridge/socket"
)

// packHandle and unpackHandle convert between a channel.Handle and the
// uintptr the poller carries opaquely. The handle is kept alive by
// IOThread.channels for as long as it might still be referenced by a
// pending kernel event, so the raw pointer round-trip is safe.
func packHandle(h *channel.Handle) uintptr {
	return uintptr(unsafe.Pointer(h))
}

func unpackHandle(p uintptr) *channel.Handle {
	if p == 0 {
		return nil
	}
	return (*channel.Handle)(unsafe.Pointer(p))
}

// idleTimeoutMs is the poll timeout used whenever the ready set is empty.
// It bounds worst-case wake-up latency for a freshly-adopted or
// newly-edge-ready channel while keeping an idle thread from busy-spinning.
const idleTimeoutMs = 1

// maxEventsPerWait bounds one EpollWait/Wait call's batch size.
const maxEventsPerWait = 256

// IOThread owns a poller, a set of live channels, and the adoption queue
// feeding it new work. Exactly one goroutine — the one that calls Run —
// ever touches its channels map, ready set, or terminated set; no
// internal locking is needed for those.
type IOThread struct {
	id        int
	cpuID     int
	poller    api.Poller
	inbound   *AdoptionQueue
	log       *logging.Logger
	terminate atomic.Bool

	nextChannelID uint64

	channels map[uintptr]*channel.Handle // fd -> handle, for reap bookkeeping
	byID     map[uint64]*channel.DirectChannel

	ready      map[uint64]*channel.DirectChannel
	terminated map[uint64]*channel.DirectChannel
}

// NewIOThread constructs a thread bound to poller, draining pairs from
// inbound. cpuID < 0 leaves the OS thread unpinned to a specific core.
func NewIOThread(id int, cpuID int, poller api.Poller, inbound *AdoptionQueue, log *logging.Logger) *IOThread {
	return &IOThread{
		id:         id,
		cpuID:      cpuID,
		poller:     poller,
		inbound:    inbound,
		log:        log,
		channels:   make(map[uintptr]*channel.Handle),
		byID:       make(map[uint64]*channel.DirectChannel),
		ready:      make(map[uint64]*channel.DirectChannel),
		terminated: make(map[uint64]*channel.DirectChannel),
	}
}

// Stop signals the thread to exit after finishing its current iteration.
func (t *IOThread) Stop() { t.terminate.Store(true) }

// Run is the four-phase event loop: adopt pending, poll, perform I/O,
// reap. It blocks until Stop is called, and must run on its own
// goroutine — call it via `go t.Run()`, ideally from a goroutine that
// will not be reused for anything else, since PinCurrentThread locks it
// to an OS thread for the duration.
func (t *IOThread) Run() {
	if err := affinity.PinCurrentThread(t.cpuID); err != nil {
		t.log.Warn().Int("thread", t.id).Err(err).Msg("cpu pin failed, continuing unpinned")
	}

	pending := make([]pendingPair, 0, 16)
	events := make([]api.Event, maxEventsPerWait)

	for !t.terminate.Load() {
		pending = t.adoptPending(pending[:0])
		t.poll(events)
		t.performIO()
		t.reap()
	}

	t.shutdown()
}

// adoptPending drains the inbound queue and registers each new pair's
// descriptors with this thread's poller, dropping any pair that fails
// registration (its sockets' descriptors are closed directly, since they
// were never wired into the live set).
func (t *IOThread) adoptPending(scratch []pendingPair) []pendingPair {
	scratch = t.inbound.DrainInto(scratch)
	for _, p := range scratch {
		t.adopt(p.a, p.b)
	}
	return scratch
}

func (t *IOThread) adopt(a, b *socket.Socket) {
	id := t.nextChannelID
	t.nextChannelID++

	ch := channel.New(id, a, b)
	a.SetPoller(t.poller)
	b.SetPoller(t.poller)

	handleA := &channel.Handle{Channel: ch, FD: uintptr(a.FD())}
	handleB := &channel.Handle{Channel: ch, FD: uintptr(b.FD())}

	if err := t.poller.Register(uintptr(a.FD()), packHandle(handleA)); err != nil {
		t.log.Warn().Int("thread", t.id).Int("fd", a.FD()).Err(err).Msg("register failed, dropping channel")
		a.CloseDescriptor()
		b.CloseDescriptor()
		return
	}
	if err := t.poller.Register(uintptr(b.FD()), packHandle(handleB)); err != nil {
		t.log.Warn().Int("thread", t.id).Int("fd", b.FD()).Err(err).Msg("register failed, dropping channel")
		_ = t.poller.Deregister(uintptr(a.FD()))
		a.CloseDescriptor()
		b.CloseDescriptor()
		return
	}

	t.channels[uintptr(a.FD())] = handleA
	t.channels[uintptr(b.FD())] = handleB
	t.byID[id] = ch

	t.log.Debug().Int("thread", t.id).Uint64("channel", id).Int("fda", a.FD()).Int("fdb", b.FD()).Msg("channel adopted")
}

// poll blocks for up to idleTimeoutMs when the ready set is empty (0 ms
// otherwise, since there is already work to do this iteration) and
// applies each returned event: resolve the channel via its handle, mark
// the socket's readiness flags, resolve a pending connect if applicable,
// and add the channel to the ready set.
func (t *IOThread) poll(events []api.Event) {
	timeout := 0
	if len(t.ready) == 0 {
		timeout = idleTimeoutMs
	}

	n, err := t.poller.Wait(events, timeout)
	if err != nil {
		// The poller's wait call failing is api.KindPollerFatal: not a
		// per-socket condition Classify can resolve, but a fault in the
		// readiness mechanism this whole thread depends on.
		t.log.Critical().Int("thread", t.id).Str("kind", api.KindPollerFatal.String()).Err(err).Msg("poll error")
		return
	}

	for i := 0; i < n; i++ {
		ev := events[i]
		handle := unpackHandle(ev.Handler)
		if handle == nil {
			continue
		}
		ch := handle.Channel
		sock, ok := ch.SocketByFD(handle.FD)
		if !ok {
			continue
		}

		switch {
		case ev.IOFlags&api.FlagError != 0:
			// FlagError collapses EPOLLERR|EPOLLHUP|EPOLLRDHUP, and
			// RDHUP fires on an ordinary orderly remote half-close, not
			// just hard errors. Mark both directions ready and let
			// PerformIO's ReadInput/WriteOutput discover the real
			// condition via the syscall return value, which correctly
			// tells PeerEOF (drain-then-close) apart from a genuine
			// transient error (immediate close).
			sock.MarkInputReady()
			sock.MarkOutputReady()
			if !sock.Connected() {
				sock.CheckConnected()
			}
		default:
			if ev.IOFlags&api.InputReady != 0 {
				sock.MarkInputReady()
			}
			if ev.IOFlags&api.OutputReady != 0 {
				sock.MarkOutputReady()
				if !sock.Connected() {
					sock.CheckConnected()
				}
			}
		}

		t.ready[ch.ID] = ch
	}
}

// performIO iterates the ready set, invokes PerformIO on each channel,
// drops channels that no longer need scheduling, and moves fully-closed
// channels into the terminated set.
func (t *IOThread) performIO() {
	for id, ch := range t.ready {
		ch.PerformIO()

		if ch.CanBeTerminated() {
			t.terminated[id] = ch
			delete(t.ready, id)
			continue
		}
		if !ch.CanReadWriteMore() {
			delete(t.ready, id)
		}
	}
}

// reap drops terminated channels, releasing their descriptors' poller
// registrations (already closed by Socket.Close) and bookkeeping.
func (t *IOThread) reap() {
	if len(t.terminated) == 0 {
		return
	}
	for id, ch := range t.terminated {
		delete(t.channels, uintptr(ch.A.FD()))
		delete(t.channels, uintptr(ch.B.FD()))
		delete(t.byID, id)
		delete(t.terminated, id)
		t.log.Debug().Int("thread", t.id).Uint64("channel", id).Msg("channel reaped")
	}
}

// shutdown runs once after the loop exits: drop every live channel,
// closing both of its sockets so descriptors and buffers are released.
func (t *IOThread) shutdown() {
	for _, ch := range t.byID {
		ch.A.Close()
		ch.B.Close()
	}
	if err := t.poller.Close(); err != nil {
		t.log.Debug().Int("thread", t.id).Err(err).Msg("poller close failed")
	}
}
