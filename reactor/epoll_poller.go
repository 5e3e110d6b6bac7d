//go:build linux
// +build linux

// Package reactor provides the Linux epoll implementation of api.Poller.
// Registrations are edge-triggered (EPOLLET) and pack the caller's handler
// value directly into the kernel epoll_event's data union, avoiding a
// lookup on the hot path.
package reactor

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/vsockbridge/api"
)

// interestMask is fixed for every registration: edge-triggered, watching
// both directions plus the read-hangup fast path. A socket that only ever
// wants to read still needs OUT armed, since the state machine relies on
// OutputReady events to notice a peer that stops accepting output.
const interestMask = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET | unix.EPOLLRDHUP

// Poller is a single-owner, non-thread-safe epoll(7) wrapper. Exactly one
// I/O thread ever calls into a given Poller; there is no internal locking.
type Poller struct {
	epfd int
}

// New creates an epoll instance. Each I/O thread owns exactly one.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd}, nil
}

// Factory adapts New as an api.PollerFactory.
type Factory struct{}

func (Factory) New() (api.Poller, error) { return New() }

// Register adds fd to the watch set, packing handler into the kernel
// event's 8-byte data union via the Fd+Pad overlay. Safe because the Go
// runtime's garbage collector does not move heap objects, so the handler
// value (typically a pointer disguised as uintptr) remains valid as long
// as something else — the I/O thread's channel table — keeps the
// referent alive.
func (p *Poller) Register(fd uintptr, handler uintptr) error {
	var ev unix.EpollEvent
	ev.Events = interestMask
	*(*uintptr)(unsafe.Pointer(&ev.Fd)) = handler
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

// Deregister removes fd from the watch set. Tolerates a already-removed
// or never-registered fd (ENOENT), since Close paths call this
// defensively.
func (p *Poller) Deregister(fd uintptr) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks up to timeoutMs (0 = non-blocking poll, <0 = block
// indefinitely) and translates ready native events into api.Event,
// collapsing EPOLLHUP/EPOLLERR/EPOLLRDHUP onto FlagError, which the state
// machine treats as taking precedence. Event.FD is left zero: the kernel
// event's data union carries only the handler.
func (p *Poller) Wait(events []api.Event, timeoutMs int) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		handler := *(*uintptr)(unsafe.Pointer(&raw[i].Fd))
		var flags api.IOFlags
		switch {
		case raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0:
			flags = api.FlagError
		default:
			if raw[i].Events&unix.EPOLLIN != 0 {
				flags |= api.InputReady
			}
			if raw[i].Events&unix.EPOLLOUT != 0 {
				flags |= api.OutputReady
			}
		}
		events[i] = api.Event{IOFlags: flags, Handler: handler}
	}
	return n, nil
}

// Close releases the epoll file descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
