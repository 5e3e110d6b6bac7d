// Package endpoint describes the two address families the bridge can
// speak on either side of a channel — AF_VSOCK and AF_INET/TCP — behind
// one small interface, and provides the fd setup helpers (non-blocking
// mode, TCP_NODELAY, SO_REUSEADDR) every listener and dialer needs.
package endpoint

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Endpoint names one side of a service: a socket family plus the address
// to bind, listen, or connect on.
type Endpoint interface {
	// Socket creates a new descriptor of this endpoint's family.
	Socket() (int, error)
	// Sockaddr returns the syscall address structure to bind/connect to.
	Sockaddr() unix.Sockaddr
	// Family reports the address family, for callers that special-case
	// TCP behavior (Nagle disabling only makes sense on AF_INET).
	Family() int
	// String renders a human-readable description for logging.
	String() string
}

// TCP4 is an AF_INET/SOCK_STREAM endpoint.
type TCP4 struct {
	IP   string
	Port int
}

func (t TCP4) Socket() (int, error) {
	return unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
}

func (t TCP4) Sockaddr() unix.Sockaddr {
	addr := &unix.SockaddrInet4{Port: t.Port}
	if ip := net.ParseIP(t.IP).To4(); ip != nil {
		copy(addr.Addr[:], ip)
	}
	return addr
}

func (t TCP4) Family() int { return unix.AF_INET }

func (t TCP4) String() string { return fmt.Sprintf("tcp4://%s:%d", t.IP, t.Port) }

// VMADDR_CID_ANY / VMADDR_CID_HOST mirror the linux/vm_sockets.h constants
// used to address the hypervisor or accept from any CID.
const (
	CIDAny  = unix.VMADDR_CID_ANY
	CIDHost = unix.VMADDR_CID_HOST
)

// VSock is an AF_VSOCK/SOCK_STREAM endpoint.
type VSock struct {
	CID  uint32
	Port uint32
}

func (v VSock) Socket() (int, error) {
	return unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0)
}

func (v VSock) Sockaddr() unix.Sockaddr {
	return &unix.SockaddrVM{CID: v.CID, Port: v.Port}
}

func (v VSock) Family() int { return unix.AF_VSOCK }

func (v VSock) String() string { return fmt.Sprintf("vsock://%d:%d", v.CID, v.Port) }

// SetNonBlocking puts fd into non-blocking mode, required for every
// socket driven by the poller-based I/O engine.
func SetNonBlocking(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set non-blocking fd=%d: %w", fd, err)
	}
	return nil
}

// SetBlocking reverts a descriptor to blocking mode. The listener does not
// call it: its accept fd is created blocking and left that way.
func SetBlocking(fd int) error {
	if err := unix.SetNonblock(fd, false); err != nil {
		return fmt.Errorf("set blocking fd=%d: %w", fd, err)
	}
	return nil
}

// SetTCPNoDelay disables Nagle's algorithm. A no-op is not offered for
// non-TCP families; callers check Endpoint.Family() first.
func SetTCPNoDelay(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("set tcp nodelay fd=%d: %w", fd, err)
	}
	return nil
}

// SetReuseAddr allows a listener to rebind a recently-released port
// immediately, matching the C SO_REUSEADDR convention.
func SetReuseAddr(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set reuseaddr fd=%d: %w", fd, err)
	}
	return nil
}

// SetRecvBuffer sizes the kernel receive buffer (SO_RCVBUF) for fd.
func SetRecvBuffer(fd, size int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size); err != nil {
		return fmt.Errorf("set rcvbuf fd=%d size=%d: %w", fd, size, err)
	}
	return nil
}

// SetSendBuffer sizes the kernel send buffer (SO_SNDBUF) for fd.
func SetSendBuffer(fd, size int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, size); err != nil {
		return fmt.Errorf("set sndbuf fd=%d size=%d: %w", fd, size, err)
	}
	return nil
}
