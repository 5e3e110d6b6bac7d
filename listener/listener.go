// Package listener runs the blocking accept loop for one configured
// service: bind and listen on the service's listen endpoint, and for
// each accepted connection dial the service's connect endpoint and hand
// the resulting pair to the I/O thread pool.
package listener

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/vsockbridge/api"
	"github.com/momentics/vsockbridge/endpoint"
	"github.com/momentics/vsockbridge/ioengine"
	"github.com/momentics/vsockbridge/logging"
	"github.com/momentics/vsockbridge/socket"
)

// realSocketImpl binds a Socket's vtable straight to the read(2)/write(2)/
// close(2) syscalls.
var realSocketImplValue = api.SocketImpl{
	Read:  unix.Read,
	Write: unix.Write,
	Close: unix.Close,
}

func realSocketImpl() api.SocketImpl { return realSocketImplValue }

// backlog is the listen(2) backlog depth for every service.
const backlog = 64

// SocketBuffers carries optional SO_RCVBUF/SO_SNDBUF sizes for a
// service's accepted and dialed descriptors. Zero leaves the kernel
// default in place. These size the kernel socket buffers only — a
// listener-side concern, distinct from the core's own per-socket
// Buffer capacity.
type SocketBuffers struct {
	AcceptRcvBuf int
	AcceptSndBuf int
	PeerRcvBuf   int
	PeerSndBuf   int
}

// Listener accepts inbound connections on ListenEndpoint and bridges each
// one to a freshly-dialed connection on ConnectEndpoint, dispatched to
// pool round-robin.
type Listener struct {
	Name            string
	ListenEndpoint  endpoint.Endpoint
	ConnectEndpoint endpoint.Endpoint
	BufferCapacity  int
	Buffers         SocketBuffers

	pool *ioengine.Pool
	log  *logging.Logger

	fd int
}

// New binds and listens on ep.ListenEndpoint. The listening descriptor is
// intentionally left blocking — the accept loop runs on its own
// goroutine with nothing else to do while waiting.
func New(name string, listenEp, connectEp endpoint.Endpoint, bufferCapacity int, bufs SocketBuffers, pool *ioengine.Pool, log *logging.Logger) (*Listener, error) {
	fd, err := listenEp.Socket()
	if err != nil {
		return nil, fmt.Errorf("%s: create listen socket: %w", name, err)
	}

	if err := endpoint.SetReuseAddr(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if err := unix.Bind(fd, listenEp.Sockaddr()); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%s: bind %s: %w", name, listenEp, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%s: listen %s: %w", name, listenEp, err)
	}

	return &Listener{
		Name:            name,
		ListenEndpoint:  listenEp,
		ConnectEndpoint: connectEp,
		BufferCapacity:  bufferCapacity,
		Buffers:         bufs,
		pool:            pool,
		log:             log,
		fd:              fd,
	}, nil
}

// Run blocks, accepting connections until accept(2) returns a
// non-transient error. Intended to be run on its own goroutine, one per
// configured service.
func (l *Listener) Run() error {
	l.log.Info().Str("service", l.Name).Str("endpoint", l.ListenEndpoint.String()).Msg("listening")
	for {
		if err := l.acceptOne(); err != nil {
			l.log.Error().Str("service", l.Name).Err(err).Msg("accept loop exiting")
			return err
		}
	}
}

func (l *Listener) acceptOne() error {
	clientFD, _, err := unix.Accept(l.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("accept fd=%d: %w", l.fd, err)
	}

	inbound := socket.New(clientFD, realSocketImpl(), l.BufferCapacity, l.log)
	inbound.MarkConnected()

	if err := endpoint.SetNonBlocking(clientFD); err != nil {
		l.log.Error().Str("service", l.Name).Err(err).Msg("set non-blocking on accepted fd failed")
		unix.Close(clientFD)
		return nil
	}
	if l.ListenEndpoint.Family() == unix.AF_INET {
		if err := endpoint.SetTCPNoDelay(clientFD); err != nil {
			l.log.Warn().Str("service", l.Name).Err(err).Msg("disabling Nagle failed")
		}
	}
	if l.Buffers.AcceptRcvBuf > 0 {
		if err := endpoint.SetRecvBuffer(clientFD, l.Buffers.AcceptRcvBuf); err != nil {
			l.log.Warn().Str("service", l.Name).Err(err).Msg("sizing accept rcvbuf failed")
		}
	}
	if l.Buffers.AcceptSndBuf > 0 {
		if err := endpoint.SetSendBuffer(clientFD, l.Buffers.AcceptSndBuf); err != nil {
			l.log.Warn().Str("service", l.Name).Err(err).Msg("sizing accept sndbuf failed")
		}
	}

	outbound, err := l.connectToPeer()
	if err != nil {
		l.log.Warn().Str("service", l.Name).Err(err).Msg("connect to peer failed, dropping accepted connection")
		unix.Close(clientFD)
		return nil
	}

	l.log.Debug().Str("service", l.Name).Int("fd_in", clientFD).Int("fd_out", outbound.FD()).Msg("dispatching new channel")

	if err := l.pool.AddChannel(inbound, outbound); err != nil {
		l.log.Warn().Str("service", l.Name).Err(err).Msg("adoption queue rejected pair, closing")
		inbound.CloseDescriptor()
		outbound.CloseDescriptor()
	}
	return nil
}

// connectToPeer dials ConnectEndpoint non-blocking. A synchronous success
// marks the socket connected immediately; EINPROGRESS leaves it pending
// for CheckConnected to resolve once the poller reports write-readiness.
func (l *Listener) connectToPeer() (*socket.Socket, error) {
	fd, err := l.ConnectEndpoint.Socket()
	if err != nil {
		return nil, fmt.Errorf("create connect socket: %w", err)
	}

	if err := endpoint.SetNonBlocking(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if l.ConnectEndpoint.Family() == unix.AF_INET {
		if err := endpoint.SetTCPNoDelay(fd); err != nil {
			l.log.Warn().Str("service", l.Name).Err(err).Msg("disabling Nagle on outbound fd failed")
		}
	}
	if l.Buffers.PeerRcvBuf > 0 {
		if err := endpoint.SetRecvBuffer(fd, l.Buffers.PeerRcvBuf); err != nil {
			l.log.Warn().Str("service", l.Name).Err(err).Msg("sizing peer rcvbuf failed")
		}
	}
	if l.Buffers.PeerSndBuf > 0 {
		if err := endpoint.SetSendBuffer(fd, l.Buffers.PeerSndBuf); err != nil {
			l.log.Warn().Str("service", l.Name).Err(err).Msg("sizing peer sndbuf failed")
		}
	}

	sock := socket.New(fd, realSocketImpl(), l.BufferCapacity, l.log)

	err = unix.Connect(fd, l.ConnectEndpoint.Sockaddr())
	switch {
	case err == nil:
		sock.MarkConnected()
	case err == unix.EINPROGRESS:
		// left !connected; CheckConnected resolves it later.
	default:
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", l.ConnectEndpoint, err)
	}

	return sock, nil
}

// Close releases the listening descriptor.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}
