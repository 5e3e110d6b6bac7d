package ioengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/vsockbridge/api"
	"github.com/momentics/vsockbridge/fake"
	"github.com/momentics/vsockbridge/logging"
	"github.com/momentics/vsockbridge/socket"
)

func TestAdoptionQueueDrainAndAdmissionGate(t *testing.T) {
	aq := NewAdoptionQueue(2)
	log := logging.Nop()

	mkSocket := func(fd int) *socket.Socket {
		return socket.New(fd, fake.NewConn(fd).Impl(), 64, log)
	}

	require.NoError(t, aq.Push(mkSocket(1), mkSocket(2)))
	require.NoError(t, aq.Push(mkSocket(3), mkSocket(4)))
	require.ErrorIs(t, aq.Push(mkSocket(5), mkSocket(6)), ErrQueueFull)

	pairs := aq.DrainInto(nil)
	require.Len(t, pairs, 2)

	// Slots released after drain; pushing again succeeds.
	require.NoError(t, aq.Push(mkSocket(7), mkSocket(8)))
}

func TestIOThreadEndToEndEcho(t *testing.T) {
	poller := fake.NewPoller()
	log := logging.Nop()
	inbound := NewAdoptionQueue(0)

	connA := fake.NewConn(100)
	connB := fake.NewConn(101)
	a := socket.New(100, connA.Impl(), 64, log)
	b := socket.New(101, connB.Impl(), 64, log)
	a.MarkConnected()
	b.MarkConnected()

	require.NoError(t, inbound.Push(a, b))

	th := NewIOThread(0, -1, poller, inbound, log)

	msg := "ping"
	connA.Feed([]byte(msg))
	connA.FeedEOF()

	// First iteration: adopt the pair and register both fds.
	pending := th.adoptPending(nil)
	require.Len(t, pending, 1)
	require.Len(t, th.channels, 2)

	poller.Raise(100, api.InputReady)
	events := make([]api.Event, 8)
	th.poll(events)
	require.Len(t, th.ready, 1)

	th.performIO()
	require.Equal(t, msg, connB.Written.String())

	// ReadInput issues one read per call, so a's EOF has not been read
	// yet and the channel is still live. On the next iteration a reads
	// its EOF and closes; b's buffer is already drained, so b closes with
	// it and the channel becomes terminable. b's side is fed an EOF too,
	// as a real bridged pair's far end would, though it is never read.
	connB.FeedEOF()
	poller.Raise(101, api.InputReady)
	th.poll(events)
	th.performIO()

	require.True(t, th.byID[0].CanBeTerminated())
	th.reap()
	require.Empty(t, th.channels)
	require.Empty(t, th.byID)
}

func TestPoolRoundRobinDispatch(t *testing.T) {
	log := logging.Nop()
	factory := fake.Factory{}

	p, err := NewPool(Config{Threads: 2}, factory, log)
	require.NoError(t, err)
	defer p.Stop()

	mk := func(fd int) *socket.Socket {
		return socket.New(fd, fake.NewConn(fd).Impl(), 64, log)
	}

	require.NoError(t, p.AddChannel(mk(200), mk(201)))
	require.NoError(t, p.AddChannel(mk(202), mk(203)))
	require.Equal(t, 2, p.Size())
}
