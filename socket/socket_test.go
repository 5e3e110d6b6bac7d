package socket

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/vsockbridge/fake"
	"github.com/momentics/vsockbridge/logging"
)

func newPair(t *testing.T, capA, capB int) (*Socket, *fake.Conn, *Socket, *fake.Conn) {
	t.Helper()
	connA := fake.NewConn(10)
	connB := fake.NewConn(11)
	log := logging.Nop()

	a := New(10, connA.Impl(), capA, log)
	b := New(11, connB.Impl(), capB, log)
	a.SetPeer(b)
	b.SetPeer(a)
	a.MarkConnected()
	b.MarkConnected()
	return a, connA, b, connB
}

func TestHappyPathEcho(t *testing.T) {
	a, connA, b, connB := newPair(t, 64, 64)

	msg := "hello, world, hello, world, hello, world!"
	connA.Feed([]byte(msg))
	connA.FeedEOF()

	a.MarkInputReady()
	require.True(t, a.ReadInput())
	require.False(t, a.ReadInput()) // EOF now, input side closes

	// a's close notified b, which drained msg and closed in the same
	// call, so there is nothing left for WriteOutput to do.
	require.False(t, b.WriteOutput())
	require.Equal(t, msg, connB.Written.String())

	require.True(t, a.Closed())
	require.True(t, b.Closed())
	require.True(t, connA.Closed)
	require.True(t, connB.Closed)
}

func TestSlowWriteBackpressure(t *testing.T) {
	a, connA, b, connB := newPair(t, 64, 64)
	connB.WriteQuota = 4

	connA.Feed([]byte("hello world"))
	a.MarkInputReady()
	require.True(t, a.ReadInput())

	// WriteQuota never returns EAGAIN, only partial acceptance, so
	// drain()'s internal loop keeps calling Write until the buffer
	// empties within this single WriteOutput call.
	require.True(t, b.WriteOutput())
	require.False(t, b.HasQueuedData())
	require.Equal(t, "hello world", connB.Written.String())
}

func TestBackpressureStopsReadsUntilPeerDrains(t *testing.T) {
	a, connA, b, connB := newPair(t, 64, 8)
	connB.FailWrites(syscall.EAGAIN)

	connA.Feed([]byte("AAAAAAAA")) // exactly fills b's 8-byte buffer
	a.MarkInputReady()
	require.True(t, a.ReadInput())
	require.Equal(t, 1, connA.ReadCalls)
	require.False(t, b.HasRoom())

	require.False(t, b.WriteOutput()) // sink still blocked
	require.False(t, b.HasRoom())

	connA.Feed([]byte("more"))
	require.False(t, a.ReadInput(), "read must not be attempted while the peer buffer is full")
	require.Equal(t, 1, connA.ReadCalls)

	connB.FailWrites(nil)
	require.True(t, b.WriteOutput())
	require.True(t, b.HasRoom())
	require.Equal(t, "AAAAAAAA", connB.Written.String())

	require.True(t, a.ReadInput())
	require.Equal(t, 2, connA.ReadCalls)
	require.True(t, b.WriteOutput())
	require.Equal(t, "AAAAAAAAmore", connB.Written.String())
}

func TestBackpressureViaEAGAIN(t *testing.T) {
	a, connA, b, connB := newPair(t, 64, 64)
	connB.FailWrites(syscall.EAGAIN)

	connA.Feed([]byte("hello"))
	a.MarkInputReady()
	require.True(t, a.ReadInput())

	require.False(t, b.WriteOutput())
	require.False(t, b.OutputReady())
	require.True(t, b.HasQueuedData())
	require.Equal(t, "", connB.Written.String())

	connB.FailWrites(nil)
	require.True(t, b.WriteOutput())
	require.Equal(t, "hello", connB.Written.String())
}

func TestOrderlyHalfCloseWithPendingData(t *testing.T) {
	a, connA, b, connB := newPair(t, 64, 64)
	connB.FailWrites(syscall.EAGAIN)

	connA.Feed([]byte("pending"))
	a.MarkInputReady()
	require.True(t, a.ReadInput())
	require.False(t, b.WriteOutput())
	require.True(t, b.HasQueuedData())

	// a's read side now sees EOF and fully closes.
	connA.FeedEOF()
	require.False(t, a.ReadInput())
	require.True(t, a.Closed())

	// b was notified via onPeerClosed, forced one drain attempt (still
	// blocked), and since it still has undeliverable queued data it
	// cascades to a full close too.
	require.True(t, b.Closed())
}

func TestHardErrorMidStream(t *testing.T) {
	a, connA, b, _ := newPair(t, 64, 64)

	connA.Feed([]byte("partial"))
	connA.FeedReadError(syscall.ECONNRESET)
	a.MarkInputReady()

	require.True(t, a.ReadInput())  // consumes "partial"
	require.False(t, a.ReadInput()) // hits ECONNRESET, closes input then Close()

	require.True(t, a.Closed())
	// b drains "partial" successfully, and since its peer (a) is now
	// closed and its own buffer is empty, WriteOutput closes it too.
	require.True(t, b.Closed())
}

func TestAsyncConnectFailure(t *testing.T) {
	connA := fake.NewConn(20)
	log := logging.Nop()
	a := New(20, connA.Impl(), 64, log)
	b := New(21, fake.NewConn(21).Impl(), 64, log)
	a.SetPeer(b)
	b.SetPeer(a)
	b.MarkConnected()

	connA.FailConnect(syscall.ECONNREFUSED)
	a.CheckConnected()

	require.False(t, a.Connected())
	require.True(t, a.Closed())
	require.True(t, connA.Closed)
	require.True(t, b.Closed(), "peer must cascade-close when the async connect fails")
}

func TestAsyncConnectSuccess(t *testing.T) {
	connA := fake.NewConn(20)
	log := logging.Nop()
	a := New(20, connA.Impl(), 64, log)
	b := New(21, fake.NewConn(21).Impl(), 64, log)
	a.SetPeer(b)
	b.SetPeer(a)

	a.CheckConnected()
	require.True(t, a.Connected())
	require.False(t, a.Closed())
}
