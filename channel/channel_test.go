package channel

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/vsockbridge/fake"
	"github.com/momentics/vsockbridge/logging"
	"github.com/momentics/vsockbridge/socket"
)

func newTestChannel(t *testing.T, capA, capB int) (*DirectChannel, *fake.Conn, *fake.Conn) {
	t.Helper()
	connA := fake.NewConn(30)
	connB := fake.NewConn(31)
	log := logging.Nop()

	a := socket.New(30, connA.Impl(), capA, log)
	b := socket.New(31, connB.Impl(), capB, log)
	a.MarkConnected()
	b.MarkConnected()

	c := New(1, a, b)
	return c, connA, connB
}

func TestPerformIORelaysBothDirections(t *testing.T) {
	c, connA, connB := newTestChannel(t, 64, 64)

	connA.Feed([]byte("to-b"))
	connB.Feed([]byte("to-a"))
	c.A.MarkInputReady()
	c.B.MarkInputReady()
	c.A.MarkOutputReady()
	c.B.MarkOutputReady()

	c.PerformIO()

	require.Equal(t, "to-b", connB.Written.String())
	require.Equal(t, "to-a", connA.Written.String())
}

func TestCanBeTerminatedOnlyWhenBothClosed(t *testing.T) {
	c, connA, connB := newTestChannel(t, 64, 64)
	require.False(t, c.CanBeTerminated())

	// A delivers data and then EOF while B's sink is blocked: A closes,
	// but B stays open to drain the bytes it still holds.
	connB.FailWrites(syscall.EAGAIN)
	connA.Feed([]byte("tail"))
	connA.FeedEOF()
	c.A.MarkInputReady()
	c.PerformIO() // A reads "tail"
	c.PerformIO() // A reads EOF and closes
	require.True(t, c.A.Closed())
	require.False(t, c.B.Closed())
	require.False(t, c.CanBeTerminated())

	// B's sink unblocks; B drains its queued bytes and, its peer being
	// closed, closes too.
	connB.FailWrites(nil)
	c.B.MarkOutputReady()
	c.PerformIO()
	require.True(t, c.B.Closed())
	require.True(t, c.CanBeTerminated())
}

func TestBackpressureFillsPeerBufferThenResumesAfterDrain(t *testing.T) {
	c, connA, connB := newTestChannel(t, 64, 8)
	connB.FailWrites(syscall.EAGAIN)

	connA.Feed([]byte("aaaaaaaa")) // exactly fills B's 8-byte buffer
	c.A.MarkInputReady()
	c.PerformIO()
	require.Equal(t, 1, connA.ReadCalls)
	require.False(t, c.B.HasRoom())
	require.Equal(t, 0, connB.Written.Len())

	// More data is ready on the source, but B's buffer is still full and
	// its sink is still blocked: the next PerformIO must not attempt
	// another read on A.
	connA.Feed([]byte("more"))
	c.A.MarkInputReady()
	c.PerformIO()
	require.Equal(t, 1, connA.ReadCalls, "read on A must not be attempted while B's buffer is full")
	require.Equal(t, 0, connB.Written.Len())

	// B's sink unblocks and drains the full buffer. Room only frees at
	// the tail of this PerformIO call (WriteOutput runs after ReadInput
	// in the fixed four-call sequence), so A's read still isn't
	// attempted again on this same iteration.
	connB.FailWrites(nil)
	c.B.MarkOutputReady()
	c.PerformIO()
	require.Equal(t, 1, connA.ReadCalls)
	require.True(t, c.B.HasRoom())
	require.Equal(t, "aaaaaaaa", connB.Written.String())

	// The next iteration finds room in B's buffer and A's read resumes,
	// delivering the queued data.
	c.A.MarkInputReady()
	c.PerformIO()
	require.Equal(t, 2, connA.ReadCalls)
	require.Equal(t, "aaaaaaaamore", connB.Written.String())
}

func TestCanReadWriteMoreReflectsReadinessAndCapacity(t *testing.T) {
	c, _, _ := newTestChannel(t, 64, 64)
	require.False(t, c.CanReadWriteMore())

	c.A.MarkInputReady()
	require.True(t, c.CanReadWriteMore()) // B has room for A's incoming data

	c.A.Close()
	c.B.Close()
	require.False(t, c.CanReadWriteMore())
}
