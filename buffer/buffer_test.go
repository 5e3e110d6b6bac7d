package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferProduceConsumeReset(t *testing.T) {
	b := New(16)
	require.True(t, b.HasRemainingCapacity())
	require.True(t, b.Consumed())

	copy(b.Tail(), "hello world")
	b.Produce(11)
	require.False(t, b.Consumed())
	require.Equal(t, 11, b.Len())
	require.Equal(t, "hello world", string(b.Head()))

	b.Consume(5)
	require.Equal(t, " world", string(b.Head()))
	require.Equal(t, 6, b.Len())

	b.Consume(6)
	require.True(t, b.Consumed())

	b.Reset()
	require.Equal(t, 0, b.Len())
	require.True(t, b.HasRemainingCapacity())
	require.Equal(t, 16, len(b.Tail()))
}

func TestBufferFillsToCapacity(t *testing.T) {
	b := New(4)
	b.Produce(4)
	require.False(t, b.HasRemainingCapacity())
	require.Equal(t, 0, len(b.Tail()))
}

func TestDefaultCapacityUsedWhenNonPositive(t *testing.T) {
	b := New(0)
	require.Equal(t, DefaultCapacity, b.Cap())
}
