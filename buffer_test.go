package znet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferAppendAndConsume(t *testing.T) {
	b := NewBuffer(4)
	b.AppendString("hello")
	require.Equal(t, 5, b.Size())
	require.Equal(t, "hello", b.String())

	b.ConsumeFront(2)
	require.Equal(t, 3, b.Size())
	require.Equal(t, "llo", b.String())

	b.Append([]byte("!!"))
	require.Equal(t, "llo!!", b.String())
}

func TestBufferCompactsPastShrinkThreshold(t *testing.T) {
	b := NewBuffer(9)
	b.AppendString("123456789")
	// Consuming 6 of 9 bytes puts start at 6, cap 9: 6*3 = 18 >= 9, so this
	// should trigger compaction and start should reset to 0.
	b.ConsumeFront(6)
	require.Equal(t, 0, b.start)
	require.Equal(t, "789", b.String())

	view := b.View()
	require.Equal(t, []byte("789"), view)
}

func TestBufferConsumeFrontPanicsOnOverrun(t *testing.T) {
	b := NewBuffer(4)
	b.AppendString("ab")
	require.Panics(t, func() { b.ConsumeFront(3) })
}

func TestBufferEmptyAndClear(t *testing.T) {
	b := NewBuffer(4)
	require.True(t, b.Empty())
	b.AppendString("x")
	require.False(t, b.Empty())
	b.Clear()
	require.True(t, b.Empty())
	require.Equal(t, 0, b.Size())
}

func TestBufferSwap(t *testing.T) {
	a := NewBuffer(4)
	a.AppendString("aaa")
	b := NewBuffer(4)
	b.AppendString("bbb")

	a.Swap(b)
	require.Equal(t, "bbb", a.String())
	require.Equal(t, "aaa", b.String())
}
