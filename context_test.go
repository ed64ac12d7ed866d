package znet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextPutGetTypeSafety(t *testing.T) {
	c := NewContext()

	Put(c, "count", 42)
	v, ok := Get[int](c, "count")
	require.True(t, ok)
	require.Equal(t, 42, v)

	// Asking for the same key as a different type fails closed.
	_, ok = Get[string](c, "count")
	require.False(t, ok)

	_, ok = Get[int](c, "missing")
	require.False(t, ok)

	// Put overwrites, including with a different type.
	Put(c, "count", "now a string")
	s, ok := Get[string](c, "count")
	require.True(t, ok)
	require.Equal(t, "now a string", s)

	c.Delete("count")
	require.False(t, c.Has("count"))
}

func TestContextClear(t *testing.T) {
	c := NewContext()
	Put(c, "a", 1)
	Put(c, "b", 2)
	c.Clear()
	require.False(t, c.Has("a"))
	require.False(t, c.Has("b"))
}
