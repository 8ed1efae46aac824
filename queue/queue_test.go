package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendQueueRespectsMaxDepth(t *testing.T) {
	q := NewSendQueue(2)
	require.NoError(t, q.TryPush(1, nil))
	require.NoError(t, q.TryPush(2, nil))
	require.ErrorIs(t, q.TryPush(3, nil), ErrQueueFull)
}

func TestSendQueueFIFOOrder(t *testing.T) {
	q := NewSendQueue(0)
	require.NoError(t, q.TryPush("a", nil))
	require.NoError(t, q.TryPush("b", nil))

	e, ok := q.PopFront()
	require.True(t, ok)
	require.Equal(t, "a", e.Value)
	Release(e)

	e, ok = q.PopFront()
	require.True(t, ok)
	require.Equal(t, "b", e.Value)
	Release(e)

	_, ok = q.PopFront()
	require.False(t, ok)
}

func TestCallbackQueueCarriesError(t *testing.T) {
	q := NewCallbackQueue()
	sentinel := errors.New("boom")
	q.Push("result", sentinel, nil)

	e, ok := q.PopFront()
	require.True(t, ok)
	require.Equal(t, "result", e.Value)
	require.ErrorIs(t, e.Err, sentinel)
	Release(e)
	require.True(t, q.Empty())
}
