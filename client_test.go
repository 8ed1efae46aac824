package aiomysql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeString(t *testing.T) {
	c := New(nil, Options{})
	got := c.EscapeString("O'Reilly \"quoted\"\\n")
	require.Equal(t, `O\'Reilly \"quoted\"\\n`, got)
}

func TestEscapeStringControlChars(t *testing.T) {
	c := New(nil, Options{})
	got := c.EscapeString("a\x00b\nc\rd\x1a")
	require.Equal(t, `a\0b\nc\rd\Z`, got)
}

func TestNewClientStartsDisconnectedAndIdle(t *testing.T) {
	c := New(nil, Options{})
	require.False(t, c.IsConnected(), "fresh client must not report connected")
	require.Equal(t, 0, c.PendingCount(), "fresh client must have zero pending operations")
	require.Equal(t, -1, c.Socket(), "fresh client must report no socket")
}

func TestQueryBeforeConnectReturnsErrNotConnected(t *testing.T) {
	c := New(nil, Options{})
	err := c.Query("select 1", func(any, error) {})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestRequireExclusiveRejectsWhileOperationsInFlight(t *testing.T) {
	c := New(nil, Options{})
	c.sendCount = 1
	require.ErrorIs(t, c.requireExclusive("ping"), ErrPipelineBusy)
	c.sendCount = 0
	require.NoError(t, c.requireExclusive("ping"))
}
