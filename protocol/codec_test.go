package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLenEncIntRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 250, 251, 65535, 65536, 0xffffff, 0xffffff + 1, 1 << 40}
	for _, v := range cases {
		buf := appendLenEncInt(nil, v)
		got, n, err := lenEncInt(buf, 0)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.NotNil(t, got)
		require.Equal(t, v, *got)
	}
}

func TestLenEncIntNull(t *testing.T) {
	v, n, err := lenEncInt([]byte{0xfb}, 0)
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, 1, n)
}

func TestLenEncStrRoundTrip(t *testing.T) {
	buf := appendLenEncStr(nil, []byte("hello world"))
	s, n, err := lenEncStr(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, "hello world", *s)
}

func TestNulTerminated(t *testing.T) {
	b := []byte("abc\x00def")
	s, n, err := nulTerminated(b, 0)
	require.NoError(t, err)
	require.Equal(t, "abc", string(s))
	require.Equal(t, 4, n)
}

func TestNulTerminatedMissing(t *testing.T) {
	_, _, err := nulTerminated([]byte("abc"), 0)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestFixedWidthCodecs(t *testing.T) {
	require.Equal(t, uint16(0x0201), decodeU16(encodeU16(0x0201)))
	require.Equal(t, uint32(0x030201), decodeU24(encodeU24(0x030201)))
	require.Equal(t, uint32(0x04030201), decodeU32(encodeU32(0x04030201)))
	require.Equal(t, uint64(0x0807060504030201), decodeU64(encodeU64(0x0807060504030201)))
}
