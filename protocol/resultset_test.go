package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeTextRowWithNull(t *testing.T) {
	var b []byte
	b = appendLenEncStr(b, []byte("1"))
	b = append(b, 0xfb) // NULL
	row, err := decodeTextRow(b, 2)
	require.NoError(t, err)
	require.Equal(t, "1", row.Str(0))
	require.True(t, row.IsNull(1))
}

func TestRowTypedAccessors(t *testing.T) {
	row := Row{[]byte("42"), []byte("3.5"), nil}
	i, err := row.Int64(0)
	require.NoError(t, err)
	require.Equal(t, int64(42), i)

	f, err := row.Float64(1)
	require.NoError(t, err)
	require.InDelta(t, 3.5, f, 0.0001)

	require.True(t, row.IsNull(2))
	require.Equal(t, "", row.Str(2))
}

func TestBinaryColBufGrowsOnTruncation(t *testing.T) {
	fields := []*Field{{MaxLength: 10}}
	bufs := newBinaryColBufs(fields)
	require.Equal(t, 256, cap(bufs[0].buf))

	big := make([]byte, 1000)
	for i := range big {
		big[i] = 'x'
	}
	got := bufs[0].store(big)
	require.Equal(t, 1000, len(got))
	require.Equal(t, 1, bufs[0].refetches)

	small := []byte("ok")
	got = bufs[0].store(small)
	require.Equal(t, "ok", string(got))
}

func TestDecodeErrPacket(t *testing.T) {
	b := []byte{0xff}
	b = append(b, encodeU16(1064)...)
	b = append(b, '#')
	b = append(b, []byte("42000")...)
	b = append(b, []byte("syntax error")...)
	se := decodeErrPacket(b)
	require.Equal(t, uint16(1064), se.Code)
	require.Equal(t, "42000", se.SQLState)
	require.Equal(t, "syntax error", se.Message)
}

func TestDecodeOKPacket(t *testing.T) {
	var b []byte
	b = append(b, okPacketHeader)
	b = appendLenEncInt(b, 3)
	b = appendLenEncInt(b, 0)
	b = append(b, encodeU16(2)...) // status
	b = append(b, encodeU16(0)...) // warnings
	ok, err := decodeOKPacket(b)
	require.NoError(t, err)
	require.Equal(t, uint64(3), ok.AffectedRows)
	require.Equal(t, uint16(2), ok.Status)
}

func TestDecodeBinaryRowNullBitmap(t *testing.T) {
	fields := []*Field{
		{Type: typeLong},
		{Type: typeVarString},
	}
	bufs := newBinaryColBufs(fields)

	row := make([]byte, 0)
	row = append(row, 0x00) // packet header
	nullBitmap := byte(1 << 3)
	row = append(row, nullBitmap) // column 1 (bit = index+2 = 3) is null
	row = append(row, encodeU32(7)...)

	r, err := decodeBinaryRow(row, fields, bufs)
	require.NoError(t, err)
	require.Equal(t, "7", r.Str(0))
	require.True(t, r.IsNull(1))
}
