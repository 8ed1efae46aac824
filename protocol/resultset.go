package protocol

import (
	"fmt"
	"math"
	"strconv"
)

// Field describes one result-set column, decoded from a column
// definition packet. Mirrors the subset of mymysql's mysql.Field the
// binary protocol actually needs to pick a decode branch and size a
// column buffer.
type Field struct {
	Name      string
	Table     string
	Type      byte
	Flags     uint16
	Decimals  byte
	MaxLength uint32
}

func (f *Field) unsigned() bool { return f.Flags&0x0020 != 0 }

// Row is one result row: an ordered sequence of nullable byte
// strings, per spec.md §3/§4.2. A nil element is SQL NULL.
type Row [][]byte

func (r Row) IsNull(i int) bool { return r[i] == nil }

func (r Row) Bin(i int) []byte { return r[i] }

func (r Row) Str(i int) string {
	if r[i] == nil {
		return ""
	}
	return string(r[i])
}

func (r Row) Int64(i int) (int64, error) {
	if r[i] == nil {
		return 0, nil
	}
	return strconv.ParseInt(string(r[i]), 10, 64)
}

func (r Row) Uint64(i int) (uint64, error) {
	if r[i] == nil {
		return 0, nil
	}
	return strconv.ParseUint(string(r[i]), 10, 64)
}

func (r Row) Float64(i int) (float64, error) {
	if r[i] == nil {
		return 0, nil
	}
	return strconv.ParseFloat(string(r[i]), 64)
}

// decodeColumnDef decodes one Column Definition 41 packet.
func decodeColumnDef(b []byte) (*Field, error) {
	off := 0
	skip := func() error {
		_, n, err := lenEncStr(b, off)
		if err != nil {
			return err
		}
		off += n
		return nil
	}
	if err := skip(); err != nil { // catalog
		return nil, err
	}
	schema, n, err := lenEncStr(b, off)
	_ = schema
	if err != nil {
		return nil, err
	}
	off += n
	table, n, err := lenEncStr(b, off)
	if err != nil {
		return nil, err
	}
	off += n
	if err := skip(); err != nil { // org_table
		return nil, err
	}
	name, n, err := lenEncStr(b, off)
	if err != nil {
		return nil, err
	}
	off += n
	if err := skip(); err != nil { // org_name
		return nil, err
	}
	// length-encoded "fixed length fields" marker (always 0x0c), then:
	// charset(2) max_length(4) type(1) flags(2) decimals(1) filler(2)
	_, n, err = lenEncInt(b, off)
	if err != nil {
		return nil, err
	}
	off += n
	if off+10 > len(b) {
		return nil, ErrMalformed
	}
	maxLen := decodeU32(b[off+2 : off+6])
	typ := b[off+6]
	flags := decodeU16(b[off+7 : off+9])
	decimals := b[off+9]

	f := &Field{Type: typ, Flags: flags, Decimals: decimals, MaxLength: maxLen}
	if name != nil {
		f.Name = *name
	}
	if table != nil {
		f.Table = *table
	}
	return f, nil
}

func isEOFPacket(b []byte) bool {
	return len(b) < 9 && len(b) > 0 && b[0] == eofPacketHeader
}

func isErrPacket(b []byte) bool {
	return len(b) > 0 && b[0] == errPacketHeader
}

func isOKPacket(b []byte) bool {
	return len(b) > 0 && (b[0] == okPacketHeader || (b[0] == eofPacketHeader && len(b) >= 7 && len(b) < 0xffffff))
}

func decodeErrPacket(b []byte) *StatusError {
	off := 1
	code := decodeU16(b[off : off+2])
	off += 2
	sqlstate := ""
	if off < len(b) && b[off] == '#' {
		off++
		sqlstate = string(b[off : off+5])
		off += 5
	}
	return &StatusError{Code: code, SQLState: sqlstate, Message: string(b[off:])}
}

// okResult is the decoded body of an OK packet: affected rows,
// last insert id, server status (used for the multi-result-drain
// "more results exist" flag), warning count and human-readable info.
type okResult struct {
	AffectedRows uint64
	InsertID     uint64
	Status       uint16
	Warnings     uint16
	Info         string
}

func decodeOKPacket(b []byte) (*okResult, error) {
	off := 1
	aff, n, err := lenEncInt(b, off)
	if err != nil {
		return nil, err
	}
	off += n
	ins, n, err := lenEncInt(b, off)
	if err != nil {
		return nil, err
	}
	off += n
	if off+4 > len(b) {
		return nil, ErrMalformed
	}
	status := decodeU16(b[off : off+2])
	warnings := decodeU16(b[off+2 : off+4])
	off += 4
	res := &okResult{Status: status, Warnings: warnings}
	if aff != nil {
		res.AffectedRows = *aff
	}
	if ins != nil {
		res.InsertID = *ins
	}
	if off < len(b) {
		res.Info = string(b[off:])
	}
	return res, nil
}

// decodeTextRow decodes one row of a text (COM_QUERY) result set.
func decodeTextRow(b []byte, ncols int) (Row, error) {
	row := make(Row, ncols)
	off := 0
	for i := 0; i < ncols; i++ {
		s, n, err := lenEncStr(b, off)
		if err != nil {
			return nil, err
		}
		off += n
		if s != nil {
			row[i] = []byte(*s)
		}
	}
	return row, nil
}

// binaryColBuf tracks the Row Materialiser's per-column output buffer
// across a binary result set, per spec.md §4.2: each column starts at
// max(field.MaxLength, 256); a value whose encoded length exceeds the
// current buffer triggers a truncation refetch that grows the buffer
// to exactly the reported length. Because this module decodes an
// already-fully-buffered packet, "refetch" has no extra round trip to
// perform — it is expressed as the buffer growing and the count being
// observable, which is what a caller driving a real truncating
// connector would see.
type binaryColBuf struct {
	buf       []byte
	refetches int
}

func newBinaryColBufs(fields []*Field) []*binaryColBuf {
	bufs := make([]*binaryColBuf, len(fields))
	for i, f := range fields {
		size := int(f.MaxLength)
		if size < defaultBinaryColBuf {
			size = defaultBinaryColBuf
		}
		bufs[i] = &binaryColBuf{buf: make([]byte, 0, size)}
	}
	return bufs
}

func (c *binaryColBuf) store(data []byte) []byte {
	if len(data) > cap(c.buf) {
		c.refetches++
		c.buf = make([]byte, len(data))
	} else {
		c.buf = c.buf[:len(data)]
	}
	copy(c.buf, data)
	return c.buf
}

// decodeBinaryRow decodes one row of a COM_STMT_EXECUTE binary result
// set (the leading 0x00 packet-type byte is still present at b[0]),
// using per-column scratch buffers from bufs; each cell is copied out
// of its column buffer so rows never share storage. On a
// decode error the Row Materialiser contract (spec.md §4.2) is that
// the caller delivers (nil, message) to the pending callback; this
// function just returns the error for the caller to translate.
func decodeBinaryRow(b []byte, fields []*Field, bufs []*binaryColBuf) (Row, error) {
	ncols := len(fields)
	nullBitmapLen := (ncols + 7 + 2) / 8
	if 1+nullBitmapLen > len(b) {
		return nil, ErrMalformed
	}
	nullBitmap := b[1 : 1+nullBitmapLen]
	off := 1 + nullBitmapLen
	row := make(Row, ncols)
	for i, f := range fields {
		bit := uint(i + 2)
		if nullBitmap[bit/8]&(1<<(bit%8)) != 0 {
			continue
		}
		val, n, err := decodeBinaryValue(b, off, f)
		if err != nil {
			return nil, err
		}
		off += n
		cell := make([]byte, len(val))
		copy(cell, bufs[i].store(val))
		row[i] = cell
	}
	return row, nil
}

// decodeBinaryValue decodes one column's raw bytes (as text — the
// pipelined Row contract is always bytes-or-null) from the binary
// protocol's typed wire encoding, returning the bytes and the number
// of bytes consumed from b starting at off.
func decodeBinaryValue(b []byte, off int, f *Field) ([]byte, int, error) {
	switch f.Type {
	case typeTiny:
		if off+1 > len(b) {
			return nil, 0, ErrMalformed
		}
		if f.unsigned() {
			return []byte(strconv.FormatUint(uint64(b[off]), 10)), 1, nil
		}
		return []byte(strconv.FormatInt(int64(int8(b[off])), 10)), 1, nil

	case typeShort, typeYear:
		if off+2 > len(b) {
			return nil, 0, ErrMalformed
		}
		v := decodeU16(b[off : off+2])
		if f.unsigned() {
			return []byte(strconv.FormatUint(uint64(v), 10)), 2, nil
		}
		return []byte(strconv.FormatInt(int64(int16(v)), 10)), 2, nil

	case typeLong, typeInt24:
		if off+4 > len(b) {
			return nil, 0, ErrMalformed
		}
		v := decodeU32(b[off : off+4])
		if f.unsigned() {
			return []byte(strconv.FormatUint(uint64(v), 10)), 4, nil
		}
		return []byte(strconv.FormatInt(int64(int32(v)), 10)), 4, nil

	case typeLonglong:
		if off+8 > len(b) {
			return nil, 0, ErrMalformed
		}
		v := decodeU64(b[off : off+8])
		if f.unsigned() {
			return []byte(strconv.FormatUint(v, 10)), 8, nil
		}
		return []byte(strconv.FormatInt(int64(v), 10)), 8, nil

	case typeFloat:
		if off+4 > len(b) {
			return nil, 0, ErrMalformed
		}
		bits := decodeU32(b[off : off+4])
		v := math.Float32frombits(bits)
		return []byte(strconv.FormatFloat(float64(v), 'g', -1, 32)), 4, nil

	case typeDouble:
		if off+8 > len(b) {
			return nil, 0, ErrMalformed
		}
		bits := decodeU64(b[off : off+8])
		v := math.Float64frombits(bits)
		return []byte(strconv.FormatFloat(v, 'g', -1, 64)), 8, nil

	case typeDate, typeDatetime, typeTimestamp:
		return decodeBinaryTemporal(b, off)

	case typeTime:
		return decodeBinaryDuration(b, off)

	default:
		// Strings, blobs, decimals, JSON etc. all travel as
		// length-encoded byte strings in the binary protocol.
		s, n, err := lenEncStr(b, off)
		if err != nil {
			return nil, 0, err
		}
		if s == nil {
			return []byte{}, n, nil
		}
		return []byte(*s), n, nil
	}
}

func decodeBinaryTemporal(b []byte, off int) ([]byte, int, error) {
	if off >= len(b) {
		return nil, 0, ErrMalformed
	}
	length := int(b[off])
	if off+1+length > len(b) {
		return nil, 0, ErrMalformed
	}
	p := b[off+1 : off+1+length]
	var year, month, day, hour, min, sec int
	var micro int
	if length >= 4 {
		year = int(decodeU16(p[0:2]))
		month = int(p[2])
		day = int(p[3])
	}
	if length >= 7 {
		hour = int(p[4])
		min = int(p[5])
		sec = int(p[6])
	}
	if length >= 11 {
		micro = int(decodeU32(p[7:11]))
	}
	var s string
	if length >= 7 || hour != 0 || min != 0 || sec != 0 {
		if micro != 0 {
			s = fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d", year, month, day, hour, min, sec, micro)
		} else {
			s = fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", year, month, day, hour, min, sec)
		}
	} else {
		s = fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	}
	return []byte(s), 1 + length, nil
}

func decodeBinaryDuration(b []byte, off int) ([]byte, int, error) {
	if off >= len(b) {
		return nil, 0, ErrMalformed
	}
	length := int(b[off])
	if off+1+length > len(b) {
		return nil, 0, ErrMalformed
	}
	if length == 0 {
		return []byte("00:00:00"), 1, nil
	}
	p := b[off+1 : off+1+length]
	neg := p[0] != 0
	days := decodeU32(p[1:5])
	hour, min, sec := int(p[5]), int(p[6]), int(p[7])
	hour += int(days) * 24
	var micro int
	if length >= 12 {
		micro = int(decodeU32(p[8:12]))
	}
	sign := ""
	if neg {
		sign = "-"
	}
	var s string
	if micro != 0 {
		s = fmt.Sprintf("%s%02d:%02d:%02d.%06d", sign, hour, min, sec, micro)
	} else {
		s = fmt.Sprintf("%s%02d:%02d:%02d", sign, hour, min, sec)
	}
	return []byte(s), 1 + length, nil
}
