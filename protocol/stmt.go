package protocol

import (
	"fmt"
	"math"
	"time"
)

// Param is one bound value for COM_STMT_EXECUTE. Value may be nil (SQL
// NULL) or any of: string, []byte, int64, uint64, float64, bool,
// time.Time. Other concrete types are rejected at encode time rather
// than silently stringified.
type Param struct {
	Value any
}

type prepPhase uint8

const (
	prepWriting prepPhase = iota
	prepReadingOK
	prepSkippingParams
	prepSkippingColumns
	prepDone
)

type prepState struct {
	phase      prepPhase
	numParams  int
	numColumns int
	skipped    int
	skippedEOF int
	expectEOF  bool
}

// PrepareStart/PrepareContinue implement COM_STMT_PREPARE. Parameter
// and column definition packets returned by MariaDB/MySQL at prepare
// time are skipped rather than retained: spec.md's StmtExecute always
// re-derives field metadata from its own resultHeader pass, so keeping
// two copies of column metadata in sync would be pure liability.
func (c *Conn) PrepareStart(sql string) (WaitSet, bool, error) {
	c.prep = prepState{}
	payload := c.beginCommand(comStmtPrepare, []byte(sql))
	return c.drivePrepare(payload)
}

func (c *Conn) PrepareContinue(WaitSet) (WaitSet, bool, error) {
	return c.drivePrepare(nil)
}

func (c *Conn) drivePrepare(payload []byte) (WaitSet, bool, error) {
	for {
		switch c.prep.phase {
		case prepWriting:
			done, ws, err := c.pw.writePacket(c.sock, &c.seq, payload)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			c.prep.phase = prepReadingOK

		case prepReadingOK:
			resp, done, ws, err := c.pr.readPacket(c.sock, &c.seq)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			if isErrPacket(resp) {
				return 0, false, decodeErrPacket(resp)
			}
			if len(resp) < 12 {
				return 0, false, ErrMalformed
			}
			c.stmtID = decodeU32(resp[1:5])
			c.stmtFields = decodeU16(resp[5:7])
			c.stmtParams = decodeU16(resp[7:9])
			c.stmtWarnings = decodeU16(resp[10:12])
			c.prep.numParams = int(c.stmtParams)
			c.prep.numColumns = int(c.stmtFields)
			c.prep.phase = prepSkippingParams

		case prepSkippingParams:
			if c.prep.numParams == 0 {
				c.prep.phase = prepSkippingColumns
				continue
			}
			if c.prep.skipped == c.prep.numParams {
				if !c.prep.expectEOF {
					c.prep.expectEOF = true
					continue
				}
				resp, done, ws, err := c.pr.readPacket(c.sock, &c.seq)
				if err != nil {
					return 0, false, err
				}
				if !done {
					return ws, false, nil
				}
				if !isEOFPacket(resp) {
					return 0, false, ErrMalformed
				}
				c.prep.expectEOF = false
				c.prep.skipped = 0
				c.prep.phase = prepSkippingColumns
				continue
			}
			_, done, ws, err := c.pr.readPacket(c.sock, &c.seq)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			c.prep.skipped++

		case prepSkippingColumns:
			if c.prep.numColumns == 0 {
				c.prep.phase = prepDone
				continue
			}
			if c.prep.skipped == c.prep.numColumns {
				if !c.prep.expectEOF {
					c.prep.expectEOF = true
					continue
				}
				resp, done, ws, err := c.pr.readPacket(c.sock, &c.seq)
				if err != nil {
					return 0, false, err
				}
				if !done {
					return ws, false, nil
				}
				if !isEOFPacket(resp) {
					return 0, false, ErrMalformed
				}
				c.prep.phase = prepDone
				continue
			}
			_, done, ws, err := c.pr.readPacket(c.sock, &c.seq)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			c.prep.skipped++

		case prepDone:
			return 0, true, nil
		}
	}
}

// StmtCloseStart/Continue implement COM_STMT_CLOSE, which the server
// never acknowledges.
func (c *Conn) StmtCloseStart(stmtID uint32) (WaitSet, bool, error) {
	c.simple.reset()
	payload := c.beginCommand(comStmtClose, encodeU32(stmtID))
	return c.driveSimple(payload, true)
}

func (c *Conn) StmtCloseContinue(WaitSet) (WaitSet, bool, error) {
	return c.driveSimple(nil, true)
}

// StmtResetStart/Continue implement COM_STMT_RESET: discards any
// buffered parameter data and cursor state for a prepared statement
// without closing it. Callers must not issue this (or anything else)
// while other pipelined operations against the statement are still in
// flight, matching spec.md's reentrancy contract for send_count > 0.
func (c *Conn) StmtResetStart(stmtID uint32) (WaitSet, bool, error) {
	c.simple.reset()
	payload := c.beginCommand(comStmtReset, encodeU32(stmtID))
	return c.driveSimple(payload, false)
}

func (c *Conn) StmtResetContinue(WaitSet) (WaitSet, bool, error) {
	return c.driveSimple(nil, false)
}

// StmtExecuteStart/Continue implement COM_STMT_EXECUTE's header phase,
// encoding params as the binary null-bitmap + typed-value protocol and
// reusing the resultHeader sub-machine (via c.result/driveQuery) for
// the response, same sub-machine QueryState drives for COM_QUERY —
// execute runs through curOp as one write+read step since it is
// always exclusive, so there is no write-ahead to split out here.
func (c *Conn) StmtExecuteStart(stmtID uint32, params []Param, cursorType byte) (WaitSet, bool, error) {
	c.result.reset()
	payload, err := buildStmtExecute(stmtID, params, cursorType)
	if err != nil {
		return 0, false, err
	}
	c.resetSeq()
	return c.driveQuery(payload)
}

func (c *Conn) StmtExecuteContinue(WaitSet) (WaitSet, bool, error) {
	return c.driveQuery(nil)
}

func buildStmtExecute(stmtID uint32, params []Param, cursorType byte) ([]byte, error) {
	out := make([]byte, 0, 16+len(params)*8)
	out = append(out, comStmtExecute)
	out = append(out, encodeU32(stmtID)...)
	out = append(out, cursorType)
	out = append(out, encodeU32(1)...) // iteration count, always 1

	if len(params) == 0 {
		return out, nil
	}

	nullBitmapLen := (len(params) + 7) / 8
	nullBitmap := make([]byte, nullBitmapLen)
	for i, p := range params {
		if p.Value == nil {
			nullBitmap[i/8] |= 1 << uint(i%8)
		}
	}
	out = append(out, nullBitmap...)
	out = append(out, 1) // new_params_bind_flag

	types := make([]byte, 0, len(params)*2)
	values := make([]byte, 0, len(params)*8)
	for _, p := range params {
		typ, val, err := encodeParam(p.Value)
		if err != nil {
			return nil, err
		}
		types = append(types, typ, 0)
		values = append(values, val...)
	}
	out = append(out, types...)
	out = append(out, values...)
	return out, nil
}

func encodeParam(v any) (byte, []byte, error) {
	switch x := v.(type) {
	case nil:
		return typeNull, nil, nil
	case string:
		return typeVarString, appendLenEncStr(nil, []byte(x)), nil
	case []byte:
		return typeBlob, appendLenEncStr(nil, x), nil
	case bool:
		if x {
			return typeTiny, []byte{1}, nil
		}
		return typeTiny, []byte{0}, nil
	case int:
		return typeLonglong, encodeU64(uint64(int64(x))), nil
	case int64:
		return typeLonglong, encodeU64(uint64(x)), nil
	case uint64:
		return typeLonglong, encodeU64(x), nil
	case float64:
		return typeDouble, encodeU64(math.Float64bits(x)), nil
	case time.Time:
		return typeDatetime, encodeBinaryDatetime(x), nil
	default:
		return 0, nil, fmt.Errorf("protocol: unsupported param type %T", v)
	}
}

func encodeBinaryDatetime(t time.Time) []byte {
	if t.IsZero() {
		return []byte{0}
	}
	nsec := t.Nanosecond()
	if nsec == 0 && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		out := make([]byte, 5)
		out[0] = 4
		copy(out[1:3], encodeU16(uint16(t.Year())))
		out[3] = byte(t.Month())
		out[4] = byte(t.Day())
		return out
	}
	out := make([]byte, 12)
	out[0] = 11
	copy(out[1:3], encodeU16(uint16(t.Year())))
	out[3] = byte(t.Month())
	out[4] = byte(t.Day())
	out[5] = byte(t.Hour())
	out[6] = byte(t.Minute())
	out[7] = byte(t.Second())
	copy(out[8:12], encodeU32(uint32(nsec/1000)))
	return out
}

// StmtStoreStart/Continue stream binary-protocol rows (as returned by
// a StmtExecute that produced a result set), mirroring StoreResult's
// loop but decoding through the null-bitmap/typed-value binary path
// and the per-column truncation-refetch buffers.
func (c *Conn) StmtStoreStart() (WaitSet, bool, error) {
	c.rows = c.rows[:0]
	return c.driveStmtStore()
}

func (c *Conn) StmtStoreContinue(WaitSet) (WaitSet, bool, error) {
	return c.driveStmtStore()
}

func (c *Conn) driveStmtStore() (WaitSet, bool, error) {
	for {
		resp, done, ws, err := c.pr.readPacket(c.sock, &c.result.seq)
		if err != nil {
			return 0, false, err
		}
		if !done {
			return ws, false, nil
		}
		if isErrPacket(resp) {
			return 0, false, decodeErrPacket(resp)
		}
		if isEOFPacket(resp) {
			status, _ := decodeEOFStatus(resp)
			c.moreResults = status&statusMoreResultsExist != 0
			return 0, true, nil
		}
		row, err := decodeBinaryRow(resp, c.fields, c.colBufs)
		if err != nil {
			return 0, false, err
		}
		c.rows = append(c.rows, row)
	}
}
