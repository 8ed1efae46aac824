package protocol

// resultHeader is the sub-machine shared by COM_QUERY and
// COM_STMT_EXECUTE: both open with either an OK/ERR packet (no result
// set) or a length-encoded column count followed by that many Column
// Definition packets and a closing EOF. Factoring this out avoids
// writing the column-definition loop twice.
//
// Its write phase and read phase are driven separately (driveWrite /
// driveRead) rather than as one combined pass: the pipeline engine
// writes a whole batch of queued queries before reading any of their
// responses back, so a given resultHeader may sit fully written and
// idle, waiting its turn to be read, while later resultHeaders are
// still being written. Each instance owns its own sequence-number
// cursor (seq) precisely so that write-ahead works: the wire protocol
// resets the sequence number to 0 for every new command regardless of
// what else has been written on the connection, so a resultHeader that
// started its own write at seq 0 reads its own response correctly no
// matter how many sibling commands were written in between.
type resultHeaderPhase uint8

const (
	rhWriting resultHeaderPhase = iota
	rhReadingFirst
	rhReadingColumn
	rhReadingEOF
	rhDone
)

type resultHeader struct {
	phase      resultHeaderPhase
	seq        byte
	ncols      int
	colsSoFar  int
	hasResults bool
}

func (r *resultHeader) reset() { *r = resultHeader{} }

// driveWrite runs only the write half of the sub-machine: frame and
// flush the command packet. payload is nil on a resumed call after a
// prior WaitWrite. Once done, the machine is left parked at
// rhReadingFirst, ready for a later, independent driveRead call.
func (r *resultHeader) driveWrite(c *Conn, payload []byte) (bool, WaitSet, error) {
	done, ws, err := c.pw.writePacket(c.sock, &r.seq, payload)
	if err != nil {
		return false, 0, err
	}
	if !done {
		return false, ws, nil
	}
	r.phase = rhReadingFirst
	return true, 0, nil
}

// driveRead runs the header-read half: the first response packet
// (OK/ERR or column count) through the column definitions and closing
// EOF. It assumes driveWrite has already completed for this instance
// (or, for a multi-result drain step, that the caller positioned phase
// at rhReadingFirst directly — see NextResultStart).
func (r *resultHeader) driveRead(c *Conn) (bool, WaitSet, error) {
	for {
		switch r.phase {
		case rhReadingFirst:
			resp, done, ws, err := c.pr.readPacket(c.sock, &r.seq)
			if err != nil {
				return false, 0, err
			}
			if !done {
				return false, ws, nil
			}
			if isErrPacket(resp) {
				r.reset()
				return false, 0, decodeErrPacket(resp)
			}
			if isOKPacket(resp) {
				if _, err := c.applyOKOrErr(resp); err != nil {
					r.reset()
					return false, 0, err
				}
				c.fields = nil
				// Keep seq: a following result set of this same command
				// continues the cursor.
				*r = resultHeader{seq: r.seq}
				return false, 0, nil
			}
			n, _, err := lenEncInt(resp, 0)
			if err != nil || n == nil {
				r.reset()
				return false, 0, ErrMalformed
			}
			r.ncols = int(*n)
			c.fields = make([]*Field, 0, r.ncols)
			r.phase = rhReadingColumn

		case rhReadingColumn:
			if r.colsSoFar == r.ncols {
				r.phase = rhReadingEOF
				continue
			}
			resp, done, ws, err := c.pr.readPacket(c.sock, &r.seq)
			if err != nil {
				return false, 0, err
			}
			if !done {
				return false, ws, nil
			}
			f, err := decodeColumnDef(resp)
			if err != nil {
				r.reset()
				return false, 0, err
			}
			c.fields = append(c.fields, f)
			r.colsSoFar++

		case rhReadingEOF:
			resp, done, ws, err := c.pr.readPacket(c.sock, &r.seq)
			if err != nil {
				return false, 0, err
			}
			if !done {
				return false, ws, nil
			}
			if !isEOFPacket(resp) {
				r.reset()
				return false, 0, ErrMalformed
			}
			c.colBufs = newBinaryColBufs(c.fields)
			// Keep seq: the row packets that follow continue the cursor.
			*r = resultHeader{seq: r.seq}
			return true, 0, nil
		}
	}
}

// QueryState is the per-operation handle the pipeline engine holds for
// the lifetime of one COM_QUERY: from WriteStart through whichever of
// ReadStart/StoreStart/NextStart it ends up needing. Unlike the
// exclusive one-shot commands (Ping, Prepare, ...), multiple QueryState
// values can be alive at once — one written and awaiting its turn to
// be read while others are still being written — which is exactly what
// lets the client's send window stay ahead of its read window.
type QueryState struct {
	rh resultHeader
}

func NewQueryState() *QueryState { return &QueryState{} }

// WriteStart frames and begins sending the COM_QUERY command packet.
// It does not read anything back; pair it with ReadStart once the
// pipeline engine is ready to consume this query's response.
func (q *QueryState) WriteStart(c *Conn, sql string) (WaitSet, bool, error) {
	q.rh.reset()
	payload := make([]byte, 0, 1+len(sql))
	payload = append(payload, comQuery)
	payload = append(payload, []byte(sql)...)
	return q.driveWrite(c, payload)
}

func (q *QueryState) WriteContinue(c *Conn) (WaitSet, bool, error) {
	return q.driveWrite(c, nil)
}

func (q *QueryState) driveWrite(c *Conn, payload []byte) (WaitSet, bool, error) {
	done, ws, err := q.rh.driveWrite(c, payload)
	if err != nil {
		return 0, false, err
	}
	if !done {
		return ws, false, nil
	}
	return 0, true, nil
}

// ReadStart consumes this query's result-set header (or OK/ERR body).
// Call HasResultSet afterward to decide whether StoreStart is needed.
func (q *QueryState) ReadStart(c *Conn) (WaitSet, bool, error) {
	return q.driveRead(c)
}

func (q *QueryState) ReadContinue(c *Conn) (WaitSet, bool, error) {
	return q.driveRead(c)
}

func (q *QueryState) driveRead(c *Conn) (WaitSet, bool, error) {
	_, ws, err := q.rh.driveRead(c)
	if err != nil {
		return 0, false, err
	}
	if ws != 0 {
		return ws, false, nil
	}
	c.rows = nil
	return 0, true, nil
}

// HasResultSet reports whether the header just read by ReadStart
// produced a result set (as opposed to an OK body).
func (q *QueryState) HasResultSet(c *Conn) bool { return len(c.fields) > 0 }

// StoreStart streams text-protocol rows until EOF/ERR, continuing this
// same query's sequence-number cursor.
func (q *QueryState) StoreStart(c *Conn) (WaitSet, bool, error) {
	c.rows = c.rows[:0]
	return q.driveStore(c)
}

func (q *QueryState) StoreContinue(c *Conn) (WaitSet, bool, error) {
	return q.driveStore(c)
}

func (q *QueryState) driveStore(c *Conn) (WaitSet, bool, error) {
	for {
		resp, done, ws, err := c.pr.readPacket(c.sock, &q.rh.seq)
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
			ok, _ := decodeEOFStatus(resp)
			c.moreResults = ok&statusMoreResultsExist != 0
			return 0, true, nil
		}
		row, err := decodeTextRow(resp, len(c.fields))
		if err != nil {
			return 0, false, err
		}
		c.rows = append(c.rows, row)
	}
}

func decodeEOFStatus(b []byte) (uint16, error) {
	if len(b) < 5 {
		return 0, ErrMalformed
	}
	return decodeU16(b[3:5]), nil
}

// NextStart drains one additional result-set header in a
// multi-statement/CALL multi-result chain, continuing the same
// sequence-number cursor StoreStart left off at (no new command is
// written; the server is already mid multi-result stream).
func (q *QueryState) NextStart(c *Conn) (WaitSet, bool, error) {
	q.rh.phase = rhReadingFirst
	return q.driveRead(c)
}

func (q *QueryState) NextContinue(c *Conn) (WaitSet, bool, error) {
	return q.driveRead(c)
}

// driveQuery drives Conn's own resultHeader (c.result) through write
// and read as one combined step, for COM_STMT_EXECUTE: unlike
// COM_QUERY, execute is always issued through curOp's exclusive,
// non-pipelined path, so there is no benefit to splitting its write
// from its read and StmtExecuteStart/Continue drive it as a single
// unit exactly as before.
func (c *Conn) driveQuery(payload []byte) (WaitSet, bool, error) {
	if c.result.phase == rhWriting {
		done, ws, err := c.result.driveWrite(c, payload)
		if err != nil {
			return 0, false, err
		}
		if !done {
			return ws, false, nil
		}
	}
	_, ws, err := c.result.driveRead(c)
	if err != nil {
		return 0, false, err
	}
	if ws != 0 {
		return ws, false, nil
	}
	c.rows = nil
	return 0, true, nil
}

// HasResultSet reports whether the header most recently read into
// c.result (via driveQuery) produced a result set.
func (c *Conn) HasResultSet() bool { return len(c.fields) > 0 }

// NextResultStart drains one additional result-set header in a
// COM_STMT_EXECUTE multi-result chain (a CALL invoked through a
// prepared statement), continuing c.result's own sequence cursor from
// wherever StmtStoreStart left it — no new command is written, the
// server is already mid multi-result stream.
func (c *Conn) NextResultStart() (WaitSet, bool, error) {
	c.result.phase = rhReadingFirst
	return c.driveQuery(nil)
}

func (c *Conn) NextResultContinue(WaitSet) (WaitSet, bool, error) {
	return c.driveQuery(nil)
}
