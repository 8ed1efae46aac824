package aiomysql

import (
	"errors"

	"github.com/aiomysql/aiomysql/protocol"
	"github.com/aiomysql/aiomysql/queue"
)

// enqueue appends a pendingOp to the send queue and kicks the
// pipeline if the connection is currently idle — spec.md §4.5's
// engine is "only entered when state = Idle and callback_depth = 0 on
// the outermost call"; nested enqueues from inside a callback append
// to send_queue and call kick themselves, so a callback that runs
// while the client is Idle starts its new operation before it returns.
func (c *Client) enqueue(op *pendingOp) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if op.cb == nil {
		return ErrBadCallback
	}
	if err := c.sendQ.TryPush(op, nil); err != nil {
		return err
	}
	c.kick()
	return nil
}

// kick drives the pipeline loop for as long as operations keep
// completing synchronously (spec.md §9's synchronous fast path); it
// returns as soon as either queue empties or an operation suspends on
// a watcher.
//
// It always prefers starting a new write over starting a read: as
// long as there is room under MaxPipelineDepth and queued work, the
// next query is written immediately, so the send window stays as full
// as the caller's queue allows before the engine ever turns to
// reading a response. Only once writing is blocked (window full,
// send_queue drained, or an exclusive op occupies curOp) does it drain
// whatever has accumulated in awaitingRead — which, for a burst of k
// queued queries, lets all k command packets reach the wire before the
// first response is read back.
func (c *Client) kick() {
	for c.state == Idle {
		if c.draining {
			if c.drainState != nil {
				c.startNextResult()
			} else {
				c.startStmtNextResult()
			}
			if c.state != Idle {
				return
			}
			continue
		}
		if c.curOp == nil && c.writingOp == nil && c.sendQ.Len() > 0 && c.sendCount < MaxPipelineDepth {
			e, ok := c.sendQ.PopFront()
			if !ok {
				return
			}
			op := e.Value.(*pendingOp)
			queue.Release(e)
			c.sendCount++
			c.startOp(op)
			if c.state != Idle {
				return
			}
			continue
		}
		if c.readingOp == nil && c.awaitingRead.Len() > 0 {
			e, ok := c.awaitingRead.PopFront()
			if !ok {
				return
			}
			op := e.Value.(*pendingOp)
			queue.Release(e)
			c.readingOp = op
			c.startRead(op)
			if c.state != Idle {
				return
			}
			continue
		}
		return
	}
}

// startOp calls the appropriate connector op_start for op.kind. Query
// only begins its write here — afterQueryWrite hands it off to
// awaitingRead instead of delivering a result, which is what lets
// kick() move straight on to the next queued write. Every other kind
// still runs its whole write+read exchange as one combined step
// through curOp, since requireExclusive already guarantees none of
// them overlap with anything else, so there is nothing to pipeline.
func (c *Client) startOp(op *pendingOp) {
	switch op.kind {
	case opQuery:
		c.writingOp = op
		op.qstate = protocol.NewQueryState()
		ws, done, err := op.qstate.WriteStart(c.conn, op.sql)
		c.afterQueryWrite(ws, done, err)
	case opPrepare:
		c.curOp = op
		ws, done, err := c.conn.PrepareStart(op.sql)
		c.afterStmtPrepare(ws, done, err)
	case opExecute:
		c.curOp = op
		slot, ok := c.arena.lookup(op.stmtID)
		if !ok {
			c.curOp = nil
			c.deliverOp(op, nil, ErrStmtClosed)
			return
		}
		ws, done, err := c.conn.StmtExecuteStart(slot.serverID, op.params, 0)
		c.afterStmtExecute(ws, done, err)
	case opCloseStmt:
		c.curOp = op
		slot, ok := c.arena.lookup(op.stmtID)
		if !ok {
			c.curOp = nil
			c.deliverOp(op, nil, ErrStmtClosed)
			return
		}
		ws, done, err := c.conn.StmtCloseStart(slot.serverID)
		c.afterStmtClose(ws, done, err, op.stmtID)
	case opStmtReset:
		c.curOp = op
		slot, ok := c.arena.lookup(op.stmtID)
		if !ok {
			c.curOp = nil
			c.deliverOp(op, nil, ErrStmtClosed)
			return
		}
		ws, done, err := c.conn.StmtResetStart(slot.serverID)
		c.afterSimple(StmtReset, ws, done, err, "1")
	case opPing:
		c.curOp = op
		ws, done, err := c.conn.PingStart()
		c.afterSimple(Ping, ws, done, err, "1")
	case opSelectDb:
		c.curOp = op
		ws, done, err := c.conn.SelectDbStart(op.newDB)
		c.afterSimple(SelectDb, ws, done, err, "1")
	case opChangeUser:
		c.curOp = op
		ws, done, err := c.conn.ChangeUserStart(op.newUser, op.newPass, op.newDB)
		c.afterSimple(ChangeUser, ws, done, err, "1")
	case opResetConnection:
		c.curOp = op
		ws, done, err := c.conn.ResetConnectionStart()
		c.afterSimple(ResetConnection, ws, done, err, "1")
	}
}

// afterQueryWrite handles the write-only half of a COM_QUERY. On
// success it moves the query from "being written" to "written,
// awaiting its turn to be read" and returns to Idle immediately — it
// never reads a byte of the response itself, which is what lets kick()
// go on to write the next queued query before this one's result comes
// back.
func (c *Client) afterQueryWrite(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(Send, ws)
		return
	}
	if err != nil {
		c.failConnection(err)
		return
	}
	op := c.writingOp
	c.writingOp = nil
	c.awaitingRead.TryPush(op, nil)
	c.toIdle()
}

// startRead begins reading the response for the query at the front of
// awaitingRead.
func (c *Client) startRead(op *pendingOp) {
	ws, done, err := op.qstate.ReadStart(c.conn)
	c.afterQueryRead(ws, done, err)
}

// afterQueryRead handles the combined OK/ERR-or-column-header read
// this query's response begins with: on a plain OK body it delivers
// the affected-row count directly, on a result-set header it chains
// into StoreResult, on a server ERR packet it delivers the error to
// this query's callback and the pipeline goes on, and on a
// connector-level error it tears the connection down and cancels every
// other pending operation, matching spec.md §4.5 step 3.
func (c *Client) afterQueryRead(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(ReadResult, ws)
		return
	}
	op := c.readingOp
	if err != nil {
		var se *protocol.StatusError
		if errors.As(err, &se) {
			c.readingOp = nil
			c.toIdle()
			c.deliverOp(op, nil, err)
			return
		}
		c.failConnection(err)
		return
	}
	if op.qstate.HasResultSet(c.conn) {
		ws, done, err := op.qstate.StoreStart(c.conn)
		c.afterQueryStore(ws, done, err)
		return
	}
	c.readingOp = nil
	c.toIdle()
	c.deliverOp(op, c.conn.AffectedRows(), nil)
}

func (c *Client) afterQueryStore(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(StoreResult, ws)
		return
	}
	op := c.readingOp
	c.readingOp = nil
	if err != nil {
		c.toIdle()
		c.deliverOp(op, nil, err)
		return
	}
	rows := append([]protocol.Row(nil), c.conn.Rows()...)
	more := c.conn.MoreResults()
	c.toIdle()
	c.deliverOp(op, rows, nil)
	if more {
		c.draining = true
		c.drainState = op.qstate
		c.kick()
	}
}

// startNextResult drives the multi-result drain sweep spec.md §4.5's
// last paragraph and §4.6 describe: walk additional result sets on the
// query that just finished via NextResult/StoreResult, discarding
// each; any drain error is swallowed per spec.md §9's Open Question (b)
// resolution.
func (c *Client) startNextResult() {
	ws, done, err := c.drainState.NextStart(c.conn)
	c.afterNextResult(ws, done, err)
}

func (c *Client) afterNextResult(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(NextResult, ws)
		return
	}
	if err != nil {
		c.draining = false
		c.drainState = nil
		c.toIdle()
		return
	}
	if !c.drainState.HasResultSet(c.conn) {
		c.draining = false
		c.drainState = nil
		c.toIdle()
		return
	}
	ws, done, err = c.drainState.StoreStart(c.conn)
	c.afterDrainStore(ws, done, err)
}

func (c *Client) afterDrainStore(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(StoreResult, ws)
		return
	}
	c.draining = c.draining && err == nil && c.conn.MoreResults()
	if !c.draining {
		c.drainState = nil
	}
	c.toIdle()
}

func (c *Client) afterSimple(state Operation, ws protocol.WaitSet, done bool, err error, okResult any) {
	if !done && err == nil {
		c.suspend(state, ws)
		return
	}
	if err != nil {
		var se *protocol.StatusError
		if errors.As(err, &se) {
			op := c.curOp
			c.curOp = nil
			c.toIdle()
			c.deliverOp(op, nil, err)
			return
		}
		// Not a server-reported status error: the connection itself is
		// broken. Leave curOp in place so failConnection's cancelAll
		// delivers this op its error too, instead of silently dropping it.
		c.failConnection(err)
		return
	}
	op := c.curOp
	c.curOp = nil
	c.toIdle()
	c.deliverOp(op, okResult, nil)
}

func (c *Client) afterStmtPrepare(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(StmtPrepare, ws)
		return
	}
	if err != nil {
		var se *protocol.StatusError
		if errors.As(err, &se) {
			op := c.curOp
			c.curOp = nil
			c.toIdle()
			c.deliverOp(op, nil, err)
			return
		}
		c.failConnection(err)
		return
	}
	op := c.curOp
	c.curOp = nil
	id := c.arena.alloc(c.conn.StmtID(), c.conn.StmtParamCount())
	c.toIdle()
	c.deliverOp(op, id, nil)
}

func (c *Client) afterStmtExecute(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(StmtExecute, ws)
		return
	}
	if err != nil {
		var se *protocol.StatusError
		if errors.As(err, &se) {
			op := c.curOp
			c.curOp = nil
			c.toIdle()
			c.deliverOp(op, nil, err)
			return
		}
		c.failConnection(err)
		return
	}
	if c.conn.HasResultSet() {
		ws, done, err := c.conn.StmtStoreStart()
		c.afterStmtStore(ws, done, err)
		return
	}
	op := c.curOp
	c.curOp = nil
	c.toIdle()
	c.deliverOp(op, c.conn.AffectedRows(), nil)
}

func (c *Client) afterStmtStore(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(StmtStore, ws)
		return
	}
	op := c.curOp
	c.curOp = nil
	if err != nil {
		c.toIdle()
		c.deliverOp(op, nil, err)
		return
	}
	rows := append([]protocol.Row(nil), c.conn.Rows()...)
	more := c.conn.MoreResults()
	c.toIdle()
	c.deliverOp(op, rows, nil)
	if more {
		c.draining = true
		c.drainState = nil
		c.kick()
	}
}

// startStmtNextResult/afterStmtNextResult/afterStmtDrainStore mirror
// startNextResult/afterNextResult/afterDrainStore for a
// COM_STMT_EXECUTE multi-result chain, driving c.conn's own result
// header (c.result) directly rather than a per-operation QueryState —
// execute only ever runs through curOp, so there is no write-ahead
// cursor to keep separate.
func (c *Client) startStmtNextResult() {
	ws, done, err := c.conn.NextResultStart()
	c.afterStmtNextResult(ws, done, err)
}

func (c *Client) afterStmtNextResult(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(NextResult, ws)
		return
	}
	if err != nil {
		c.draining = false
		c.toIdle()
		return
	}
	if !c.conn.HasResultSet() {
		c.draining = false
		c.toIdle()
		return
	}
	ws, done, err = c.conn.StmtStoreStart()
	c.afterStmtDrainStore(ws, done, err)
}

func (c *Client) afterStmtDrainStore(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(StoreResult, ws)
		return
	}
	c.draining = c.draining && err == nil && c.conn.MoreResults()
	c.toIdle()
}

func (c *Client) afterStmtClose(ws protocol.WaitSet, done bool, err error, id StmtID) {
	if !done && err == nil {
		c.suspend(StmtClose, ws)
		return
	}
	c.arena.release(id)
	if err != nil {
		var se *protocol.StatusError
		if errors.As(err, &se) {
			op := c.curOp
			c.curOp = nil
			c.toIdle()
			c.deliverOp(op, nil, err)
			return
		}
		c.failConnection(err)
		return
	}
	op := c.curOp
	c.curOp = nil
	c.toIdle()
	c.deliverOp(op, 1, nil)
}

// deliverOp invokes op's callback through the FIFO cb queue (never
// directly), retires it (sendCount--), and resumes the pipeline loop
// so the next queued operation — a write, or a read for whatever
// already accumulated in awaitingRead — starts immediately. It serves
// both the curOp path (exclusive kinds, which clear curOp themselves
// before calling) and the Query path (writingOp/readingOp, likewise
// cleared by their own callers).
func (c *Client) deliverOp(op *pendingOp, result any, err error) {
	c.sendCount--
	if op != nil {
		c.cbQ.Push(result, err, op.cb)
	}
	c.drainCallbacks()
	c.kick()
}

// drainCallbacks invokes every callback currently queued for delivery
// through the reentrant invoker, via the FIFO cb queue rather than a
// direct call — so a callback that itself triggers another delivery
// (by enqueuing more work that completes synchronously) still sees
// strictly ordered invocation instead of growing the Go call stack one
// frame per pipelined result.
func (c *Client) drainCallbacks() {
	for {
		e, ok := c.cbQ.PopFront()
		if !ok {
			return
		}
		cb, result, err := e.Callback, e.Value, e.Err
		queue.Release(e)
		c.invoke(cb, result, err, "")
	}
}

// failConnection is spec.md §7's Connection error path: on_error
// fires, every pending operation (queued and in-flight) is cancelled
// with the same message, then the connection is torn down. Callers
// must leave whichever of curOp/writingOp/readingOp was in flight
// untouched before calling this — cancelAll is what delivers that
// operation's callback, and clearing the field first would drop it.
func (c *Client) failConnection(err error) {
	c.toIdle()
	if c.onError != nil {
		c.onError(err)
	}
	c.cancelAll(err)
	c.teardown()
}
