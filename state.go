package aiomysql

import (
	"github.com/aiomysql/aiomysql/protocol"
	"github.com/aiomysql/aiomysql/watcher"
)

// applyWaitSet is the Watcher Adapter of spec.md §4.1: it registers
// exactly the fd/timer watchers the wait-set names and clears the
// rest, every time, including the case where ws is empty (the
// unconditional-clear-on-Idle invariant).
func (c *Client) applyWaitSet(ws protocol.WaitSet) {
	want := watcher.Want(0)
	if ws.Read() {
		want |= watcher.WantRead
	}
	if ws.Write() {
		want |= watcher.WantWrite
	}
	fd := c.conn.Fd()
	if want != c.watchedWant || fd != c.watchedFd {
		if c.watchedFd >= 0 && c.watchedFd != fd {
			c.loop.Forget(c.watchedFd)
		}
		if want != 0 {
			c.loop.Watch(fd, want, c.onFdReady)
		} else if c.watchedFd >= 0 {
			c.loop.Forget(fd)
		}
		c.watchedFd = fd
		c.watchedWant = want
	}

	if ws.Timeout() {
		c.loop.WatchTimer(c.conn.RemainingTimeout(), c.onTimerFire)
		c.timerArmed = true
	} else if c.timerArmed {
		c.loop.CancelTimer()
		c.timerArmed = false
	}
}

// clearWatchers is the critical invariant from spec.md §4.1: every
// return to Idle unconditionally clears all three registrations, so a
// stale registration from a synchronous fast-path completion can
// never mask the next operation's own registration.
func (c *Client) clearWatchers() {
	if c.watchedFd >= 0 {
		c.loop.Forget(c.watchedFd)
	}
	if c.timerArmed {
		c.loop.CancelTimer()
		c.timerArmed = false
	}
	c.watchedWant = 0
}

func (c *Client) onFdReady(got watcher.Want) {
	var ws protocol.WaitSet
	if got.Read() {
		ws |= protocol.WaitRead
	}
	if got.Write() {
		ws |= protocol.WaitWrite
	}
	c.continueState(ws)
}

func (c *Client) onTimerFire() {
	c.timerArmed = false
	c.continueState(protocol.WaitTimeout)
}

// continueState dispatches a fired wait condition to the connector's
// op_cont for whatever state the client is currently in, per spec.md
// §4.4's continue routine.
func (c *Client) continueState(got protocol.WaitSet) {
	switch c.state {
	case Connecting:
		ws, done, err := c.conn.ConnectContinue(got)
		c.afterConnect(ws, done, err)
	case Send:
		ws, done, err := c.writingOp.qstate.WriteContinue(c.conn)
		c.afterQueryWrite(ws, done, err)
	case ReadResult:
		ws, done, err := c.readingOp.qstate.ReadContinue(c.conn)
		c.afterQueryRead(ws, done, err)
	case StoreResult:
		// Four call sites suspend with state = StoreResult: a
		// pipelined query's own row store (readingOp set), that same
		// query's multi-result drain (drainState set, readingOp nil),
		// a COM_STMT_EXECUTE's row store (curOp set, not draining),
		// and a stmt's multi-result drain (draining, drainState nil).
		switch {
		case c.readingOp != nil:
			ws, done, err := c.readingOp.qstate.StoreContinue(c.conn)
			c.afterQueryStore(ws, done, err)
		case c.draining && c.drainState != nil:
			ws, done, err := c.drainState.StoreContinue(c.conn)
			c.afterDrainStore(ws, done, err)
		case c.draining:
			ws, done, err := c.conn.StmtStoreContinue(got)
			c.afterStmtDrainStore(ws, done, err)
		default:
			ws, done, err := c.conn.StmtStoreContinue(got)
			c.afterStmtStore(ws, done, err)
		}
	case NextResult:
		if c.drainState != nil {
			ws, done, err := c.drainState.NextContinue(c.conn)
			c.afterNextResult(ws, done, err)
		} else {
			ws, done, err := c.conn.NextResultContinue(got)
			c.afterStmtNextResult(ws, done, err)
		}
	case Ping:
		ws, done, err := c.conn.PingContinue(got)
		c.afterSimple(Ping, ws, done, err, "1")
	case ChangeUser:
		ws, done, err := c.conn.ChangeUserContinue(got)
		c.afterSimple(ChangeUser, ws, done, err, "1")
	case SelectDb:
		ws, done, err := c.conn.SelectDbContinue(got)
		c.afterSimple(SelectDb, ws, done, err, "1")
	case ResetConnection:
		ws, done, err := c.conn.ResetConnectionContinue(got)
		c.afterSimple(ResetConnection, ws, done, err, "1")
	case StmtPrepare:
		ws, done, err := c.conn.PrepareContinue(got)
		c.afterStmtPrepare(ws, done, err)
	case StmtExecute:
		ws, done, err := c.conn.StmtExecuteContinue(got)
		c.afterStmtExecute(ws, done, err)
	case StmtStore:
		ws, done, err := c.conn.StmtStoreContinue(got)
		c.afterStmtStore(ws, done, err)
	case StmtClose:
		ws, done, err := c.conn.StmtCloseContinue(got)
		var id StmtID
		if c.curOp != nil {
			id = c.curOp.stmtID
		}
		c.afterStmtClose(ws, done, err, id)
	case StmtReset:
		ws, done, err := c.conn.StmtResetContinue(got)
		c.afterSimple(StmtReset, ws, done, err, "1")
	}
}

// suspend transitions into a non-idle state and registers whatever
// wait-set the op_start/op_cont call just reported.
func (c *Client) suspend(state Operation, ws protocol.WaitSet) {
	c.state = state
	c.applyWaitSet(ws)
}

// toIdle is every done-handler's terminal move back to Idle plus the
// watcher-clear invariant. It does not advance the Pipeline Engine
// itself; callers reach kick through deliverOp or call it directly.
func (c *Client) toIdle() {
	c.state = Idle
	c.clearWatchers()
}
