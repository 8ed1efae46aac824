package aiomysql

import "github.com/aiomysql/aiomysql/protocol"

// Query is spec.md §6's `query`: rows for SELECT, affected-row count
// for DML, delivered to cb as (result, nil) or (nil, err).
func (c *Client) Query(sql string, cb func(any, error)) error {
	return c.enqueue(&pendingOp{kind: opQuery, sql: sql, cb: cb})
}

// Prepare is spec.md §6's `prepare`: delivers an opaque StmtID.
func (c *Client) Prepare(sql string, cb func(any, error)) error {
	if err := c.requireExclusive("prepare"); err != nil {
		return err
	}
	return c.enqueue(&pendingOp{kind: opPrepare, sql: sql, cb: cb})
}

// Execute is spec.md §6's `execute`: runs a previously prepared
// statement with bound params, delivering rows the same shape as
// Query.
func (c *Client) Execute(stmt StmtID, params []protocol.Param, cb func(any, error)) error {
	if err := c.requireExclusive("execute"); err != nil {
		return err
	}
	if _, ok := c.arena.lookup(stmt); !ok {
		return ErrStmtClosed
	}
	return c.enqueue(&pendingOp{kind: opExecute, stmtID: stmt, params: params, cb: cb})
}

// CloseStmt is spec.md §6's `close_stmt`: releases server-side
// prepared state. The StmtID must never be used again once cb fires.
func (c *Client) CloseStmt(stmt StmtID, cb func(any, error)) error {
	if err := c.requireExclusive("close_stmt"); err != nil {
		return err
	}
	if _, ok := c.arena.lookup(stmt); !ok {
		return ErrStmtClosed
	}
	return c.enqueue(&pendingOp{kind: opCloseStmt, stmtID: stmt, cb: cb})
}

// StmtReset is spec.md §6's `stmt_reset`: spec.md §9's Open Question
// (a) resolves to forbidding this while other statements are
// outstanding, so it shares the same exclusivity check as Prepare.
func (c *Client) StmtReset(stmt StmtID, cb func(any, error)) error {
	if err := c.requireExclusive("stmt_reset"); err != nil {
		return err
	}
	if _, ok := c.arena.lookup(stmt); !ok {
		return ErrStmtClosed
	}
	return c.enqueue(&pendingOp{kind: opStmtReset, stmtID: stmt, cb: cb})
}

// Ping is spec.md §6's `ping`.
func (c *Client) Ping(cb func(any, error)) error {
	if err := c.requireExclusive("ping"); err != nil {
		return err
	}
	return c.enqueue(&pendingOp{kind: opPing, cb: cb})
}

// SelectDb is spec.md §6's `select_db`.
func (c *Client) SelectDb(db string, cb func(any, error)) error {
	if err := c.requireExclusive("select_db"); err != nil {
		return err
	}
	return c.enqueue(&pendingOp{kind: opSelectDb, newDB: db, cb: cb})
}

// ChangeUser is spec.md §6's `change_user`.
func (c *Client) ChangeUser(user, password, db string, cb func(any, error)) error {
	if err := c.requireExclusive("change_user"); err != nil {
		return err
	}
	return c.enqueue(&pendingOp{kind: opChangeUser, newUser: user, newPass: password, newDB: db, cb: cb})
}

// ResetConnection is spec.md §6's `reset_connection`.
func (c *Client) ResetConnection(cb func(any, error)) error {
	if err := c.requireExclusive("reset_connection"); err != nil {
		return err
	}
	return c.enqueue(&pendingOp{kind: opResetConnection, cb: cb})
}

// requireExclusive enforces spec.md §5's reentrancy contract: prepare,
// execute, close_stmt, stmt_reset, ping, change_user, select_db and
// reset_connection must not be started while send_count > 0.
func (c *Client) requireExclusive(op string) error {
	if c.sendCount > 0 {
		return usageErr(op, "requires send_count == 0", ErrPipelineBusy)
	}
	return nil
}
