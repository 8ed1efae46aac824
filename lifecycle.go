package aiomysql

import (
	"github.com/aiomysql/aiomysql/protocol"
	"github.com/aiomysql/aiomysql/queue"
	"go.uber.org/zap"
)

// Connect is the Lifecycle Manager's Connect operation (spec.md
// §4.6): build a ConnectConfig from host/user/password/database/port
// (plus the persisted Options), start the connector, and — if it
// completes synchronously — fire on_connect and kick the pipeline
// immediately so anything queued before Connect returned is already
// moving.
func (c *Client) Connect(host, user, password, database string, port int, unixSocket string) error {
	if c.state != Idle {
		return ErrInProgress
	}
	c.cfg = protocol.ConnectConfig{
		Host:                host,
		Port:                port,
		UnixSocket:          unixSocket,
		User:                user,
		Password:            password,
		Database:            database,
		ConnectTimeout:      c.opts.ConnectTimeout,
		ReadTimeout:         c.opts.ReadTimeout,
		WriteTimeout:        c.opts.WriteTimeout,
		Compress:            c.opts.Compress,
		MultiStatements:     c.opts.MultiStatements,
		Charset:             c.opts.Charset,
		InitCommand:         c.opts.InitCommand,
		MaxPacketSize:       c.opts.MaxPacketSize,
		SSLKey:              c.opts.SSLKey,
		SSLCert:             c.opts.SSLCert,
		SSLCA:               c.opts.SSLCA,
		SSLCipher:           c.opts.SSLCipher,
		SSLVerifyServerCert: c.opts.SSLVerifyServerCert,
	}
	c.conn = protocol.NewConn()
	c.watchedFd = -1
	c.logger.Info("connecting", zap.Stringer("conn", c.id), zap.String("host", host))
	ws, done, err := c.conn.ConnectStart(c.cfg)
	c.afterConnect(ws, done, err)
	if err != nil {
		return err
	}
	return nil
}

func (c *Client) afterConnect(ws protocol.WaitSet, done bool, err error) {
	if !done && err == nil {
		c.suspend(Connecting, ws)
		return
	}
	if err != nil {
		c.logger.Warn("connect failed", zap.Stringer("conn", c.id), zap.Error(err))
		if c.onError != nil {
			c.onError(err)
		}
		c.cancelAll(err)
		c.teardown()
		return
	}
	c.toIdle()
	c.logger.Info("connected", zap.Stringer("conn", c.id))
	if c.onConnect != nil {
		c.onConnect()
	}
	c.kick()
}

// Reset is spec.md §4.6's atomic sequence: cancel all pending with
// ErrReset, close the connector, then reconnect using the originally
// stored parameters. Callers may rebind OnConnect beforehand to learn
// when the new connection is ready.
func (c *Client) Reset() error {
	c.logger.Info("resetting", zap.Stringer("conn", c.id))
	c.cancelAll(ErrReset)
	cfg := c.cfg
	c.teardown()
	return c.Connect(cfg.Host, cfg.User, cfg.Password, cfg.Database, cfg.Port, cfg.UnixSocket)
}

// Finish cancels all pending operations and tears the connection down
// synchronously: every queued callback has been invoked with
// ErrFinished by the time Finish returns, per spec.md §4.6.
func (c *Client) Finish() {
	c.logger.Info("finishing", zap.Stringer("conn", c.id))
	c.cancelAll(ErrFinished)
	c.teardown()
}

// SkipPending is finish-like but conditional (spec.md §4.6): if an
// operation is in flight, the connection is torn down; pending
// operations are then cancelled with ErrSkipped regardless. A
// subsequent Query only works if no operation was in flight (a pure
// queued-but-unsent state) — otherwise Reset is required.
func (c *Client) SkipPending() {
	inFlight := c.state != Idle || c.sendCount > 0
	if inFlight {
		c.teardown()
	}
	c.cancelAll(ErrSkipped)
}

// cancelAll delivers err to every queued and in-flight callback, in
// FIFO order, without touching the connector itself.
func (c *Client) cancelAll(err error) {
	if c.curOp != nil {
		op := c.curOp
		c.curOp = nil
		c.invoke(op.cb, nil, err, "")
	}
	if c.writingOp != nil {
		op := c.writingOp
		c.writingOp = nil
		c.invoke(op.cb, nil, err, "")
	}
	if c.readingOp != nil {
		op := c.readingOp
		c.readingOp = nil
		c.invoke(op.cb, nil, err, "")
	}
	for {
		e, ok := c.awaitingRead.PopFront()
		if !ok {
			break
		}
		op := e.Value.(*pendingOp)
		queue.Release(e)
		c.invoke(op.cb, nil, err, "")
	}
	for {
		e, ok := c.sendQ.PopFront()
		if !ok {
			break
		}
		op := e.Value.(*pendingOp)
		queue.Release(e)
		c.invoke(op.cb, nil, err, "")
	}
	for {
		e, ok := c.cbQ.PopFront()
		if !ok {
			break
		}
		cb := e.Callback
		queue.Release(e)
		c.invoke(cb, nil, err, "")
	}
	c.sendCount = 0
	c.draining = false
	c.drainState = nil
}

// teardown closes the connector handle and returns the client to a
// detached, disconnected state.
func (c *Client) teardown() {
	c.toIdle()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.watchedFd = -1
}
