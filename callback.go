package aiomysql

import "go.uber.org/zap"

// invoke runs a user callback under the reentrancy contract spec.md
// §4.3 demands: callback_depth is incremented before the call and
// decremented after; a panicking callback is recovered and logged
// (never propagated) with the connection identity and the caller's
// context string (every current caller passes an empty one, so the
// SQL or statement id is not logged); if the client was flagged for
// deferred destruction while depth was nonzero and depth has now
// returned to zero, the client's storage is released here, at the
// one point it is guaranteed safe.
func (c *Client) invoke(cb func(any, error), result any, err error, context string) {
	if cb == nil {
		return
	}
	c.callbackDepth++
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Warn("callback panicked",
					zap.Stringer("conn", c.id),
					zap.String("context", context),
					zap.Any("recovered", r),
				)
			}
		}()
		cb(result, err)
	}()
	c.callbackDepth--
	if c.callbackDepth == 0 && c.deferredFree {
		c.releaseStorage()
	}
}

// releaseStorage tears down native resources without invoking any
// further callbacks, the "interpreter shutdown" leg of spec.md §4.6's
// Destruction contract.
func (c *Client) releaseStorage() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.freed = true
}
