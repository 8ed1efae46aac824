package aiomysql

import (
	"errors"
	"fmt"

	"github.com/aiomysql/aiomysql/protocol"
)

// UsageError is a contract violation caught before any server
// interaction — spec.md §7's "usage errors" category. It is always
// returned synchronously to the caller, never delivered to a
// callback.
type UsageError struct {
	Op  string
	Msg string
	Err error
}

func (e *UsageError) Error() string { return fmt.Sprintf("aiomysql: %s: %s", e.Op, e.Msg) }
func (e *UsageError) Unwrap() error { return e.Err }

func usageErr(op, msg string, err error) error { return &UsageError{Op: op, Msg: msg, Err: err} }

// StatusError is re-exported from protocol so callers never need to
// import the protocol package just to errors.As a server error.
type StatusError = protocol.StatusError

// Cancellation sentinels for three of spec.md §5's four collective
// cancellation sources (skip_pending, reset, finish). Every pending
// callback cancelled by one of those receives (nil, the sentinel)
// unwrapped; the fourth source, a fatal connection error, delivers the
// connector's own error instead.
var (
	ErrSkipped  = errors.New("skipped")
	ErrReset    = errors.New("connection reset")
	ErrFinished = errors.New("connection finished")

	ErrNotConnected  = errors.New("aiomysql: not connected")
	ErrInProgress    = errors.New("aiomysql: operation already in progress")
	ErrPipelineBusy  = errors.New("aiomysql: exclusive operation requires send_count == 0")
	ErrBadCallback   = errors.New("aiomysql: callback must not be nil")
	ErrStmtClosed    = errors.New("aiomysql: statement handle is closed or unknown")
)
