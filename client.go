// Package aiomysql is the non-blocking MariaDB/MySQL client core: a
// continuation-driven state machine over the protocol package's
// wire connector, pipelined through a bounded send/receive window,
// driven by any watcher.Loop implementation.
package aiomysql

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiomysql/aiomysql/protocol"
	"github.com/aiomysql/aiomysql/queue"
	"github.com/aiomysql/aiomysql/watcher"
)

// MaxPipelineDepth is spec.md §3/§6's MAX_PIPELINE_DEPTH: the hard cap
// on sent-but-unread operations in flight at once.
const MaxPipelineDepth = 64

// Operation is spec.md §3's Operation State enumeration.
type Operation uint8

const (
	Idle Operation = iota
	Connecting
	Send
	ReadResult
	StoreResult
	NextResult
	Ping
	ChangeUser
	SelectDb
	ResetConnection
	StmtPrepare
	StmtExecute
	StmtStore
	StmtClose
	StmtReset
)

// Client is the top-level object spec.md §3 describes: one connector
// handle, one set of watcher registrations, one send queue, one cb
// queue, and the stored connection parameters needed to Reset.
type Client struct {
	conn  *protocol.Conn
	loop  watcher.TimerLoop
	sendQ *queue.SendQueue
	cbQ   *queue.CallbackQueue
	arena *stmtArena

	state    Operation
	draining bool
	sendCount int

	watchedFd   int
	watchedWant watcher.Want
	timerArmed  bool

	cfg  protocol.ConnectConfig
	opts Options

	onConnect func()
	onError   func(error)

	callbackDepth int
	deferredFree  bool
	freed         bool

	logger *zap.Logger
	id     uuid.UUID

	// curOp is the single in-flight operation for every op kind that
	// isn't pipelined (Ping, SelectDb, ChangeUser, ResetConnection,
	// Prepare, Execute, StmtClose, StmtReset): write and read happen as
	// one combined step for these, since requireExclusive guarantees at
	// most one is ever outstanding.
	curOp *pendingOp

	// writingOp, readingOp and awaitingRead are the Query-kind pipeline:
	// writingOp is the query currently being sent, readingOp is the
	// query currently having its response read, and awaitingRead holds
	// queries that have been fully written but not yet read — the
	// bounded send window spec.md's Pipeline Engine describes. A query
	// can sit in awaitingRead while later queries are still being
	// written, which is what lets k queued queries ship in one burst
	// instead of one round-trip at a time.
	writingOp    *pendingOp
	readingOp    *pendingOp
	awaitingRead *queue.SendQueue

	// drainState is the QueryState of whichever query most recently
	// finished StoreResult and reported MoreResults, kept alive only to
	// walk the rest of that multi-result chain.
	drainState *protocol.QueryState
}

// pendingOp is the Pending Send / Pending Callback of spec.md §3,
// unified into one struct that simply moves between the two queues —
// its fields never change shape on the send-queue → cb-queue
// transfer, only which queue holds it.
type pendingOp struct {
	kind opKind

	sql      string
	stmtID   StmtID
	params   []protocol.Param
	newUser  string
	newPass  string
	newDB    string

	// qstate is allocated only for opQuery, when its write begins; it
	// carries that query's own sequence-number cursor through write,
	// read, row-store and any multi-result drain.
	qstate *protocol.QueryState

	cb func(any, error)
}

type opKind uint8

const (
	opQuery opKind = iota
	opPrepare
	opExecute
	opCloseStmt
	opStmtReset
	opPing
	opSelectDb
	opChangeUser
	opResetConnection
)

// New creates a detached Client: no connector handle yet, ready for
// Connect. loop must already be running its Run goroutine (or the
// caller must drive it) before any operation can make progress past
// its first suspension point.
func New(loop watcher.TimerLoop, opts Options) *Client {
	return &Client{
		loop: loop,
		// Unbounded: MAX_PIPELINE_DEPTH bounds sendCount (operations
		// already sent and awaiting delivery), not how many requests a
		// caller may queue up before any of them ship.
		sendQ:        queue.NewSendQueue(0),
		awaitingRead: queue.NewSendQueue(0),
		cbQ:          queue.NewCallbackQueue(),
		arena:        newStmtArena(),
		opts:         opts,
		logger:       zap.NewNop(),
		id:           uuid.New(),
	}
}

// WithLogger installs a structured logger used only for the
// diagnostics spec.md already requires (trapped callback panics,
// connection lifecycle transitions); it never gates core behaviour.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// OnConnect installs the callback fired once Connect completes.
func (c *Client) OnConnect(f func()) *Client { c.onConnect = f; return c }

// OnError installs the callback fired when a connection error
// cancels every pending operation, per spec.md §7.
func (c *Client) OnError(f func(error)) *Client { c.onError = f; return c }

func (c *Client) ConnectionID() uuid.UUID { return c.id }
func (c *Client) Logger() *zap.Logger     { return c.logger }

// IsConnected reports whether the client currently owns a live
// connector handle (set by Connect, cleared by teardown/Finish).
func (c *Client) IsConnected() bool { return c.conn != nil }

func (c *Client) ErrorMessage() string {
	if c.conn == nil || c.conn.LastError() == nil {
		return ""
	}
	return c.conn.LastError().Message
}

func (c *Client) ErrorNumber() uint16 {
	if c.conn == nil || c.conn.LastError() == nil {
		return 0
	}
	return c.conn.LastError().Code
}

func (c *Client) SQLState() string {
	if c.conn == nil || c.conn.LastError() == nil {
		return ""
	}
	return c.conn.LastError().SQLState
}

func (c *Client) InsertID() uint64 {
	if c.conn == nil {
		return 0
	}
	return c.conn.InsertID()
}

func (c *Client) WarningCount() uint16 {
	if c.conn == nil {
		return 0
	}
	return c.conn.Warnings()
}

func (c *Client) Info() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.Info()
}

func (c *Client) ServerVersion() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.ServerVersion()
}

// ServerInfo is an alias accessor name mymysql exposes alongside
// ServerVersion; both report the same handshake-reported string.
func (c *Client) ServerInfo() string { return c.ServerVersion() }

func (c *Client) ThreadID() uint32 {
	if c.conn == nil {
		return 0
	}
	return c.conn.ThreadID()
}

func (c *Client) HostInfo() string {
	if c.cfg.UnixSocket != "" {
		return "Localhost via UNIX socket"
	}
	return c.cfg.Host
}

func (c *Client) CharacterSetName() string { return c.opts.Charset }

func (c *Client) Socket() int {
	if c.conn == nil {
		return -1
	}
	return c.conn.Fd()
}

// PendingCount is send_queue + cb_queue, per spec.md §3's invariant.
func (c *Client) PendingCount() int { return c.sendQ.Len() + c.sendCount }

// EscapeString implements the backslash-escaping algorithm mymysql's
// native/resutils.go table drives, reused verbatim per SPEC_FULL.md's
// supplemented-features list: it is an algorithm, not a design
// choice, so there is nothing to reinterpret.
func (c *Client) EscapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case '\x1a':
			b.WriteString(`\Z`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
