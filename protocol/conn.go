package protocol

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// ConnectConfig carries the parameters and option bag spec.md §6
// assigns to connect/Options: everything needed to dial and
// authenticate, independent of how the caller obtained it (a parsed
// DSN, a config struct, env vars — all out of this package's scope
// per spec.md §1).
type ConnectConfig struct {
	Host       string
	Port       int
	UnixSocket string
	User       string
	Password   string
	Database   string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	Compress        bool
	MultiStatements bool
	Charset         string
	InitCommand     string
	MaxPacketSize   uint32

	SSLKey              string
	SSLCert             string
	SSLCA               string
	SSLCipher           string
	SSLVerifyServerCert bool
}

type connPhase uint8

const (
	phaseIdle connPhase = iota
	phaseDialing
	phaseGreeting
	phaseWritingAuth
	phaseReadingAuthResult
	phaseWritingAuthSwitch
	phaseWritingInitCommand
	phaseReadingInitCommand
	phaseDone
)

// Conn is the non-blocking wire-protocol connector. One Conn drives
// exactly one connection; the caller (the client package's state
// machine) owns the Start/Continue driving loop and the fd's event
// registrations.
type Conn struct {
	sock *rawSocket
	seq  byte

	cfg ConnectConfig

	serverCaps    uint32
	clientCaps    uint32
	charset       byte
	greet         *greeting
	scrambled     []byte
	threadID      uint32
	serverVersion string
	status        uint16
	warnings      uint16
	lastInsertID  uint64
	affectedRows  uint64
	lastInfo      string

	pr pktReader
	pw pktWriter

	connectPhase connPhase

	fields   []*Field
	colBufs  []*binaryColBuf
	fieldCnt int

	rows        []Row
	moreResults bool

	stmtID       uint32
	stmtParams   uint16
	stmtFields   uint16
	stmtWarnings uint16

	pendingAuthPacket []byte

	simple simpleCmd
	result resultHeader
	prep   prepState

	lastErr *StatusError
}

func NewConn() *Conn {
	return &Conn{}
}

// Fd returns the raw socket descriptor, fetched once per connection
// establishment as spec.md §4.1 requires of the Watcher Adapter.
func (c *Conn) Fd() int {
	if c.sock == nil {
		return -1
	}
	return c.sock.fd
}

func (c *Conn) Status() uint16        { return c.status }
func (c *Conn) Warnings() uint16      { return c.warnings }
func (c *Conn) InsertID() uint64      { return c.lastInsertID }
func (c *Conn) AffectedRows() uint64  { return c.affectedRows }
func (c *Conn) Info() string          { return c.lastInfo }
func (c *Conn) ThreadID() uint32      { return c.threadID }
func (c *Conn) ServerVersion() string { return c.serverVersion }
func (c *Conn) LastError() *StatusError { return c.lastErr }
func (c *Conn) MoreResults() bool     { return c.moreResults }
func (c *Conn) Fields() []*Field      { return c.fields }
func (c *Conn) Rows() []Row           { return c.rows }
func (c *Conn) StmtID() uint32        { return c.stmtID }
func (c *Conn) StmtParamCount() int   { return int(c.stmtParams) }
func (c *Conn) StmtFieldCount() int   { return int(c.stmtFields) }

// RemainingTimeout reports the time left on whichever deadline is
// currently armed, for the Watcher Adapter's timer leg.
func (c *Conn) RemainingTimeout() time.Duration {
	if c.sock == nil {
		return 0
	}
	return c.sock.remaining()
}

// Close tears down the socket unconditionally (Lifecycle Manager
// teardown path). It is safe to call on an already-closed Conn.
func (c *Conn) Close() error {
	if c.sock == nil {
		return nil
	}
	err := c.sock.close()
	c.sock = nil
	return err
}

func (c *Conn) resetSeq() { c.seq = 0 }

// ConnectStart begins the connection. It dials a non-blocking socket
// and, if TLS options are set, refuses — this module is the connector
// spec.md treats as an external collaborator for TLS, so it does not
// attempt to speak TLS itself (spec.md §1 Non-goals: "TLS negotiation
// logic (delegated to the connector)").
func (c *Conn) ConnectStart(cfg ConnectConfig) (WaitSet, bool, error) {
	if cfg.SSLKey != "" || cfg.SSLCert != "" || cfg.SSLCA != "" {
		return 0, false, errUsage("TLS is not implemented by this connector; " +
			"dial a pre-wrapped tls.Conn fd and omit SSL options")
	}
	c.cfg = cfg
	fd, err := dialNonblocking(cfg)
	if err != nil {
		return 0, false, err
	}
	c.sock = newRawSocket(fd)
	c.sock.armDeadline(cfg.ConnectTimeout)
	c.connectPhase = phaseDialing
	return c.driveConnect()
}

func (c *Conn) ConnectContinue(WaitSet) (WaitSet, bool, error) {
	return c.driveConnect()
}

func (c *Conn) driveConnect() (WaitSet, bool, error) {
	for {
		switch c.connectPhase {
		case phaseDialing:
			done, ws, err := pollConnect(c.sock.fd)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			c.sock.armDeadline(c.cfg.ReadTimeout)
			c.connectPhase = phaseGreeting

		case phaseGreeting:
			payload, done, ws, err := c.pr.readPacket(c.sock, &c.seq)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			if isErrPacket(payload) {
				se := decodeErrPacket(payload)
				return 0, false, se
			}
			g, err := decodeGreeting(payload)
			if err != nil {
				return 0, false, err
			}
			c.greet = g
			c.serverCaps = g.serverCaps
			c.threadID = g.threadID
			c.serverVersion = g.serverVersion
			c.clientCaps = clientCapabilities(c.cfg, g.serverCaps)
			c.scrambled = scramblePassword(g.authPluginName, c.cfg.Password, g.scramble)
			c.resetSeq()
			c.seq = 1
			c.pendingAuthPacket = buildHandshakeResponse(g, c.cfg, c.scrambled, c.clientCaps)
			c.pw.reset()
			c.connectPhase = phaseWritingAuth

		case phaseWritingAuth:
			done, ws, err := c.pw.writePacket(c.sock, &c.seq, c.pendingAuthPacket)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			c.connectPhase = phaseReadingAuthResult

		case phaseReadingAuthResult:
			payload, done, ws, err := c.pr.readPacket(c.sock, &c.seq)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			switch {
			case isErrPacket(payload):
				return 0, false, decodeErrPacket(payload)
			case len(payload) > 0 && payload[0] == 0xfe && len(payload) > 1:
				plugin, data, err := decodeAuthSwitch(payload)
				if err != nil {
					return 0, false, err
				}
				c.scrambled = scramblePassword(plugin, c.cfg.Password, data)
				c.pendingAuthPacket = append([]byte{}, c.scrambled...)
				c.pw.reset()
				c.connectPhase = phaseWritingAuthSwitch
			case len(payload) > 0 && payload[0] == 0x01 && len(payload) > 1 && payload[1] == 4:
				return 0, false, ErrUnknownAuth
			case len(payload) > 0 && payload[0] == 0x01 && len(payload) > 1 && payload[1] == 3:
				// cachingSha2PasswordFastAuthSuccess: one more OK follows.
			default:
				ok, err := decodeOKPacket(payload)
				if err != nil {
					return 0, false, err
				}
				c.status = ok.Status
				if c.cfg.InitCommand == "" {
					c.connectPhase = phaseDone
					return 0, true, nil
				}
				c.connectPhase = phaseWritingInitCommand
			}

		case phaseWritingAuthSwitch:
			done, ws, err := c.pw.writePacket(c.sock, &c.seq, c.pendingAuthPacket)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			c.connectPhase = phaseReadingAuthResult

		case phaseWritingInitCommand:
			c.resetSeq()
			payload := append([]byte{comQuery}, []byte(c.cfg.InitCommand)...)
			done, ws, err := c.pw.writePacket(c.sock, &c.seq, payload)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			c.connectPhase = phaseReadingInitCommand

		case phaseReadingInitCommand:
			payload, done, ws, err := c.pr.readPacket(c.sock, &c.seq)
			if err != nil {
				return 0, false, err
			}
			if !done {
				return ws, false, nil
			}
			if isErrPacket(payload) {
				return 0, false, decodeErrPacket(payload)
			}
			c.connectPhase = phaseDone
			return 0, true, nil

		case phaseDone:
			return 0, true, nil
		}
	}
}

func dialNonblocking(cfg ConnectConfig) (int, error) {
	if cfg.UnixSocket != "" {
		return dialUnix(cfg.UnixSocket)
	}
	return dialTCP(cfg.Host, cfg.Port)
}

func dialTCP(host string, port int) (int, error) {
	addrs, err := net.LookupHost(host)
	if err != nil {
		return -1, err
	}
	ip := net.ParseIP(addrs[0])
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if ip.To4() == nil {
		fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
	}
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip4 != nil {
		var a unix.SockaddrInet4
		a.Port = port
		copy(a.Addr[:], ip4)
		sa = &a
	} else {
		var a unix.SockaddrInet6
		a.Port = port
		copy(a.Addr[:], ip.To16())
		sa = &a
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func dialUnix(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	err = unix.Connect(fd, &unix.SockaddrUnix{Name: path})
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// pollConnect checks whether a non-blocking connect() has finished by
// probing SO_ERROR; if it is still in progress it asks for a WaitWrite
// registration, exactly as the BSD sockets non-blocking connect idiom
// requires (writable fires once for both success and failure).
func pollConnect(fd int) (bool, WaitSet, error) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return false, 0, err
	}
	if errno == 0 {
		return true, 0, nil
	}
	if unix.Errno(errno) == unix.EINPROGRESS || unix.Errno(errno) == unix.EALREADY {
		return false, WaitWrite, nil
	}
	return false, 0, unix.Errno(errno)
}

func errUsage(text string) error {
	return &usageError{text: text}
}

type usageError struct{ text string }

func (e *usageError) Error() string { return "protocol: " + e.text }
