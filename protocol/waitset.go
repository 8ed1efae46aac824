// Package protocol implements the non-blocking MariaDB/MySQL wire
// protocol connector that the client's state machine drives through
// repeated Start/Continue calls, one connection at a time.
//
// It is the non-blocking re-cut of the protocol mymysql's native
// package speaks blockingly: packet framing, the handshake/auth
// dance, the text and binary result-set formats, and the command
// packets are the same wire bytes; the difference is that every
// operation here is expressed as a small state machine that reports
// a WaitSet instead of blocking in a read or write syscall.
package protocol

// WaitSet is the set of conditions that must become true on the
// connection's socket before a Start or Continue call can make
// further progress. It is the connector-side half of the contract
// the Watcher Adapter turns into event-loop registrations.
type WaitSet uint8

const (
	WaitRead WaitSet = 1 << iota
	WaitWrite
	WaitTimeout
)

func (w WaitSet) Read() bool    { return w&WaitRead != 0 }
func (w WaitSet) Write() bool   { return w&WaitWrite != 0 }
func (w WaitSet) Timeout() bool { return w&WaitTimeout != 0 }

func (w WaitSet) String() string {
	if w == 0 {
		return "none"
	}
	s := ""
	if w.Read() {
		s += "R"
	}
	if w.Write() {
		s += "W"
	}
	if w.Timeout() {
		s += "T"
	}
	return s
}
