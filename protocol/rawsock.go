package protocol

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// rawSocket is a non-blocking byte pipe over a raw socket fd. It owns
// no event-loop integration itself (that is the watcher package's
// job); it only distinguishes "would block" from "real error" the way
// every operation in this package needs to, and accumulates partial
// reads/writes across repeated Continue calls.
//
// Grounded on the framing mymysql's native/packet.go performs against
// a *bufio.Reader/*bufio.Writer; the buffering role is the same, the
// source is a raw non-blocking fd instead of a blocking net.Conn.
type rawSocket struct {
	fd int

	rbuf       []byte
	rstart     int
	rend       int
	readClosed bool

	wbuf []byte
	woff int

	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	deadline       time.Time
}

func newRawSocket(fd int) *rawSocket {
	return &rawSocket{fd: fd, rbuf: make([]byte, 0, 4096)}
}

func (s *rawSocket) unread() int { return s.rend - s.rstart }

// fill performs one non-blocking read into the tail of the buffer.
// It returns (0, WaitRead, nil) on EAGAIN, (n, 0, nil) on progress,
// and (0, 0, io.EOF)-equivalent on orderly close.
func (s *rawSocket) fill() (int, WaitSet, error) {
	if s.rend == len(s.rbuf) {
		if s.rstart > 0 && s.unread() == 0 {
			s.rstart, s.rend = 0, 0
		}
		if s.rend == cap(s.rbuf) {
			grown := make([]byte, len(s.rbuf), cap(s.rbuf)*2+4096)
			copy(grown, s.rbuf)
			s.rbuf = grown
		}
		s.rbuf = s.rbuf[:cap(s.rbuf)]
	}
	n, err := unix.Read(s.fd, s.rbuf[s.rend:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, WaitRead, nil
		}
		if errors.Is(err, unix.EINTR) {
			return 0, WaitRead, nil
		}
		return 0, 0, err
	}
	if n == 0 {
		s.readClosed = true
		return 0, 0, ErrClosed
	}
	s.rend += n
	s.rbuf = s.rbuf[:s.rend]
	return n, 0, nil
}

// ensure guarantees at least n unread bytes are buffered, or reports
// the wait-set needed to make progress.
func (s *rawSocket) ensure(n int) (bool, WaitSet, error) {
	for s.unread() < n {
		got, ws, err := s.fill()
		if err != nil {
			return false, 0, err
		}
		if ws != 0 {
			return false, ws, nil
		}
		if got == 0 {
			return false, WaitRead, nil
		}
	}
	return true, 0, nil
}

// peek returns a view of the next n buffered bytes without consuming
// them. Caller must have called ensure(n) successfully first.
func (s *rawSocket) peek(n int) []byte {
	return s.rbuf[s.rstart : s.rstart+n]
}

func (s *rawSocket) advance(n int) {
	s.rstart += n
}

// queueWrite appends bytes to the pending write buffer. Safe to call
// incrementally; flush drains it.
func (s *rawSocket) queueWrite(b []byte) {
	s.wbuf = append(s.wbuf, b...)
}

// flush attempts to drain the pending write buffer via non-blocking
// writes, returning WaitWrite if the socket send buffer is full.
func (s *rawSocket) flush() (bool, WaitSet, error) {
	for s.woff < len(s.wbuf) {
		n, err := unix.Write(s.fd, s.wbuf[s.woff:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return false, WaitWrite, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return false, 0, err
		}
		s.woff += n
	}
	s.wbuf = s.wbuf[:0]
	s.woff = 0
	return true, 0, nil
}

func (s *rawSocket) close() error {
	return unix.Close(s.fd)
}

// remaining reports the time left until deadline, per spec.md §4.1's
// "timer duration is whatever the connector currently reports as its
// remaining timeout". Zero when no deadline is armed; negative once
// the deadline has passed.
func (s *rawSocket) remaining() time.Duration {
	if s.deadline.IsZero() {
		return 0
	}
	return time.Until(s.deadline)
}

func (s *rawSocket) armDeadline(d time.Duration) {
	if d <= 0 {
		s.deadline = time.Time{}
		return
	}
	s.deadline = time.Now().Add(d)
}
