package watcher

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// EpollLoop is the concrete, production Loop: one epoll instance plus
// one timerfd, driven by a single goroutine in Run. It never touches
// Go's net package or runtime netpoller — every fd it watches was
// opened non-blocking by the protocol package directly, so epoll_wait
// is the only thing deciding readiness.
type EpollLoop struct {
	epfd    int
	timerfd int

	mu       sync.Mutex
	watchers map[int]*registration
	timerCb  func()

	closed bool
}

type registration struct {
	want  Want
	ready func(Want)
}

func NewEpollLoop() (*EpollLoop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	l := &EpollLoop{epfd: epfd, timerfd: tfd, watchers: make(map[int]*registration)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, tfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(tfd),
	}); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func toEpollEvents(w Want) uint32 {
	var ev uint32
	if w.Read() {
		ev |= unix.EPOLLIN
	}
	if w.Write() {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (l *EpollLoop) Watch(fd int, want Want, ready func(Want)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, existed := l.watchers[fd]
	if want == 0 {
		if existed {
			delete(l.watchers, fd)
			return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		}
		return nil
	}
	ev := &unix.EpollEvent{Events: toEpollEvents(want), Fd: int32(fd)}
	l.watchers[fd] = &registration{want: want, ready: ready}
	op := unix.EPOLL_CTL_MOD
	if !existed {
		op = unix.EPOLL_CTL_ADD
	}
	return unix.EpollCtl(l.epfd, op, fd, ev)
}

func (l *EpollLoop) Forget(fd int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.watchers[fd]; ok {
		delete(l.watchers, fd)
		unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
}

func (l *EpollLoop) WatchTimer(d time.Duration, fire func()) error {
	l.mu.Lock()
	l.timerCb = fire
	l.mu.Unlock()
	spec := &unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if d <= 0 {
		spec.Value = unix.NsecToTimespec(1)
	}
	return unix.TimerfdSettime(l.timerfd, 0, spec, nil)
}

func (l *EpollLoop) CancelTimer() {
	l.mu.Lock()
	l.timerCb = nil
	l.mu.Unlock()
	var spec unix.ItimerSpec
	unix.TimerfdSettime(l.timerfd, 0, &spec, nil)
}

// Run polls epoll_wait in a loop until stop closes, dispatching
// readiness callbacks synchronously from this goroutine so a ready
// callback is never invoked concurrently with another for the same
// Loop, per the reentrancy contract the client package's callback
// invoker depends on.
func (l *EpollLoop) Run(stop <-chan struct{}) error {
	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		n, err := unix.EpollWait(l.epfd, events, 1000)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.timerfd {
				l.handleTimerFired()
				continue
			}
			l.handleFdReady(fd, events[i].Events)
		}
	}
}

func (l *EpollLoop) handleTimerFired() {
	var buf [8]byte
	unix.Read(l.timerfd, buf[:])
	l.mu.Lock()
	cb := l.timerCb
	l.timerCb = nil
	l.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (l *EpollLoop) handleFdReady(fd int, events uint32) {
	l.mu.Lock()
	reg, ok := l.watchers[fd]
	l.mu.Unlock()
	if !ok {
		return
	}
	var got Want
	if events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		got |= WantRead
	}
	if events&unix.EPOLLOUT != 0 {
		got |= WantWrite
	}
	if got != 0 {
		reg.ready(got)
	}
}

// Close releases the epoll and timer file descriptors. Not safe to
// call concurrently with Run.
func (l *EpollLoop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	err1 := unix.Close(l.timerfd)
	err2 := unix.Close(l.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}
