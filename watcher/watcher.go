// Package watcher implements the event-loop side of the Watcher
// Adapter spec.md §4.1 describes: translating a connector's
// {READ, WRITE, TIMEOUT} wait-set into registrations against a real
// OS readiness mechanism, and delivering events back as plain
// callbacks so the client package's state machine never has to know
// which event loop is driving it.
package watcher

import "time"

// Loop is the minimal interface the client package depends on.
// Grounded on the shape of the Reactor interface in
// momentics-hioload-ws (register/wait/notify), reduced to the three
// concerns this module actually needs: register a readable fd,
// register a writable fd, and arm a one-shot timer.
type Loop interface {
	// Watch arms exactly the registrations named by want for fd,
	// replacing whatever was previously armed for that fd. want with
	// no bits at all disarms every registration for fd. ready is
	// invoked from within the loop's Run goroutine, never
	// concurrently with another ready call for the same Loop.
	Watch(fd int, want Want, ready func(Want)) error

	// Forget removes every registration for fd. Safe to call even if
	// fd was never registered, or was already forgotten.
	Forget(fd int)

	// Run drives the loop until the passed channel closes.
	Run(stop <-chan struct{}) error
}

// Want is the subset of spec.md's {READ, WRITE, TIMEOUT} wait-set that
// applies to fd-level registration; the timer leg is armed separately
// via WatchTimer since it has no fd of its own.
type Want uint8

const (
	WantRead Want = 1 << iota
	WantWrite
)

func (w Want) Read() bool  { return w&WantRead != 0 }
func (w Want) Write() bool { return w&WantWrite != 0 }

// TimerLoop is implemented by loops that can also arm a one-shot
// deadline independent of any fd, for the connector's reported
// remaining timeout (spec.md §4.1's "the watcher's timer leg").
type TimerLoop interface {
	Loop
	WatchTimer(d time.Duration, fire func()) error
	CancelTimer()
}
