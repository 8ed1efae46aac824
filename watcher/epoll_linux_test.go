package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEpollLoopWatchesSocketPair(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	loop, err := NewEpollLoop()
	require.NoError(t, err)
	defer loop.Close()

	fired := make(chan Want, 1)
	require.NoError(t, loop.Watch(fds[0], WantRead, func(w Want) { fired <- w }))

	stop := make(chan struct{})
	runDone := make(chan struct{})
	go func() { loop.Run(stop); close(runDone) }()
	// Wait for Run to return before the deferred loop.Close runs.
	defer func() { close(stop); <-runDone }()

	_, err = unix.Write(fds[1], []byte("hi"))
	require.NoError(t, err)

	select {
	case w := <-fired:
		require.True(t, w.Read())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readability")
	}
}

func TestEpollLoopTimer(t *testing.T) {
	loop, err := NewEpollLoop()
	require.NoError(t, err)
	defer loop.Close()

	fired := make(chan struct{}, 1)
	require.NoError(t, loop.WatchTimer(10*time.Millisecond, func() { close(fired) }))

	stop := make(chan struct{})
	runDone := make(chan struct{})
	go func() { loop.Run(stop); close(runDone) }()
	// Wait for Run to return before the deferred loop.Close runs.
	defer func() { close(stop); <-runDone }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer")
	}
}

func TestEpollLoopForgetStopsDelivery(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	loop, err := NewEpollLoop()
	require.NoError(t, err)
	defer loop.Close()

	require.NoError(t, loop.Watch(fds[0], WantRead, func(Want) {
		t.Error("ready callback fired after Forget")
	}))
	loop.Forget(fds[0])

	stop := make(chan struct{})
	runDone := make(chan struct{})
	go func() { loop.Run(stop); close(runDone) }()
	// Wait for Run to return before the deferred loop.Close runs.
	defer func() { close(stop); <-runDone }()

	_, err = unix.Write(fds[1], []byte("hi"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
}
