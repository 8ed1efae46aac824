// Package aiomysql implements the non-blocking core of a
// MariaDB/MySQL client: a continuation-driven state machine over a
// wire-protocol connector (package protocol), a bounded-depth
// send/receive pipeline, and a reentrant lifecycle manager, all
// single-threaded and driven entirely by watcher.Loop callbacks.
//
// A typical host wires a watcher.EpollLoop, creates a Client with
// New, drives the loop's Run method on its own goroutine, and issues
// Connect followed by any number of Query/Prepare/Execute/Ping calls
// from within that same goroutine (callbacks run synchronously on the
// loop goroutine and may themselves enqueue further operations).
package aiomysql
