// Package relay turns one request payload into one worker subprocess
// invocation and streams the worker's line-oriented stdout back through a
// Sink, with bounded lifetime and deterministic cleanup.
//
// Overview
//
// A Relay is single-use: it owns exactly one spawned worker and is destroyed
// on exactly one of worker exit, timeout fire, or caller cancellation. The
// payload is written verbatim to the worker's stdin, which is then closed to
// signal end of input. Every complete newline-terminated stdout line that is
// non-empty after trimming becomes one Sink.Data call, forwarded verbatim.
// Stderr lines become non-fatal Sink.Error calls and never terminate the
// worker.
//
// Data flow:
//
//	caller                    Relay.Run                    worker
//	  |                          |                           |
//	  | payload ---------------->| spawn, write stdin, close |
//	  |                          |-------------------------->|
//	  |                          | select loop               |
//	  |<----- Sink.Data ---------|<---- stdout lines --------|
//	  |<----- Sink.Error --------|<---- stderr lines --------|
//	  |                          |<---- exit / timer / ctx   |
//	  |<----- Result ------------|                           |
//
// The select loop multiplexes five event sources: stdout lines, stderr
// lines, worker exit, the timeout timer and caller cancellation. All Relay
// state is mutated from that one goroutine; the only cross-goroutine
// concern, writes racing stream closure, is guarded by the streamClosed
// flag.
//
// Invariants:
//   - Exactly one terminal state is ever reached, and at most one terminal
//     error event is ever emitted.
//   - The trailing unterminated stdout fragment, if any, is flushed as the
//     last data event before the stream closes (best-effort: it may not be
//     valid JSON and is forwarded anyway).
//   - Timeout and cancellation share one termination procedure: SIGTERM at
//     once, SIGKILL if the worker is still alive when the grace period
//     elapses. The stream closes immediately, not after the kill.
//   - A Sink write that fails or panics marks the stream closed and is
//     otherwise absorbed; it never propagates to the caller.
package relay
