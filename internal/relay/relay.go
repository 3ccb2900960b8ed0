package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	ErrNoCommand  = errors.New("relay: command must not be empty")
	ErrNoTimeout  = errors.New("relay: timeout must be positive")
	ErrAlreadyRun = errors.New("relay: Run may be called at most once")
)

// defaultGracePeriod is the window between the cooperative termination
// signal and the forced kill, shared by all termination paths.
const defaultGracePeriod = 5 * time.Second

// Config fully describes one worker invocation. It is passed in explicitly,
// the relay reads no ambient configuration.
type Config struct {
	Command string
	Args    []string
	Env     []string // nil inherits the parent environment
	Timeout time.Duration
}

// Relay bridges one request payload to one worker subprocess. Single-use:
// create with New, drive with Run, then discard.
type Relay struct {
	cfg   Config
	grace time.Duration

	mx           sync.Mutex
	state        State
	streamClosed bool

	buf    lineBuffer
	exited chan struct{} // closed once the worker is reaped (or never spawned)
}

func New(cfg Config) (*Relay, error) {
	if cfg.Command == "" {
		return nil, ErrNoCommand
	}
	if cfg.Timeout <= 0 {
		return nil, ErrNoTimeout
	}
	return &Relay{
		cfg:    cfg,
		grace:  defaultGracePeriod,
		state:  StateStarting,
		exited: make(chan struct{}),
	}, nil
}

// WithGracePeriod changes the kill escalation window.
// This method exists for a unit testing only.
func (r *Relay) WithGracePeriod(d time.Duration) *Relay {
	r.grace = d
	return r
}

// Exited is closed once the worker process has been reaped, which on the
// timeout and cancellation paths happens after Run has already returned.
func (r *Relay) Exited() <-chan struct{} {
	return r.exited
}

// Result describes the terminal outcome of one Run.
type Result struct {
	State    State
	ExitCode int // -1 unless the worker exited on its own
	Elapsed  time.Duration
}

// Run spawns the worker, writes payload to its stdin, closes stdin, and
// relays stdout lines to sink until the worker exits, the timeout fires, or
// ctx is cancelled. Exactly one terminal state is reached; all failures are
// surfaced through the sink, never returned.
func (r *Relay) Run(ctx context.Context, payload []byte, sink Sink) Result {
	start := time.Now()

	if r.State() != StateStarting {
		// Programming error, not a worker failure.
		slog.ErrorContext(ctx, "relay run called twice", "state", r.State().String(), "error", ErrAlreadyRun)
		return Result{State: r.State(), ExitCode: -1}
	}

	cmd := exec.Command(r.cfg.Command, r.cfg.Args...)
	if r.cfg.Env != nil {
		cmd.Env = r.cfg.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return r.spawnFailed(ctx, sink, start, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.spawnFailed(ctx, sink, start, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.spawnFailed(ctx, sink, start, err)
	}
	if err := cmd.Start(); err != nil {
		return r.spawnFailed(ctx, sink, start, err)
	}

	r.transition(StateRunning)
	slog.DebugContext(ctx, "worker started", "command", r.cfg.Command, "pid", cmd.Process.Pid)

	go func() {
		if _, err := stdin.Write(payload); err != nil {
			slog.DebugContext(ctx, "writing worker stdin", "error", err)
		}
		_ = stdin.Close()
	}()

	// loopDone unblocks reader sends once the select loop below has
	// returned, so an abandoned worker cannot strand its readers.
	loopDone := make(chan struct{})
	defer close(loopDone)

	lines := make(chan string)
	errLines := make(chan string)
	exitErr := make(chan error, 1)

	var readers sync.WaitGroup
	readers.Add(2)
	go r.readStdout(stdout, lines, loopDone, &readers)
	go readStderr(stderr, errLines, loopDone, &readers)
	go func() {
		readers.Wait()
		err := cmd.Wait()
		close(r.exited)
		exitErr <- err
	}()

	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()

	for {
		select {
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			r.emit(ctx, func() error { return sink.Data(line) })

		case line := <-errLines:
			r.emit(ctx, func() error {
				return sink.Error(ErrorEvent{
					Code:    CodeRuntimeError,
					Message: line,
				})
			})

		case err := <-exitErr:
			return r.exitOutcome(ctx, sink, start, cmd, err)

		case <-timer.C:
			r.transition(StateTimedOut)
			elapsed := time.Since(start)
			r.emit(ctx, func() error {
				return sink.Error(ErrorEvent{
					Code:      CodeTimeout,
					Message:   fmt.Sprintf("worker exceeded %s wall-clock budget", r.cfg.Timeout),
					TimeoutMs: r.cfg.Timeout.Milliseconds(),
					ElapsedMs: elapsed.Milliseconds(),
				})
			})
			r.closeStream()
			r.terminate(ctx, cmd)
			slog.WarnContext(ctx, "worker timed out", "timeout", r.cfg.Timeout, "elapsed", elapsed)
			return Result{State: StateTimedOut, ExitCode: -1, Elapsed: elapsed}

		case <-ctx.Done():
			// The caller is gone, there is nobody left to tell.
			r.transition(StateCancelled)
			r.closeStream()
			r.terminate(ctx, cmd)
			slog.DebugContext(ctx, "caller disconnected, worker terminated")
			return Result{State: StateCancelled, ExitCode: -1, Elapsed: time.Since(start)}
		}
	}
}

// readStdout feeds stdout chunks through the line buffer and, at EOF,
// flushes the trailing unterminated fragment as the last line.
func (r *Relay) readStdout(stdout io.Reader, lines chan<- string, loopDone <-chan struct{}, readers *sync.WaitGroup) {
	defer readers.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			for _, line := range r.buf.Feed(chunk[:n]) {
				select {
				case lines <- line:
				case <-loopDone:
					return
				}
			}
		}
		if err != nil {
			if rest := r.buf.Rest(); rest != "" {
				select {
				case lines <- rest:
				case <-loopDone:
				}
			}
			return
		}
	}
}

func readStderr(stderr io.Reader, errLines chan<- string, loopDone <-chan struct{}, readers *sync.WaitGroup) {
	defer readers.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		select {
		case errLines <- scanner.Text():
		case <-loopDone:
			return
		}
	}
}

// exitOutcome maps the worker's own exit into Completed or Errored. The
// trailing fragment, if any, was already flushed by the stdout reader.
func (r *Relay) exitOutcome(ctx context.Context, sink Sink, start time.Time, cmd *exec.Cmd, err error) Result {
	elapsed := time.Since(start)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		r.transition(StateCompleted)
		r.closeStream()
		slog.DebugContext(ctx, "worker completed", "elapsed", elapsed)
		return Result{State: StateCompleted, ExitCode: exitCode, Elapsed: elapsed}
	}

	r.transition(StateErrored)
	r.emit(ctx, func() error {
		return sink.Error(ErrorEvent{
			Code:     CodeExitError,
			Message:  fmt.Sprintf("worker exited abnormally: %v", err),
			ExitCode: &exitCode,
		})
	})
	r.closeStream()
	slog.WarnContext(ctx, "worker exited abnormally", "exit_code", exitCode, "error", err)
	return Result{State: StateErrored, ExitCode: exitCode, Elapsed: elapsed}
}

// spawnFailed handles process-creation failure: the relay never enters
// Running and no worker I/O is attempted.
func (r *Relay) spawnFailed(ctx context.Context, sink Sink, start time.Time, err error) Result {
	r.transition(StateErrored)
	r.emit(ctx, func() error {
		return sink.Error(ErrorEvent{
			Code:    CodeSpawnError,
			Message: fmt.Sprintf("spawning worker: %v", err),
		})
	})
	r.closeStream()
	close(r.exited)
	slog.ErrorContext(ctx, "spawning worker failed", "command", r.cfg.Command, "error", err)
	return Result{State: StateErrored, ExitCode: -1, Elapsed: time.Since(start)}
}

// terminate requests cooperative shutdown and schedules the forced kill.
// It returns immediately, the escalation runs in the background.
func (r *Relay) terminate(ctx context.Context, cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(unix.SIGTERM); err != nil {
		slog.DebugContext(ctx, "sending SIGTERM", "error", err)
	}
	grace := r.grace
	go func() {
		select {
		case <-r.exited:
		case <-time.After(grace):
			_ = cmd.Process.Signal(unix.SIGKILL)
		}
	}()
}

// emit performs one guarded sink write. Writes after stream closure are
// skipped; a failing or panicking write closes the stream and is absorbed.
func (r *Relay) emit(ctx context.Context, write func() error) {
	r.mx.Lock()
	closed := r.streamClosed
	r.mx.Unlock()
	if closed {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.closeStream()
			slog.DebugContext(ctx, "absorbed write to closed stream", "panic", p)
		}
	}()
	if err := write(); err != nil {
		r.closeStream()
		slog.DebugContext(ctx, "outbound stream write failed", "error", err)
	}
}

func (r *Relay) closeStream() {
	r.mx.Lock()
	r.streamClosed = true
	r.mx.Unlock()
}
