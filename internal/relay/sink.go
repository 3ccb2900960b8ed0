package relay

// ErrorCode identifies a relay failure class in a machine-readable way.
type ErrorCode string

const (
	// CodeSpawnError means the worker process could not be created at all.
	CodeSpawnError ErrorCode = "WORKER_SPAWN_ERROR"
	// CodeRuntimeError wraps one worker stderr line. Non-fatal.
	CodeRuntimeError ErrorCode = "WORKER_RUNTIME_ERROR"
	// CodeExitError means the worker terminated with a non-zero exit code.
	CodeExitError ErrorCode = "WORKER_EXIT_ERROR"
	// CodeTimeout means the worker exceeded its wall-clock budget.
	CodeTimeout ErrorCode = "WORKER_TIMEOUT"
)

// ErrorEvent is the structured error surfaced to the caller.
type ErrorEvent struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	TimeoutMs int64     `json:"timeoutMs,omitempty"`
	ElapsedMs int64     `json:"elapsedMs,omitempty"`
}

// Sink receives the relay's outbound stream. Data carries one worker stdout
// line verbatim; the relay imposes no schema on it. Implementations are
// called from a single goroutine. An error return (or a panic) marks the
// stream closed and suppresses all further calls.
type Sink interface {
	Data(line string) error
	Error(event ErrorEvent) error
}
