package compiler

// ProcessStatus represents the state of a worker process handle.
type ProcessStatus int

const (
	// StatusPending indicates the handle has not run yet.
	StatusPending ProcessStatus = iota
	// StatusRunning indicates the process is executing.
	StatusRunning
	// StatusCompleted indicates the last run ended normally.
	StatusCompleted
	// StatusFailed indicates the process could not start, crashed or timed out.
	StatusFailed
	// StatusCancelled indicates the handle was stopped.
	StatusCancelled
)

// String returns a human-readable string representation of the status.
func (s ProcessStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the handle can no longer be used.
func (s ProcessStatus) IsTerminal() bool {
	return s == StatusFailed || s == StatusCancelled
}

// PersistentState is the lifecycle of a Client's persistent worker.
type PersistentState int

const (
	PersistentAbsent PersistentState = iota
	PersistentStarting
	PersistentRunning
	PersistentStopping
)

func (s PersistentState) String() string {
	switch s {
	case PersistentAbsent:
		return "absent"
	case PersistentStarting:
		return "starting"
	case PersistentRunning:
		return "running"
	case PersistentStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
