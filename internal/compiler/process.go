package compiler

import (
	"context"
	"os/exec"
)

// CommandFactoryFunc creates an exec.Cmd. Tests substitute it to run a helper
// binary instead of the real worker.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Output is what a worker wrote for one request.
type Output struct {
	Stdout []byte
	Stderr string
}

// Process is a one-shot worker handle. Each Run executes the command once,
// feeding input on stdin and collecting everything written before exit.
type Process interface {
	// Command returns the command line the handle executes.
	Command() []string
	// Run executes one request.
	Run(ctx context.Context, input []byte) (Output, error)
	// Status returns the handle status.
	Status() ProcessStatus
	// IsRunning reports whether the handle can still serve requests. A handle
	// whose last run could not start, crashed silently or timed out is not.
	IsRunning() bool
	// Stop retires the handle, killing a run in flight.
	Stop() error
}

// PersistentProcess is a long-lived worker serving one JSON line per request.
type PersistentProcess interface {
	Command() []string
	// Send writes one request line and reads one response line. Calls must
	// not overlap: request N+1 is only written after response N was read.
	Send(ctx context.Context, line []byte) (Output, error)
	IsRunning() bool
	PID() int
	// Shutdown sends the exit sentinel, waits for the process to act on it
	// until ctx is done, then stops it regardless.
	Shutdown(ctx context.Context) error
	// Stop kills the process without the exit handshake.
	Stop() error
}

// Launcher creates worker processes.
type Launcher interface {
	NewProcess(command []string) Process
	StartPersistent(ctx context.Context, command []string) (PersistentProcess, error)
	// Probe runs command to completion and reports whether it succeeded.
	Probe(ctx context.Context, command []string) error
}

// LauncherOption configures an ExecLauncher.
type LauncherOption func(*ExecLauncher)

// WithCommandFactory replaces exec.CommandContext.
func WithCommandFactory(fn CommandFactoryFunc) LauncherOption {
	return func(l *ExecLauncher) {
		l.commandFactory = fn
	}
}

// WithEnv appends "KEY=VALUE" variables to the inherited environment.
func WithEnv(env []string) LauncherOption {
	return func(l *ExecLauncher) {
		l.env = env
	}
}

// WithWorkDir sets the working directory of spawned processes.
func WithWorkDir(dir string) LauncherOption {
	return func(l *ExecLauncher) {
		l.workDir = dir
	}
}

// ExecLauncher launches workers as operating system processes.
type ExecLauncher struct {
	commandFactory CommandFactoryFunc
	env            []string
	workDir        string
}

// NewExecLauncher creates a Launcher backed by os/exec.
func NewExecLauncher(opts ...LauncherOption) *ExecLauncher {
	l := &ExecLauncher{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewProcess implements Launcher.
func (l *ExecLauncher) NewProcess(command []string) Process {
	return newOneShotProcess(command, l.commandFactory, l.env, l.workDir)
}

// StartPersistent implements Launcher.
func (l *ExecLauncher) StartPersistent(ctx context.Context, command []string) (PersistentProcess, error) {
	if len(command) == 0 {
		return nil, errEmptyCommand
	}
	return NewSpawnBuilder(ctx).
		WithExecutable(command[0], command[1:]).
		WithEnv(l.env).
		WithWorkDir(l.workDir).
		WithCommandFactory(l.commandFactory).
		WithStderrCapture(true).
		Build()
}

// Probe implements Launcher.
func (l *ExecLauncher) Probe(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return errEmptyCommand
	}
	cmd := l.command(ctx, command)
	return cmd.Run()
}

func (l *ExecLauncher) command(ctx context.Context, command []string) *exec.Cmd {
	return buildCommand(ctx, l.commandFactory, command, l.env, l.workDir)
}
