package compiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/zjrosen/sassbridge/internal/log"
)

// SpawnBuilder provides a fluent API for starting a persistent worker. It
// owns context setup, pipe creation and process start.
type SpawnBuilder struct {
	ctx            context.Context
	execPath       string
	args           []string
	workDir        string
	env            []string
	captureStderr  bool
	commandFactory CommandFactoryFunc
}

// NewSpawnBuilder creates a new SpawnBuilder. The process lives until ctx is
// done or it is shut down.
func NewSpawnBuilder(ctx context.Context) *SpawnBuilder {
	return &SpawnBuilder{ctx: ctx}
}

// WithExecutable sets the executable path and arguments.
func (b *SpawnBuilder) WithExecutable(path string, args []string) *SpawnBuilder {
	b.execPath = path
	b.args = args
	return b
}

// WithWorkDir sets the working directory for the process.
func (b *SpawnBuilder) WithWorkDir(dir string) *SpawnBuilder {
	b.workDir = dir
	return b
}

// WithEnv sets additional environment variables to append to os.Environ().
// Variables are in the format "KEY=VALUE".
func (b *SpawnBuilder) WithEnv(env []string) *SpawnBuilder {
	b.env = env
	return b
}

// WithStderrCapture enables stderr line capture for error messages.
func (b *SpawnBuilder) WithStderrCapture(capture bool) *SpawnBuilder {
	b.captureStderr = capture
	return b
}

// WithCommandFactory sets a custom command factory for testing.
func (b *SpawnBuilder) WithCommandFactory(fn CommandFactoryFunc) *SpawnBuilder {
	b.commandFactory = fn
	return b
}

// Build validates the configuration, creates the pipes and starts the
// process. On error, all created resources are cleaned up.
func (b *SpawnBuilder) Build() (*persistentProcess, error) {
	if b.execPath == "" {
		return nil, fmt.Errorf("spawn builder: executable path is required")
	}

	procCtx, cancel := context.WithCancel(b.ctx)

	var cmd *exec.Cmd
	var stdin io.WriteCloser
	var stdout io.ReadCloser
	var stderr io.ReadCloser

	cleanup := func() {
		cancel()
		if stdin != nil {
			_ = stdin.Close()
		}
		if stdout != nil {
			_ = stdout.Close()
		}
		if stderr != nil {
			_ = stderr.Close()
		}
	}

	if b.commandFactory != nil {
		cmd = b.commandFactory(procCtx, b.execPath, b.args...)
	} else {
		// #nosec G204 -- command line comes from client configuration
		cmd = exec.CommandContext(procCtx, b.execPath, b.args...)
	}
	cmd.Dir = b.workDir
	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}

	var err error
	stdin, err = cmd.StdinPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to create stdin pipe: %w", err)
	}
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to create stdout pipe: %w", err)
	}
	stderr, err = cmd.StderrPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to create stderr pipe: %w", err)
	}

	command := append([]string{b.execPath}, b.args...)
	p := newPersistentProcess(procCtx, command, cancel, cmd, stdin, stdout, stderr, b.captureStderr)

	log.Debug(log.CatProcess, "Spawning persistent worker",
		"execPath", b.execPath,
		"workDir", b.workDir)

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to start worker: %w", err)
	}

	log.Debug(log.CatProcess, "Persistent worker started", "pid", cmd.Process.Pid)

	p.setStatus(StatusRunning)
	p.startGoroutines()

	return p, nil
}
