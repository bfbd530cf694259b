package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sync"

	"github.com/zjrosen/sassbridge/internal/log"
)

var errEmptyCommand = errors.New("empty command line")

// oneShotProcess runs the worker once per request.
type oneShotProcess struct {
	command        []string
	commandFactory CommandFactoryFunc
	env            []string
	workDir        string

	mu     sync.Mutex
	status ProcessStatus
	cancel context.CancelFunc
	runs   int
}

func newOneShotProcess(command []string, factory CommandFactoryFunc, env []string, workDir string) *oneShotProcess {
	return &oneShotProcess{
		command:        slices.Clone(command),
		commandFactory: factory,
		env:            env,
		workDir:        workDir,
		status:         StatusPending,
	}
}

func (p *oneShotProcess) Command() []string {
	return slices.Clone(p.command)
}

func (p *oneShotProcess) Status() ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *oneShotProcess) IsRunning() bool {
	return !p.Status().IsTerminal()
}

func (p *oneShotProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.IsTerminal() {
		return nil
	}
	p.status = StatusCancelled
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

func (p *oneShotProcess) Run(ctx context.Context, input []byte) (Output, error) {
	if len(p.command) == 0 {
		return Output{}, errEmptyCommand
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.status.IsTerminal() {
		p.mu.Unlock()
		return Output{}, fmt.Errorf("process handle is %s", p.status)
	}
	p.status = StatusRunning
	p.cancel = cancel
	p.runs++
	run := p.runs
	p.mu.Unlock()

	var stdout, stderr bytes.Buffer
	cmd := buildCommand(runCtx, p.commandFactory, p.command, p.env, p.workDir)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug(log.CatProcess, "Running one-shot worker", "command", p.command[0], "run", run, "bytes", len(input))

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		p.finish(StatusFailed)
		return out, ErrTimeout
	case err != nil && !errors.As(err, &exitErr):
		p.finish(StatusFailed)
		return out, err
	case err != nil && len(bytes.TrimSpace(out.Stdout)) == 0:
		// Crashed without answering; the next request gets a fresh handle.
		log.Debug(log.CatProcess, "One-shot worker exited without output", "exit", exitErr.ExitCode())
		p.finish(StatusFailed)
		return out, nil
	default:
		p.finish(StatusCompleted)
		return out, nil
	}
}

func (p *oneShotProcess) finish(s ProcessStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel = nil
	if p.status == StatusCancelled {
		return
	}
	p.status = s
}

func buildCommand(ctx context.Context, factory CommandFactoryFunc, command []string, env []string, workDir string) *exec.Cmd {
	var cmd *exec.Cmd
	if factory != nil {
		cmd = factory(ctx, command[0], command[1:]...)
	} else {
		// #nosec G204 -- command line comes from client configuration
		cmd = exec.CommandContext(ctx, command[0], command[1:]...)
	}
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return cmd
}
