package compiler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/worker"
)

// fakeLauncher runs the worker adapter in-process and counts every
// interaction, so tests can assert how many processes a call needed.
type fakeLauncher struct {
	mu      sync.Mutex
	adapter *worker.Adapter

	// respond replaces the adapter for one-shot runs when set.
	respond func(input []byte) (Output, error)
	// probeOK lists executables whose --version probe succeeds. Nil means
	// every probe succeeds.
	probeOK []string

	newProcesses int
	runs         int
	starts       int
	probes       []string
	requests     [][]byte
	persistent   []*fakePersistent
}

func newFakeLauncher(backend worker.Backend, limits protocol.Limits) *fakeLauncher {
	if backend == nil {
		backend = worker.BackendFunc(fakeSass)
	}
	return &fakeLauncher{adapter: worker.New(backend, worker.WithLimits(limits))}
}

func (l *fakeLauncher) NewProcess(command []string) Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.newProcesses++
	return &fakeProcess{launcher: l, command: slices.Clone(command), status: StatusPending}
}

func (l *fakeLauncher) StartPersistent(ctx context.Context, command []string) (PersistentProcess, error) {
	l.mu.Lock()
	l.starts++
	pid := 1000 + l.starts
	l.mu.Unlock()

	p := startFakePersistent(ctx, l.adapter, command, pid)

	l.mu.Lock()
	l.persistent = append(l.persistent, p)
	l.mu.Unlock()
	return p, nil
}

func (l *fakeLauncher) Probe(_ context.Context, command []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.probes = append(l.probes, command[0])
	if l.probeOK == nil || slices.Contains(l.probeOK, command[0]) {
		return nil
	}
	return errors.New("executable file not found in $PATH")
}

func (l *fakeLauncher) counts() (newProcesses, runs, starts int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.newProcesses, l.runs, l.starts
}

func (l *fakeLauncher) lastRequest() protocol.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	var req protocol.Request
	if len(l.requests) > 0 {
		_ = json.Unmarshal(l.requests[len(l.requests)-1], &req)
	}
	return req
}

// fakeProcess is a one-shot handle backed by fakeLauncher.
type fakeProcess struct {
	launcher *fakeLauncher
	command  []string

	mu     sync.Mutex
	status ProcessStatus
}

func (p *fakeProcess) Command() []string { return slices.Clone(p.command) }

func (p *fakeProcess) Status() ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakeProcess) IsRunning() bool { return !p.Status().IsTerminal() }

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusCancelled
	return nil
}

// kill marks the handle dead, as after a crash.
func (p *fakeProcess) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusFailed
}

func (p *fakeProcess) Run(ctx context.Context, input []byte) (Output, error) {
	l := p.launcher
	l.mu.Lock()
	l.runs++
	l.requests = append(l.requests, slices.Clone(input))
	respond := l.respond
	l.mu.Unlock()

	if respond != nil {
		return respond(input)
	}

	var out bytes.Buffer
	if err := l.adapter.RunOnce(ctx, bytes.NewReader(input), &out); err != nil && !errors.Is(err, worker.ErrInputTooLarge) {
		return Output{Stderr: err.Error()}, nil
	}

	p.mu.Lock()
	if !p.status.IsTerminal() {
		p.status = StatusCompleted
	}
	p.mu.Unlock()
	return Output{Stdout: out.Bytes()}, nil
}

// fakePersistent serves RunPersistent over in-memory pipes.
type fakePersistent struct {
	command []string
	pid     int

	stdin  *io.PipeWriter
	stdout *io.PipeReader
	reader *bufio.Reader
	done   chan struct{}

	mu    sync.Mutex
	lines int
}

func startFakePersistent(ctx context.Context, adapter *worker.Adapter, command []string, pid int) *fakePersistent {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	p := &fakePersistent{
		command: slices.Clone(command),
		pid:     pid,
		stdin:   inW,
		stdout:  outR,
		reader:  bufio.NewReader(outR),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		_ = adapter.RunPersistent(ctx, inR, outW)
		_ = outW.Close()
		_ = inR.Close()
	}()
	return p
}

func (p *fakePersistent) Command() []string { return slices.Clone(p.command) }

func (p *fakePersistent) PID() int { return p.pid }

func (p *fakePersistent) IsRunning() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakePersistent) Send(ctx context.Context, line []byte) (Output, error) {
	if !p.IsRunning() {
		return Output{}, ErrProcessDied
	}
	if _, err := p.stdin.Write(append(slices.Clone(line), '\n')); err != nil {
		return Output{}, ErrProcessDied
	}

	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		l, err := p.reader.ReadBytes('\n')
		ch <- result{l, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && len(r.line) == 0 {
			return Output{}, ErrProcessDied
		}
		p.mu.Lock()
		p.lines++
		p.mu.Unlock()
		return Output{Stdout: r.line}, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Output{}, ErrTimeout
		}
		return Output{}, ctx.Err()
	}
}

func (p *fakePersistent) Shutdown(ctx context.Context) error {
	if p.IsRunning() {
		_, _ = p.stdin.Write(append(protocol.ExitRequest(), '\n'))
		select {
		case <-p.done:
		case <-ctx.Done():
		}
	}
	return p.Stop()
}

func (p *fakePersistent) Stop() error {
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	<-p.done
	return nil
}

// kill simulates the worker dying between requests.
func (p *fakePersistent) kill() {
	_ = p.Stop()
}

func (p *fakePersistent) answered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines
}

// newMemFs returns an in-memory file system holding files.
func newMemFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		if err := afero.WriteFile(fs, name, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return fs
}
