package compiler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/sassbridge/internal/log"
)

// maxStderrLines bounds the stderr tail kept for error messages.
const maxStderrLines = 200

// stderrSettle is how long Send waits for a dying worker's stderr to drain.
const stderrSettle = time.Second

// persistentProcess manages one long-lived worker. A single goroutine reads
// stdout line by line so a cancelled Send never leaves a reader behind.
type persistentProcess struct {
	command    []string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	stderr     io.ReadCloser
	status     ProcessStatus
	cancelFunc context.CancelFunc
	ctx        context.Context
	mu         sync.RWMutex
	sendMu     sync.Mutex
	wg         sync.WaitGroup
	pipes      sync.WaitGroup

	lines chan []byte
	done  chan struct{}

	captureStderr bool
	stderrLines   []string
	stderrSeq     int
}

func newPersistentProcess(
	ctx context.Context,
	command []string,
	cancelFunc context.CancelFunc,
	cmd *exec.Cmd,
	stdin io.WriteCloser,
	stdout io.ReadCloser,
	stderr io.ReadCloser,
	captureStderr bool,
) *persistentProcess {
	return &persistentProcess{
		command:       command,
		cmd:           cmd,
		stdin:         stdin,
		stdout:        stdout,
		stderr:        stderr,
		status:        StatusPending,
		cancelFunc:    cancelFunc,
		ctx:           ctx,
		lines:         make(chan []byte, 1),
		done:          make(chan struct{}),
		captureStderr: captureStderr,
	}
}

func (p *persistentProcess) Command() []string {
	return slices.Clone(p.command)
}

// Status returns the current process status. Thread-safe.
func (p *persistentProcess) Status() ProcessStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *persistentProcess) setStatus(s ProcessStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// IsRunning returns true if the process is actively running.
func (p *persistentProcess) IsRunning() bool {
	return p.Status() == StatusRunning
}

// PID returns the OS process ID, or -1 if not started.
func (p *persistentProcess) PID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Send writes one request line and waits for the matching response line.
func (p *persistentProcess) Send(ctx context.Context, line []byte) (Output, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if !p.IsRunning() {
		return Output{Stderr: p.stderrSince(0)}, ErrProcessDied
	}

	mark := p.stderrMark()

	payload := line
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		payload = append(append([]byte(nil), line...), '\n')
	}
	if err := p.writeLine(ctx, payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return Output{Stderr: p.stderrSince(mark)}, ErrTimeout
			}
			return Output{}, ctxErr
		}
		p.awaitExit()
		return Output{Stderr: p.stderrSince(0)}, fmt.Errorf("%w: %v", ErrProcessDied, err)
	}

	select {
	case resp, ok := <-p.lines:
		if !ok {
			p.awaitExit()
			return Output{Stderr: p.stderrSince(0)}, ErrProcessDied
		}
		return Output{Stdout: resp, Stderr: p.stderrSince(mark)}, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Output{Stderr: p.stderrSince(mark)}, ErrTimeout
		}
		return Output{}, ctx.Err()
	}
}

// writeLine writes data to stdin unless ctx ends first. A worker that stops
// reading would otherwise block the caller past its deadline; the pending
// write is released when the process is stopped.
func (p *persistentProcess) writeLine(ctx context.Context, data []byte) error {
	written := make(chan error, 1)
	go func() {
		_, err := p.stdin.Write(data)
		written <- err
	}()
	select {
	case err := <-written:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown asks the worker to exit and stops it once ctx is done.
func (p *persistentProcess) Shutdown(ctx context.Context) error {
	if p.IsRunning() {
		p.sendMu.Lock()
		err := p.writeLine(ctx, []byte(`{"exit":true}`+"\n"))
		p.sendMu.Unlock()
		if err != nil {
			log.Debug(log.CatProcess, "Failed to send exit request", "error", err)
		}
		_ = p.stdin.Close()

		select {
		case <-p.done:
			log.Debug(log.CatProcess, "Persistent worker exited", "pid", p.PID())
		case <-ctx.Done():
			log.Warn(log.CatProcess, "Persistent worker ignored exit request, killing", "pid", p.PID())
		}
	}
	return p.Stop()
}

// Stop kills the process. It sets the status to Cancelled before calling the
// cancelFunc so waitForCompletion keeps it.
func (p *persistentProcess) Stop() error {
	p.mu.Lock()
	if !p.status.IsTerminal() && p.status != StatusCompleted {
		p.status = StatusCancelled
	}
	p.mu.Unlock()
	p.cancelFunc()
	p.wg.Wait()
	return nil
}

func (p *persistentProcess) startGoroutines() {
	p.wg.Add(3)
	p.pipes.Add(2)
	go p.readStdout()
	go p.readStderr()
	go p.waitForCompletion()
}

func (p *persistentProcess) readStdout() {
	defer p.wg.Done()
	defer p.pipes.Done()
	defer close(p.lines)

	reader := bufio.NewReader(p.stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			select {
			case p.lines <- line:
			case <-p.ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug(log.CatProcess, "stdout read error", "error", err)
			}
			return
		}
	}
}

func (p *persistentProcess) readStderr() {
	defer p.wg.Done()
	defer p.pipes.Done()

	scanner := bufio.NewScanner(p.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug(log.CatProcess, "STDERR", "line", line)

		if p.captureStderr {
			p.mu.Lock()
			p.stderrLines = append(p.stderrLines, line)
			p.stderrSeq++
			if len(p.stderrLines) > maxStderrLines {
				p.stderrLines = p.stderrLines[len(p.stderrLines)-maxStderrLines:]
			}
			p.mu.Unlock()
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug(log.CatProcess, "stderr scanner error", "error", err)
	}
}

// waitForCompletion waits for the process to exit and updates status. The
// pipes are drained first since Wait closes them.
func (p *persistentProcess) waitForCompletion() {
	defer p.wg.Done()
	defer close(p.done)

	p.pipes.Wait()
	err := p.cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusCancelled {
		log.Debug(log.CatProcess, "persistent worker was stopped")
		return
	}
	if err != nil {
		p.status = StatusFailed
		log.Debug(log.CatProcess, "persistent worker exited", "error", err)
		return
	}
	p.status = StatusCompleted
}

// awaitExit gives a dying worker a moment to flush stderr and be reaped.
func (p *persistentProcess) awaitExit() {
	select {
	case <-p.done:
	case <-time.After(stderrSettle):
	}
}

func (p *persistentProcess) stderrMark() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stderrSeq
}

// stderrSince returns the stderr lines captured after mark.
func (p *persistentProcess) stderrSince(mark int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := p.stderrSeq - mark
	if n <= 0 {
		return ""
	}
	if n > len(p.stderrLines) {
		n = len(p.stderrLines)
	}
	return strings.Join(p.stderrLines[len(p.stderrLines)-n:], "\n")
}
