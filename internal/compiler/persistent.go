package compiler

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/tracing"
)

// shutdownGrace is how long DisablePersistentMode waits for the worker to
// act on the exit request when ctx has no deadline.
const shutdownGrace = 5 * time.Second

// EnablePersistentMode marks the Client as using a persistent worker. The
// worker itself starts on the first persistent compile. Idempotent.
func (c *Client) EnablePersistentMode() *Client {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if !c.persistentEnabled {
		log.Debug(log.CatClient, "Persistent mode enabled")
	}
	c.persistentEnabled = true
	return c
}

// PersistentModeEnabled reports whether persistent mode is on.
func (c *Client) PersistentModeEnabled() bool {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	return c.persistentEnabled
}

// PersistentState returns the lifecycle state of the persistent worker. A
// worker that died since the last call reports absent.
func (c *Client) PersistentState() PersistentState {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if c.persistentState == PersistentRunning && (c.persistent == nil || !c.persistent.IsRunning()) {
		return PersistentAbsent
	}
	return c.persistentState
}

// DisablePersistentMode sends the exit request to a running persistent
// worker, waits for it to finish and stops it. It is safe to call when no
// worker exists.
func (c *Client) DisablePersistentMode(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	defer func() {
		c.persistent = nil
		c.persistentState = PersistentAbsent
		c.persistentEnabled = false
	}()

	if c.persistent == nil {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, tracing.SpanPersistentStop,
		trace.WithAttributes(attribute.Int(tracing.AttrProcessPID, c.persistent.PID())))
	defer span.End()

	if !c.persistent.IsRunning() {
		return recordError(span, c.persistent.Stop())
	}

	c.setPersistentState(PersistentStopping)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownGrace)
		defer cancel()
	}

	if err := c.persistent.Shutdown(ctx); err != nil {
		return recordError(span, errorf(KindProcess, err, "Sass persistent process failed: %v", err))
	}
	return nil
}

// Close stops the persistent worker, if any.
func (c *Client) Close() error {
	return c.DisablePersistentMode(context.Background())
}

// CompileInPersistentMode compiles source like CompileString but through the
// persistent worker, starting it first when needed.
func (c *Client) CompileInPersistentMode(ctx context.Context, source string, opts protocol.Options) (string, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanCompilePersist,
		trace.WithAttributes(attribute.Int(tracing.AttrSourceBytes, len(source))))
	defer span.End()

	if strings.TrimSpace(source) == "" {
		return "", nil
	}

	merged, err := c.mergeOptions(opts)
	if err != nil {
		return "", recordError(span, err)
	}

	css, err := c.compileSource(ctx, source, merged, true, true)
	if err != nil {
		return "", recordError(span, err)
	}
	span.SetAttributes(attribute.Int(tracing.AttrCSSBytes, len(css)))
	return css, nil
}

// CompileFileInPersistentMode compiles a file like CompileFile through the
// persistent worker.
func (c *Client) CompileFileInPersistentMode(ctx context.Context, path string, opts protocol.Options) (string, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanCompilePersist,
		trace.WithAttributes(attribute.String(tracing.AttrInputPath, path)))
	defer span.End()

	merged, err := c.mergeOptions(opts)
	if err != nil {
		return "", recordError(span, err)
	}

	css, err := c.compileFile(ctx, path, merged, true)
	return css, recordError(span, err)
}

// sendPersistent exchanges one line with the persistent worker. The lock
// keeps the exchange half-duplex: request N+1 is written only after
// response N was read.
func (c *Client) sendPersistent(ctx context.Context, payload []byte) (Output, error) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	proc, err := c.ensurePersistent(ctx)
	if err != nil {
		return Output{}, errorf(KindProcess, err, "Sass persistent process failed: %v", err)
	}

	sendCtx := ctx
	if c.responseTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, c.responseTimeout)
		defer cancel()
	}

	out, err := proc.Send(sendCtx, payload)
	if err == nil {
		return out, nil
	}

	// The stream can no longer be paired with requests.
	_ = proc.Stop()
	c.persistent = nil
	c.setPersistentState(PersistentAbsent)

	switch {
	case errors.Is(err, ErrProcessDied):
		log.Warn(log.CatProcess, "Persistent worker died during request", "error", err)
		return out, nil
	case errors.Is(err, ErrTimeout):
		return out, errorf(KindProcess, err, "Sass persistent process failed: %v after %s", err, c.responseTimeout)
	default:
		return out, errorf(KindProcess, err, "Sass persistent process failed: %v", err)
	}
}

// ensurePersistent returns the running worker, starting one when absent or
// when the previous one died. Callers hold persistMu.
func (c *Client) ensurePersistent(ctx context.Context) (PersistentProcess, error) {
	if c.persistent != nil {
		if c.persistent.IsRunning() {
			return c.persistent, nil
		}
		log.Warn(log.CatProcess, "Persistent worker is not running, restarting", "pid", c.persistent.PID())
		_ = c.persistent.Stop()
		c.persistent = nil
		c.setPersistentState(PersistentAbsent)
	}

	ctx, span := c.tracer.Start(ctx, tracing.SpanPersistentStart)
	defer span.End()

	command := c.Command(FlagPersistent)
	c.setPersistentState(PersistentStarting)

	// The worker outlives the request that started it.
	proc, err := c.launcher.StartPersistent(context.WithoutCancel(ctx), command)
	if err != nil {
		c.setPersistentState(PersistentAbsent)
		return nil, recordError(span, err)
	}

	c.persistent = proc
	c.persistentEnabled = true
	c.setPersistentState(PersistentRunning)

	span.AddEvent(tracing.EventProcessSpawned, trace.WithAttributes(
		attribute.Int(tracing.AttrProcessPID, proc.PID()),
		attribute.String(tracing.AttrProcessCommand, strings.Join(command, " ")),
	))
	log.Debug(log.CatProcess, "Persistent worker running", "pid", proc.PID())
	return proc, nil
}

func (c *Client) setPersistentState(s PersistentState) {
	if c.persistentState != s {
		log.Debug(log.CatProcess, "Persistent state", "from", c.persistentState.String(), "to", s.String())
	}
	c.persistentState = s
}
