package compiler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/tracing"
)

// exchange is one request payload bound for a worker.
type exchange struct {
	id         string
	payload    []byte
	persistent bool
}

// CompileString compiles source and returns the CSS with any source map
// comment appended. Whitespace-only source returns "" without running a
// worker.
func (c *Client) CompileString(ctx context.Context, source string, opts protocol.Options) (string, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanCompileString,
		trace.WithAttributes(attribute.Int(tracing.AttrSourceBytes, len(source))))
	defer span.End()

	if strings.TrimSpace(source) == "" {
		return "", nil
	}

	merged, err := c.mergeOptions(opts)
	if err != nil {
		return "", recordError(span, err)
	}

	css, err := c.compileSource(ctx, source, merged, false, true)
	if err != nil {
		return "", recordError(span, err)
	}
	span.SetAttributes(attribute.Int(tracing.AttrCSSBytes, len(css)))
	return css, nil
}

// CompileFile reads path and compiles it. When no URL is given the source
// URL defaults to file://<absolute path> so maps reference the real file.
func (c *Client) CompileFile(ctx context.Context, path string, opts protocol.Options) (string, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanCompileFile,
		trace.WithAttributes(attribute.String(tracing.AttrInputPath, path)))
	defer span.End()

	merged, err := c.mergeOptions(opts)
	if err != nil {
		return "", recordError(span, err)
	}

	css, err := c.compileFile(ctx, path, merged, false)
	return css, recordError(span, err)
}

// CompileFileWithoutSourceMap compiles path with source maps off, whatever
// the defaults or opts request, so no map comment is appended and no sidecar
// file is written. It uses the persistent worker when persistent mode is on.
func (c *Client) CompileFileWithoutSourceMap(ctx context.Context, path string, opts protocol.Options) (string, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanCompileFile,
		trace.WithAttributes(attribute.String(tracing.AttrInputPath, path)))
	defer span.End()

	merged, err := c.mergeOptions(opts)
	if err != nil {
		return "", recordError(span, err)
	}
	merged.SourceMap = protocol.Bool(false)
	merged.SourceMapPath = ""

	css, err := c.compileFile(ctx, path, merged, c.PersistentModeEnabled())
	return css, recordError(span, err)
}

func (c *Client) compileFile(ctx context.Context, path string, opts protocol.Options, persistent bool) (string, error) {
	exists, err := afero.Exists(c.fs, path)
	if err != nil || !exists {
		return "", errorf(KindInput, ErrFileNotFound, "File not found: %s", path)
	}

	content, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return "", wrapError(KindInput, "Unable to read file: "+path, errors.Join(ErrFileUnreadable, err))
	}

	if strings.TrimSpace(string(content)) == "" {
		return "", nil
	}

	if opts.URL == "" {
		opts.URL = FileURL(c.fs, path)
	}

	// The entry file's text does not cover its imports, so file compiles
	// never go through the response cache.
	return c.compileSource(ctx, string(content), opts, persistent, false)
}

// CompileFileAndSave compiles inputPath into outputPath when the input is
// newer than the output, a missing output counting as infinitely old. It
// reports whether a compile happened. A requested source map without an
// explicit path is written next to the output.
func (c *Client) CompileFileAndSave(ctx context.Context, inputPath, outputPath string, opts protocol.Options) (bool, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanCompileSave, trace.WithAttributes(
		attribute.String(tracing.AttrInputPath, inputPath),
		attribute.String(tracing.AttrOutputPath, outputPath),
	))
	defer span.End()

	inInfo, err := c.fs.Stat(inputPath)
	if err != nil {
		return false, recordError(span, errorf(KindInput, ErrFileNotFound, "Source file not found: %s", inputPath))
	}

	var outMtime time.Time
	if outInfo, err := c.fs.Stat(outputPath); err == nil {
		outMtime = outInfo.ModTime()
	}

	if !inInfo.ModTime().After(outMtime) {
		log.Debug(log.CatClient, "Output is up to date", "input", inputPath, "output", outputPath)
		span.AddEvent(tracing.EventSaveSkipped)
		return false, nil
	}

	if err := c.save(ctx, inputPath, outputPath, opts); err != nil {
		return false, recordError(span, err)
	}
	return true, nil
}

// CompileFileTo compiles inputPath into outputPath regardless of
// modification times. Watchers use it when an imported partial changed and
// the entry file did not.
func (c *Client) CompileFileTo(ctx context.Context, inputPath, outputPath string, opts protocol.Options) error {
	ctx, span := c.tracer.Start(ctx, tracing.SpanCompileSave, trace.WithAttributes(
		attribute.String(tracing.AttrInputPath, inputPath),
		attribute.String(tracing.AttrOutputPath, outputPath),
	))
	defer span.End()

	if _, err := c.fs.Stat(inputPath); err != nil {
		return recordError(span, errorf(KindInput, ErrFileNotFound, "Source file not found: %s", inputPath))
	}
	return recordError(span, c.save(ctx, inputPath, outputPath, opts))
}

// save compiles and writes the output, and the sidecar map when one is
// requested without an explicit path.
func (c *Client) save(ctx context.Context, inputPath, outputPath string, opts protocol.Options) error {
	merged, err := c.mergeOptions(opts)
	if err != nil {
		return err
	}
	if merged.WantsSourceMap() && merged.SourceMapPath == "" {
		merged.SourceMapPath = outputPath
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			return errorf(KindOutput, err, "Unable to write file: %s", outputPath)
		}
	}

	css, err := c.compileFile(ctx, inputPath, merged, false)
	if err != nil {
		return err
	}

	if err := afero.WriteFile(c.fs, outputPath, []byte(css), 0o644); err != nil {
		return errorf(KindOutput, err, "Unable to write file: %s", outputPath)
	}

	log.Info(log.CatClient, "Compiled", "input", inputPath, "output", outputPath, "bytes", len(css))
	return nil
}

// FileURL returns file://<absolute path> for path. On the OS file system
// symlinks are resolved first.
func FileURL(fs afero.Fs, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if _, ok := fs.(*afero.OsFs); ok {
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
	}
	return "file://" + filepath.ToSlash(abs)
}

// compileSource runs one request and renders the final CSS.
func (c *Client) compileSource(ctx context.Context, source string, opts protocol.Options, persistent, cacheable bool) (string, error) {
	resp, err := c.send(ctx, protocol.NewRequest(source, opts), persistent, cacheable)
	if err != nil {
		return "", err
	}
	return c.buildCSS(ctx, resp, opts)
}

// buildCSS reassembles the CSS and appends the rendered map comment.
func (c *Client) buildCSS(ctx context.Context, resp protocol.Response, opts protocol.Options) (string, error) {
	css := resp.FullCSS()

	m, err := resp.FullSourceMap()
	if err != nil {
		return "", wrapError(KindProtocol, invalidResponseMsg(false), err)
	}
	if m == nil {
		return css, nil
	}

	comment, err := c.renderSourceMap(ctx, m, opts)
	if err != nil {
		return "", err
	}
	return css + comment, nil
}

// send encodes req and exchanges it with a worker, through the response
// cache when one is configured and the request is cacheable.
func (c *Client) send(ctx context.Context, req protocol.Request, persistent, cacheable bool) (protocol.Response, error) {
	payload, err := encodeRequest(req)
	if err != nil {
		return protocol.Response{}, errorf(KindInput, err, "Unable to encode request: %v", err)
	}

	ex := exchange{
		id:         uuid.NewString(),
		payload:    payload,
		persistent: persistent,
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String(tracing.AttrRequestID, ex.id))

	if c.responses == nil || !cacheable {
		return c.roundTrip(ctx, ex)
	}
	return c.responses.Get(ctx, payloadKey(payload), ex, c.cacheTTL)
}

// roundTrip runs one exchange on the selected path and parses the reply.
func (c *Client) roundTrip(ctx context.Context, ex exchange) (protocol.Response, error) {
	mode := "oneshot"
	if ex.persistent {
		mode = "persistent"
	}
	log.Debug(log.CatClient, "Sending request", "id", ex.id, "mode", mode, "bytes", len(ex.payload))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(tracing.AttrMode, mode))

	var out Output
	var err error
	if ex.persistent {
		out, err = c.sendPersistent(ctx, ex.payload)
	} else {
		out, err = c.runOneShot(ctx, ex.payload)
	}
	if err != nil {
		return protocol.Response{}, err
	}

	resp, err := parseOutput(out, ex.persistent)
	if err != nil {
		log.Debug(log.CatClient, "Request failed", "id", ex.id, "error", err)
		return protocol.Response{}, err
	}
	trace.SpanFromContext(ctx).AddEvent(tracing.EventResponseParsed, trace.WithAttributes(
		attribute.Bool(tracing.AttrStreamed, resp.IsStreamed),
		attribute.Int(tracing.AttrChunks, len(resp.Chunks)),
	))
	return resp, nil
}

func (c *Client) runOneShot(ctx context.Context, payload []byte) (Output, error) {
	proc := c.pool.Acquire(c.launcher, c.Command(FlagStdin))

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := proc.Run(ctx, payload)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, ErrTimeout):
		return out, errorf(KindProcess, err, "Sass process failed: timed out after %s", c.timeout)
	default:
		return out, errorf(KindProcess, err, "Sass process failed: %s", failureDetail(out.Stderr, err))
	}
}

// parseOutput turns raw worker output into a response or a tagged error.
func parseOutput(out Output, persistent bool) (protocol.Response, error) {
	stdout := bytes.TrimSpace(out.Stdout)
	if len(stdout) == 0 {
		return protocol.Response{}, wrapError(KindProcess,
			processFailedPrefix(persistent)+failureDetail(out.Stderr, nil), ErrProcessDied)
	}

	resp, err := protocol.DecodeResponse(stdout)
	if err != nil {
		return protocol.Response{}, wrapError(KindProtocol, invalidResponseMsg(persistent), err)
	}

	if resp.Error != "" {
		switch resp.ErrorType {
		case protocol.ErrorTypeResource:
			return protocol.Response{}, newError(KindResource, "Sass input rejected: "+resp.Error)
		case protocol.ErrorTypeProtocol:
			return protocol.Response{}, newError(KindProtocol, "Sass request rejected: "+resp.Error)
		default:
			return protocol.Response{}, newError(KindCompilation, "Sass parsing error: "+resp.Error)
		}
	}
	return resp, nil
}

func processFailedPrefix(persistent bool) string {
	if persistent {
		return "Sass persistent process failed: "
	}
	return "Sass process failed: "
}

func invalidResponseMsg(persistent bool) string {
	if persistent {
		return "Invalid response from sass persistent bridge"
	}
	return "Invalid response from sass bridge"
}

func failureDetail(stderr string, err error) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}

func encodeRequest(req protocol.Request) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func payloadKey(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
