package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/protocol"
)

// ErrInputTooLarge is returned by RunOnce after it has reported an oversized
// request. The caller should exit non-zero.
var ErrInputTooLarge = errors.New("input too large")

const inputTooLargeMsg = "Input too large. Consider using streaming mode or splitting the input."

// Option configures an Adapter.
type Option func(*Adapter)

// WithLimits sets the size policy. Zero fields keep their defaults.
func WithLimits(l protocol.Limits) Option {
	return func(a *Adapter) {
		a.limits = l.WithDefaults()
	}
}

// Adapter serves compile requests on a pair of streams.
type Adapter struct {
	backend Backend
	limits  protocol.Limits
}

// New creates an Adapter around backend.
func New(backend Backend, opts ...Option) *Adapter {
	a := &Adapter{
		backend: backend,
		limits:  protocol.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Limits returns the adapter's size policy.
func (a *Adapter) Limits() protocol.Limits {
	return a.limits
}

// RunOnce reads a single request from in, compiles it and writes one response
// document to out.
func (a *Adapter) RunOnce(ctx context.Context, in io.Reader, out io.Writer) error {
	data, err := io.ReadAll(io.LimitReader(in, a.limits.MaxInputBytes+1))
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if int64(len(data)) > a.limits.MaxInputBytes {
		log.Warn(log.CatWorker, "Rejecting oversized input", "limit", a.limits.MaxInputBytes)
		if err := writeResponse(out, protocol.ErrorResponse(protocol.ErrorTypeResource, inputTooLargeMsg)); err != nil {
			return err
		}
		return ErrInputTooLarge
	}

	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	return writeResponse(out, a.Handle(ctx, data))
}

// RunPersistent serves newline-delimited requests until an exit request, the
// end of in, or cancellation of ctx. Blank lines are skipped. A malformed line
// is answered with an error line and the loop continues.
func (a *Adapter) RunPersistent(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReaderSize(in, 64*1024)
	served := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, tooLarge, readErr := readLine(reader, a.limits.MaxInputBytes)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("reading request: %w", readErr)
		}

		switch {
		case tooLarge:
			log.Warn(log.CatWorker, "Rejecting oversized request line", "limit", a.limits.MaxInputBytes)
			if err := writeResponse(out, protocol.ErrorResponse(protocol.ErrorTypeResource, inputTooLargeMsg)); err != nil {
				return err
			}
		case len(bytes.TrimSpace(line)) > 0:
			req, err := decodeRequest(line)
			if err == nil && req.Exit {
				log.Debug(log.CatWorker, "Exit requested", "served", served)
				return nil
			}
			var resp protocol.Response
			if err != nil {
				resp = protocol.ErrorResponse(protocol.ErrorTypeProtocol, err.Error())
			} else {
				resp = a.compile(ctx, req)
			}
			if err := writeResponse(out, resp); err != nil {
				return err
			}
			served++
		}

		if errors.Is(readErr, io.EOF) {
			log.Debug(log.CatWorker, "Input closed", "served", served)
			return nil
		}
	}
}

// Handle decodes one request document and produces its response.
func (a *Adapter) Handle(ctx context.Context, data []byte) protocol.Response {
	req, err := decodeRequest(data)
	if err != nil {
		return protocol.ErrorResponse(protocol.ErrorTypeProtocol, err.Error())
	}
	return a.compile(ctx, req)
}

func (a *Adapter) compile(ctx context.Context, req protocol.Request) protocol.Response {
	native, err := Translate(req)
	if err != nil {
		return protocol.ErrorResponse(protocol.ErrorTypeCompilation, err.Error())
	}

	if strings.TrimSpace(req.Source) == "" {
		return protocol.Response{}
	}

	result, err := a.backend.Compile(ctx, req.Source, native)
	if err != nil {
		log.Debug(log.CatWorker, "Compilation failed", "error", err)
		return protocol.ErrorResponse(protocol.ErrorTypeCompilation, err.Error())
	}

	resp := protocol.Response{CSS: result.CSS}
	if result.SourceMap != "" {
		var m protocol.SourceMap
		if err := json.Unmarshal([]byte(result.SourceMap), &m); err != nil {
			return protocol.ErrorResponse(protocol.ErrorTypeCompilation, fmt.Sprintf("decoding source map: %v", err))
		}
		resp.SourceMap = &m
	}

	if protocol.IsSet(req.Options.StreamResult) {
		a.chunk(&resp)
	}
	return resp
}

// chunk splits the CSS and the serialized map independently when each is
// larger than the stream threshold.
func (a *Adapter) chunk(resp *protocol.Response) {
	if len(resp.CSS) > a.limits.StreamThreshold {
		resp.Chunks = protocol.Chunk(resp.CSS, a.limits.ChunkSize)
		resp.IsStreamed = true
		resp.CSS = ""
	}

	if resp.SourceMap == nil {
		return
	}
	raw, err := json.Marshal(resp.SourceMap)
	if err != nil || len(raw) <= a.limits.StreamThreshold {
		return
	}
	resp.SourceMapChunks = protocol.Chunk(string(raw), a.limits.ChunkSize)
	resp.SourceMapIsStreamed = true
	resp.SourceMap = nil
}

func decodeRequest(data []byte) (protocol.Request, error) {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.Request{}, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

// writeResponse writes resp as one newline-terminated JSON line.
func writeResponse(out io.Writer, resp protocol.Response) error {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	if f, ok := out.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// readLine reads up to and including the next newline. Lines longer than max
// are consumed and discarded, and reported with tooLarge.
func readLine(r *bufio.Reader, max int64) (line []byte, tooLarge bool, err error) {
	var buf []byte
	var total int64
	for {
		frag, err := r.ReadSlice('\n')
		total += int64(len(frag))
		if total > max {
			tooLarge = true
			buf = nil
		} else {
			buf = append(buf, frag...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLarge {
			return nil, true, err
		}
		return buf, false, err
	}
}
