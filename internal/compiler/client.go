package compiler

import (
	"context"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sassbridge/internal/cachemanager"
	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/tracing"
)

// DefaultResponseTimeout bounds the wait for one persistent response line.
const DefaultResponseTimeout = 60 * time.Second

// Invocation flags selecting the worker mode.
const (
	FlagStdin      = "--stdin"
	FlagPersistent = "--persistent"
)

// Option configures a Client.
type Option func(*Client)

// WithWorkerCommand sets the worker executable and the arguments placed
// before the mode flags. The default is the running binary with "worker".
func WithWorkerCommand(path string, args ...string) Option {
	return func(c *Client) {
		c.workerPath = path
		c.workerArgs = slices.Clone(args)
	}
}

// WithCompilerPath sets the Dart Sass executable. When unset the Client
// probes CompilerCandidates.
func WithCompilerPath(path string) Option {
	return func(c *Client) {
		c.compilerPath = path
	}
}

// WithCompilerCandidates replaces the probe list used when no compiler path
// is set.
func WithCompilerCandidates(candidates []string) Option {
	return func(c *Client) {
		c.candidates = slices.Clone(candidates)
	}
}

// WithPool replaces SharedPool for one-shot handles.
func WithPool(p *Pool) Option {
	return func(c *Client) {
		c.pool = p
	}
}

// WithLauncher replaces the os/exec launcher.
func WithLauncher(l Launcher) Option {
	return func(c *Client) {
		c.launcher = l
	}
}

// WithFs sets the file system used for inputs, outputs and map files.
func WithFs(fs afero.Fs) Option {
	return func(c *Client) {
		c.fs = fs
	}
}

// WithTimeout bounds each one-shot run. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithResponseTimeout bounds the wait for each persistent response.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.responseTimeout = d
	}
}

// WithLimits sets the size policy. Non-default limits are passed on to the
// worker through its command line.
func WithLimits(l protocol.Limits) Option {
	return func(c *Client) {
		c.limits = l
	}
}

// WithTracer sets the tracer for compile spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithResponseCache memoizes successful worker responses by request payload.
func WithResponseCache(cache cachemanager.CacheManager[string, protocol.Response], ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheManager = cache
		c.cacheTTL = ttl
	}
}

// WithOptions sets the default compile options.
func WithOptions(opts protocol.Options) Option {
	return func(c *Client) {
		c.defaults = opts.Clone()
	}
}

// Client compiles Sass through worker processes. A Client is safe for
// concurrent use; one-shot calls run in parallel while persistent calls are
// serialized on the single persistent worker.
type Client struct {
	workerPath   string
	workerArgs   []string
	compilerPath string
	candidates   []string

	pool            *Pool
	launcher        Launcher
	fs              afero.Fs
	timeout         time.Duration
	responseTimeout time.Duration
	limits          protocol.Limits
	tracer          trace.Tracer

	cacheManager cachemanager.CacheManager[string, protocol.Response]
	cacheTTL     time.Duration
	responses    *cachemanager.ReadThroughCache[string, protocol.Response, exchange]

	mu       sync.RWMutex
	defaults protocol.Options

	persistMu         sync.Mutex
	persistentEnabled bool
	persistentState   PersistentState
	persistent        PersistentProcess
}

// New creates a Client and verifies that the worker and Dart Sass are
// available.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		workerArgs:      []string{"worker"},
		pool:            SharedPool,
		launcher:        NewExecLauncher(),
		fs:              afero.NewOsFs(),
		responseTimeout: DefaultResponseTimeout,
		limits:          protocol.DefaultLimits(),
		tracer:          tracing.Noop().Tracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limits = c.limits.WithDefaults()

	if c.workerPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errorf(KindEnvironment, err, "Unable to locate the sassbridge executable: %v", err)
		}
		c.workerPath = exe
	}

	if c.cacheManager != nil {
		c.responses = cachemanager.NewReadThroughCache(c.cacheManager, c.roundTrip, false)
	}

	if err := c.checkEnvironment(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// SetOptions replaces the default options merged under per-call options.
func (c *Client) SetOptions(opts protocol.Options) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults = opts.Clone()
	return c
}

// GetOptions returns a copy of the default options.
func (c *Client) GetOptions() protocol.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults.Clone()
}

// CompilerPath returns the Dart Sass executable the Client resolved.
func (c *Client) CompilerPath() string {
	return c.compilerPath
}

// Limits returns the Client's size policy.
func (c *Client) Limits() protocol.Limits {
	return c.limits
}

// Command returns the worker command line for a mode flag. It is also the
// pool key for one-shot handles.
func (c *Client) Command(modeFlag string) []string {
	cmd := make([]string, 0, len(c.workerArgs)+8)
	cmd = append(cmd, c.workerPath)
	cmd = append(cmd, c.workerArgs...)
	cmd = append(cmd, "--compiler", c.compilerPath)
	cmd = append(cmd, c.limitArgs()...)
	return append(cmd, modeFlag)
}

func (c *Client) limitArgs() []string {
	d := protocol.DefaultLimits()
	var args []string
	if c.limits.MaxInputBytes != d.MaxInputBytes {
		args = append(args, "--max-input-bytes", strconv.FormatInt(c.limits.MaxInputBytes, 10))
	}
	if c.limits.StreamThreshold != d.StreamThreshold {
		args = append(args, "--stream-threshold", strconv.Itoa(c.limits.StreamThreshold))
	}
	if c.limits.ChunkSize != d.ChunkSize {
		args = append(args, "--chunk-size", strconv.Itoa(c.limits.ChunkSize))
	}
	return args
}

// mergeOptions layers opts over the defaults and validates the result.
func (c *Client) mergeOptions(opts protocol.Options) (protocol.Options, error) {
	merged := c.GetOptions().Merge(opts)
	if err := merged.Validate(); err != nil {
		return protocol.Options{}, errorf(KindInput, err, "Invalid options: %v", err)
	}
	return merged, nil
}

func recordError(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if kind := KindOf(err); kind != "" {
		span.SetAttributes(attribute.String(tracing.AttrErrorKind, string(kind)))
	}
	return err
}
