// Package config provides configuration types and defaults for sassbridge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sassbridge/internal/compiler"
	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/tracing"
)

// DefaultConfigPath is where `sassbridge init` writes and where the CLI looks
// first when --config is not given.
const DefaultConfigPath = ".sassbridge.yaml"

// Config holds all configuration options for sassbridge.
type Config struct {
	Worker          WorkerConfig   `mapstructure:"worker"`
	Compiler        CompilerConfig `mapstructure:"compiler"`
	Timeout         time.Duration  `mapstructure:"timeout"`          // one-shot run bound, 0 = none
	ResponseTimeout time.Duration  `mapstructure:"response_timeout"` // persistent response bound
	Limits          LimitsConfig   `mapstructure:"limits"`
	CompileDefaults OptionsConfig  `mapstructure:"defaults"`
	Persistent      bool           `mapstructure:"persistent"`
	Cache           CacheConfig    `mapstructure:"cache"`
	Watch           WatchConfig    `mapstructure:"watch"`
	Tracing         tracing.Config `mapstructure:"tracing"`
}

// WorkerConfig selects the worker executable. An empty Path means the running
// sassbridge binary.
type WorkerConfig struct {
	Path string   `mapstructure:"path"`
	Args []string `mapstructure:"args"`
}

// CompilerConfig selects the Dart Sass executable. An empty Path probes the
// usual install locations.
type CompilerConfig struct {
	Path string `mapstructure:"path"`
}

// LimitsConfig mirrors protocol.Limits with config-file names.
type LimitsConfig struct {
	MaxInputBytes        int64 `mapstructure:"max_input_bytes"`
	StreamThresholdBytes int   `mapstructure:"stream_threshold_bytes"`
	ChunkSizeBytes       int   `mapstructure:"chunk_size_bytes"`
}

// Protocol converts to the wire-level policy, filling unset fields.
func (l LimitsConfig) Protocol() protocol.Limits {
	return protocol.Limits{
		MaxInputBytes:   l.MaxInputBytes,
		StreamThreshold: l.StreamThresholdBytes,
		ChunkSize:       l.ChunkSizeBytes,
	}.WithDefaults()
}

// OptionsConfig holds the default compile options applied under every call.
// Booleans stay tri-state so an unset key does not override a per-call value.
type OptionsConfig struct {
	Syntax              string   `mapstructure:"syntax"`
	Style               string   `mapstructure:"style"`
	SourceMap           *bool    `mapstructure:"source_map"`
	SourceMapPath       string   `mapstructure:"source_map_path"`
	IncludeSources      *bool    `mapstructure:"include_sources"`
	LoadPaths           []string `mapstructure:"load_paths"`
	QuietDeps           *bool    `mapstructure:"quiet_deps"`
	SilenceDeprecations []string `mapstructure:"silence_deprecations"`
	Verbose             *bool    `mapstructure:"verbose"`
}

// Options converts to protocol.Options.
func (o OptionsConfig) Options() protocol.Options {
	return protocol.Options{
		Syntax:              o.Syntax,
		Style:               o.Style,
		SourceMap:           o.SourceMap,
		SourceMapPath:       o.SourceMapPath,
		IncludeSources:      o.IncludeSources,
		LoadPaths:           o.LoadPaths,
		QuietDeps:           o.QuietDeps,
		SilenceDeprecations: o.SilenceDeprecations,
		Verbose:             o.Verbose,
	}.Clone()
}

// CacheConfig controls the in-memory response cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// WatchConfig holds `sassbridge watch` settings.
type WatchConfig struct {
	Debounce time.Duration  `mapstructure:"debounce"`
	Targets  []TargetConfig `mapstructure:"targets"`
}

// TargetConfig pairs a stylesheet with the CSS file it compiles to.
type TargetConfig struct {
	Input  string `mapstructure:"input" yaml:"input"`
	Output string `mapstructure:"output" yaml:"output"`
}

// DefaultTracesFilePath returns ~/.config/sassbridge/traces/traces.jsonl, or
// an empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sassbridge", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	limits := protocol.DefaultLimits()
	return Config{
		Worker: WorkerConfig{
			Args: []string{"worker"},
		},
		ResponseTimeout: compiler.DefaultResponseTimeout,
		Limits: LimitsConfig{
			MaxInputBytes:        limits.MaxInputBytes,
			StreamThresholdBytes: limits.StreamThreshold,
			ChunkSizeBytes:       limits.ChunkSize,
		},
		CompileDefaults: OptionsConfig{
			Syntax: protocol.SyntaxSCSS,
			Style:  protocol.StyleExpanded,
		},
		Cache: CacheConfig{
			Enabled: false,
			TTL:     5 * time.Minute,
		},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Validate checks the whole configuration. Empty values are valid and fall
// back to defaults.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.ResponseTimeout < 0 {
		return fmt.Errorf("response_timeout must not be negative, got %s", c.ResponseTimeout)
	}
	if err := ValidateLimits(c.Limits); err != nil {
		return err
	}
	if err := c.CompileDefaults.Options().Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %s", c.Cache.TTL)
	}
	if err := ValidateTargets(c.Watch.Targets); err != nil {
		return err
	}
	return ValidateTracing(c.Tracing)
}

// ValidateLimits rejects negative sizes and a chunk size above the stream
// threshold.
func ValidateLimits(l LimitsConfig) error {
	if l.MaxInputBytes < 0 {
		return fmt.Errorf("limits.max_input_bytes must not be negative, got %d", l.MaxInputBytes)
	}
	if l.StreamThresholdBytes < 0 {
		return fmt.Errorf("limits.stream_threshold_bytes must not be negative, got %d", l.StreamThresholdBytes)
	}
	if l.ChunkSizeBytes < 0 {
		return fmt.Errorf("limits.chunk_size_bytes must not be negative, got %d", l.ChunkSizeBytes)
	}
	eff := l.Protocol()
	if eff.ChunkSize > eff.StreamThreshold {
		return fmt.Errorf("limits.chunk_size_bytes (%d) must not exceed limits.stream_threshold_bytes (%d)",
			eff.ChunkSize, eff.StreamThreshold)
	}
	return nil
}

// ValidateTargets checks watch targets for errors.
func ValidateTargets(targets []TargetConfig) error {
	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		if t.Input == "" {
			return fmt.Errorf("watch.targets[%d]: input is required", i)
		}
		if t.Output == "" {
			return fmt.Errorf("watch.targets[%d] (%s): output is required", i, t.Input)
		}
		if filepath.Clean(t.Input) == filepath.Clean(t.Output) {
			return fmt.Errorf("watch.targets[%d] (%s): output must differ from input", i, t.Input)
		}
		if seen[filepath.Clean(t.Input)] {
			return fmt.Errorf("watch.targets[%d]: duplicate input %q", i, t.Input)
		}
		seen[filepath.Clean(t.Input)] = true
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tc.Enabled {
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// TracingConfig returns the tracing section with the file path filled in
// when the file exporter is selected without one.
func (c Config) TracingConfig() tracing.Config {
	tc := c.Tracing
	if tc.Enabled && tc.Exporter == "file" && tc.FilePath == "" {
		tc.FilePath = DefaultTracesFilePath()
	}
	return tc
}

// ClientOptions translates the configuration into compiler options.
// The tracer may be nil.
func (c Config) ClientOptions(tracer trace.Tracer) []compiler.Option {
	opts := []compiler.Option{
		compiler.WithLimits(c.Limits.Protocol()),
		compiler.WithOptions(c.CompileDefaults.Options()),
	}
	if c.Worker.Path != "" || len(c.Worker.Args) > 0 {
		path := c.Worker.Path
		if path == "" {
			exe, err := os.Executable()
			if err == nil {
				path = exe
			}
		}
		if path != "" {
			opts = append(opts, compiler.WithWorkerCommand(path, c.Worker.Args...))
		}
	}
	if c.Compiler.Path != "" {
		opts = append(opts, compiler.WithCompilerPath(c.Compiler.Path))
	}
	if c.Timeout > 0 {
		opts = append(opts, compiler.WithTimeout(c.Timeout))
	}
	if c.ResponseTimeout > 0 {
		opts = append(opts, compiler.WithResponseTimeout(c.ResponseTimeout))
	}
	if c.Cache.Enabled {
		opts = append(opts, compiler.WithResponseCache(compiler.NewResponseCache(c.Cache.TTL), c.Cache.TTL))
	}
	if tracer != nil {
		opts = append(opts, compiler.WithTracer(tracer))
	}
	return opts
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# sassbridge configuration

# Worker executable. Empty path means the sassbridge binary itself.
worker:
  # path: /usr/local/bin/sassbridge
  args: [worker]

# Dart Sass executable (>= 1.63). Empty probes sass on PATH and the usual
# install locations.
compiler:
  # path: /opt/homebrew/bin/sass

# Bound on a single one-shot run (0 = no bound)
timeout: 0s

# Bound on waiting for one persistent-mode response
response_timeout: 60s

# Size policy shared with the worker
limits:
  max_input_bytes: 52428800      # 50 MiB request cap
  stream_threshold_bytes: 1048576 # results above 1 MiB are chunked when streaming
  chunk_size_bytes: 65536         # 64 KiB chunks

# Default compile options, merged under every call
defaults:
  syntax: scss         # scss, sass or indented
  style: expanded      # expanded or compressed
  # source_map: true
  # source_map_path: ""  # empty = inline, a .map path, a directory, or an http(s) URL
  # include_sources: false
  # load_paths: [node_modules]
  # quiet_deps: true
  # silence_deprecations: [import]
  # verbose: false

# Keep one worker alive and reuse it for every compile
persistent: false

# Memoize identical string compiles in memory (file compiles are never
# cached, since their imports are not part of the request)
cache:
  enabled: false
  ttl: 5m

# sassbridge watch
watch:
  debounce: 200ms
  # targets:
  #   - input: assets/app.scss
  #     output: public/app.css

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/sassbridge/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
