// Package dartsass is the production worker backend. It drives a Dart Sass
// executable over the embedded Sass protocol using godartsass.
package dartsass

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bep/godartsass/v2"

	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/worker"
)

// maxRepeatedWarnings is how many identical deprecation warnings are reported
// when Verbose is off, matching the Dart Sass CLI.
const maxRepeatedWarnings = 5

// Config configures the backend.
type Config struct {
	// CompilerPath is the Dart Sass executable. Empty lets godartsass look
	// for "sass" on PATH.
	CompilerPath string
	// Timeout bounds a single compilation. Zero uses the godartsass default.
	Timeout time.Duration
	// Warnings receives compiler warnings after filtering. Nil logs them.
	Warnings func(msg string)
}

// Backend compiles through a long-lived Dart Sass embedded process.
type Backend struct {
	transpiler *godartsass.Transpiler
	warnings   func(msg string)

	// Warning filter state for the compilation in flight.
	mu       sync.Mutex
	current  worker.NativeOptions
	repeated map[string]int
}

// New starts the Dart Sass embedded process.
func New(cfg Config) (*Backend, error) {
	b := &Backend{
		warnings: cfg.Warnings,
		repeated: make(map[string]int),
	}
	if b.warnings == nil {
		b.warnings = func(msg string) {
			log.Warn(log.CatWorker, "Sass warning", "message", msg)
		}
	}

	t, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: cfg.CompilerPath,
		Timeout:                  cfg.Timeout,
		LogEventHandler:          b.onLogEvent,
	})
	if err != nil {
		return nil, fmt.Errorf("starting dart sass: %w", err)
	}
	b.transpiler = t
	return b, nil
}

// Compile implements worker.Backend.
func (b *Backend) Compile(ctx context.Context, source string, opts worker.NativeOptions) (worker.Result, error) {
	if err := ctx.Err(); err != nil {
		return worker.Result{}, err
	}

	b.mu.Lock()
	b.current = opts
	clear(b.repeated)
	b.mu.Unlock()

	res, err := b.transpiler.Execute(Args(source, opts))
	if err != nil {
		return worker.Result{}, err
	}
	return worker.Result{CSS: res.CSS, SourceMap: res.SourceMap}, nil
}

// Close stops the Dart Sass process.
func (b *Backend) Close() error {
	return b.transpiler.Close()
}

// Args maps translated options onto godartsass arguments.
func Args(source string, opts worker.NativeOptions) godartsass.Args {
	args := godartsass.Args{
		Source:                  source,
		URL:                     opts.URL,
		OutputStyle:             godartsass.OutputStyleExpanded,
		SourceSyntax:            godartsass.SourceSyntaxSCSS,
		IncludePaths:            opts.LoadPaths,
		EnableSourceMap:         opts.SourceMap,
		SourceMapIncludeSources: opts.SourceMap && opts.IncludeSources,
		SilenceDeprecations:     opts.SilenceDeprecations,
	}
	if opts.Style == protocol.StyleCompressed {
		args.OutputStyle = godartsass.OutputStyleCompressed
	}
	if opts.Syntax == protocol.SyntaxIndented {
		args.SourceSyntax = godartsass.SourceSyntaxSASS
	}
	return args
}

// onLogEvent applies QuietDeps and Verbose, which the embedded protocol
// client does not expose, as filters over the warning stream.
func (b *Backend) onLogEvent(event godartsass.LogEvent) {
	b.mu.Lock()
	opts := b.current
	deprecation := event.Type == godartsass.LogEventTypeDeprecated
	// QuietDeps covers @warn as well as deprecations; @debug always passes.
	warning := deprecation || event.Type == godartsass.LogEventTypeWarning
	if warning && opts.QuietDeps && fromDependency(event.Message, opts.LoadPaths) {
		b.mu.Unlock()
		return
	}
	if deprecation && !opts.Verbose {
		b.repeated[event.Message]++
		if b.repeated[event.Message] > maxRepeatedWarnings {
			b.mu.Unlock()
			return
		}
	}
	b.mu.Unlock()

	b.warnings(event.Message)
}

// fromDependency reports whether a warning points into one of the load paths.
func fromDependency(msg string, loadPaths []string) bool {
	for _, p := range loadPaths {
		if p != "" && strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
