// Package build compiles configured targets and recompiles them when their
// sources change. Results are published on a pubsub broker.
package build

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/presentation"
	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/pubsub"
)

// Compiler is the part of compiler.Client a Builder needs.
type Compiler interface {
	CompileFileAndSave(ctx context.Context, inputPath, outputPath string, opts protocol.Options) (bool, error)
	CompileFileTo(ctx context.Context, inputPath, outputPath string, opts protocol.Options) error
}

// Target pairs an entry stylesheet with its output.
type Target struct {
	Input  string
	Output string
}

// Builder compiles a fixed set of targets.
type Builder struct {
	compiler Compiler
	targets  []Target
	opts     protocol.Options
	broker   *pubsub.Broker[presentation.ResultDTO]
}

// New creates a Builder. opts apply to every target.
func New(c Compiler, targets []Target, opts protocol.Options) *Builder {
	return &Builder{
		compiler: c,
		targets:  slices.Clone(targets),
		opts:     opts.Clone(),
		broker:   pubsub.NewBroker[presentation.ResultDTO](),
	}
}

// Subscribe returns a channel of results, closed when ctx is done or the
// Builder is closed.
func (b *Builder) Subscribe(ctx context.Context) <-chan pubsub.Event[presentation.ResultDTO] {
	return b.broker.Subscribe(ctx)
}

// Close closes every subscription.
func (b *Builder) Close() {
	b.broker.Close()
}

// Outputs returns the output path of every target. Watchers ignore them.
func (b *Builder) Outputs() []string {
	out := make([]string, len(b.targets))
	for i, t := range b.targets {
		out[i] = t.Output
	}
	return out
}

// Build brings every target up to date. With force, targets are recompiled
// even when their output is newer than the input.
func (b *Builder) Build(ctx context.Context, force bool) []presentation.ResultDTO {
	results := make([]presentation.ResultDTO, 0, len(b.targets))
	for _, t := range b.targets {
		results = append(results, b.compile(ctx, t, force))
	}
	return results
}

// Rebuild reacts to a batch of changed files. A changed entry file
// recompiles its own target when newer than the output. Any other changed
// stylesheet may be imported from anywhere, so every target is recompiled.
func (b *Builder) Rebuild(ctx context.Context, changed []string) []presentation.ResultDTO {
	entries := make(map[string]bool, len(b.targets))
	for _, t := range b.targets {
		entries[absPath(t.Input)] = true
	}

	dependencyChanged := false
	changedEntries := make(map[string]bool)
	for _, p := range changed {
		p = absPath(p)
		if entries[p] {
			changedEntries[p] = true
		} else {
			dependencyChanged = true
		}
	}

	log.Debug(log.CatWatcher, "Rebuilding", "changed", len(changed), "dependencyChanged", dependencyChanged)

	if dependencyChanged {
		return b.Build(ctx, true)
	}
	var results []presentation.ResultDTO
	for _, t := range b.targets {
		if changedEntries[absPath(t.Input)] {
			results = append(results, b.compile(ctx, t, false))
		}
	}
	return results
}

func (b *Builder) compile(ctx context.Context, t Target, force bool) presentation.ResultDTO {
	start := time.Now()

	var (
		compiled bool
		err      error
	)
	if force {
		err = b.compiler.CompileFileTo(ctx, t.Input, t.Output, b.opts)
		compiled = err == nil
	} else {
		compiled, err = b.compiler.CompileFileAndSave(ctx, t.Input, t.Output, b.opts)
	}

	status := presentation.StatusSkipped
	if compiled {
		status = presentation.StatusCompiled
	}
	result := presentation.NewResult(t.Input, t.Output, status, time.Since(start), err)

	switch result.Status {
	case presentation.StatusFailed:
		log.Warn(log.CatWatcher, "Target failed", "input", t.Input, "error", err)
		b.broker.Publish(pubsub.FailedEvent, result)
	case presentation.StatusCompiled:
		b.broker.Publish(pubsub.CompiledEvent, result)
	default:
		b.broker.Publish(pubsub.SkippedEvent, result)
	}
	return result
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
