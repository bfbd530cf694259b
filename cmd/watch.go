package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/sassbridge/internal/build"
	"github.com/zjrosen/sassbridge/internal/config"
	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/presentation"
	"github.com/zjrosen/sassbridge/internal/pubsub"
	"github.com/zjrosen/sassbridge/internal/watcher"
)

var (
	watchShowLog bool
	watchForce   bool
	watchRoots   []string
)

var watchCmd = &cobra.Command{
	Use:   "watch [input:output...]",
	Short: "Recompile stylesheets when they change",
	Long: `Watch stylesheets and recompile their targets on change.

Targets come from watch.targets in the config file, or from input:output
arguments. Directories containing the inputs are watched recursively, along
with the load paths and any extra --root. Changing an entry file recompiles its target; changing any
other stylesheet (a partial) recompiles every target.

Examples:
  sassbridge watch
  sassbridge watch assets/app.scss:public/app.css
  sassbridge watch assets/app.scss:public/app.css -I node_modules/theme`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchShowLog, "show-log", false, "print log entries as they happen (with --debug)")
	watchCmd.Flags().BoolVar(&watchForce, "force", false, "compile every target on start, even when up to date")
	watchCmd.Flags().StringSliceVar(&watchRoots, "root", nil, "extra directory to watch (repeatable)")
	addOptionFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

// parseTargets turns input:output arguments into targets.
func parseTargets(args []string) ([]config.TargetConfig, error) {
	targets := make([]config.TargetConfig, 0, len(args))
	for _, arg := range args {
		input, output, ok := strings.Cut(arg, ":")
		if !ok || input == "" || output == "" {
			return nil, fmt.Errorf("invalid target %q: want input:output", arg)
		}
		targets = append(targets, config.TargetConfig{Input: input, Output: output})
	}
	if err := config.ValidateTargets(targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	targets := cfg.Watch.Targets
	if len(args) > 0 {
		var err error
		if targets, err = parseTargets(args); err != nil {
			return err
		}
	}
	if len(targets) == 0 {
		return errors.New("nothing to watch: add watch.targets to the config or pass input:output arguments")
	}

	client, cleanup, err := newClient()
	if err != nil {
		return err
	}
	defer cleanup()

	opts := optionsFromFlags(cmd)
	buildTargets := make([]build.Target, len(targets))
	roots := append([]string(nil), watchRoots...)
	for i, t := range targets {
		buildTargets[i] = build.Target{Input: t.Input, Output: t.Output}
		roots = append(roots, filepath.Dir(t.Input))
	}
	// Partials reached through load paths trigger rebuilds too.
	roots = append(roots, client.GetOptions().Merge(opts).LoadPaths...)
	builder := build.New(client, buildTargets, opts)
	defer builder.Close()

	wcfg := watcher.DefaultConfig(dedupeRoots(roots)...)
	wcfg.Ignore = builder.Outputs()
	if cfg.Watch.Debounce > 0 {
		wcfg.DebounceDur = cfg.Watch.Debounce
	}
	w, err := watcher.New(wcfg)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	formatter := presentation.NewFormatter(out)

	results := builder.Subscribe(ctx)
	go printResults(results, formatter)
	if watchShowLog {
		go printLogEntries(log.Subscribe(ctx), cmd.ErrOrStderr())
	}

	builder.Build(ctx, watchForce)

	changes, err := w.Start()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Watching %d target(s). Press Ctrl+C to stop.\n", len(targets))

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopped watching")
			return nil
		case changed := <-changes:
			log.Debug(log.CatWatcher, "Change detected", "files", len(changed))
			builder.Rebuild(ctx, changed)
		}
	}
}

func printResults(events <-chan pubsub.Event[presentation.ResultDTO], f *presentation.Formatter) {
	for ev := range events {
		_ = f.FormatResult(ev.Payload)
	}
}

func printLogEntries(events <-chan pubsub.Event[string], w io.Writer) {
	if events == nil {
		return
	}
	for ev := range events {
		_, _ = io.WriteString(w, ev.Payload)
	}
}

// dedupeRoots drops repeated roots and roots nested in another root.
func dedupeRoots(roots []string) []string {
	var kept []string
	for _, r := range roots {
		r = filepath.Clean(r)
		covered := false
		for _, k := range kept {
			if rel, err := filepath.Rel(k, r); err == nil && !strings.HasPrefix(rel, "..") {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		// r may cover roots already kept.
		next := kept[:0]
		for _, k := range kept {
			if rel, err := filepath.Rel(r, k); err != nil || strings.HasPrefix(rel, "..") {
				next = append(next, k)
			}
		}
		kept = append(next, r)
	}
	return kept
}
