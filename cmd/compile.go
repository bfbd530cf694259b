package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/sassbridge/internal/compiler"
	"github.com/zjrosen/sassbridge/internal/presentation"
	"github.com/zjrosen/sassbridge/internal/protocol"
)

var (
	compileOutput     string
	compilePersistent bool
	compileForce      bool
	compileCheck      bool
	compileStream     bool
	compileJSON       bool
)

var compileCmd = &cobra.Command{
	Use:   "compile [input...]",
	Short: "Compile stylesheets to CSS",
	Long: `Compile one or more stylesheets to CSS.

With no input, or "-", the source is read from stdin. Without --output the CSS
is written to stdout. With a single input, --output names the CSS file; with
several inputs it names a directory that receives <name>.css for each input.

When writing files, an input is only recompiled if it is newer than its
output. Use --force to always compile, or --check to compare the existing
outputs with a fresh compile without writing anything.

Examples:
  sassbridge compile app.scss
  sassbridge compile app.scss -o public/app.css --source-map
  sassbridge compile a.scss b.scss -o public/ --style compressed --persistent
  cat app.scss | sassbridge compile --stream > app.css
  sassbridge compile app.scss -o public/app.css --check`,
	RunE: runCompile,
}

func init() {
	f := compileCmd.Flags()
	f.StringVarP(&compileOutput, "output", "o", "", "output file, or directory for several inputs")
	f.BoolVar(&compilePersistent, "persistent", false, "compile every input through one persistent worker")
	f.BoolVar(&compileForce, "force", false, "compile even when the output is newer than the input")
	f.BoolVar(&compileCheck, "check", false, "report outputs that differ from a fresh compile, writing nothing")
	f.BoolVar(&compileStream, "stream", false, "stream stdin results in chunks (stdin only)")
	f.BoolVar(&compileJSON, "json", false, "print results as JSON")
	addOptionFlags(compileCmd)

	compileCmd.MarkFlagsMutuallyExclusive("force", "check")
	rootCmd.AddCommand(compileCmd)
}

// addOptionFlags registers the compile option flags read by optionsFromFlags.
func addOptionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("syntax", "", "input syntax: scss, sass or indented")
	f.StringP("style", "s", "", "output style: expanded or compressed")
	f.Bool("source-map", false, "generate a source map")
	f.String("source-map-path", "", "source map file, directory or http(s) URL (default: inline, or beside --output)")
	f.Bool("embed-sources", false, "embed the sources in the source map")
	f.StringSliceP("load-path", "I", nil, "directory searched for @use and @import targets (repeatable)")
	f.Bool("quiet-deps", false, "silence warnings from dependencies")
	f.StringSlice("silence-deprecation", nil, "deprecation ID to silence (repeatable)")
	f.Bool("verbose", false, "report every deprecation warning")
}

// optionsFromFlags builds per-call options from flags the user actually set,
// leaving everything else to the configured defaults.
func optionsFromFlags(cmd *cobra.Command) protocol.Options {
	f := cmd.Flags()
	var opts protocol.Options

	opts.Syntax, _ = f.GetString("syntax")
	opts.Style, _ = f.GetString("style")
	opts.SourceMapPath, _ = f.GetString("source-map-path")
	opts.LoadPaths, _ = f.GetStringSlice("load-path")
	opts.SilenceDeprecations, _ = f.GetStringSlice("silence-deprecation")

	boolFlag := func(name string) *bool {
		if !f.Changed(name) {
			return nil
		}
		v, _ := f.GetBool(name)
		return protocol.Bool(v)
	}
	opts.SourceMap = boolFlag("source-map")
	opts.IncludeSources = boolFlag("embed-sources")
	opts.QuietDeps = boolFlag("quiet-deps")
	opts.Verbose = boolFlag("verbose")
	return opts
}

func runCompile(cmd *cobra.Command, args []string) error {
	opts := optionsFromFlags(cmd)

	client, cleanup, err := newClient()
	if err != nil {
		return err
	}
	defer cleanup()

	if compilePersistent {
		client.EnablePersistentMode()
	}

	ctx := cmd.Context()
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		return compileStdin(ctx, client, opts, cmd.InOrStdin(), cmd.OutOrStdout())
	}
	if compileStream {
		return errors.New("--stream only applies to stdin input")
	}

	if compileOutput == "" {
		if compileCheck {
			return errors.New("--check needs --output")
		}
		for _, input := range args {
			css, err := compileToString(ctx, client, input, opts)
			if err != nil {
				return err
			}
			if _, err := io.WriteString(cmd.OutOrStdout(), withNewline(css)); err != nil {
				return err
			}
		}
		return nil
	}

	formatter := presentation.NewFormatter(cmd.ErrOrStderr()).WithJSON(compileJSON)
	if compileJSON {
		formatter = presentation.NewFormatter(cmd.OutOrStdout()).WithJSON(true)
	}

	results := make([]presentation.ResultDTO, 0, len(args))
	for _, input := range args {
		output := outputPathFor(input, compileOutput, len(args) > 1)
		results = append(results, compileOne(ctx, client, input, output, opts))
	}
	if err := formatter.FormatResults(results); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	switch {
	case failed == 0:
		return nil
	case compileCheck:
		return fmt.Errorf("%d of %d outputs out of date or failing", failed, len(results))
	default:
		return fmt.Errorf("%d of %d inputs failed", failed, len(results))
	}
}

func compileStdin(ctx context.Context, client *compiler.Client, opts protocol.Options, in io.Reader, out io.Writer) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	source := string(data)

	if compileOutput != "" && client.GetOptions().Merge(opts).WantsSourceMap() && opts.SourceMapPath == "" {
		opts.SourceMapPath = compileOutput
	}

	var css string
	switch {
	case compileStream:
		frags, err := client.CompileStringAsStream(ctx, source, opts)
		if err != nil {
			return err
		}
		w, closeOut, err := openOutput(compileOutput, out)
		if err != nil {
			return err
		}
		for frag := range frags.All() {
			if _, err := io.WriteString(w, frag); err != nil {
				_ = closeOut()
				return err
			}
		}
		return closeOut()
	case client.PersistentModeEnabled():
		css, err = client.CompileInPersistentMode(ctx, source, opts)
	default:
		css, err = client.CompileString(ctx, source, opts)
	}
	if err != nil {
		return err
	}

	if compileOutput != "" {
		return writeOutput(compileOutput, css)
	}
	_, err = io.WriteString(out, withNewline(css))
	return err
}

// compileOne handles a single input written to output.
func compileOne(ctx context.Context, client *compiler.Client, input, output string, opts protocol.Options) presentation.ResultDTO {
	start := time.Now()

	switch {
	case compileCheck:
		css, err := client.CompileFileWithoutSourceMap(ctx, input, opts)
		if err != nil {
			return presentation.NewResult(input, output, presentation.StatusFailed, time.Since(start), err)
		}
		existing, _ := os.ReadFile(output) //nolint:gosec // G304: user-supplied output path
		diff := presentation.LineDiff(stripMappingComment(string(existing)), css, 2)
		if diff == "" {
			return presentation.NewResult(input, output, presentation.StatusUpToDate, time.Since(start), nil)
		}
		r := presentation.NewResult(input, output, presentation.StatusOutOfDate, time.Since(start), nil)
		r.Diff = diff
		return r

	case client.PersistentModeEnabled():
		merged := opts.Clone()
		if client.GetOptions().Merge(merged).WantsSourceMap() && merged.SourceMapPath == "" {
			merged.SourceMapPath = output
		}
		css, err := client.CompileFileInPersistentMode(ctx, input, merged)
		if err == nil {
			err = writeOutput(output, css)
		}
		r := presentation.NewResult(input, output, presentation.StatusCompiled, time.Since(start), err)
		r.Bytes = len(css)
		return r

	case compileForce:
		err := client.CompileFileTo(ctx, input, output, opts)
		return presentation.NewResult(input, output, presentation.StatusCompiled, time.Since(start), err)

	default:
		compiled, err := client.CompileFileAndSave(ctx, input, output, opts)
		status := presentation.StatusSkipped
		if compiled {
			status = presentation.StatusCompiled
		}
		return presentation.NewResult(input, output, status, time.Since(start), err)
	}
}

func compileToString(ctx context.Context, client *compiler.Client, input string, opts protocol.Options) (string, error) {
	if client.PersistentModeEnabled() {
		return client.CompileFileInPersistentMode(ctx, input, opts)
	}
	return client.CompileFile(ctx, input, opts)
}

// outputPathFor maps an input to its CSS file. With several inputs, output
// is a directory.
func outputPathFor(input, output string, many bool) string {
	if !many {
		return output
	}
	base := filepath.Base(input)
	return filepath.Join(output, strings.TrimSuffix(base, filepath.Ext(base))+".css")
}

// stripMappingComment removes a trailing sourceMappingURL comment.
func stripMappingComment(css string) string {
	if i := strings.LastIndex(css, "\n/*# sourceMappingURL="); i >= 0 && strings.HasSuffix(strings.TrimRight(css, "\n"), "*/") {
		return css[:i]
	}
	return css
}

func withNewline(css string) string {
	if css == "" || strings.HasSuffix(css, "\n") {
		return css
	}
	return css + "\n"
}

func writeOutput(path, css string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, []byte(css), 0o644); err != nil { //nolint:gosec // G306: CSS output is world-readable
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// openOutput returns path opened for writing, or fallback when path is empty.
func openOutput(path string, fallback io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return fallback, func() error { return nil }, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("writing %s: %w", path, err)
		}
	}
	f, err := os.Create(path) //nolint:gosec // G304: user-supplied output path
	if err != nil {
		return nil, nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return f, f.Close, nil
}
