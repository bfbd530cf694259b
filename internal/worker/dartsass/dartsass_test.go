package dartsass

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/bep/godartsass/v2"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/worker"
)

func TestArgs_Mapping(t *testing.T) {
	args := Args("a{}", worker.NativeOptions{
		URL:                 "file:///app.scss",
		Syntax:              protocol.SyntaxIndented,
		Style:               protocol.StyleCompressed,
		SourceMap:           true,
		IncludeSources:      true,
		LoadPaths:           []string{"vendor"},
		SilenceDeprecations: []string{"import"},
	})

	require.Equal(t, "a{}", args.Source)
	require.Equal(t, "file:///app.scss", args.URL)
	require.Equal(t, godartsass.OutputStyleCompressed, args.OutputStyle)
	require.Equal(t, godartsass.SourceSyntaxSASS, args.SourceSyntax)
	require.True(t, args.EnableSourceMap)
	require.True(t, args.SourceMapIncludeSources)
	require.Equal(t, []string{"vendor"}, args.IncludePaths)
	require.Equal(t, []string{"import"}, args.SilenceDeprecations)
}

func TestArgs_Defaults(t *testing.T) {
	args := Args("a{}", worker.NativeOptions{IncludeSources: true})

	require.Equal(t, godartsass.OutputStyleExpanded, args.OutputStyle)
	require.Equal(t, godartsass.SourceSyntaxSCSS, args.SourceSyntax)
	require.False(t, args.EnableSourceMap)
	require.False(t, args.SourceMapIncludeSources, "sources are only embedded when a map is built")
}

func TestOnLogEvent_Filters(t *testing.T) {
	var got []string
	b := &Backend{
		warnings: func(msg string) { got = append(got, msg) },
		repeated: make(map[string]int),
	}

	b.current = worker.NativeOptions{QuietDeps: true, LoadPaths: []string{"node_modules"}}
	b.onLogEvent(godartsass.LogEvent{Type: godartsass.LogEventTypeDeprecated, Message: "node_modules/x/_a.scss: slash-div"})
	require.Empty(t, got, "dependency deprecations are silenced by QuietDeps")
	b.onLogEvent(godartsass.LogEvent{Type: godartsass.LogEventTypeWarning, Message: "node_modules/x/_a.scss: @warn unsupported"})
	require.Empty(t, got, "dependency @warn output is silenced by QuietDeps")
	b.onLogEvent(godartsass.LogEvent{Type: godartsass.LogEventTypeDebug, Message: "node_modules/x/_a.scss: @debug"})
	require.Equal(t, []string{"node_modules/x/_a.scss: @debug"}, got, "@debug is not a warning")
	got = nil
	b.onLogEvent(godartsass.LogEvent{Type: godartsass.LogEventTypeWarning, Message: "app.scss: @warn local"})
	require.Equal(t, []string{"app.scss: @warn local"}, got, "warnings from the entry file pass")
	got = nil

	for i := 0; i < maxRepeatedWarnings+3; i++ {
		b.onLogEvent(godartsass.LogEvent{Type: godartsass.LogEventTypeDeprecated, Message: "app.scss: slash-div"})
	}
	require.Len(t, got, maxRepeatedWarnings, "repeats are capped without Verbose")

	b.current.Verbose = true
	clear(b.repeated)
	got = nil
	for i := 0; i < maxRepeatedWarnings+3; i++ {
		b.onLogEvent(godartsass.LogEvent{Type: godartsass.LogEventTypeDeprecated, Message: "app.scss: slash-div"})
	}
	require.Len(t, got, maxRepeatedWarnings+3)
}

// TestBackend_RealDartSass runs against an installed Dart Sass.
func TestBackend_RealDartSass(t *testing.T) {
	path, err := exec.LookPath("sass")
	if err != nil {
		t.Skip("dart sass not installed")
	}

	b, err := New(Config{CompilerPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()

	res, err := b.Compile(ctx, "$color: red; body { color: $color; }", worker.NativeOptions{Style: protocol.StyleExpanded})
	require.NoError(t, err)
	require.Equal(t, "body {\n  color: red;\n}", strings.TrimSpace(res.CSS))

	res, err = b.Compile(ctx, "$color: red; body { color: $color; }", worker.NativeOptions{Style: protocol.StyleCompressed})
	require.NoError(t, err)
	require.Equal(t, "body{color:red}", strings.TrimSpace(res.CSS))

	_, err = b.Compile(ctx, "$color: red body { color: $color }", worker.NativeOptions{})
	require.Error(t, err)
}
