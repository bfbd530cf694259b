package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptions_MergeOverridesWithoutMutating(t *testing.T) {
	defaults := Options{
		Style:     StyleCompressed,
		SourceMap: Bool(true),
		LoadPaths: []string{"vendor"},
	}

	merged := defaults.Merge(Options{SourceMap: Bool(false), URL: "file:///a.scss"})

	require.Equal(t, StyleCompressed, merged.Style)
	require.False(t, IsSet(merged.SourceMap))
	require.Equal(t, "file:///a.scss", merged.URL)
	require.Equal(t, []string{"vendor"}, merged.LoadPaths)

	// The defaults are untouched.
	require.True(t, IsSet(defaults.SourceMap))
	require.Empty(t, defaults.URL)

	merged.LoadPaths[0] = "changed"
	require.Equal(t, "vendor", defaults.LoadPaths[0])
}

func TestOptions_MergeEmptyKeepsBase(t *testing.T) {
	base := Options{Syntax: SyntaxIndented, Verbose: Bool(true)}
	require.Equal(t, base, base.Merge(Options{}))
}

func TestOptions_WantsSourceMap(t *testing.T) {
	require.False(t, Options{}.WantsSourceMap())
	require.True(t, Options{SourceMap: Bool(true)}.WantsSourceMap())
	require.True(t, Options{SourceMapPath: "out.css.map"}.WantsSourceMap())
	require.False(t, Options{SourceMap: Bool(false)}.WantsSourceMap())
}

func TestOptions_Validate(t *testing.T) {
	require.NoError(t, Options{}.Validate())
	require.NoError(t, Options{Syntax: SyntaxSass, Style: StyleCompressed}.Validate())
	require.Error(t, Options{Syntax: "less"}.Validate())
	require.Error(t, Options{Style: "nested"}.Validate())
}

func TestOptions_WireKeys(t *testing.T) {
	data, err := json.Marshal(Options{
		Syntax:        SyntaxSCSS,
		SourceMap:     Bool(true),
		SourceMapPath: "maps/",
		StreamResult:  Bool(true),
		LoadPaths:     []string{"a", "b"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"syntax":"scss","sourceMap":true,"sourceMapPath":"maps/","streamResult":true,"loadPaths":["a","b"]}`, string(data))
}
