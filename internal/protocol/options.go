package protocol

import (
	"fmt"
	"slices"
)

// Syntax values accepted in Options.Syntax.
const (
	SyntaxSCSS     = "scss"
	SyntaxSass     = "sass"
	SyntaxIndented = "indented"
)

// Style values accepted in Options.Style.
const (
	StyleExpanded   = "expanded"
	StyleCompressed = "compressed"
)

// Options is the typed set of compile options understood by the worker.
//
// Boolean options are tri-state: nil means "not set", so that a per-call
// false can override a configured default of true. Use Bool to build them.
type Options struct {
	// Syntax is "scss" (default), "sass" or "indented".
	Syntax string `json:"syntax,omitempty"`
	// Style is "expanded" (default) or "compressed".
	Style string `json:"style,omitempty"`
	// SourceMap requests a source map.
	SourceMap *bool `json:"sourceMap,omitempty"`
	// SourceMapPath selects where the map goes: a file path, a directory, or an
	// http(s) URL. Empty means the map is inlined as a base64 data comment.
	SourceMapPath string `json:"sourceMapPath,omitempty"`
	// IncludeSources embeds the original sources in the map.
	IncludeSources *bool `json:"includeSources,omitempty"`
	// SourceMapIncludeSources is an alias of IncludeSources.
	SourceMapIncludeSources *bool `json:"sourceMapIncludeSources,omitempty"`
	// LoadPaths are searched, in order, for @use and @import targets.
	LoadPaths []string `json:"loadPaths,omitempty"`
	// QuietDeps silences warnings coming from dependencies.
	QuietDeps *bool `json:"quietDeps,omitempty"`
	// SilenceDeprecations lists deprecation IDs to silence, e.g. "import".
	SilenceDeprecations []string `json:"silenceDeprecations,omitempty"`
	// Verbose reports every deprecation warning instead of a capped few.
	Verbose *bool `json:"verbose,omitempty"`
	// StreamResult asks the worker to chunk large results.
	StreamResult *bool `json:"streamResult,omitempty"`
	// URL is the logical source URL, used for map sources and default map names.
	URL string `json:"url,omitempty"`
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// IsSet reports whether b is non-nil and true.
func IsSet(b *bool) bool {
	return b != nil && *b
}

// Merge returns a copy of o with every field that is set in over replacing the
// corresponding field of o. Neither o nor over is modified.
func (o Options) Merge(over Options) Options {
	out := o.Clone()
	if over.Syntax != "" {
		out.Syntax = over.Syntax
	}
	if over.Style != "" {
		out.Style = over.Style
	}
	if over.SourceMap != nil {
		out.SourceMap = Bool(*over.SourceMap)
	}
	if over.SourceMapPath != "" {
		out.SourceMapPath = over.SourceMapPath
	}
	if over.IncludeSources != nil {
		out.IncludeSources = Bool(*over.IncludeSources)
	}
	if over.SourceMapIncludeSources != nil {
		out.SourceMapIncludeSources = Bool(*over.SourceMapIncludeSources)
	}
	if over.LoadPaths != nil {
		out.LoadPaths = slices.Clone(over.LoadPaths)
	}
	if over.QuietDeps != nil {
		out.QuietDeps = Bool(*over.QuietDeps)
	}
	if over.SilenceDeprecations != nil {
		out.SilenceDeprecations = slices.Clone(over.SilenceDeprecations)
	}
	if over.Verbose != nil {
		out.Verbose = Bool(*over.Verbose)
	}
	if over.StreamResult != nil {
		out.StreamResult = Bool(*over.StreamResult)
	}
	if over.URL != "" {
		out.URL = over.URL
	}
	return out
}

// Clone returns a deep copy of o.
func (o Options) Clone() Options {
	out := o
	out.SourceMap = cloneBool(o.SourceMap)
	out.IncludeSources = cloneBool(o.IncludeSources)
	out.SourceMapIncludeSources = cloneBool(o.SourceMapIncludeSources)
	out.QuietDeps = cloneBool(o.QuietDeps)
	out.Verbose = cloneBool(o.Verbose)
	out.StreamResult = cloneBool(o.StreamResult)
	out.LoadPaths = slices.Clone(o.LoadPaths)
	out.SilenceDeprecations = slices.Clone(o.SilenceDeprecations)
	return out
}

// WantsSourceMap reports whether a map was requested, either by flag or by
// giving a destination path.
func (o Options) WantsSourceMap() bool {
	return IsSet(o.SourceMap) || o.SourceMapPath != ""
}

// WantsIncludeSources reports whether either include-sources key is set.
func (o Options) WantsIncludeSources() bool {
	return IsSet(o.IncludeSources) || IsSet(o.SourceMapIncludeSources)
}

// Validate rejects option values the worker cannot honour.
func (o Options) Validate() error {
	switch o.Syntax {
	case "", SyntaxSCSS, SyntaxSass, SyntaxIndented:
	default:
		return fmt.Errorf("syntax must be %q, %q or %q, got %q", SyntaxSCSS, SyntaxSass, SyntaxIndented, o.Syntax)
	}
	switch o.Style {
	case "", StyleExpanded, StyleCompressed:
	default:
		return fmt.Errorf("style must be %q or %q, got %q", StyleExpanded, StyleCompressed, o.Style)
	}
	return nil
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	return Bool(*b)
}
