package worker

import (
	"context"
	"fmt"
	"net/url"

	"github.com/zjrosen/sassbridge/internal/protocol"
)

// Backend compiles a single stylesheet.
type Backend interface {
	Compile(ctx context.Context, source string, opts NativeOptions) (Result, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, source string, opts NativeOptions) (Result, error)

// Compile calls f.
func (f BackendFunc) Compile(ctx context.Context, source string, opts NativeOptions) (Result, error) {
	return f(ctx, source, opts)
}

// Result is the backend output. SourceMap is the JSON text of the map, empty
// when no map was requested.
type Result struct {
	CSS       string
	SourceMap string
}

// NativeOptions is the compiler-facing form of protocol.Options, after the
// precedence rules have been applied.
type NativeOptions struct {
	URL    string
	Syntax string
	Style  string
	// SourceMap is true when a map was requested by flag or by destination.
	SourceMap bool
	// SourceMapTarget is the requested destination, if any. It takes
	// precedence over the plain flag as the value handed to the compiler.
	SourceMapTarget     string
	IncludeSources      bool
	LoadPaths           []string
	QuietDeps           bool
	SilenceDeprecations []string
	Verbose             bool
}

// Translate maps a request onto the compiler's option set.
func Translate(req protocol.Request) (NativeOptions, error) {
	o := req.Options
	native := NativeOptions{
		Syntax:              protocol.SyntaxSCSS,
		Style:               protocol.StyleExpanded,
		LoadPaths:           o.LoadPaths,
		QuietDeps:           protocol.IsSet(o.QuietDeps),
		SilenceDeprecations: o.SilenceDeprecations,
		Verbose:             protocol.IsSet(o.Verbose),
	}

	if u := req.EffectiveURL(); u != "" {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" {
			return NativeOptions{}, fmt.Errorf("invalid URL: %s", u)
		}
		native.URL = parsed.String()
	}

	if o.Syntax == protocol.SyntaxSass || o.Syntax == protocol.SyntaxIndented {
		native.Syntax = protocol.SyntaxIndented
	}
	if o.Style == protocol.StyleCompressed {
		native.Style = protocol.StyleCompressed
	}

	if o.WantsSourceMap() {
		native.SourceMap = true
		native.SourceMapTarget = o.SourceMapPath
		native.IncludeSources = o.WantsIncludeSources()
	}

	return native, nil
}
