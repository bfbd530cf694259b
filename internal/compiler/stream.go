package compiler

import (
	"context"
	"iter"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/tracing"
)

// Fragments is a finite sequence of CSS fragments produced by one compile.
// It is consumed once; compile again for a fresh sequence.
//
//	frags, err := c.CompileStringAsStream(ctx, src, protocol.Options{})
//	for frags.Next() {
//	    w.Write([]byte(frags.Fragment()))
//	}
type Fragments struct {
	items []string
	pos   int
	cur   string
}

// Next advances to the next fragment and reports whether there is one.
func (f *Fragments) Next() bool {
	if f.pos >= len(f.items) {
		f.cur = ""
		return false
	}
	f.cur = f.items[f.pos]
	f.items[f.pos] = ""
	f.pos++
	return true
}

// Fragment returns the fragment Next moved to.
func (f *Fragments) Fragment() string {
	return f.cur
}

// Remaining returns how many fragments Next has yet to return.
func (f *Fragments) Remaining() int {
	return len(f.items) - f.pos
}

// All ranges over the fragments not yet consumed.
func (f *Fragments) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for f.Next() {
			if !yield(f.Fragment()) {
				return
			}
		}
	}
}

// CompileStringAsStream compiles source and returns its CSS as fragments:
// the worker's chunks in order when the result was streamed, otherwise the
// whole CSS, followed by the source map comment when a map was produced.
// Streaming is forced for sources larger than the stream threshold. Empty
// source yields a single empty fragment.
func (c *Client) CompileStringAsStream(ctx context.Context, source string, opts protocol.Options) (*Fragments, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanCompileStream,
		trace.WithAttributes(attribute.Int(tracing.AttrSourceBytes, len(source))))
	defer span.End()

	if strings.TrimSpace(source) == "" {
		return &Fragments{items: []string{""}}, nil
	}

	merged, err := c.mergeOptions(opts)
	if err != nil {
		return nil, recordError(span, err)
	}
	if len(source) > c.limits.StreamThreshold {
		merged.StreamResult = protocol.Bool(true)
	}

	resp, err := c.send(ctx, protocol.NewRequest(source, merged), false, true)
	if err != nil {
		return nil, recordError(span, err)
	}

	var items []string
	if resp.IsStreamed {
		items = slices.Clone(resp.Chunks)
	} else {
		items = []string{resp.CSS}
	}

	m, err := resp.FullSourceMap()
	if err != nil {
		return nil, recordError(span, wrapError(KindProtocol, invalidResponseMsg(false), err))
	}
	if m != nil {
		comment, err := c.renderSourceMap(ctx, m, merged)
		if err != nil {
			return nil, recordError(span, err)
		}
		items = append(items, comment)
	}

	span.SetAttributes(
		attribute.Bool(tracing.AttrStreamed, resp.IsStreamed),
		attribute.Int(tracing.AttrChunks, len(items)),
	)
	return &Fragments{items: items}, nil
}
