package compiler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/tracing"
)

// DefaultMapStem names a map written into a directory when the source URL
// gives no usable file name.
const DefaultMapStem = "style"

const inlineMapPrefix = "data:application/json;base64,"

// renderSourceMap returns the sourceMappingURL comment for m, writing a
// sidecar file when opts.SourceMapPath points at the file system. The
// comment only ever references a URL or a bare file name.
func (c *Client) renderSourceMap(ctx context.Context, m *protocol.SourceMap, opts protocol.Options) (string, error) {
	data, err := encodeSourceMap(m)
	if err != nil {
		return "", errorf(KindProtocol, err, "Unable to encode source map: %v", err)
	}

	span := trace.SpanFromContext(ctx)

	target := opts.SourceMapPath
	if target == "" {
		span.SetAttributes(attribute.String(tracing.AttrSourceMap, "inline"))
		return mappingComment(inlineMapPrefix + base64.StdEncoding.EncodeToString(data)), nil
	}

	if isHTTPURL(target) {
		span.SetAttributes(attribute.String(tracing.AttrSourceMap, "url"))
		return mappingComment(target), nil
	}

	mapFile := MapFilePath(c.fs, target, opts.URL)
	if err := afero.WriteFile(c.fs, mapFile, data, 0o644); err != nil {
		return "", errorf(KindOutput, err, "Unable to write source map: %s", mapFile)
	}
	log.Debug(log.CatSourceMap, "Wrote source map", "path", mapFile, "bytes", len(data))
	span.SetAttributes(attribute.String(tracing.AttrSourceMap, "file"))
	span.AddEvent(tracing.EventMapWritten, trace.WithAttributes(attribute.String(tracing.AttrOutputPath, mapFile)))

	return mappingComment(filepath.Base(mapFile)), nil
}

// MapFilePath resolves where a source map for target is written. A
// directory receives <stem>.map with the stem taken from sourceURL; any
// other path gets a .map suffix unless it already has one.
func MapFilePath(fs afero.Fs, target, sourceURL string) string {
	if isDir, _ := afero.IsDir(fs, target); isDir {
		return filepath.Join(target, StemFromURL(sourceURL)+".map")
	}
	if strings.HasSuffix(strings.ToLower(target), ".map") {
		return target
	}
	return target + ".map"
}

// StemFromURL returns the last path segment of rawURL without its
// extension, or DefaultMapStem when there is none.
func StemFromURL(rawURL string) string {
	if rawURL == "" {
		return DefaultMapStem
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultMapStem
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return DefaultMapStem
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" {
		return DefaultMapStem
	}
	return stem
}

// InlineSourceMap extracts and decodes the base64 map embedded in css by an
// inline sourceMappingURL comment.
func InlineSourceMap(css string) (*protocol.SourceMap, bool) {
	const marker = "/*# sourceMappingURL=" + inlineMapPrefix
	i := strings.LastIndex(css, marker)
	if i < 0 {
		return nil, false
	}
	rest := css[i+len(marker):]
	end := strings.Index(rest, " */")
	if end < 0 {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(rest[:end])
	if err != nil {
		return nil, false
	}
	var m protocol.SourceMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return &m, true
}

func mappingComment(ref string) string {
	return "\n/*# sourceMappingURL=" + ref + " */"
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

func encodeSourceMap(m *protocol.SourceMap) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
