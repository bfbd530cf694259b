package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Error types carried in Response.ErrorType.
const (
	ErrorTypeCompilation = "compilation"
	ErrorTypeProtocol    = "protocol"
	ErrorTypeResource    = "resource"
)

// Request is a single compile request. A request with Exit set is the
// persistent-mode shutdown sentinel and carries no other fields.
type Request struct {
	Source  string  `json:"source"`
	Options Options `json:"options"`
	URL     *string `json:"url"`
	Exit    bool    `json:"exit,omitempty"`
}

// NewRequest builds the request payload for source. The request URL mirrors
// opts.URL and is null when no URL is known.
func NewRequest(source string, opts Options) Request {
	req := Request{Source: source, Options: opts}
	if opts.URL != "" {
		u := opts.URL
		req.URL = &u
	}
	return req
}

// ExitRequest returns the persistent-mode shutdown sentinel.
func ExitRequest() []byte {
	return []byte(`{"exit":true}`)
}

// EffectiveURL returns the request URL, falling back to Options.URL.
func (r Request) EffectiveURL() string {
	if r.URL != nil && *r.URL != "" {
		return *r.URL
	}
	return r.Options.URL
}

// SourceMap is a version 3 source map as produced by the compiler.
type SourceMap struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	SourceRoot     string   `json:"sourceRoot,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// IsZero reports whether m carries no map data.
func (m *SourceMap) IsZero() bool {
	return m == nil || (m.Version == 0 && m.Mappings == "" && len(m.Sources) == 0)
}

// Response is the worker's answer to a Request. Exactly one of Error or a
// usable result (CSS, or Chunks with IsStreamed) is present.
type Response struct {
	CSS                 string     `json:"css,omitempty"`
	Chunks              []string   `json:"chunks,omitempty"`
	IsStreamed          bool       `json:"isStreamed,omitempty"`
	SourceMap           *SourceMap `json:"sourceMap,omitempty"`
	SourceMapChunks     []string   `json:"sourceMapChunks,omitempty"`
	SourceMapIsStreamed bool       `json:"sourceMapIsStreamed,omitempty"`
	Error               string     `json:"error,omitempty"`
	ErrorType           string     `json:"errorType,omitempty"`
}

// ErrMalformedResponse is returned by DecodeResponse for output that is not a
// well-formed response document.
var ErrMalformedResponse = errors.New("malformed response")

// MarshalJSON always emits the css key for unstreamed successes, so that an
// empty stylesheet stays distinguishable from a missing result.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	if r.Error != "" || r.IsStreamed {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		CSS string `json:"css"`
		plain
	}{CSS: r.CSS, plain: plain(r)})
}

// DecodeResponse parses and shape-checks a response document.
func DecodeResponse(data []byte) (Response, error) {
	var shape struct {
		CSS *string `json:"css"`
		Response
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&shape); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	resp := shape.Response
	if shape.CSS != nil {
		resp.CSS = *shape.CSS
	}
	if resp.Error != "" {
		return resp, nil
	}
	if resp.IsStreamed {
		if resp.Chunks == nil {
			return Response{}, fmt.Errorf("%w: isStreamed without chunks", ErrMalformedResponse)
		}
	} else if shape.CSS == nil {
		return Response{}, fmt.Errorf("%w: neither css nor error present", ErrMalformedResponse)
	}
	if resp.SourceMapIsStreamed && resp.SourceMapChunks == nil {
		return Response{}, fmt.Errorf("%w: sourceMapIsStreamed without sourceMapChunks", ErrMalformedResponse)
	}
	return resp, nil
}

// FullCSS reassembles the stylesheet from either CSS or Chunks.
func (r Response) FullCSS() string {
	if r.IsStreamed {
		return Join(r.Chunks)
	}
	return r.CSS
}

// FullSourceMap reassembles the source map from either SourceMap or
// SourceMapChunks. It returns nil when no map was produced.
func (r Response) FullSourceMap() (*SourceMap, error) {
	if r.SourceMapIsStreamed {
		raw := Join(r.SourceMapChunks)
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		var m SourceMap
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("%w: source map chunks: %v", ErrMalformedResponse, err)
		}
		return &m, nil
	}
	if r.SourceMap.IsZero() {
		return nil, nil
	}
	return r.SourceMap, nil
}

// ErrorResponse builds a failure response.
func ErrorResponse(errorType, msg string) Response {
	return Response{Error: msg, ErrorType: errorType}
}
