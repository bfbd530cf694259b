package protocol

import (
	"strings"
	"unicode/utf8"
)

// Default policy values. They are tunable through Limits and are not part of
// the wire contract: only chunk-then-concatenate is.
const (
	DefaultMaxInputBytes   = 50 * 1024 * 1024
	DefaultStreamThreshold = 1024 * 1024
	DefaultChunkSize       = 64 * 1024
)

// Limits holds the size policy shared by the worker and the client.
type Limits struct {
	// MaxInputBytes caps a single request read by the worker.
	MaxInputBytes int64
	// StreamThreshold is the size above which streamed results are chunked.
	StreamThreshold int
	// ChunkSize is the maximum size of one chunk in bytes.
	ChunkSize int
}

// DefaultLimits returns the stock policy.
func DefaultLimits() Limits {
	return Limits{
		MaxInputBytes:   DefaultMaxInputBytes,
		StreamThreshold: DefaultStreamThreshold,
		ChunkSize:       DefaultChunkSize,
	}
}

// WithDefaults fills zero or negative fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxInputBytes <= 0 {
		l.MaxInputBytes = d.MaxInputBytes
	}
	if l.StreamThreshold <= 0 {
		l.StreamThreshold = d.StreamThreshold
	}
	if l.ChunkSize <= 0 {
		l.ChunkSize = d.ChunkSize
	}
	return l
}

// Chunk splits s into ordered pieces of at most size bytes. Splits never fall
// inside a UTF-8 sequence, so every piece survives JSON encoding intact; a
// piece may be shorter than size when a boundary had to move back. A size
// smaller than utf8.UTFMax is raised to utf8.UTFMax.
func Chunk(s string, size int) []string {
	if s == "" {
		return []string{}
	}
	if size < utf8.UTFMax {
		size = utf8.UTFMax
	}
	chunks := make([]string, 0, len(s)/size+1)
	for len(s) > 0 {
		if len(s) <= size {
			chunks = append(chunks, s)
			break
		}
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return chunks
}

// Join concatenates chunks in order.
func Join(chunks []string) string {
	return strings.Join(chunks, "")
}
