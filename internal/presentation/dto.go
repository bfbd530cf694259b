// Package presentation formats compile results for the terminal, either as
// styled status lines or as JSON.
package presentation

import (
	"time"

	"github.com/zjrosen/sassbridge/internal/compiler"
)

// Result status values.
const (
	StatusCompiled  = "compiled"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusUpToDate  = "up-to-date"
	StatusOutOfDate = "out-of-date"
)

// ResultDTO describes the outcome of compiling one input.
type ResultDTO struct {
	Input      string  `json:"input"`
	Output     string  `json:"output,omitempty"`
	Status     string  `json:"status"`
	Bytes      int     `json:"bytes,omitempty"`
	DurationMs float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	Diff       string  `json:"diff,omitempty"`
}

// TargetDTO is a configured watch target.
type TargetDTO struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// NewResult builds a result for input/output. A non-nil err makes it a
// failure carrying the error's kind.
func NewResult(input, output, status string, elapsed time.Duration, err error) ResultDTO {
	r := ResultDTO{
		Input:      input,
		Output:     output,
		Status:     status,
		DurationMs: float64(elapsed.Microseconds()) / 1000.0,
	}
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		r.ErrorKind = string(compiler.KindOf(err))
	}
	return r
}

// Failed reports whether the result is a failure or a failed check.
func (r ResultDTO) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusOutOfDate
}
