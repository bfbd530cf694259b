package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1E8E3E", Dark: "#73F59F"}).Bold(true)
	skipStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#777777", Dark: "#BBBBBB"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF8787"}).Bold(true)
	pathStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Faint(true)
	addStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1E8E3E", Dark: "#73F59F"})
	deleteStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF8787"})
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	json   bool
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// WithJSON switches the formatter to one JSON document per call.
func (f *Formatter) WithJSON(enabled bool) *Formatter {
	f.json = enabled
	return f
}

// FormatResult prints one result as a status line (plus the diff for a
// failed check) or as a JSON object.
func (f *Formatter) FormatResult(r ResultDTO) error {
	if f.json {
		return json.NewEncoder(f.writer).Encode(r)
	}
	_, err := io.WriteString(f.writer, StatusLine(r)+"\n")
	if err != nil || r.Diff == "" {
		return err
	}
	_, err = io.WriteString(f.writer, StyleDiff(r.Diff))
	return err
}

// FormatResults prints several results; JSON output is a single array.
func (f *Formatter) FormatResults(results []ResultDTO) error {
	if f.json {
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}
	for _, r := range results {
		if err := f.FormatResult(r); err != nil {
			return err
		}
	}
	return nil
}

// FormatTargets formats configured watch targets.
func (f *Formatter) FormatTargets(targets []TargetDTO) error {
	if f.json {
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(targets)
	}
	if len(targets) == 0 {
		_, err := fmt.Fprintln(f.writer, mutedStyle.Render("no watch targets configured"))
		return err
	}
	for _, t := range targets {
		if _, err := fmt.Fprintf(f.writer, "%s %s %s\n", pathStyle.Render(t.Input), mutedStyle.Render("->"), t.Output); err != nil {
			return err
		}
	}
	return nil
}

// StatusLine renders a single result.
func StatusLine(r ResultDTO) string {
	target := pathStyle.Render(r.Input)
	if r.Output != "" {
		target += mutedStyle.Render(" -> ") + r.Output
	}
	elapsed := mutedStyle.Render(fmt.Sprintf("(%.1fms)", r.DurationMs))

	switch r.Status {
	case StatusCompiled:
		return fmt.Sprintf("%s %s %s", okStyle.Render("✓ compiled"), target, elapsed)
	case StatusUpToDate:
		return fmt.Sprintf("%s %s %s", okStyle.Render("✓ up to date"), target, elapsed)
	case StatusSkipped:
		return fmt.Sprintf("%s %s", skipStyle.Render("- skipped"), target)
	case StatusOutOfDate:
		return fmt.Sprintf("%s %s", failStyle.Render("✗ out of date"), target)
	default:
		return fmt.Sprintf("%s %s\n  %s", failStyle.Render("✗ failed"), target, r.Error)
	}
}

// StyleDiff colors the lines of a LineDiff result.
func StyleDiff(diff string) string {
	var sb strings.Builder
	for _, line := range splitLines(diff) {
		switch {
		case strings.HasPrefix(line, "+"):
			sb.WriteString(addStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			sb.WriteString(deleteStyle.Render(line))
		default:
			sb.WriteString(mutedStyle.Render(line))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
