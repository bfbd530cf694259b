package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/tracing"
)

// probeTimeout bounds a single `--version` probe.
const probeTimeout = 10 * time.Second

// CompilerCandidates returns the ordered list of Dart Sass locations probed
// when no compiler path is configured.
func CompilerCandidates() []string {
	if runtime.GOOS == "windows" {
		return []string{
			"sass",
			"sass.bat",
			`C:\Program Files\dart-sass\sass.bat`,
		}
	}
	return []string{
		"sass",
		"/usr/local/bin/sass",
		"/usr/bin/sass",
		"/opt/homebrew/bin/sass",
	}
}

// checkEnvironment fails fast when the worker executable is missing or no
// usable Dart Sass is installed. It resolves c.compilerPath when unset.
func (c *Client) checkEnvironment(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, tracing.SpanEnvironment)
	defer span.End()

	if err := checkExecutable(c.workerPath); err != nil {
		return recordError(span, errorf(KindEnvironment, err, "Sass worker not found at %s", c.workerPath))
	}

	if c.compilerPath != "" {
		if err := c.probe(ctx, c.compilerPath); err != nil {
			return recordError(span, errorf(KindEnvironment, err, "Dart Sass not usable at %s: %v", c.compilerPath, err))
		}
		return nil
	}

	path, err := c.findCompiler(ctx)
	if err != nil {
		return recordError(span, err)
	}
	c.compilerPath = path
	return nil
}

func (c *Client) findCompiler(ctx context.Context) (string, error) {
	candidates := c.candidates
	if len(candidates) == 0 {
		candidates = CompilerCandidates()
	}

	for _, candidate := range candidates {
		if err := c.probe(ctx, candidate); err != nil {
			log.Debug(log.CatClient, "Compiler probe failed", "candidate", candidate, "error", err)
			continue
		}
		log.Debug(log.CatClient, "Found Dart Sass", "path", candidate)
		return candidate, nil
	}

	return "", newError(KindEnvironment, strings.Join([]string{
		"Dart Sass not found. ",
		"Please install Dart Sass >= 1.63 and make sure `sass` is in PATH, ",
		"or pass its full path with WithCompilerPath.",
	}, ""))
}

func (c *Client) probe(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return c.launcher.Probe(ctx, []string{path, "--version"})
}

// checkExecutable resolves bare names through PATH and stats explicit paths.
func checkExecutable(path string) error {
	if path == "" {
		return errors.New("empty worker path")
	}
	if !strings.ContainsAny(path, `/\`) {
		_, err := exec.LookPath(path)
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
