package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/worker"
)

// helperEnv makes the test binary act as the worker, so subprocess tests
// run the real process code against fakeSass.
const helperEnv = "SASSBRIDGE_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

// runHelper is a miniature `sassbridge worker`. The mode value selects
// misbehaviour: "ok", "crash" (stderr, no stdout) or "garbage".
func runHelper(mode string, args []string) int {
	var stdin, persistent bool
	limits := protocol.DefaultLimits()
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--version":
			fmt.Println("1.77.8 compiled with dart2js 3.4.0")
			return 0
		case "--stdin":
			stdin = true
		case "--persistent":
			persistent = true
		case "--max-input-bytes":
			i++
			n, _ := strconv.ParseInt(args[i], 10, 64)
			limits.MaxInputBytes = n
		case "--stream-threshold":
			i++
			limits.StreamThreshold, _ = strconv.Atoi(args[i])
		case "--chunk-size":
			i++
			limits.ChunkSize, _ = strconv.Atoi(args[i])
		}
	}

	switch mode {
	case "crash":
		fmt.Fprintln(os.Stderr, "worker exploded")
		return 3
	case "garbage":
		fmt.Println("this is not json")
		return 0
	}

	adapter := worker.New(worker.BackendFunc(fakeSass), worker.WithLimits(limits))
	ctx := context.Background()
	switch {
	case stdin:
		if err := adapter.RunOnce(ctx, os.Stdin, os.Stdout); err != nil {
			if errors.Is(err, worker.ErrInputTooLarge) {
				return 1
			}
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	case persistent:
		if err := adapter.RunPersistent(ctx, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: worker --stdin|--persistent")
		return 2
	}
	return 0
}

// knownStylesheets maps sources to their expanded and compressed output.
var knownStylesheets = map[string][2]string{
	"$color: red; body { color: $color; }": {"body {\n  color: red;\n}", "body{color:red}"},
	"a { b: c; }":                          {"a {\n  b: c;\n}", "a{b:c}"},
	"$w: 10px; .box { width: $w * 2; }":    {".box {\n  width: 20px;\n}", ".box{width:20px}"},
}

// fakeSass stands in for Dart Sass. Known sources compile to fixed output,
// anything else is echoed back, and a missing semicolon is a syntax error.
func fakeSass(_ context.Context, source string, opts worker.NativeOptions) (worker.Result, error) {
	if strings.Contains(source, "red body") || strings.Contains(source, "{{") {
		return worker.Result{}, errors.New("expected \";\".\n  ╷\n1 │ $color: red body { color: $color }\n  │             ^\n  ╵\n  - 1:13  root stylesheet")
	}

	css := source
	if pair, ok := knownStylesheets[source]; ok {
		css = pair[0]
		if opts.Style == protocol.StyleCompressed {
			css = pair[1]
		}
	}

	res := worker.Result{CSS: css}
	if opts.SourceMap {
		content := ""
		if opts.IncludeSources {
			content = fmt.Sprintf(`,"sourcesContent":[%q]`, source)
		}
		res.SourceMap = fmt.Sprintf(`{"version":3,"sources":[%q]%s,"names":[],"mappings":"AAAA"}`, opts.URL, content)
	}
	return res, nil
}

// helperClient builds a Client whose worker and compiler are this test
// binary running in helper mode.
func helperClient(t *testing.T, mode string, opts ...Option) *Client {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	base := []Option{
		WithWorkerCommand(exe),
		WithCompilerPath(exe),
		WithPool(NewPool()),
		WithLauncher(NewExecLauncher(WithEnv([]string{helperEnv + "=" + mode}))),
	}
	c, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
