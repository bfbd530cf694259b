// Package compiler is the host-side Sass client. It turns compile calls into
// protocol requests, runs them through a worker process and maps the
// responses back to CSS text.
//
// Two execution paths exist:
//
//   - The one-shot path spawns the worker with --stdin for each request. The
//     process handle is cached in a Pool keyed by the exact command line;
//     SharedPool is shared by every Client that does not bring its own.
//   - The persistent path keeps one worker running with --persistent for the
//     lifetime of a Client and exchanges one JSON line per request.
//
// Example usage:
//
//	c, err := compiler.New(compiler.WithCompilerPath("/usr/local/bin/sass"))
//	if err != nil {
//	    return err
//	}
//	css, err := c.CompileString(ctx, "$c: red; a { color: $c; }", protocol.Options{})
//
// Failures are *Error values tagged with a Kind, see IsKind.
package compiler
