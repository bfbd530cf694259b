// Package worker implements the sassbridge worker process: the program the
// client spawns to do the actual compilation.
//
// The worker reads protocol.Request documents from stdin and writes
// protocol.Response documents to stdout. Two modes exist:
//
//   - RunOnce reads all of stdin, compiles once and writes one document.
//   - RunPersistent reads newline-delimited requests until an exit sentinel
//     or end of input, answering each with exactly one response line.
//
// Compilation itself is delegated to a Backend. The dartsass subpackage
// provides the production backend.
package worker
