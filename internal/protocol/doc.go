// Package protocol defines the JSON wire format spoken between the sassbridge
// client and its worker process.
//
// Requests and responses are single JSON documents. In single-shot mode the
// request is the whole of the worker's stdin and the response the whole of its
// stdout. In persistent mode both directions are newline-delimited: one request
// line produces exactly one response line, in order.
//
// Large results can be split into ordered chunks (see Chunk and Join) so that
// neither side needs a streaming JSON parser.
package protocol
