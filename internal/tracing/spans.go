package tracing

// Span attribute keys.
const (
	AttrRequestID   = "sass.request.id"
	AttrMode        = "sass.mode"
	AttrInputPath   = "sass.input.path"
	AttrOutputPath  = "sass.output.path"
	AttrSourceBytes = "sass.source.bytes"
	AttrCSSBytes    = "sass.css.bytes"
	AttrStreamed    = "sass.streamed"
	AttrChunks      = "sass.chunks"
	AttrSourceMap   = "sass.source_map"

	AttrProcessPID     = "process.pid"
	AttrProcessCommand = "process.command"

	AttrErrorKind = "error.kind"
)

// Span names.
const (
	SpanCompileString   = "compile.string"
	SpanCompileFile     = "compile.file"
	SpanCompileSave     = "compile.save"
	SpanCompileStream   = "compile.stream"
	SpanCompilePersist  = "compile.persistent"
	SpanPersistentStart = "persistent.start"
	SpanPersistentStop  = "persistent.stop"
	SpanEnvironment     = "environment.check"
)

// Event names.
const (
	EventProcessSpawned = "process.spawned"
	EventResponseParsed = "response.parsed"
	EventMapWritten     = "source_map.written"
	EventSaveSkipped    = "save.skipped"
)
