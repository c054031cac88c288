package logging

// Field name constants for structured log entries, used consistently across
// bridgecore/transport/runtimebridge so log aggregation can filter on them.
const (
	RequestID  = "request-id"
	Method     = "method"
	Module     = "module"
	Handle     = "handle"
	PID        = "pid"
	Duration   = "duration"
	Timeout    = "timeout"
	BytesField = "bytes"
	TraceID    = "trace-id"
	SpanID     = "span-id"
	ActivityID = "activity-id"
)
