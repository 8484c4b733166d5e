package trace

import (
	"context"
	"time"
)

// HttpTrace is the unit of observation: one request/response exchange,
// frozen at emit. After construction via a capture backend it is
// treated as immutable by every downstream stage.
type HttpTrace struct {
	SpanId        SpanId  `json:"span_id"`
	TraceId       TraceId `json:"trace_id"`
	ParentSpanId  *SpanId `json:"parent_span_id,omitempty"`
	Method        HttpMethod `json:"method"`
	URL           string     `json:"url"`
	StatusCode    uint16     `json:"status_code"`
	ProtocolVersion string   `json:"protocol_version"`

	RequestHeaders  *HeaderMap `json:"request_headers,omitempty"`
	ResponseHeaders *HeaderMap `json:"response_headers,omitempty"`

	RequestBody  []byte `json:"request_body,omitempty"`
	ResponseBody []byte `json:"response_body,omitempty"`

	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`

	SourceAddr string `json:"source_addr,omitempty"`
	DestAddr   string `json:"dest_addr,omitempty"`
}

// TruncateBody caps b at limit bytes, per the per-backend body limits
// (1 MiB default for the proxy, 16 KiB for the hook agent). Truncation
// is silent: callers that know the original Content-Length are expected
// to preserve that header value even though the stored body is shorter.
func TruncateBody(b []byte, limit int) []byte {
	if limit <= 0 || len(b) <= limit {
		return b
	}
	out := make([]byte, limit)
	copy(out, b[:limit])
	return out
}

// TraceStore persists and retrieves HttpTrace records. Implementations
// must be safe for concurrent use by multiple readers with a single
// writer; the handle is shared as {Send + Sync} across every component
// that needs it.
type TraceStore interface {
	// Insert commits trace atomically across every internal partition.
	// A failed Insert leaves the store unchanged.
	Insert(ctx context.Context, t *HttpTrace) error

	// GetBySpanId returns the trace for id, or (nil, nil) if absent.
	GetBySpanId(ctx context.Context, id SpanId) (*HttpTrace, error)

	// ListRecent returns up to limit traces ordered newest-first,
	// skipping the first offset matches. Entries whose primary record
	// is missing (a possible race with compaction) are silently skipped.
	ListRecent(ctx context.Context, limit, offset int) ([]*HttpTrace, error)

	// ListByTraceId returns every span recorded under traceID.
	ListByTraceId(ctx context.Context, traceID TraceId) ([]*HttpTrace, error)

	// SearchByURL returns up to limit traces whose URL contains pattern,
	// case-insensitively.
	SearchByURL(ctx context.Context, pattern string, limit int) ([]*HttpTrace, error)

	// Count returns an approximate count of persisted traces.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying storage handle.
	Close() error
}

// CaptureBackend is anything that can be started to observe traffic and
// push completed HttpTrace records onto a shared channel. It is held as
// a {Send} handle: a backend is driven from exactly one goroutine tree,
// but its handle may be passed across goroutines to be started and
// stopped.
type CaptureBackend interface {
	// Name identifies the backend for display (e.g. in the UI status bar).
	Name() string

	// Run starts the backend and blocks until ctx is canceled or a
	// fatal capture error occurs. Completed traces are pushed onto
	// sink for as long as Run is executing.
	Run(ctx context.Context, sink *Sink) error
}
