// Package trace defines Phantom's domain model: trace and span
// identifiers, the HttpTrace record, and the TraceStore/CaptureBackend
// interfaces that every other package depends on. It performs no I/O.
package trace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TraceId is a 128-bit opaque identifier, wire-compatible with the W3C
// Trace Context "trace-id" field. The zero value is invalid.
type TraceId [16]byte

// NewTraceId mints a random 128-bit trace id.
func NewTraceId() TraceId {
	var id TraceId
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand on a supported OS does not fail; a panic here
		// surfaces a broken host environment immediately rather than
		// silently handing out a zero id.
		panic(fmt.Sprintf("trace: failed to read random bytes: %v", err))
	}
	return id
}

// String renders the trace id as lowercase hex, matching the W3C
// traceparent wire format.
func (id TraceId) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id TraceId) IsZero() bool {
	return id == TraceId{}
}

// ParseTraceId decodes a hex string produced by String.
func ParseTraceId(s string) (TraceId, error) {
	var id TraceId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("trace: invalid trace id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("trace: trace id %q has %d bytes, want %d", s, len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

func (id TraceId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TraceId) UnmarshalText(text []byte) error {
	parsed, err := ParseTraceId(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SpanId is a 64-bit opaque identifier, unique per request/response
// exchange and the primary key of the traces partition.
type SpanId [8]byte

// NewSpanId mints a random 64-bit span id.
func NewSpanId() SpanId {
	var id SpanId
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("trace: failed to read random bytes: %v", err))
	}
	return id
}

func (id SpanId) String() string {
	return hex.EncodeToString(id[:])
}

func (id SpanId) IsZero() bool {
	return id == SpanId{}
}

// Bytes returns the big-endian 8-byte encoding used as a storage key.
func (id SpanId) Bytes() []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

func ParseSpanId(s string) (SpanId, error) {
	var id SpanId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("trace: invalid span id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("trace: span id %q has %d bytes, want %d", s, len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

func (id SpanId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *SpanId) UnmarshalText(text []byte) error {
	parsed, err := ParseSpanId(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
