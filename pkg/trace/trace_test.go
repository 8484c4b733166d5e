package trace

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHeaderMapPreservesOrderThroughJSON(t *testing.T) {
	h := NewHeaderMap()
	h.Set("Content-Type", "application/json")
	h.Set("X-Request-Id", "abc123")
	h.Set("Accept", "*/*")

	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got := NewHeaderMap()
	if err := json.Unmarshal(data, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !h.Equal(got) {
		t.Fatalf("round trip changed headers: got %v, want %v", got.Keys(), h.Keys())
	}

	want := []string{"content-type", "x-request-id", "accept"}
	gotKeys := got.Keys()
	if len(gotKeys) != len(want) {
		t.Fatalf("key count = %d, want %d", len(gotKeys), len(want))
	}
	for i, k := range want {
		if gotKeys[i] != k {
			t.Errorf("key[%d] = %q, want %q", i, gotKeys[i], k)
		}
	}
}

func TestHeaderMapLastWriteWins(t *testing.T) {
	h := NewHeaderMap()
	h.Set("X-Foo", "first")
	h.Set("x-foo", "second")

	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}
	v, ok := h.Get("X-FOO")
	if !ok || v != "second" {
		t.Fatalf("Get(X-FOO) = %q, %v, want \"second\", true", v, ok)
	}
}

func TestHttpTraceRoundTrip(t *testing.T) {
	reqHeaders := NewHeaderMap()
	reqHeaders.Set("Host", "example.com")
	respHeaders := NewHeaderMap()
	respHeaders.Set("Content-Type", "application/json")

	orig := &HttpTrace{
		SpanId:          NewSpanId(),
		TraceId:         NewTraceId(),
		Method:          MethodPost,
		URL:             "https://example.com/x?y=1",
		StatusCode:      201,
		ProtocolVersion: "HTTP/1.1",
		RequestHeaders:  reqHeaders,
		ResponseHeaders: respHeaders,
		RequestBody:     []byte(`{"key":"value"}`),
		ResponseBody:    []byte(`{"created":true}`),
		Timestamp:       time.Unix(1700000000, 0).UTC(),
		Duration:        42 * time.Millisecond,
		SourceAddr:      "127.0.0.1:5555",
		DestAddr:        "93.184.216.34:443",
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got HttpTrace
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.SpanId != orig.SpanId || got.TraceId != orig.TraceId {
		t.Errorf("ids changed across round trip")
	}
	if got.Method != orig.Method || got.URL != orig.URL || got.StatusCode != orig.StatusCode {
		t.Errorf("core fields changed across round trip")
	}
	if !got.RequestHeaders.Equal(orig.RequestHeaders) || !got.ResponseHeaders.Equal(orig.ResponseHeaders) {
		t.Errorf("headers changed across round trip")
	}
	if string(got.RequestBody) != string(orig.RequestBody) || string(got.ResponseBody) != string(orig.ResponseBody) {
		t.Errorf("bodies changed across round trip")
	}
	if got.Duration != orig.Duration {
		t.Errorf("Duration = %v, want %v", got.Duration, orig.Duration)
	}
	if !got.Timestamp.Equal(orig.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, orig.Timestamp)
	}
}

func TestParseMethodFallsBackToGet(t *testing.T) {
	if m := ParseMethod("WEIRD"); m != MethodGet {
		t.Errorf("ParseMethod(WEIRD) = %v, want GET", m)
	}
	if m := ParseMethod("DELETE"); m != MethodDelete {
		t.Errorf("ParseMethod(DELETE) = %v, want DELETE", m)
	}
}

func TestTraceIdHexRoundTrip(t *testing.T) {
	id := NewTraceId()
	parsed, err := ParseTraceId(id.String())
	if err != nil {
		t.Fatalf("ParseTraceId: %v", err)
	}
	if parsed != id {
		t.Errorf("parsed id != original")
	}
}

func TestTruncateBody(t *testing.T) {
	b := make([]byte, 100)
	for i := range b {
		b[i] = 'A'
	}
	got := TruncateBody(b, 16)
	if len(got) != 16 {
		t.Fatalf("len = %d, want 16", len(got))
	}

	same := TruncateBody(b[:10], 16)
	if len(same) != 10 {
		t.Fatalf("TruncateBody should not pad short input, got len %d", len(same))
	}
}

func TestSinkDropsNewestOnFull(t *testing.T) {
	s := NewSink()
	for i := 0; i < SinkCapacity; i++ {
		s.Push(&HttpTrace{SpanId: NewSpanId()})
	}
	// one more push should be dropped, not block
	s.Push(&HttpTrace{SpanId: NewSpanId()})
	if s.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", s.Dropped())
	}

	count := 0
	for {
		_, ok := s.TryRecv()
		if !ok {
			break
		}
		count++
	}
	if count != SinkCapacity {
		t.Fatalf("delivered %d traces, want %d", count, SinkCapacity)
	}
}
