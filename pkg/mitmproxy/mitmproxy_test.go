package mitmproxy

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestReconstructURLAbsoluteForm(t *testing.T) {
	req := &http.Request{
		Method: "GET",
		URL: &url.URL{
			Scheme:   "https",
			Host:     "example.com",
			Path:     "/a/b",
			RawQuery: "x=1",
		},
		Host: "example.com",
	}
	got := reconstructURL(req)
	want := "https://example.com/a/b?x=1"
	if got != want {
		t.Errorf("reconstructURL = %q, want %q", got, want)
	}
}

func TestReconstructURLFallsBackToHostHeader(t *testing.T) {
	req := &http.Request{
		Method: "GET",
		URL:    &url.URL{Path: "/x"},
		Host:   "internal.example:8443",
		TLS:    &tls.ConnectionState{},
	}
	got := reconstructURL(req)
	want := "https://internal.example:8443/x"
	if got != want {
		t.Errorf("reconstructURL = %q, want %q", got, want)
	}
}

func TestReconstructURLDefaultsToHTTP(t *testing.T) {
	req := &http.Request{
		Method: "GET",
		URL:    &url.URL{Path: "/plain"},
		Host:   "plain.example",
	}
	got := reconstructURL(req)
	want := "http://plain.example/plain"
	if got != want {
		t.Errorf("reconstructURL = %q, want %q", got, want)
	}
}

func TestSnapshotAndEmitProduceCompleteTrace(t *testing.T) {
	req := &http.Request{
		Method: "POST",
		URL:    &url.URL{Scheme: "https", Host: "api.example.com", Path: "/v1/items"},
		Host:   "api.example.com",
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   io.NopCloser(strings.NewReader(`{"a":1}`)),
	}

	pend, err := snapshotRequest(req)
	if err != nil {
		t.Fatalf("snapshotRequest: %v", err)
	}

	// the body must still be readable by the actual upstream round trip
	forwarded, _ := io.ReadAll(req.Body)
	if string(forwarded) != `{"a":1}` {
		t.Fatalf("request body not preserved for forwarding, got %q", forwarded)
	}

	resp := &http.Response{
		StatusCode: 201,
		Proto:      "HTTP/1.1",
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"created":true}`)),
	}

	tr, err := emitTrace(pend, resp, DefaultMaxBodySize)
	if err != nil {
		t.Fatalf("emitTrace: %v", err)
	}

	if tr.StatusCode != 201 {
		t.Errorf("StatusCode = %d, want 201", tr.StatusCode)
	}
	if tr.URL != "https://api.example.com/v1/items" {
		t.Errorf("URL = %q", tr.URL)
	}
	if string(tr.RequestBody) != `{"a":1}` {
		t.Errorf("RequestBody = %q", tr.RequestBody)
	}
	if string(tr.ResponseBody) != `{"created":true}` {
		t.Errorf("ResponseBody = %q", tr.ResponseBody)
	}
	if tr.SpanId.IsZero() || tr.TraceId.IsZero() {
		t.Errorf("expected non-zero span/trace ids")
	}
}
