package reconstruct

import (
	"bytes"
	"encoding/binary"
	"testing"

	"golang.org/x/net/http2/hpack"
)

func frameBytes(typ, flags byte, streamID uint32, payload []byte) []byte {
	var hdr [frameHeaderLen]byte
	hdr[0] = byte(len(payload) >> 16)
	hdr[1] = byte(len(payload) >> 8)
	hdr[2] = byte(len(payload))
	hdr[3] = typ
	hdr[4] = flags
	binary.BigEndian.PutUint32(hdr[5:9], streamID)
	return append(hdr[:], payload...)
}

func encodeHeaders(fields []hpack.HeaderField) []byte {
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	for _, f := range fields {
		_ = enc.WriteField(f)
	}
	return buf.Bytes()
}

func TestHTTP2ConnSingleStreamRoundTrip(t *testing.T) {
	c := newHTTP2Conn(1 << 20)

	reqHeaders := encodeHeaders([]hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/items"},
		{Name: "accept", Value: "application/json"},
	})
	reqFrame := frameBytes(frameHeaders, flagEndHeaders, 1, reqHeaders)
	reqDataFrame := frameBytes(frameData, flagEndStream, 1, []byte(""))

	if out := c.feed(true, append(reqFrame, reqDataFrame...)); out != nil {
		t.Fatalf("request side alone should not complete: %v", out)
	}

	respHeaders := encodeHeaders([]hpack.HeaderField{
		{Name: ":status", Value: "200"},
		{Name: "content-type", Value: "application/json"},
	})
	respFrame := frameBytes(frameHeaders, flagEndHeaders, 1, respHeaders)
	respDataFrame := frameBytes(frameData, flagEndStream, 1, []byte(`{"ok":true}`))

	out := c.feed(false, append(respFrame, respDataFrame...))
	if len(out) != 1 {
		t.Fatalf("expected one completed trace, got %d", len(out))
	}
	tr := out[0]
	if tr.URL != "https://example.com/items" {
		t.Errorf("URL = %q", tr.URL)
	}
	if tr.StatusCode != 200 {
		t.Errorf("StatusCode = %d", tr.StatusCode)
	}
	if string(tr.ResponseBody) != `{"ok":true}` {
		t.Errorf("ResponseBody = %q", tr.ResponseBody)
	}
}

func TestHTTP2ConnContinuationFrame(t *testing.T) {
	c := newHTTP2Conn(1 << 20)

	full := encodeHeaders([]hpack.HeaderField{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "api.example.com"},
		{Name: ":path", Value: "/submit"},
	})
	split := len(full) / 2
	headersFrame := frameBytes(frameHeaders, 0, 3, full[:split])
	contFrame := frameBytes(frameContinuation, flagEndHeaders, 3, full[split:])
	dataFrame := frameBytes(frameData, flagEndStream, 3, []byte("body"))

	c.feed(true, headersFrame)
	c.feed(true, contFrame)
	if out := c.feed(true, dataFrame); out != nil {
		t.Fatalf("request-only should not complete: %v", out)
	}

	respHeaders := encodeHeaders([]hpack.HeaderField{{Name: ":status", Value: "201"}})
	respFrame := frameBytes(frameHeaders, flagEndHeaders|flagEndStream, 3, respHeaders)

	out := c.feed(false, respFrame)
	if len(out) != 1 {
		t.Fatalf("expected completion after CONTINUATION reassembly, got %d", len(out))
	}
	if out[0].URL != "https://api.example.com/submit" {
		t.Errorf("URL = %q", out[0].URL)
	}
	if string(out[0].RequestBody) != "body" {
		t.Errorf("RequestBody = %q", out[0].RequestBody)
	}
}
