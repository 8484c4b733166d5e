// Package reconstruct turns the raw byte streams forwarded by the
// preload-hook agent's C shim into completed HttpTrace records,
// maintaining one state machine per observed file descriptor:
// CollectingRequest while outbound bytes accumulate, CollectingResponse
// while inbound bytes accumulate, or Http2 once the connection preface
// is seen.
package reconstruct

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/epli2/phantom/pkg/trace"
)

var headerTerminator = []byte("\r\n\r\n")

// msgAccumulator incrementally parses one HTTP/1.1 message (request or
// response) from bytes delivered in arbitrary-sized chunks, since a
// hooked send()/recv() call rarely lines up with message boundaries.
type msgAccumulator struct {
	raw        []byte
	headerDone bool
	startLine  [3]string // method/url/proto, or proto/status/reason
	headers    *trace.HeaderMap
	contentLen int64 // -1 if absent
	chunked    bool
	body       []byte
	bodyLimit  int
	bodyDone   bool
	isRequest  bool

	chunkBuf          []byte
	chunkWant         int64 // -1: need size line, -2: awaiting trailer CRLF
	bodyConsumedTotal int
}

// newMsgAccumulator starts a parser for a request (isRequest true) or a
// response. The distinction matters once headers are parsed: a request
// with neither Content-Length nor chunked framing has no body at all
// (RFC 7230 §3.3.3 rule 6), while the same framing on a response other
// than 204 or 304 is ambiguous and only resolved by the connection
// closing.
func newMsgAccumulator(bodyLimit int, isRequest bool) *msgAccumulator {
	return &msgAccumulator{contentLen: -1, chunkWant: -1, bodyLimit: bodyLimit, isRequest: isRequest}
}

// complete reports whether the full message (headers + body, by
// whatever framing the headers declared) has been parsed.
func (m *msgAccumulator) complete() bool {
	return m.headerDone && m.bodyDone
}

// feed appends b to the accumulator, advancing the parse as far as
// possible.
func (m *msgAccumulator) feed(b []byte) {
	if m.bodyDone {
		return
	}
	if !m.headerDone {
		m.raw = append(m.raw, b...)
		idx := bytes.Index(m.raw, headerTerminator)
		if idx < 0 {
			return
		}
		m.parseHeaderBlock(m.raw[:idx])
		rest := m.raw[idx+len(headerTerminator):]
		m.headerDone = true
		m.raw = nil

		code := m.startLine[1]
		noBodyStatus := !m.isRequest && (code == "204" || code == "304")
		if noBodyStatus || (!m.chunked && (m.contentLen == 0 || (m.isRequest && m.contentLen < 0))) {
			// Zero Content-Length, (for a request only) no framing at
			// all, or (for a response) a 204 or 304 status: no body
			// follows the header block.
			m.bodyDone = true
			return
		}
		if len(rest) > 0 {
			m.consumeBody(rest)
		}
		return
	}
	m.consumeBody(b)
}

// finishOnClose is called when the underlying fd is closed mid-body: a
// response with no Content-Length and no chunked framing is terminated
// by connection close, per HTTP/1.0-style close-delimited semantics.
func (m *msgAccumulator) finishOnClose() {
	if m.headerDone {
		m.bodyDone = true
	}
}

func (m *msgAccumulator) parseHeaderBlock(block []byte) {
	lines := strings.Split(string(block), "\r\n")
	if len(lines) == 0 {
		return
	}
	parts := strings.SplitN(lines[0], " ", 3)
	for i := 0; i < 3 && i < len(parts); i++ {
		m.startLine[i] = parts[i]
	}

	m.headers = trace.NewHeaderMap()
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		m.headers.Set(key, val)

		switch strings.ToLower(key) {
		case "content-length":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				m.contentLen = n
			}
		case "transfer-encoding":
			if strings.Contains(strings.ToLower(val), "chunked") {
				m.chunked = true
			}
		}
	}
}

func (m *msgAccumulator) consumeBody(b []byte) {
	if m.chunked {
		m.consumeChunked(b)
		return
	}

	if m.contentLen < 0 {
		// no Content-Length and not chunked: framing is ambiguous until
		// the connection closes (HTTP/1.0-style close-delimited body).
		m.appendBody(b)
		return
	}

	want := m.contentLen - int64(m.bodyConsumedTotal)
	if want < 0 {
		want = 0
	}
	take := b
	if int64(len(take)) > want {
		take = take[:want]
	}
	m.appendBody(take)
	if int64(m.bodyConsumedTotal) >= m.contentLen {
		m.bodyDone = true
	}
}

func (m *msgAccumulator) appendBody(b []byte) {
	m.bodyConsumedTotal += len(b)
	if len(m.body) < m.bodyLimit {
		room := m.bodyLimit - len(m.body)
		if room > len(b) {
			room = len(b)
		}
		m.body = append(m.body, b[:room]...)
	}
}

// consumeChunked implements RFC 7230 §4.1 chunked transfer decoding
// incrementally: a size line, that many bytes of data, a trailing
// CRLF, repeated until a zero-size chunk, then optional trailers and a
// final CRLF.
func (m *msgAccumulator) consumeChunked(b []byte) {
	m.chunkBuf = append(m.chunkBuf, b...)
	for {
		if m.chunkWant == -1 {
			idx := bytes.Index(m.chunkBuf, []byte("\r\n"))
			if idx < 0 {
				return
			}
			line := string(m.chunkBuf[:idx])
			if semi := strings.IndexByte(line, ';'); semi >= 0 {
				line = line[:semi]
			}
			line = strings.TrimSpace(line)
			size, err := strconv.ParseInt(line, 16, 64)
			if err != nil {
				m.bodyDone = true // malformed chunk framing; stop trying
				return
			}
			m.chunkBuf = m.chunkBuf[idx+2:]
			if size == 0 {
				m.chunkWant = -2 // awaiting trailer-terminating CRLF
				continue
			}
			m.chunkWant = size
			continue
		}

		if m.chunkWant == -2 {
			idx := bytes.Index(m.chunkBuf, []byte("\r\n"))
			if idx < 0 {
				return
			}
			m.chunkBuf = m.chunkBuf[idx+2:]
			m.bodyDone = true
			return
		}

		if int64(len(m.chunkBuf)) < m.chunkWant+2 {
			return
		}
		m.appendBody(m.chunkBuf[:m.chunkWant])
		m.chunkBuf = m.chunkBuf[m.chunkWant+2:] // skip data and its trailing CRLF
		m.chunkWant = -1
	}
}
