package reconstruct

import (
	"encoding/binary"
	"strconv"
	"time"

	"golang.org/x/net/http2/hpack"

	"github.com/epli2/phantom/pkg/trace"
)

// http2Preface is the client connection preface that, seen as the
// first outbound bytes on an fd, switches that fd into Http2 mode.
var http2Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

const frameHeaderLen = 9

const (
	frameData         = 0x0
	frameHeaders      = 0x1
	framePriority     = 0x2
	frameRSTStream    = 0x3
	frameSettings     = 0x4
	framePushPromise  = 0x5
	framePing         = 0x6
	frameGoAway       = 0x7
	frameWindowUpdate = 0x8
	frameContinuation = 0x9
)

const (
	flagEndStream  = 0x1
	flagEndHeaders = 0x4
	flagPadded     = 0x8
	flagPriority   = 0x20
)

// h2Stream accumulates one HTTP/2 stream's request and response sides.
type h2Stream struct {
	start         time.Time
	reqPseudo     map[string]string
	reqHeaders    *trace.HeaderMap
	reqBody       []byte
	reqEndStream  bool
	respPseudo    map[string]string
	respHeaders   *trace.HeaderMap
	respBody      []byte
	respEndStream bool
}

// http2Conn parses HTTP/2 framing on one fd, after preface detection.
// Request and response HEADERS are HPACK-encoded against independent
// dynamic tables (client's and server's), so each direction gets its
// own decoder.
type http2Conn struct {
	outBuf []byte
	inBuf  []byte

	reqDec  *hpack.Decoder
	respDec *hpack.Decoder

	streams map[uint32]*h2Stream

	// headerAccum collects fields emitted by the active decoder while a
	// HEADERS/CONTINUATION sequence is in progress (fields may span
	// several frames until END_HEADERS).
	headerAccum   []hpack.HeaderField
	headerEndOnce bool // END_STREAM flag seen on the HEADERS frame itself

	bodyLimit int
}

func newHTTP2Conn(bodyLimit int) *http2Conn {
	c := &http2Conn{streams: make(map[uint32]*h2Stream), bodyLimit: bodyLimit}
	c.reqDec = hpack.NewDecoder(4096, func(f hpack.HeaderField) {
		c.headerAccum = append(c.headerAccum, f)
	})
	c.respDec = hpack.NewDecoder(4096, func(f hpack.HeaderField) {
		c.headerAccum = append(c.headerAccum, f)
	})
	return c
}

func (c *http2Conn) stream(id uint32) *h2Stream {
	s, ok := c.streams[id]
	if !ok {
		s = &h2Stream{start: time.Now()}
		c.streams[id] = s
	}
	return s
}

// feed parses as many complete frames as are available in the
// direction's buffer and returns any traces that completed as a
// result.
func (c *http2Conn) feed(isOut bool, data []byte) []*trace.HttpTrace {
	var completed []*trace.HttpTrace
	buf := &c.inBuf
	if isOut {
		buf = &c.outBuf
	}
	*buf = append(*buf, data...)

	for {
		if len(*buf) < frameHeaderLen {
			return completed
		}
		hdr := (*buf)[:frameHeaderLen]
		payloadLen := int(hdr[0])<<16 | int(hdr[1])<<8 | int(hdr[2])
		typ := hdr[3]
		flags := hdr[4]
		streamID := binary.BigEndian.Uint32(hdr[5:9]) & 0x7fffffff

		if len(*buf) < frameHeaderLen+payloadLen {
			return completed
		}
		payload := (*buf)[frameHeaderLen : frameHeaderLen+payloadLen]
		*buf = (*buf)[frameHeaderLen+payloadLen:]

		if t := c.handleFrame(isOut, typ, flags, streamID, payload); t != nil {
			completed = append(completed, t)
		}
	}
}

func (c *http2Conn) handleFrame(isOut bool, typ, flags byte, streamID uint32, payload []byte) *trace.HttpTrace {
	switch typ {
	case frameData:
		return c.handleData(isOut, flags, streamID, payload)
	case frameHeaders:
		return c.handleHeaders(isOut, flags, streamID, payload)
	case frameContinuation:
		return c.handleContinuation(isOut, flags, streamID, payload)
	case frameRSTStream:
		delete(c.streams, streamID)
	case frameGoAway:
		// connection is going away; existing streams are left to finish
		// naturally, new ones are unexpected but not specially rejected.
	case framePriority, frameSettings, framePushPromise, framePing, frameWindowUpdate:
		// noted; no effect on capture.
	}
	return nil
}

func stripPadding(flags byte, payload []byte) []byte {
	if flags&flagPadded == 0 {
		return payload
	}
	if len(payload) == 0 {
		return payload
	}
	padLen := int(payload[0])
	payload = payload[1:]
	if padLen > len(payload) {
		return nil
	}
	return payload[:len(payload)-padLen]
}

func (c *http2Conn) handleData(isOut bool, flags byte, streamID uint32, payload []byte) *trace.HttpTrace {
	data := stripPadding(flags, payload)
	s := c.stream(streamID)

	if isOut {
		s.reqBody = appendCapped(s.reqBody, data, c.bodyLimit)
		if flags&flagEndStream != 0 {
			s.reqEndStream = true
		}
	} else {
		s.respBody = appendCapped(s.respBody, data, c.bodyLimit)
		if flags&flagEndStream != 0 {
			s.respEndStream = true
		}
	}
	return c.maybeEmit(streamID)
}

func (c *http2Conn) handleHeaders(isOut bool, flags byte, streamID uint32, payload []byte) *trace.HttpTrace {
	block := stripPadding(flags, payload)
	if flags&flagPriority != 0 && len(block) >= 5 {
		block = block[5:]
	}

	c.headerAccum = nil
	c.headerEndOnce = flags&flagEndStream != 0

	dec := c.respDec
	if isOut {
		dec = c.reqDec
	}
	_, _ = dec.Write(block)

	if flags&flagEndHeaders != 0 {
		return c.finishHeaderBlock(streamID, isOut)
	}
	return nil
}

func (c *http2Conn) handleContinuation(isOut bool, flags byte, streamID uint32, payload []byte) *trace.HttpTrace {
	dec := c.respDec
	if isOut {
		dec = c.reqDec
	}
	_, _ = dec.Write(payload)

	if flags&flagEndHeaders != 0 {
		return c.finishHeaderBlock(streamID, isOut)
	}
	return nil
}

func (c *http2Conn) finishHeaderBlock(streamID uint32, isOut bool) *trace.HttpTrace {
	s := c.stream(streamID)
	pseudo := make(map[string]string)
	hm := trace.NewHeaderMap()
	for _, f := range c.headerAccum {
		if len(f.Name) > 0 && f.Name[0] == ':' {
			pseudo[f.Name] = f.Value
		} else {
			hm.Set(f.Name, f.Value)
		}
	}
	c.headerAccum = nil

	if isOut {
		s.reqPseudo = pseudo
		s.reqHeaders = hm
		if c.headerEndOnce {
			s.reqEndStream = true
		}
	} else {
		s.respPseudo = pseudo
		s.respHeaders = hm
		if c.headerEndOnce {
			s.respEndStream = true
		}
	}
	return c.maybeEmit(streamID)
}

// maybeEmit builds and returns a completed HttpTrace once both sides
// of streamID have sent END_STREAM.
func (c *http2Conn) maybeEmit(streamID uint32) *trace.HttpTrace {
	s, ok := c.streams[streamID]
	if !ok || !s.reqEndStream || !s.respEndStream {
		return nil
	}
	delete(c.streams, streamID)

	method := trace.ParseMethod(s.reqPseudo[":method"])
	scheme := s.reqPseudo[":scheme"]
	if scheme == "" {
		scheme = "https"
	}
	authority := s.reqPseudo[":authority"]
	path := s.reqPseudo[":path"]
	url := scheme + "://" + authority + path

	var status uint16
	if n, err := strconv.Atoi(s.respPseudo[":status"]); err == nil {
		status = uint16(n)
	}

	return &trace.HttpTrace{
		SpanId:          trace.NewSpanId(),
		TraceId:         trace.NewTraceId(),
		Method:          method,
		URL:             url,
		StatusCode:      status,
		ProtocolVersion: "HTTP/2",
		RequestHeaders:  s.reqHeaders,
		ResponseHeaders: s.respHeaders,
		RequestBody:     s.reqBody,
		ResponseBody:    s.respBody,
		Timestamp:       s.start,
		Duration:        time.Since(s.start),
	}
}

func appendCapped(dst, src []byte, limit int) []byte {
	if len(dst) >= limit {
		return dst
	}
	room := limit - len(dst)
	if room > len(src) {
		room = len(src)
	}
	return append(dst, src[:room]...)
}
