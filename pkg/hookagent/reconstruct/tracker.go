package reconstruct

import (
	"bytes"
	"net/url"
	"strconv"
	"time"

	"github.com/epli2/phantom/pkg/hookagent/wire"
	"github.com/epli2/phantom/pkg/trace"
)

// DefaultBodyLimit is the per-trace body cap for the hook-agent backend:
// 16 KiB versus 1 MiB for the standalone proxy. It is applied here,
// host-side, to the bytes the shim forwards.
const DefaultBodyLimit = 16 * 1024

// connPhase is the per-fd parsing state.
type connPhase int

const (
	phaseCollectingRequest connPhase = iota
	phaseCollectingResponse
	phaseHTTP2
)

// fdState tracks one socket's in-flight exchange.
type fdState struct {
	phase connPhase

	req  *msgAccumulator
	resp *msgAccumulator

	h2         *http2Conn
	h2SniffBuf []byte

	reqStart time.Time
}

// Tracker reassembles completed HttpTrace records from the wire.Event
// stream forwarded by one or more hook-agent connections. It is not
// safe for concurrent use from multiple goroutines; a listener should
// own one Tracker per accepted agent connection.
type Tracker struct {
	conns     map[uint32]*fdState
	bodyLimit int
}

// NewTracker returns a Tracker with the default hook-agent body limit.
func NewTracker() *Tracker {
	return &Tracker{conns: make(map[uint32]*fdState), bodyLimit: DefaultBodyLimit}
}

func (t *Tracker) state(fd uint32) *fdState {
	s, ok := t.conns[fd]
	if !ok {
		s = &fdState{phase: phaseCollectingRequest}
		t.conns[fd] = s
	}
	return s
}

// Feed processes one wire.Event and returns the traces it completed, or
// nil if more bytes are still expected. One event on an HTTP/2
// connection can carry several frames that each complete a different
// stream, so Feed returns a slice.
func (t *Tracker) Feed(ev wire.Event) []*trace.HttpTrace {
	if ev.Dir == wire.DirClose {
		return t.close(ev.Fd)
	}

	s := t.state(ev.Fd)

	if s.phase == phaseHTTP2 {
		return s.h2.feed(ev.Dir == wire.DirOut, ev.Data)
	}

	// Detect the HTTP/2 client preface on the first few outbound bytes,
	// before any HTTP/1.1 parsing commits to this fd.
	if ev.Dir == wire.DirOut && s.phase == phaseCollectingRequest && s.req == nil {
		s.h2SniffBuf = append(s.h2SniffBuf, ev.Data...)
		if len(s.h2SniffBuf) >= len(http2Preface) {
			if bytes.Equal(s.h2SniffBuf[:len(http2Preface)], http2Preface) {
				s.phase = phaseHTTP2
				s.h2 = newHTTP2Conn(t.bodyLimit)
				rest := s.h2SniffBuf[len(http2Preface):]
				s.h2SniffBuf = nil
				if len(rest) > 0 {
					return s.h2.feed(true, rest)
				}
				return nil
			}
			// not HTTP/2: replay the sniffed bytes into the HTTP/1.1 path.
			buffered := s.h2SniffBuf
			s.h2SniffBuf = nil
			return t.feedHTTP1(s, wire.Event{Fd: ev.Fd, Dir: ev.Dir, Data: buffered})
		}
		return nil
	}

	return t.feedHTTP1(s, ev)
}

func (t *Tracker) feedHTTP1(s *fdState, ev wire.Event) []*trace.HttpTrace {
	switch s.phase {
	case phaseCollectingRequest:
		if ev.Dir != wire.DirOut {
			// The socket has gone from written-to to read-from: the peer
			// started replying, so the request is done regardless of
			// whether its own framing ever reached a clean end (e.g. a
			// pipelining client that never signals end-of-body the way
			// our framing rules expect). Treat this as the request's
			// completion trigger and fall through into the response.
			if s.req != nil && s.req.headerDone {
				s.phase = phaseCollectingResponse
				s.resp = newMsgAccumulator(t.bodyLimit, false)
				return t.feedHTTP1(s, ev)
			}
			// stray inbound bytes with nothing pending; ignore.
			return nil
		}
		if s.req == nil {
			s.req = newMsgAccumulator(t.bodyLimit, true)
			s.reqStart = time.Now()
		}
		s.req.feed(ev.Data)
		if s.req.complete() {
			s.phase = phaseCollectingResponse
			s.resp = newMsgAccumulator(t.bodyLimit, false)
		}
		return nil

	case phaseCollectingResponse:
		if ev.Dir != wire.DirIn {
			return nil
		}
		s.resp.feed(ev.Data)
		if s.resp.complete() {
			tr := buildHTTP1Trace(s)
			s.req = nil
			s.resp = nil
			s.phase = phaseCollectingRequest
			return []*trace.HttpTrace{tr}
		}
		return nil
	}
	return nil
}

// close finalizes any in-flight exchange on fd: a response with
// ambiguous framing that appears complete (has a status line and
// headers) is emitted rather than dropped.
func (t *Tracker) close(fd uint32) []*trace.HttpTrace {
	s, ok := t.conns[fd]
	if !ok {
		return nil
	}
	delete(t.conns, fd)

	if s.phase == phaseCollectingResponse && s.resp != nil && s.resp.headerDone {
		s.resp.finishOnClose()
		return []*trace.HttpTrace{buildHTTP1Trace(s)}
	}
	return nil
}

func buildHTTP1Trace(s *fdState) *trace.HttpTrace {
	req, resp := s.req, s.resp

	method := trace.ParseMethod(req.startLine[0])
	rawURL := req.startLine[1]
	fullURL := rawURL
	if u, err := url.Parse(rawURL); err == nil && !u.IsAbs() {
		if host, ok := req.headers.Get("host"); ok {
			fullURL = "http://" + host + rawURL
		}
	}

	var status uint16
	if n, err := strconv.Atoi(resp.startLine[1]); err == nil {
		status = uint16(n)
	}

	return &trace.HttpTrace{
		SpanId:          trace.NewSpanId(),
		TraceId:         trace.NewTraceId(),
		Method:          method,
		URL:             fullURL,
		StatusCode:      status,
		ProtocolVersion: resp.startLine[0],
		RequestHeaders:  req.headers,
		ResponseHeaders: resp.headers,
		RequestBody:     req.body,
		ResponseBody:    resp.body,
		Timestamp:       s.reqStart,
		Duration:        time.Since(s.reqStart),
	}
}
