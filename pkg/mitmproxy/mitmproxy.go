// Package mitmproxy is the proxy capture backend: a MITM HTTPS/HTTP
// proxy built on github.com/elazarl/goproxy, reconstructing each
// request/response exchange into phantom's HttpTrace/Sink domain model.
package mitmproxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elazarl/goproxy"

	"github.com/epli2/phantom/pkg/backend"
	"github.com/epli2/phantom/pkg/ca"
	"github.com/epli2/phantom/pkg/trace"
)

// DefaultMaxBodySize is the proxy's default body-capture limit.
const DefaultMaxBodySize = 1024 * 1024

// Config holds proxy capture backend configuration.
type Config struct {
	// Port to listen on.
	Port int
	// CA signs the per-host leaf certificates minted for MITM.
	CA *ca.CA
	// CertCache caches minted leaf certificates by host. Defaults to a
	// fresh backend.MemoryCertCache if nil.
	CertCache backend.CertCache
	// MaxBodySize bounds how much of each request/response body is
	// captured into a trace; the upstream connection itself is never
	// truncated.
	MaxBodySize int
	// Verbose enables goproxy's own request logging.
	Verbose bool
}

// DefaultConfig returns default proxy capture configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:        8080,
		MaxBodySize: DefaultMaxBodySize,
	}
}

// Proxy is the MITM HTTPS/HTTP capture backend.
type Proxy struct {
	server     *goproxy.ProxyHttpServer
	cfg        *Config
	ln         net.Listener
	activeSink *trace.Sink
}

var _ trace.CaptureBackend = (*Proxy)(nil)

// pendingKey is the per-request marker stored in goproxy's ProxyCtx.UserData
// between the request hook and the response hook.
type pendingKey struct {
	spanID    trace.SpanId
	traceID   trace.TraceId
	start     time.Time
	method    trace.HttpMethod
	url       string
	proto     string
	headers   *trace.HeaderMap
	body      []byte
	sourceAdr string
	destAddr  string
}

// New builds a Proxy from cfg. It fails when cfg.CA is missing or its
// key pair cannot be loaded as a TLS certificate.
func New(cfg *Config) (*Proxy, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.CA == nil {
		return nil, fmt.Errorf("mitmproxy: CA is required")
	}
	if cfg.CertCache == nil {
		cfg.CertCache = backend.NewMemoryCertCache(nil)
	}

	tlsCert, err := cfg.CA.TLSCertificate()
	if err != nil {
		return nil, fmt.Errorf("mitmproxy: load CA certificate: %w", err)
	}

	server := goproxy.NewProxyHttpServer()
	server.Verbose = cfg.Verbose

	goproxy.GoproxyCa = tlsCert

	p := &Proxy{server: server, cfg: cfg}

	mitm := &goproxy.ConnectAction{
		Action:    goproxy.ConnectMitm,
		TLSConfig: p.tlsConfigForHost,
	}
	server.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(
		func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			return mitm, host
		}))

	p.wire()
	return p, nil
}

// tlsConfigForHost mints (or reuses, via cfg.CertCache) a leaf
// certificate for host, signed by cfg.CA, each time goproxy needs to
// terminate a new MITM'd connection.
func (p *Proxy) tlsConfigForHost(host string, ctx *goproxy.ProxyCtx) (*tls.Config, error) {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}

	if cert, ok := p.cfg.CertCache.Get(hostname); ok {
		return &tls.Config{Certificates: []tls.Certificate{*cert}}, nil
	}

	certPEM, keyPEM, err := p.cfg.CA.GenerateCert(hostname)
	if err != nil {
		return nil, fmt.Errorf("mitmproxy: generate leaf certificate for %s: %w", hostname, err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("mitmproxy: build leaf certificate for %s: %w", hostname, err)
	}

	p.cfg.CertCache.Set(hostname, &cert)
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// wire registers the request/response hooks that implement the
// Idle -> Pending -> Emit -> Idle state machine. The sink they publish
// to is read from p.activeSink, set by Run once a sink is available.
func (p *Proxy) wire() {
	p.server.OnRequest().DoFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		if ctx.UserData != nil {
			log.Printf("mitmproxy: second request observed before response on this exchange, dropping pending snapshot")
		}
		pend, err := snapshotRequest(req)
		if err != nil {
			log.Printf("mitmproxy: dropping trace, snapshot failed: %v", err)
			return req, nil
		}
		ctx.UserData = pend
		return req, nil
	})

	p.server.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		pend, ok := ctx.UserData.(*pendingKey)
		if !ok || pend == nil {
			return resp
		}
		ctx.UserData = nil

		sink := p.activeSink
		if sink == nil {
			return resp
		}

		t, err := emitTrace(pend, resp, p.cfg.MaxBodySize)
		if err != nil {
			log.Printf("mitmproxy: dropping trace, response decode failed: %v", err)
			return resp
		}
		sink.Push(t)
		return resp
	})
}

// Name implements trace.CaptureBackend.
func (p *Proxy) Name() string { return "proxy" }

// Run starts the listener and blocks, publishing completed traces on
// sink, until ctx is cancelled.
func (p *Proxy) Run(ctx context.Context, sink *trace.Sink) error {
	p.activeSink = sink

	addr := fmt.Sprintf(":%d", p.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mitmproxy: listen %s: %w", addr, err)
	}
	p.ln = ln

	srv := &http.Server{
		Handler:           p.server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.Printf("mitmproxy: listening on %s", addr)

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// snapshotRequest builds the pending snapshot on request arrival: start
// time, method, reconstructed scheme/host/path, case-folded headers,
// and a fresh span/trace id pair.
func snapshotRequest(req *http.Request) (*pendingKey, error) {
	body, err := readAndRestore(&req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	headers := trace.NewHeaderMap()
	for k, vals := range req.Header {
		if len(vals) > 0 {
			headers.Set(k, vals[0])
		}
	}

	return &pendingKey{
		spanID:    trace.NewSpanId(),
		traceID:   trace.NewTraceId(),
		start:     time.Now(),
		method:    trace.ParseMethod(req.Method),
		url:       reconstructURL(req),
		proto:     req.Proto,
		headers:   headers,
		body:      body,
		sourceAdr: req.RemoteAddr,
		destAddr:  req.Host,
	}, nil
}

// emitTrace builds the completed HttpTrace on response arrival: elapsed
// time, status, protocol version, response headers, and bounded bodies.
func emitTrace(pend *pendingKey, resp *http.Response, maxBody int) (*trace.HttpTrace, error) {
	var respBody []byte
	var respHeaders *trace.HeaderMap
	statusCode := uint16(0)
	proto := pend.proto

	if resp != nil {
		body, err := readAndRestore(&resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		respBody = body
		statusCode = uint16(resp.StatusCode)
		proto = resp.Proto

		respHeaders = trace.NewHeaderMap()
		for k, vals := range resp.Header {
			if len(vals) > 0 {
				respHeaders.Set(k, vals[0])
			}
		}
	}

	return &trace.HttpTrace{
		SpanId:          pend.spanID,
		TraceId:         pend.traceID,
		Method:          pend.method,
		URL:             pend.url,
		StatusCode:      statusCode,
		ProtocolVersion: proto,
		RequestHeaders:  pend.headers,
		ResponseHeaders: respHeaders,
		RequestBody:     trace.TruncateBody(pend.body, maxBody),
		ResponseBody:    trace.TruncateBody(respBody, maxBody),
		Timestamp:       pend.start,
		Duration:        time.Since(pend.start),
		SourceAddr:      pend.sourceAdr,
		DestAddr:        pend.destAddr,
	}, nil
}

// readAndRestore reads *body fully (if non-nil) and replaces it with a
// fresh reader over the same bytes, so capture never truncates what is
// actually forwarded upstream or downstream.
func readAndRestore(body *io.ReadCloser) ([]byte, error) {
	if *body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(*body)
	(*body).Close()
	if err != nil {
		return nil, err
	}
	*body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// reconstructURL rebuilds the request URL from the absolute-form or
// proxy-form URI goproxy hands us, falling back to the Host header for
// origin-form requests.
func reconstructURL(req *http.Request) string {
	scheme := req.URL.Scheme
	if scheme == "" {
		if req.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}

	host := req.URL.Host
	if host == "" {
		host = req.Host
	}

	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if !strings.HasPrefix(path, "/") {
		b.WriteString("/")
	}
	b.WriteString(path)
	return b.String()
}

// Close stops the underlying listener, if running.
func (p *Proxy) Close() error {
	if p.ln == nil {
		return nil
	}
	return p.ln.Close()
}
