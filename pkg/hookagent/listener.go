// Package hookagent implements the preload-hook capture backend:
// it listens on a Unix domain socket for the byte-forwarding stream
// produced by the C interposition shim in pkg/hookagent/agent, feeds
// each observed chunk through pkg/hookagent/reconstruct, and spawns the
// traced command with the platform preload variable pointed at the
// caller-supplied shared library.
package hookagent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/epli2/phantom/pkg/hookagent/reconstruct"
	"github.com/epli2/phantom/pkg/hookagent/wire"
	"github.com/epli2/phantom/pkg/trace"
)

// Config configures the preload-hook capture backend.
type Config struct {
	// SocketPath is the Unix domain socket the agent connects to. A
	// fresh path is generated under os.TempDir if empty.
	SocketPath string
	// AgentLib is the shared library path passed via the preload env
	// var to the spawned command (required).
	AgentLib string
	// Command is the target argv to spawn with preload set (required).
	Command []string
}

// Listener is the preload-hook CaptureBackend: it owns the Unix socket,
// one reconstruct.Tracker per connected agent, and the spawned target
// process.
type Listener struct {
	cfg *Config
	ln  net.Listener

	mu       sync.Mutex
	trackers map[net.Conn]*reconstruct.Tracker
}

var _ trace.CaptureBackend = (*Listener)(nil)

// New validates cfg and prepares (but does not yet bind) the listener.
func New(cfg *Config) (*Listener, error) {
	if cfg.AgentLib == "" {
		return nil, fmt.Errorf("hookagent: AgentLib is required")
	}
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("hookagent: Command is required")
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = defaultSocketPath()
	}
	return &Listener{cfg: cfg, trackers: make(map[net.Conn]*reconstruct.Tracker)}, nil
}

func (l *Listener) Name() string { return "ldpreload" }

// Run binds the control socket, spawns the target command with preload
// set, and accepts agent connections until ctx is canceled. Every
// completed trace reconstructed from an agent connection is pushed onto
// sink.
func (l *Listener) Run(ctx context.Context, sink *trace.Sink) error {
	_ = os.Remove(l.cfg.SocketPath)
	ln, err := net.Listen("unix", l.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("hookagent: listen %s: %w", l.cfg.SocketPath, err)
	}
	l.ln = ln
	defer os.Remove(l.cfg.SocketPath)

	proc, err := spawnWithPreload(l.cfg.AgentLib, l.cfg.SocketPath, l.cfg.Command)
	if err != nil {
		ln.Close()
		return fmt.Errorf("hookagent: spawn target: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.acceptLoop(sink)
	}()

	select {
	case <-ctx.Done():
		ln.Close()
		_ = proc.Kill()
		return nil
	case err := <-errCh:
		_ = proc.Kill()
		if err != nil && !isClosedErr(err) {
			return err
		}
		return nil
	}
}

func (l *Listener) acceptLoop(sink *trace.Sink) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.trackers[conn] = reconstruct.NewTracker()
		l.mu.Unlock()
		go l.handleConn(conn, sink)
	}
}

func (l *Listener) handleConn(conn net.Conn, sink *trace.Sink) {
	defer func() {
		conn.Close()
		l.mu.Lock()
		delete(l.trackers, conn)
		l.mu.Unlock()
	}()

	l.mu.Lock()
	t := l.trackers[conn]
	l.mu.Unlock()

	r := bufio.NewReader(conn)
	for {
		ev, err := wire.ReadEvent(r)
		if err != nil {
			return
		}
		for _, tr := range t.Feed(ev) {
			sink.Push(tr)
		}
	}
}

// Close stops accepting new agent connections.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

func defaultSocketPath() string {
	return fmt.Sprintf("%s/phantom-agent-%d.sock", os.TempDir(), os.Getpid())
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
