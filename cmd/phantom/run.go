package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/epli2/phantom/pkg/ca"
	"github.com/epli2/phantom/pkg/hookagent"
	"github.com/epli2/phantom/pkg/mitmproxy"
	"github.com/epli2/phantom/pkg/store"
	"github.com/epli2/phantom/pkg/trace"
	"github.com/epli2/phantom/pkg/ui"
)

// jsonlPollInterval bounds how long runJSONL waits on an empty sink
// before checking ctx again.
const jsonlPollInterval = 100 * time.Millisecond

type runOptions struct {
	backend  string
	output   string
	port     int
	dataDir  string
	agentLib string
	command  []string
}

// run wires the selected capture backend to the selected output mode.
// Start-up failures (bind, cert generation, storage open) are reported
// and cause a non-zero exit; per-trace failures never reach this layer.
func run(opts *runOptions) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	dataDir := opts.dataDir
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("phantom: create data dir: %w", err)
	}

	tstore, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("phantom: open storage: %w", err)
	}
	defer tstore.Close()

	backend, err := buildBackend(opts)
	if err != nil {
		return err
	}

	sink := trace.NewSink()
	backendErrCh := make(chan error, 1)
	go func() {
		err := backend.Run(ctx, sink)
		if err != nil {
			cancel()
		}
		backendErrCh <- err
	}()

	switch opts.output {
	case "tui":
		err = runTUI(ctx, sink, tstore, backend.Name())
	case "jsonl":
		err = runJSONL(ctx, sink, tstore)
	default:
		err = fmt.Errorf("phantom: unknown output mode %q", opts.output)
	}

	cancel()
	if backendErr := <-backendErrCh; backendErr != nil && err == nil {
		err = backendErr
	}
	return err
}

func buildBackend(opts *runOptions) (trace.CaptureBackend, error) {
	switch opts.backend {
	case "proxy":
		certPath := ca.DefaultCertPath()
		keyPath := ca.DefaultKeyPath()
		proxyCA, err := ca.LoadOrCreate(certPath, keyPath, nil)
		if err != nil {
			return nil, fmt.Errorf("phantom: setup CA: %w", err)
		}
		fmt.Fprintf(os.Stderr, "using CA certificate: %s\n", certPath)

		cfg := mitmproxy.DefaultConfig()
		cfg.Port = opts.port
		cfg.CA = proxyCA
		return mitmproxy.New(cfg)

	case "ldpreload":
		if opts.agentLib == "" {
			return nil, fmt.Errorf("phantom: --agent-lib is required for backend ldpreload")
		}
		if len(opts.command) == 0 {
			return nil, fmt.Errorf("phantom: a target command is required after -- for backend ldpreload")
		}
		return hookagent.New(&hookagent.Config{
			AgentLib: opts.agentLib,
			Command:  opts.command,
		})

	default:
		return nil, fmt.Errorf("phantom: unknown backend %q (want proxy or ldpreload)", opts.backend)
	}
}

func runTUI(ctx context.Context, sink *trace.Sink, tstore trace.TraceStore, backendName string) error {
	p := tea.NewProgram(ui.New(ctx, sink, tstore, backendName), tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}

// runJSONL drains the sink until ctx is canceled, writing one JSON
// object per line to stdout and persisting each trace.
func runJSONL(ctx context.Context, sink *trace.Sink, tstore trace.TraceStore) error {
	enc := json.NewEncoder(os.Stdout)
	for {
		t, ok := sink.TryRecv()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(jsonlPollInterval):
				continue
			}
		}
		if err := tstore.Insert(ctx, t); err != nil {
			fmt.Fprintf(os.Stderr, "phantom: persist trace %s: %v\n", t.SpanId, err)
		}
		if err := enc.Encode(t); err != nil {
			fmt.Fprintf(os.Stderr, "phantom: encode trace %s: %v\n", t.SpanId, err)
		}
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "phantom-data"
	}
	return filepath.Join(home, ".phantom", "data")
}
