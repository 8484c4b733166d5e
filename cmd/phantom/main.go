// Phantom is a zero-instrumentation API observability tool: it captures
// HTTP/HTTPS exchanges either through a local MITM proxy or by preloading
// a shimmed shared library into a target process, and shows them live in
// a terminal viewer or as a JSONL stream.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/epli2/phantom/pkg/config"
)

var version = "0.1.0"

func main() {
	defaults, err := config.LoadOrDefault(config.DefaultConfigPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	opts := &runOptions{}

	rootCmd := &cobra.Command{
		Use:     "phantom [flags] [-- CMD...]",
		Short:   "Zero-instrumentation API observability",
		Version: version,
		Long: `Phantom captures HTTP/HTTPS traffic without touching the target's
source code, using either a local MITM proxy or a dynamic-linker preload
shim, and displays it in a terminal viewer or as newline-delimited JSON.

Examples:
  # Proxy mode: point a client's HTTP_PROXY at 127.0.0.1:8080
  phantom --backend proxy --port 8080

  # Preload-hook mode: trace a command directly, no proxy configuration
  phantom --backend ldpreload --agent-lib ./agent.so -- curl https://example.com

  # Non-interactive JSONL stream instead of the terminal viewer
  phantom --backend proxy --output jsonl > traffic.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.command = args
			return run(opts)
		},
	}

	rootCmd.Flags().StringVarP(&opts.backend, "backend", "b", defaults.Backend, "Capture backend: proxy, ldpreload")
	rootCmd.Flags().StringVarP(&opts.output, "output", "o", defaults.Output, "Output mode: tui, jsonl")
	rootCmd.Flags().IntVarP(&opts.port, "port", "p", defaults.Port, "TCP port for the proxy backend")
	rootCmd.Flags().StringVarP(&opts.dataDir, "data-dir", "d", defaults.DataDir, "Storage root (default: ~/.phantom/data)")
	rootCmd.Flags().StringVar(&opts.agentLib, "agent-lib", defaults.AgentLib, "Shared library to preload (required for ldpreload)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
