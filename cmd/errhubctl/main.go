// Package main is errhubctl, the command-line client for the errhub API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kiranshivaraju/errhub/internal/client"
	"github.com/spf13/cobra"
)

var Version = "dev"

type rootOptions struct {
	server  string
	apiKey  string
	timeout time.Duration
	json    bool
}

func (o *rootOptions) client() (*client.HTTPClient, error) {
	if o.server == "" {
		return nil, fmt.Errorf("--server or ERRHUB_URL is required")
	}
	return client.New(o.server, o.apiKey, o.timeout), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "errhubctl",
		Short:         "errhubctl - report and triage errors in errhub",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("ERRHUB_URL", "http://localhost:8080"), "errhub server URL")
	rootCmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("ERRHUB_API_KEY"), "API key")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(ingestCmd(opts))
	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(getCmd(opts))
	rootCmd.AddCommand(historyCmd(opts))
	rootCmd.AddCommand(summaryCmd(opts))
	rootCmd.AddCommand(assignCmd(opts))
	rootCmd.AddCommand(transitionCmd(opts, "start", "Start work on an error record"))
	rootCmd.AddCommand(transitionCmd(opts, "resolve", "Mark an error record resolved"))
	rootCmd.AddCommand(transitionCmd(opts, "ignore", "Ignore an error record"))

	return rootCmd
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
