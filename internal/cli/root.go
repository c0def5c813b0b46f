// Package cli defines the analyzer command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "analyzer",
	Short: "Codebase analysis service backed by the claude CLI",
	Long: `analyzer supervises headless claude CLI invocations against local
codebases and normalizes their output. Run 'analyzer serve' for the HTTP
API, or 'analyzer analyze' for a one-shot invocation from the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configFile string

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: env vars only)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process-wide slog logger at the requested level,
// writing to w. Components receive it by injection, never via lookup.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", level)
	}
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
