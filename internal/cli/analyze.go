package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zkhan93/claude-explains-api/internal/claude"
	"github.com/zkhan93/claude-explains-api/internal/config"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [prompt]",
	Short: "Run a single invocation against a directory",
	Long: `Run one claude invocation against a working directory and print the
normalized result. Useful for smoke-testing prompts and session handling
without the HTTP layer.

Example:
  analyzer analyze --dir ./myrepo "Summarize the architecture"
  analyzer analyze --dir ./myrepo --resume 2f1c... "And the test strategy?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeDir       string
	analyzeSessionID string
	analyzeResumeID  string
	analyzeTimeout   time.Duration
	analyzeStream    bool
	analyzeStdin     bool
)

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDir, "dir", ".", "Working directory for the invocation")
	analyzeCmd.Flags().StringVar(&analyzeSessionID, "session-id", "", "Create/continue a named session")
	analyzeCmd.Flags().StringVar(&analyzeResumeID, "resume", "", "Resume an existing session")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 0, "Abort the invocation after this duration (0 = wait)")
	analyzeCmd.Flags().BoolVar(&analyzeStream, "stream", false, "Request stream-json output instead of a single document")
	analyzeCmd.Flags().BoolVar(&analyzeStdin, "stdin-prompt", false, "Pass the prompt via stdin instead of argv")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(os.Stderr, settings.LogLevel)
	if err != nil {
		return err
	}

	runner, err := claude.NewRunner(claude.Config{
		Binary:       settings.ClaudeBinary,
		OutputDir:    settings.OutputDir,
		PollInterval: settings.PollInterval(),
		MaxBudgetUSD: settings.MaxBudgetUSD,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	format := claude.FormatJSON
	if analyzeStream {
		format = claude.FormatStream
	}

	result, err := runner.Run(cmd.Context(), claude.InvocationRequest{
		WorkDir:        analyzeDir,
		Prompt:         args[0],
		SessionID:      analyzeSessionID,
		ResumeID:       analyzeResumeID,
		Timeout:        analyzeTimeout,
		Format:         format,
		PromptViaStdin: analyzeStdin,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Text)
	if result.SessionID != "" {
		logger.Info("session", "id", result.SessionID)
	}
	if result.IsError {
		return fmt.Errorf("invocation failed")
	}
	return nil
}
