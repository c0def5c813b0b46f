package claude

import (
	"errors"
	"strconv"
)

// OutputFormat selects the agent CLI output protocol.
type OutputFormat string

const (
	// FormatJSON asks for one JSON document on stdout.
	FormatJSON OutputFormat = "json"
	// FormatStream asks for newline-delimited JSON events.
	FormatStream OutputFormat = "stream-json"
)

// ErrConflictingSessions is returned when a request asks to both resume an
// existing session and start a new named one.
var ErrConflictingSessions = errors.New("session-id and resume are mutually exclusive")

// buildArgs assembles the CLI argument vector for one invocation. The prompt
// rides as the trailing positional argument unless it is streamed via stdin.
func buildArgs(defaultBudget float64, req InvocationRequest) []string {
	format := req.Format
	if format == "" {
		format = FormatJSON
	}

	args := []string{
		"-p",
		"--output-format", string(format),
		"--max-budget-usd", strconv.FormatFloat(budgetFor(defaultBudget, req), 'f', -1, 64),
	}

	switch {
	case req.ResumeID != "":
		args = append(args, "--resume", req.ResumeID)
	case req.SessionID != "":
		args = append(args, "--session-id", req.SessionID)
	}

	if !req.PromptViaStdin {
		args = append(args, req.Prompt)
	}
	return args
}

func budgetFor(defaultBudget float64, req InvocationRequest) float64 {
	if req.MaxBudgetUSD > 0 {
		return req.MaxBudgetUSD
	}
	return defaultBudget
}
