// Package claude runs one invocation of the claude CLI to completion and
// normalizes its output. It composes the process supervisor with the output
// parser; everything above it (HTTP handlers, caching, archive extraction)
// is a caller of Runner.Run.
package claude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zkhan93/claude-explains-api/internal/eventlog"
	"github.com/zkhan93/claude-explains-api/internal/parser"
	"github.com/zkhan93/claude-explains-api/internal/protocol"
	"github.com/zkhan93/claude-explains-api/internal/supervisor"
)

// nestedSessionGuardVar is set by the claude CLI in any process it spawns;
// a child that inherits it refuses to start.
const nestedSessionGuardVar = "CLAUDECODE"

// InvocationRequest describes one end-to-end run of the agent CLI.
// SessionID and ResumeID are mutually exclusive; leaving both empty runs a
// one-shot invocation with no continuation.
type InvocationRequest struct {
	WorkDir        string
	Prompt         string
	SessionID      string        // create/continue a named session (--session-id)
	ResumeID       string        // resume an existing session (--resume)
	Timeout        time.Duration // 0 means wait until the caller cancels
	MaxBudgetUSD   float64       // 0 means the runner default
	Format         OutputFormat  // defaults to FormatJSON
	PromptViaStdin bool          // stream the prompt instead of passing it in argv
}

// Config holds runner construction parameters.
type Config struct {
	Binary       string        // agent CLI binary, default "claude"
	OutputDir    string        // where per-invocation capture files go
	PollInterval time.Duration // liveness poll cadence, default 5s
	MaxBudgetUSD float64       // default spend ceiling
	Logger       *slog.Logger
	EventLog     *eventlog.Log // optional audit trail
}

// Runner executes agent invocations.
type Runner struct {
	binary       string
	outputDir    string
	pollInterval time.Duration
	maxBudgetUSD float64
	sup          *supervisor.Supervisor
	logger       *slog.Logger
	events       *eventlog.Log
}

// NewRunner creates a Runner. OutputDir is created if missing.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.OutputDir, 0700); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	return &Runner{
		binary:       cfg.Binary,
		outputDir:    cfg.OutputDir,
		pollInterval: cfg.PollInterval,
		maxBudgetUSD: cfg.MaxBudgetUSD,
		sup:          supervisor.New(cfg.Logger),
		logger:       cfg.Logger,
		events:       cfg.EventLog,
	}, nil
}

// Run executes one invocation and returns its normalized result. Every
// failure mode resolves to a Result with IsError=true and a diagnostic text;
// the only non-nil error is the caller's own cancellation, re-raised after
// the subprocess tree is confirmed dead.
func (r *Runner) Run(ctx context.Context, req InvocationRequest) (protocol.Result, error) {
	tracer := otel.Tracer("analyzer/claude")
	ctx, span := tracer.Start(ctx, "claude.run")
	defer span.End()

	if req.SessionID != "" && req.ResumeID != "" {
		return errorResult(ErrConflictingSessions.Error()), nil
	}

	if info, err := os.Stat(req.WorkDir); err != nil || !info.IsDir() {
		return errorResult(fmt.Sprintf("working directory unavailable: %s", req.WorkDir)), nil
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	// Unique capture paths so concurrent invocations never collide.
	token := uuid.NewString()
	outPath := filepath.Join(r.outputDir, token+".json")
	errPath := filepath.Join(r.outputDir, token+".stderr")
	span.SetAttributes(
		attribute.String("invocation.token", token),
		attribute.String("invocation.work_dir", req.WorkDir),
	)

	spec := supervisor.Spec{
		Command:    append([]string{r.binary}, buildArgs(r.maxBudgetUSD, req)...),
		Dir:        req.WorkDir,
		Capture:    supervisor.CaptureFiles,
		StdoutPath: outPath,
		StderrPath: errPath,
		StripEnv:   []string{nestedSessionGuardVar},
	}
	if req.PromptViaStdin {
		spec.Stdin = supervisor.StdinPayload
		spec.StdinPayload = []byte(req.Prompt)
	}

	r.logger.Info("starting claude",
		"work_dir", req.WorkDir,
		"session", orDash(req.SessionID),
		"resume", orDash(req.ResumeID),
		"prompt_len", len(req.Prompt))

	start := time.Now()
	handle, err := r.sup.Start(spec)
	if err != nil {
		r.logger.Error("failed to start claude", "error", err)
		r.record(eventlog.Record{Outcome: eventlog.OutcomeStartFailed, Token: token, WorkDir: req.WorkDir, Detail: err.Error()})
		return errorResult(fmt.Sprintf("failed to start claude: %v", err)), nil
	}
	r.record(eventlog.Record{Outcome: eventlog.OutcomeStarted, Token: token, PID: handle.PID(), WorkDir: req.WorkDir})

	status, waitErr := r.sup.Wait(ctx, handle, r.pollInterval, func(elapsed time.Duration) {
		r.logger.Info("claude still running", "pid", handle.PID(), "elapsed", elapsed.Round(time.Second))
	})
	elapsed := time.Since(start)

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) {
			r.logger.Warn("claude timed out", "pid", handle.PID(), "elapsed", elapsed.Round(time.Second))
			r.record(eventlog.Record{Outcome: eventlog.OutcomeTimedOut, Token: token, PID: handle.PID(), ElapsedMs: elapsed.Milliseconds()})
			return errorResult("claude operation timed out"), nil
		}
		// Caller intent, not a result to report: teardown already ran.
		r.logger.Warn("invocation cancelled, claude killed", "pid", handle.PID())
		r.record(eventlog.Record{Outcome: eventlog.OutcomeCancelled, Token: token, PID: handle.PID(), ElapsedMs: elapsed.Milliseconds()})
		return protocol.Result{}, waitErr
	}

	r.logger.Info("claude finished",
		"pid", handle.PID(),
		"exit", status.Code,
		"elapsed", elapsed.Round(time.Second))

	if !status.Success {
		stderr, _ := handle.StderrBytes()
		msg := strings.TrimSpace(string(stderr))
		r.record(eventlog.Record{Outcome: eventlog.OutcomeFailed, Token: token, PID: handle.PID(), ExitCode: status.Code, ElapsedMs: elapsed.Milliseconds(), Detail: truncate(msg, 500)})
		return errorResult(fmt.Sprintf("claude CLI failed (exit %d): %s", status.Code, msg)), nil
	}

	// Read only after exit observation; the file is fully flushed by now.
	raw, err := handle.StdoutBytes()
	if err != nil {
		return errorResult("claude produced no output file"), nil
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return errorResult("claude produced empty output"), nil
	}

	var res protocol.Result
	if req.Format == FormatStream {
		res = parser.ParseStream(raw)
	} else {
		res = parser.ParseResultJSON(raw)
	}

	r.record(eventlog.Record{
		Outcome:   eventlog.OutcomeCompleted,
		Token:     token,
		PID:       handle.PID(),
		SessionID: res.SessionID,
		ElapsedMs: elapsed.Milliseconds(),
		CostUSD:   res.CostUSD,
	})

	if res.IsError {
		r.logger.Error("claude returned error", "text", truncate(res.Text, 200))
	} else {
		r.logger.Info("claude success",
			"session", orDash(res.SessionID),
			"result_len", len(res.Text))
	}
	return res, nil
}

func (r *Runner) record(rec eventlog.Record) {
	if r.events == nil {
		return
	}
	if err := r.events.Append(rec); err != nil {
		r.logger.Warn("event log append failed", "error", err)
	}
}

func errorResult(text string) protocol.Result {
	return protocol.Result{Text: text, IsError: true}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
