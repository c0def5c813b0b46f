// Package supervisor owns subprocess creation, isolation, polling and forced
// teardown for agent invocations. It knows nothing about the agent's output
// contract; it only guarantees that the child runs in its own process group,
// that waiting is interruptible, and that cancellation never leaves an
// orphaned process behind.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// StdinPolicy selects how the child's standard input is wired.
type StdinPolicy int

const (
	// StdinNone leaves stdin disconnected; the prompt travels in argv.
	StdinNone StdinPolicy = iota
	// StdinPayload writes Spec.StdinPayload to the child, then closes the
	// pipe. Used when the prompt would exceed OS argument limits.
	StdinPayload
)

// CaptureMode selects where the child's stdout/stderr go.
type CaptureMode int

const (
	// CaptureFiles redirects output to Spec.StdoutPath/StderrPath. Mandatory
	// for long streaming output: the files are observable while the child
	// runs, and a slow reader can never deadlock it.
	CaptureFiles CaptureMode = iota
	// CaptureBuffers collects output in memory. Fine for short invocations.
	CaptureBuffers
)

// Spec describes one subprocess launch.
type Spec struct {
	Command      []string // argv; Command[0] is the binary
	Dir          string   // working directory
	Stdin        StdinPolicy
	StdinPayload []byte
	Capture      CaptureMode
	StdoutPath   string   // required with CaptureFiles
	StderrPath   string   // required with CaptureFiles
	Env          []string // base environment; nil means os.Environ()
	StripEnv     []string // variables removed before launch
}

// ExitStatus reports how the child ended. Code is -1 when the process died
// to a signal or could not report a code.
type ExitStatus struct {
	Code    int
	Success bool
}

// Handle tracks a launched subprocess until its exit status is observed.
// It is owned by a single invocation; the supervisor mutates it only through
// Wait and KillTree.
type Handle struct {
	cmd        *exec.Cmd
	pid        int
	stdoutPath string
	stderrPath string
	stdoutBuf  *bytes.Buffer
	stderrBuf  *bytes.Buffer

	mu      sync.Mutex
	exitCh  chan error
	reaped  bool
	waitErr error
}

// PID returns the operating-system process id of the child.
func (h *Handle) PID() int { return h.pid }

// Alive reports whether the exit status has been observed yet.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.reaped
}

// StdoutBytes returns the captured standard output. Only valid after Wait
// or KillTree returned; reading earlier races a partially-flushed file.
func (h *Handle) StdoutBytes() ([]byte, error) {
	if h.stdoutBuf != nil {
		return h.stdoutBuf.Bytes(), nil
	}
	return os.ReadFile(h.stdoutPath)
}

// StderrBytes returns the captured standard error, same caveat as StdoutBytes.
func (h *Handle) StderrBytes() ([]byte, error) {
	if h.stderrBuf != nil {
		return h.stderrBuf.Bytes(), nil
	}
	return os.ReadFile(h.stderrPath)
}

// reap consumes the child's exit status exactly once and caches it.
// Subsequent calls return the cached value without blocking.
func (h *Handle) reap() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reaped {
		return h.waitErr
	}
	h.waitErr = <-h.exitCh
	h.reaped = true
	return h.waitErr
}

// Supervisor launches and tears down agent subprocesses.
type Supervisor struct {
	logger *slog.Logger
}

// New creates a Supervisor logging through the given logger.
func New(logger *slog.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Start launches the subprocess described by spec in its own process group
// and returns a handle for it. The returned handle must be passed to Wait
// (or KillTree) to reclaim the process table entry.
func (s *Supervisor) Start(spec Spec) (*Handle, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("empty command")
	}

	// #nosec G204 -- argv comes from our own arg builder, not raw user input
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir

	env := spec.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = stripEnv(env, spec.StripEnv)

	// Child gets its own process group so a single group signal reaches it
	// and all of its descendants without touching our own group.
	setProcessGroup(cmd)

	h := &Handle{cmd: cmd, exitCh: make(chan error, 1)}

	var stdoutFile, stderrFile *os.File
	switch spec.Capture {
	case CaptureFiles:
		var err error
		stdoutFile, err = os.OpenFile(spec.StdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return nil, fmt.Errorf("create stdout file: %w", err)
		}
		stderrFile, err = os.OpenFile(spec.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			stdoutFile.Close()
			return nil, fmt.Errorf("create stderr file: %w", err)
		}
		cmd.Stdout = stdoutFile
		cmd.Stderr = stderrFile
		h.stdoutPath = spec.StdoutPath
		h.stderrPath = spec.StderrPath
	case CaptureBuffers:
		h.stdoutBuf = &bytes.Buffer{}
		h.stderrBuf = &bytes.Buffer{}
		cmd.Stdout = h.stdoutBuf
		cmd.Stderr = h.stderrBuf
	}

	var stdinPipe io.WriteCloser
	if spec.Stdin == StdinPayload {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			closeFiles(stdoutFile, stderrFile)
			return nil, fmt.Errorf("create stdin pipe: %w", err)
		}
		stdinPipe = pipe
	}

	if err := cmd.Start(); err != nil {
		closeFiles(stdoutFile, stderrFile)
		return nil, fmt.Errorf("start %s: %w", spec.Command[0], err)
	}
	h.pid = cmd.Process.Pid

	// Our copies of the descriptors; the child holds its own.
	closeFiles(stdoutFile, stderrFile)

	if stdinPipe != nil {
		go func() {
			_, _ = stdinPipe.Write(spec.StdinPayload)
			_ = stdinPipe.Close()
		}()
	}

	go func() {
		h.exitCh <- cmd.Wait()
	}()

	s.logger.Info("subprocess started",
		"binary", spec.Command[0],
		"pid", h.pid,
		"dir", spec.Dir)

	return h, nil
}

// Wait blocks until the child exits, reporting elapsed time to onTick at
// every pollInterval while it is still alive. On context cancellation or
// deadline the full process tree is killed, death is confirmed, and
// ctx.Err() is returned with a zero ExitStatus. The supervisor imposes no
// timeout of its own; deadlines belong to the caller's context.
func (s *Supervisor) Wait(ctx context.Context, h *Handle, pollInterval time.Duration, onTick func(elapsed time.Duration)) (ExitStatus, error) {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	start := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-h.exitCh:
			h.mu.Lock()
			h.waitErr = err
			h.reaped = true
			h.mu.Unlock()
			return exitStatus(err), nil

		case <-ticker.C:
			if onTick != nil {
				onTick(time.Since(start))
			}

		case <-ctx.Done():
			// Teardown is not cancellable: signal, then block until the
			// OS confirms death so no process is ever leaked.
			s.KillTree(h)
			return ExitStatus{}, ctx.Err()
		}
	}
}

// KillTree terminates the child and all of its descendants: a group-wide
// termination signal first, then a direct kill of the tracked root process
// (group membership can change under us), then a blocking reap. Idempotent;
// calling it after exit observation is a no-op.
func (s *Supervisor) KillTree(h *Handle) {
	h.mu.Lock()
	alreadyReaped := h.reaped
	h.mu.Unlock()
	if alreadyReaped {
		return
	}

	s.logger.Warn("killing subprocess tree", "pid", h.pid)
	killProcessGroup(h.pid)
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	_ = h.reap()
}

func exitStatus(waitErr error) ExitStatus {
	if waitErr == nil {
		return ExitStatus{Code: 0, Success: true}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	return ExitStatus{Code: -1}
}

// stripEnv removes the named variables from env. Used to drop markers like
// a nested-session guard the child would refuse to start under.
func stripEnv(env []string, keys []string) []string {
	if len(keys) == 0 {
		return env
	}
	out := make([]string, 0, len(env))
	for _, kv := range env {
		skip := false
		for _, key := range keys {
			if strings.HasPrefix(kv, key+"=") {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, kv)
		}
	}
	return out
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
