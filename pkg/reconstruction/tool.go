package reconstruction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Invocation is one call of the external reconstruction tool.
// The working directory is carried explicitly and every path in Args is
// absolute, because the tool runs from its own installation directory.
type Invocation struct {
	Executable string
	Dir        string
	Args       []string
}

// ToolResult is what a finished tool process left behind.
type ToolResult struct {
	// ExitCode is the process exit status; -1 if it was killed by a signal
	ExitCode int

	Stdout []byte
	Stderr []byte

	Duration time.Duration
}

// Runner runs an invocation to completion.
// A non-zero exit is reported through ToolResult.ExitCode; the error return
// is reserved for processes that could not be started or were interrupted.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*ToolResult, error)
}

// DefaultWaitDelay is how long Run waits for the tool's output pipes to
// close after the tool was killed.
const DefaultWaitDelay = 2 * time.Second

// ExecRunner runs the tool as a child process.
// On cancellation the whole process group of the tool is killed, so helper
// processes it started cannot keep the invocation alive.
type ExecRunner struct {
	Logger *slog.Logger

	// WaitDelay overrides DefaultWaitDelay when positive
	WaitDelay time.Duration
}

var _ Runner = &ExecRunner{}

// Run executes inv and captures its output and exit status.
func (e *ExecRunner) Run(ctx context.Context, inv Invocation) (*ToolResult, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, inv.Executable, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = DefaultWaitDelay
	if e.WaitDelay > 0 {
		cmd.WaitDelay = e.WaitDelay
	}
	killProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("running tool",
		slog.String("executable", inv.Executable),
		slog.String("dir", inv.Dir),
		slog.String("args", strings.Join(inv.Args, " ")))

	start := time.Now()
	err := cmd.Run()
	res := &ToolResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("tool interrupted: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	return nil, fmt.Errorf("start tool: %w", err)
}

// isTransient reports whether a start failure is worth retrying.
func isTransient(err error) bool {
	return errors.Is(err, syscall.ETXTBSY) || errors.Is(err, syscall.EAGAIN)
}

// resolveTool turns the configured executable and working directory into
// absolute paths. A bare executable name is looked up in PATH.
func resolveTool(path, dir string) (string, string, error) {
	var (
		exe string
		err error
	)
	if strings.ContainsRune(path, '/') || strings.ContainsRune(path, filepath.Separator) {
		exe, err = filepath.Abs(path)
	} else {
		exe, err = exec.LookPath(path)
		if err == nil && !filepath.IsAbs(exe) {
			exe, err = filepath.Abs(exe)
		}
	}
	if err != nil {
		return "", "", fmt.Errorf("resolve tool %s: %w", path, err)
	}

	wd, err := filepath.Abs(dir)
	if err != nil {
		return "", "", fmt.Errorf("resolve tool dir %s: %w", dir, err)
	}

	return exe, wd, nil
}
