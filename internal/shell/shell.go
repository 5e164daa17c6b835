// Package shell runs host commands, optionally through a root helper, and
// exposes their exit codes so callers can treat specific codes as signals.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/internal/logging"
)

// Runner runs a command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) (string, error)
}

// RunError is returned when a command fails to start or exits non-zero.
type RunError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *RunError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("failed to run %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("failed to run %q: %v (%s)", e.Command, e.Err, stderr)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ExitStatus returns the exit code carried by err, or -1 when err did not
// come from a command that ran to completion.
func ExitStatus(err error) int {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.ExitCode
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Exec runs commands on the host.
type Exec struct {
	// RootHelper is prefixed to every command, e.g. "sudo".
	RootHelper string

	Log logrus.FieldLogger
}

// NewExec returns a host runner.
func NewExec(rootHelper string, log logrus.FieldLogger) *Exec {
	return &Exec{RootHelper: rootHelper, Log: logging.Ensure(log)}
}

// Run runs name with args and returns stdout.
func (e *Exec) Run(ctx context.Context, stdin io.Reader, name string, args ...string) (string, error) {
	argv := append([]string{name}, args...)
	if e.RootHelper != "" {
		argv = append(strings.Fields(e.RootHelper), argv...)
	}

	command := strings.Join(argv, " ")
	logging.Ensure(e.Log).WithField("command", command).Debug("Running command")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.String(), &RunError{
			Command:  command,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	return stdout.String(), nil
}
