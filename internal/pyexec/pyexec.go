// Package pyexec runs short Python programs through a configurable
// interpreter command.
package pyexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ExitModuleMissing is the exit status helper programs use when a required
// Python module cannot be imported
const ExitModuleMissing = 3

const stderrTail = 4096

var (
	ErrInterpreterNotFound = errors.New("python interpreter not found")
	ErrModuleMissing       = errors.New("python module not importable")
)

// ExitError is returned when the program exits with a non-zero status
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("python exited with status %d", e.Code)
	}
	return fmt.Sprintf("python exited with status %d: %s", e.Code, e.Stderr)
}

// Is reports status ExitModuleMissing as ErrModuleMissing
func (e *ExitError) Is(target error) bool {
	return target == ErrModuleMissing && e.Code == ExitModuleMissing
}

// Interpreter is a parsed interpreter command such as "python3" or
// "conda run -n tf python"
type Interpreter struct {
	argv []string

	// Stderr, when set, receives the program's stderr as it is produced
	Stderr io.Writer
	// Env is appended to the inherited environment
	Env []string
}

// New parses command with shell quoting rules
func New(command string) (*Interpreter, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("invalid interpreter command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("interpreter command is empty")
	}
	return &Interpreter{argv: argv}, nil
}

// Command returns the interpreter command as it will be executed
func (i *Interpreter) Command() string {
	return strings.Join(i.argv, " ")
}

// Run executes script with "-c" and returns its stdout. Arguments are
// available to the script as sys.argv[1:].
func (i *Interpreter) Run(ctx context.Context, script string, args ...string) (string, error) {
	argv := make([]string, 0, len(i.argv)+2+len(args))
	argv = append(argv, i.argv[1:]...)
	argv = append(argv, "-c", script)
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, i.argv[0], argv...)
	if len(i.Env) > 0 {
		cmd.Env = append(cmd.Environ(), i.Env...)
	}

	var stdout bytes.Buffer
	tail := newTailBuffer(stderrTail)
	cmd.Stdout = &stdout
	if i.Stderr != nil {
		cmd.Stderr = io.MultiWriter(i.Stderr, tail)
	} else {
		cmd.Stderr = tail
	}

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.String(), fmt.Errorf("python program interrupted: %w", ctxErr)
	}
	if err == nil {
		return stdout.String(), nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		return stdout.String(), &ExitError{
			Code:   exitErr.ExitCode(),
			Stderr: strings.TrimSpace(tail.String()),
		}
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("%w: %s", ErrInterpreterNotFound, i.argv[0])
	default:
		return "", fmt.Errorf("failed to run %s: %w", i.argv[0], err)
	}
}

// LastLine returns the last non-empty line of s, which for a Python
// traceback is the exception message
func LastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for j := len(lines) - 1; j >= 0; j-- {
		if l := strings.TrimSpace(lines[j]); l != "" {
			return l
		}
	}
	return ""
}
