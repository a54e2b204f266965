// Package command runs external programs and captures their output. It is
// the seam between the agent and OS tools (nmcli, netsh, airport, secret
// helpers), so that callers can be tested with a fake Runner.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Runner runs a program and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f(ctx, name, args...)
}

// System executes programs with os/exec.
type System struct{}

// Run executes name with args. A non-zero exit status is an error carrying
// the first line of standard error.
func (System) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg, _, _ := strings.Cut(strings.TrimSpace(stderr.String()), "\n")
			return out, fmt.Errorf("run %s: exit status %d: %s", name, exitErr.ExitCode(), msg)
		}
		return out, fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}

// Split breaks a command line into program and arguments using POSIX shell
// quoting rules. Errors name the program only: the arguments may hold a
// credential or a vault path.
func Split(line string) (string, []string, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return "", nil, fmt.Errorf("split command line of %s: %w", Program(line), err)
	}
	if len(words) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	return words[0], words[1:], nil
}

// Program returns the first word of line, for use in messages.
func Program(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return `""`
	}
	return strings.Trim(fields[0], `"'`)
}

// RunLine splits line and runs it with r.
func RunLine(ctx context.Context, r Runner, line string) ([]byte, error) {
	name, args, err := Split(line)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, name, args...)
}
