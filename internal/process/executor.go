// Package process runs rendered toolchain command lines and keeps the
// cumulative output log that is reported back to build clients.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Cmd is one command line to execute. Dir and Env override the runner's
// defaults for this command only.
type Cmd struct {
	Line string
	Dir  string
	Env  map[string]string
}

// Runner executes command lines.
type Runner interface {
	// Exec runs cmd and returns its combined stdout and stderr. A non-zero
	// exit is reported as a *ToolchainError.
	Exec(ctx context.Context, cmd Cmd) (output string, err error)
	// Log returns everything logged by the runner so far.
	Log() string
}

var _ Runner = (*Executor)(nil)

// ToolchainError is a non-zero exit (or a failure to start) of an external
// tool. Log holds the whole accumulated log at the time of failure, which
// is what remote clients get to see.
type ToolchainError struct {
	Command  string
	ExitCode int
	Output   string
	Log      string
	Err      error
}

func (e *ToolchainError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, e.Command)
	}
	return fmt.Sprintf("command failed: %s: %v", e.Command, e.Err)
}

func (e *ToolchainError) Unwrap() error { return e.Err }

// Executor runs commands in a working directory with an explicit
// environment. It is safe for concurrent use; the log keeps each command
// and its output together.
type Executor struct {
	dir    string
	logger zerolog.Logger

	mu  sync.Mutex
	env map[string]string
	log bytes.Buffer
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for per-command debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l.With().Str("component", "process").Logger() }
}

// WithEnv adds environment variables on top of the inherited environment.
func WithEnv(env map[string]string) Option {
	return func(e *Executor) {
		for k, v := range env {
			e.env[k] = v
		}
	}
}

// NewExecutor returns an Executor running commands in dir.
func NewExecutor(dir string, opts ...Option) *Executor {
	e := &Executor{
		dir:    dir,
		env:    map[string]string{},
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetEnv sets one environment variable for subsequent commands.
func (e *Executor) SetEnv(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.env[key] = value
}

// Env returns a copy of the extra environment.
func (e *Executor) Env() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.env))
	for k, v := range e.env {
		out[k] = v
	}
	return out
}

// Log returns the cumulative log of every command run so far.
func (e *Executor) Log() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.String()
}

// Append adds a line of text to the log without running anything.
func (e *Executor) Append(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		e.log.WriteByte('\n')
	}
}

// Run executes cmdline with the executor's directory and environment.
func (e *Executor) Run(ctx context.Context, cmdline string) (string, error) {
	return e.Exec(ctx, Cmd{Line: cmdline})
}

// Exec splits c.Line on whitespace and executes it without a shell.
func (e *Executor) Exec(ctx context.Context, c Cmd) (string, error) {
	cmdline := c.Line
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return "", fmt.Errorf("empty command line")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = e.dir
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	cmd.Env = e.environ(c.Env)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	output := out.String()

	e.mu.Lock()
	e.log.WriteString("$ " + strings.Join(args, " ") + "\n")
	e.log.WriteString(output)
	if output != "" && !strings.HasSuffix(output, "\n") {
		e.log.WriteByte('\n')
	}
	log := e.log.String()
	e.mu.Unlock()

	e.logger.Debug().Str("cmd", args[0]).Int("args", len(args)-1).Msg("executed")

	if runErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return output, &ToolchainError{
			Command:  cmdline,
			ExitCode: code,
			Output:   output,
			Log:      log,
			Err:      runErr,
		}
	}
	return output, nil
}

func (e *Executor) environ(extra map[string]string) []string {
	e.mu.Lock()
	merged := make(map[string]string, len(e.env)+len(extra))
	for k, v := range e.env {
		merged[k] = v
	}
	e.mu.Unlock()
	for k, v := range extra {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
