// Package tmux owns the relay's terminal session: one detached tmux session
// whose pane output is piped to a log file, tailed, cleaned and flushed to a
// callback in debounced chunks.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds every tmux subprocess call so a wedged tmux
// server can never stall the polling cadence.
const DefaultCommandTimeout = 5 * time.Second

// CommandRunner executes the tmux binary. Tests substitute a fake.
type CommandRunner func(ctx context.Context, bin string, args ...string) (string, error)

// execRunner runs tmux via os/exec and returns trimmed stdout.
func execRunner(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Client handles tmux operations.
type Client struct {
	Bin     string
	Timeout time.Duration
	Runner  CommandRunner
}

// NewClient creates a tmux client using the tmux binary on PATH.
func NewClient() *Client {
	return &Client{
		Bin:     "tmux",
		Timeout: DefaultCommandTimeout,
		Runner:  execRunner,
	}
}

// Run executes a tmux command and returns stdout.
func (c *Client) Run(args ...string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Runner(ctx, c.Bin, args...)
}

// RunSilent executes a tmux command ignoring output.
func (c *Client) RunSilent(args ...string) error {
	_, err := c.Run(args...)
	return err
}

// IsInstalled checks if the tmux binary is available.
func (c *Client) IsInstalled() bool {
	_, err := exec.LookPath(c.Bin)
	return err == nil
}

// EnsureInstalled returns an error if tmux is not installed.
func (c *Client) EnsureInstalled() error {
	if !c.IsInstalled() {
		return errors.New("tmux is not installed. Install it with: brew install tmux (macOS) or apt install tmux (Linux)")
	}
	return nil
}

// ShellQuote wraps s in single quotes for safe use inside a shell command
// line, such as the pipe-pane command tmux runs via sh.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
