// Package notify delivers operator-side notifications for relay lifecycle
// events. The chat itself is the primary surface; these channels cover the
// operator's own machine (desktop popups, shell hooks, an audit log).
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// EventType identifies a relay lifecycle event.
type EventType string

const (
	EventSessionCreated    EventType = "session.created"    // terminal session spawned
	EventSessionKilled     EventType = "session.killed"     // terminal session terminated
	EventAgentStarted      EventType = "agent.started"      // agent launched in the session
	EventAgentExited       EventType = "agent.exited"       // agent handed the pane back
	EventPermissionTimeout EventType = "permission.timeout" // request auto-denied after timeout
	EventWatcherError      EventType = "watcher.error"      // arbitration loop iteration failed
)

// Event is one notification.
type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Session   string            `json:"session,omitempty"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// Config selects which events notify and through which channels.
type Config struct {
	Enabled bool     `toml:"enabled"`
	Events  []string `toml:"events"`

	Desktop DesktopConfig `toml:"desktop"`
	Shell   ShellConfig   `toml:"shell"`
	Log     LogConfig     `toml:"log"`
}

// DesktopConfig configures desktop notifications (osascript or notify-send).
type DesktopConfig struct {
	Enabled bool   `toml:"enabled"`
	Title   string `toml:"title"`
}

// ShellConfig runs a command per event, with the event JSON on stdin.
type ShellConfig struct {
	Enabled bool   `toml:"enabled"`
	Command string `toml:"command"`
}

// LogConfig appends events to a file.
type LogConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// DefaultConfig notifies on agent exits and permission timeouts via desktop.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Events: []string{
			string(EventAgentExited),
			string(EventPermissionTimeout),
		},
		Desktop: DesktopConfig{Enabled: true, Title: "telegent"},
		Shell:   ShellConfig{Enabled: false},
		Log:     LogConfig{Enabled: false, Path: "~/.config/telegent/notifications.log"},
	}
}

// Notifier fans events out to the enabled channels.
type Notifier struct {
	cfg     Config
	enabled map[EventType]bool
	mu      sync.Mutex // serializes log appends
}

// New builds a notifier, expanding environment variables in config values.
func New(cfg Config) *Notifier {
	cfg.Shell.Command = os.ExpandEnv(cfg.Shell.Command)
	cfg.Log.Path = os.ExpandEnv(cfg.Log.Path)

	n := &Notifier{cfg: cfg, enabled: make(map[EventType]bool)}
	for _, e := range cfg.Events {
		n.enabled[EventType(e)] = true
	}
	return n
}

// Notify delivers the event through every enabled channel. Channel failures
// are collected, never fatal to the caller.
func (n *Notifier) Notify(event Event) error {
	if !n.cfg.Enabled || !n.enabled[event.Type] {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var errs []error
	if n.cfg.Desktop.Enabled {
		if err := n.sendDesktop(event); err != nil {
			errs = append(errs, fmt.Errorf("desktop: %w", err))
		}
	}
	if n.cfg.Shell.Enabled && n.cfg.Shell.Command != "" {
		if err := n.sendShell(event); err != nil {
			errs = append(errs, fmt.Errorf("shell: %w", err))
		}
	}
	if n.cfg.Log.Enabled && n.cfg.Log.Path != "" {
		if err := n.sendLog(event); err != nil {
			errs = append(errs, fmt.Errorf("log: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

func (n *Notifier) sendDesktop(event Event) error {
	title := n.cfg.Desktop.Title
	if title == "" {
		title = "telegent"
	}
	if event.Session != "" {
		title = fmt.Sprintf("%s [%s]", title, event.Session)
	}
	message := event.Message
	if message == "" {
		message = string(event.Type)
	}

	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		return exec.Command("osascript", "-e", script).Run()
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return fmt.Errorf("notify-send not found")
		}
		return exec.Command("notify-send", title, message).Run()
	default:
		return fmt.Errorf("desktop notifications not supported on %s", runtime.GOOS)
	}
}

func (n *Notifier) sendShell(event Event) error {
	cmd := exec.Command("sh", "-c", n.cfg.Shell.Command)

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	cmd.Stdin = bytes.NewReader(eventJSON)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("TELEGENT_EVENT_TYPE=%s", event.Type),
		fmt.Sprintf("TELEGENT_EVENT_MESSAGE=%s", event.Message),
		fmt.Sprintf("TELEGENT_EVENT_SESSION=%s", event.Session),
	)
	return cmd.Run()
}

func (n *Notifier) sendLog(event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	path := n.cfg.Log.Path
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s: %s", event.Timestamp.Format(time.RFC3339), event.Type, event.Message)
	if event.Session != "" {
		line = fmt.Sprintf("[%s] [%s] %s: %s",
			event.Timestamp.Format(time.RFC3339), event.Session, event.Type, event.Message)
	}
	_, err = fmt.Fprintln(f, line)
	return err
}

// NewAgentExitedEvent reports the agent returning the pane to the shell.
func NewAgentExitedEvent(session string) Event {
	return Event{
		Type:    EventAgentExited,
		Session: session,
		Message: "Claude exited, back to terminal mode",
	}
}

// NewPermissionTimeoutEvent reports a request auto-denied after the operator
// never answered.
func NewPermissionTimeoutEvent(session, uid, tool string) Event {
	return Event{
		Type:    EventPermissionTimeout,
		Session: session,
		Message: fmt.Sprintf("Permission request for %s timed out, auto-denied", tool),
		Details: map[string]string{"uid": uid, "tool": tool},
	}
}

// NewWatcherErrorEvent reports an arbitration loop failure.
func NewWatcherErrorEvent(session string, err error) Event {
	return Event{
		Type:    EventWatcherError,
		Session: session,
		Message: fmt.Sprintf("Watcher error: %v", err),
	}
}
