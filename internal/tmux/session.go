package tmux

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/telegent/telegent/internal/ansi"
)

// Config configures a terminal session.
type Config struct {
	// Cols and Rows fix the session geometry (default: 200x50).
	Cols int
	Rows int

	// HistoryLimit is the tmux scrollback limit (default: 50000).
	HistoryLimit int

	// TailInterval is how often the pipe log is checked for new output
	// (default: 200ms).
	TailInterval time.Duration

	// FlushInterval is how often buffered output is delivered (default: 1s).
	FlushInterval time.Duration

	// PipeMaxBytes is the pipe log size ceiling before truncation
	// (default: 1MB).
	PipeMaxBytes int64

	// Stripper removes command echo from flushed output (default:
	// PrefixEchoStripper).
	Stripper EchoStripper
}

// DefaultConfig returns sensible session defaults.
func DefaultConfig() Config {
	return Config{
		Cols:          200,
		Rows:          50,
		HistoryLimit:  50000,
		TailInterval:  200 * time.Millisecond,
		FlushInterval: time.Second,
		PipeMaxBytes:  1_000_000,
		Stripper:      PrefixEchoStripper{},
	}
}

// OutputFunc receives cleaned, debounced terminal output.
type OutputFunc func(text string)

// signalKeys maps control bytes to tmux key names.
var signalKeys = map[byte]string{
	0x03: "C-c",    // ETX
	0x04: "C-d",    // EOT
	0x1a: "C-z",    // SUB
	0x1b: "Escape", // ESC
}

// Session owns one detached tmux session and its pipe-pane output log.
// At most one session is live at a time: Spawn always kills a predecessor
// with the same name.
type Session struct {
	client   *Client
	name     string
	pipePath string
	cfg      Config

	mu            sync.Mutex
	alive         bool
	startedAt     time.Time
	buf           string
	echoCandidate string
	suppress      bool
	offset        int64
	onOutput      OutputFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a session handle. Nothing is spawned until Spawn.
func NewSession(client *Client, name, pipePath string, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.Cols <= 0 {
		cfg.Cols = def.Cols
	}
	if cfg.Rows <= 0 {
		cfg.Rows = def.Rows
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.TailInterval <= 0 {
		cfg.TailInterval = def.TailInterval
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.PipeMaxBytes <= 0 {
		cfg.PipeMaxBytes = def.PipeMaxBytes
	}
	if cfg.Stripper == nil {
		cfg.Stripper = def.Stripper
	}
	return &Session{
		client:   client,
		name:     name,
		pipePath: pipePath,
		cfg:      cfg,
	}
}

// Name returns the tmux session name.
func (s *Session) Name() string { return s.name }

// Alive reports whether the underlying tmux session is live.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// SetSuppressOutput toggles discarding of flushed output. The buffer keeps
// draining while suppressed so it cannot grow without bound.
func (s *Session) SetSuppressOutput(v bool) {
	s.mu.Lock()
	s.suppress = v
	s.mu.Unlock()
}

// Suppressed reports whether output delivery is currently suppressed.
func (s *Session) Suppressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppress
}

// Spawn creates a fresh detached tmux session, killing any stale one with
// the same name, and attaches a pipe-pane capture log read from offset zero.
// A missing tmux binary is fatal and must be surfaced to the operator.
func (s *Session) Spawn(dir string, env map[string]string) error {
	if err := s.client.EnsureInstalled(); err != nil {
		return err
	}
	if dir == "" {
		dir, _ = os.UserHomeDir()
	}

	_ = s.client.RunSilent("kill-session", "-t", s.name)

	if err := os.WriteFile(s.pipePath, nil, 0o644); err != nil {
		return fmt.Errorf("create pipe log: %w", err)
	}

	args := []string{
		"new-session", "-d",
		"-s", s.name,
		"-x", strconv.Itoa(s.cfg.Cols),
		"-y", strconv.Itoa(s.cfg.Rows),
		"-c", dir,
	}
	for _, k := range sortedKeys(env) {
		args = append(args, "-e", k+"="+env[k])
	}
	if err := s.client.RunSilent(args...); err != nil {
		return fmt.Errorf("spawn session: %w", err)
	}

	_ = s.client.RunSilent("set-option", "-t", s.name, "mouse", "on")
	_ = s.client.RunSilent("set-option", "-t", s.name, "history-limit", strconv.Itoa(s.cfg.HistoryLimit))

	if err := s.client.RunSilent("pipe-pane", "-t", s.name, "cat >> "+ShellQuote(s.pipePath)); err != nil {
		return fmt.Errorf("pipe-pane: %w", err)
	}

	s.mu.Lock()
	s.alive = true
	s.startedAt = time.Now()
	s.offset = 0
	s.buf = ""
	s.echoCandidate = ""
	s.suppress = false
	s.mu.Unlock()
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Write injects literal text without a trailing Enter.
func (s *Session) Write(data string) {
	if !s.Alive() {
		return
	}
	_ = s.client.RunSilent("send-keys", "-t", s.name, "-l", "--", data)
}

// SendLine injects literal text followed by Enter and records the text as
// the next echo-suppression candidate.
func (s *Session) SendLine(line string) {
	if !s.Alive() {
		return
	}
	s.mu.Lock()
	s.echoCandidate = line
	s.mu.Unlock()
	_ = s.client.RunSilent("send-keys", "-t", s.name, "-l", "--", line)
	_ = s.client.RunSilent("send-keys", "-t", s.name, "Enter")
}

// SendSignalChar maps a control byte to its tmux key name (C-c, C-d, C-z,
// Escape) or sends the byte literally if unmapped.
func (s *Session) SendSignalChar(b byte) {
	if !s.Alive() {
		return
	}
	if key, ok := signalKeys[b]; ok {
		_ = s.client.RunSilent("send-keys", "-t", s.name, key)
		return
	}
	_ = s.client.RunSilent("send-keys", "-t", s.name, "-l", "--", string(b))
}

// SendKey presses a named tmux key (Enter, Escape, ...) in the pane. Used to
// mirror operator permission decisions into the agent's native prompt.
func (s *Session) SendKey(name string) {
	if !s.Alive() {
		return
	}
	_ = s.client.RunSilent("send-keys", "-t", s.name, name)
}

// Cwd returns the pane's current working directory, falling back to the
// user's home directory when the query fails.
func (s *Session) Cwd() string {
	if s.Alive() {
		out, err := s.client.Run("display-message", "-t", s.name, "-p", "#{pane_current_path}")
		if err == nil && out != "" {
			return out
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// ForegroundCommand returns the name of the process attached to the pane's
// controlling terminal, or "" on failure.
func (s *Session) ForegroundCommand() string {
	if !s.Alive() {
		return ""
	}
	out, err := s.client.Run("display-message", "-t", s.name, "-p", "#{pane_current_command}")
	if err != nil {
		return ""
	}
	return out
}

// CapturePane returns the currently visible screen contents.
func (s *Session) CapturePane() (string, error) {
	return s.client.Run("capture-pane", "-t", s.name, "-p")
}

// PipeSize returns the current size of the pipe log, or 0 when unknown.
// Used as the readiness signal after launching the agent.
func (s *Session) PipeSize() int64 {
	info, err := os.Stat(s.pipePath)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Kill tears down the tmux session and its capture log. Idempotent.
func (s *Session) Kill() {
	_ = s.client.RunSilent("kill-session", "-t", s.name)
	s.mu.Lock()
	s.alive = false
	s.startedAt = time.Time{}
	s.mu.Unlock()
	_ = os.Remove(s.pipePath)
}

// Status returns a short human-readable summary for the operator.
func (s *Session) Status() string {
	s.mu.Lock()
	alive := s.alive
	started := s.startedAt
	s.mu.Unlock()

	if !alive {
		return "No active session"
	}
	uptime := int(time.Since(started).Seconds())
	mins, secs := uptime/60, uptime%60
	hours, mins := mins/60, mins%60
	return fmt.Sprintf("Session: %s\nUptime: %dh %dm %ds\nTerminal: %dx%d\nAttach: tmux attach -t %s",
		s.name, hours, mins, secs, s.cfg.Cols, s.cfg.Rows, s.name)
}

// StartReading launches the tail and flush loops delivering cleaned output
// chunks to cb. Any loops from a previous incarnation are stopped and joined
// first; loops that already self-terminated on external session death leave
// a stale cancel handle behind, and a respawn must not be blocked by it.
func (s *Session) StartReading(cb OutputFunc) {
	s.StopReading()

	s.mu.Lock()
	s.onOutput = cb
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go s.tailLoop(ctx)
	go s.flushLoop(ctx)
}

// StopReading cancels the background loops and waits for them to exit.
func (s *Session) StopReading() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// tailLoop polls the pipe log for new bytes, cleans them and appends to the
// output buffer. It also detects external truncation, enforces the log size
// ceiling, and flips liveness when the tmux session disappears.
func (s *Session) tailLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TailInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.Alive() {
			return
		}
		if !s.hasSession() {
			s.mu.Lock()
			s.alive = false
			s.mu.Unlock()
			return
		}
		s.drainPipe()
	}
}

// drainPipe performs one tail iteration. Split out so tests can drive it
// without timers.
func (s *Session) drainPipe() {
	info, err := os.Stat(s.pipePath)
	if err != nil {
		return
	}
	size := info.Size()

	s.mu.Lock()
	offset := s.offset
	s.mu.Unlock()

	if size < offset {
		// External truncation: restart from the top.
		offset = 0
	}

	var cleaned string
	if size > offset {
		data, err := readFrom(s.pipePath, offset)
		if err != nil {
			return
		}
		offset += int64(len(data))
		cleaned = ansi.Clean(string(data))
	}

	if size > s.cfg.PipeMaxBytes {
		if err := os.Truncate(s.pipePath, 0); err == nil {
			offset = 0
		}
	}

	s.mu.Lock()
	s.offset = offset
	if cleaned != "" {
		s.buf += cleaned
	}
	s.mu.Unlock()
}

func readFrom(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// flushLoop delivers the buffered output on a fixed cadence.
func (s *Session) flushLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.Alive() {
			return
		}
		s.flushOnce()
	}
}

// flushOnce swaps the buffer out, strips the pending command echo and
// delivers non-blank text to the callback unless suppressed. The buffer is
// drained even while suppressed.
func (s *Session) flushOnce() {
	s.mu.Lock()
	out := s.buf
	s.buf = ""
	echo := s.echoCandidate
	s.echoCandidate = ""
	suppressed := s.suppress
	cb := s.onOutput
	s.mu.Unlock()

	if out == "" {
		return
	}
	if echo != "" {
		out = s.cfg.Stripper.Strip(out, echo)
	}
	if suppressed || cb == nil {
		return
	}
	if strings.TrimSpace(out) == "" {
		return
	}
	cb(out)
}

func (s *Session) hasSession() bool {
	return s.client.RunSilent("has-session", "-t", s.name) == nil
}
