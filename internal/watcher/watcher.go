// Package watcher runs the per-agent-session arbitration loop: it follows
// the conversation log for completed turns, admits and resolves permission
// requests, and detects the agent handing the terminal back to the shell.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/telegent/telegent/internal/perm"
	"github.com/telegent/telegent/internal/transcript"
)

// Config tunes the loop. Zero values take the defaults.
type Config struct {
	// Tick is the base polling interval.
	Tick time.Duration
	// QuietAfter is how long the log must sit unmodified before an
	// unterminated turn is treated as complete.
	QuietAfter time.Duration
	// ExitGrace suppresses exit detection right after launch, while the
	// agent process is still starting up.
	ExitGrace time.Duration
	// ShellNames are foreground commands that mean the agent has exited.
	ShellNames map[string]bool
}

// DefaultConfig returns the standard loop tuning.
func DefaultConfig() Config {
	return Config{
		Tick:       time.Second,
		QuietAfter: 3 * time.Second,
		ExitGrace:  5 * time.Second,
		ShellNames: map[string]bool{
			"bash": true, "zsh": true, "fish": true, "sh": true,
			"dash": true, "tcsh": true, "ksh": true,
		},
	}
}

// Terminal is the slice of the tmux session the watcher needs.
type Terminal interface {
	Alive() bool
	ForegroundCommand() string
}

// Watcher drives one agent session. Callbacks fire from the loop goroutine;
// nil callbacks are skipped.
type Watcher struct {
	cfg     Config
	term    Terminal
	channel *perm.Channel
	mark    *transcript.Watermark

	projectsBase string
	cwd          string
	startedAt    time.Time

	// OnTurn receives each newly completed assistant turn.
	OnTurn func(text string)
	// OnRequest receives each newly admitted permission request.
	OnRequest func(req *perm.Request)
	// OnResolved reports requests resolved without operator input
	// (timeouts, staleness, exit cleanup) with a short reason.
	OnResolved func(reqs []*perm.Request, reason string)
	// OnExit fires once when the agent hands the terminal back.
	OnExit func()
	// OnError surfaces iteration failures; the loop keeps running.
	OnError func(err error)

	once sync.Once
}

// New builds a watcher for one agent run rooted at cwd.
func New(cfg Config, term Terminal, channel *perm.Channel, mark *transcript.Watermark, projectsBase, cwd string) *Watcher {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.QuietAfter <= 0 {
		cfg.QuietAfter = def.QuietAfter
	}
	if cfg.ExitGrace <= 0 {
		cfg.ExitGrace = def.ExitGrace
	}
	if cfg.ShellNames == nil {
		cfg.ShellNames = def.ShellNames
	}
	return &Watcher{
		cfg:          cfg,
		term:         term,
		channel:      channel,
		mark:         mark,
		projectsBase: projectsBase,
		cwd:          cwd,
		startedAt:    time.Now(),
	}
}

// Run blocks until ctx is cancelled or the agent exits. File-watch wakeups
// from the permission scanner shorten the latency between a hook writing a
// request and the operator seeing it.
func (w *Watcher) Run(ctx context.Context) {
	scanCtx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()
	go w.channel.Scanner().Watch(scanCtx)

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.channel.Scanner().Events():
		}
		if w.step() {
			return
		}
	}
}

// step runs one iteration. Returns true when the agent has exited and the
// loop should stop. A panic in an iteration is reported, never fatal.
func (w *Watcher) step() (exited bool) {
	defer func() {
		if r := recover(); r != nil {
			w.reportError(fmt.Errorf("watcher iteration panic: %v", r))
		}
	}()

	w.retarget()
	logPath := w.mark.Path
	logSize := fileSize(logPath)

	for _, req := range w.channel.EnqueueNew(logSize) {
		if w.OnRequest != nil {
			w.OnRequest(req)
		}
	}

	// Turns are only relayed while no authorization ask is pending; the
	// agent is blocked on its dialog and partial output would be noise.
	if w.channel.Pending() == 0 && logPath != "" {
		w.relayTurn(logPath, transcript.QuietFor(logPath, w.cfg.QuietAfter))
	}

	if cleared := w.channel.DetectStale(logSize); len(cleared) > 0 {
		w.resolved(cleared, "stale, prompt gone")
	}
	if expired := w.channel.TimeoutSweep(); len(expired) > 0 {
		w.resolved(expired, "timed out, auto-denied")
	}

	return w.checkExit(logPath)
}

// retarget follows the newest log file for the project unless the watermark
// is pinned to a resumed session.
func (w *Watcher) retarget() {
	if latest := transcript.LocateLatest(w.projectsBase, w.cwd); latest != "" {
		if w.mark.Retarget(latest) {
			log.Printf("watcher: tracking log %s", latest)
		}
	}
}

func (w *Watcher) relayTurn(logPath string, allowPending bool) {
	text, uuid, err := transcript.ExtractLastResponse(logPath, w.mark.LastUUID, allowPending)
	if err != nil {
		if !os.IsNotExist(err) {
			w.reportError(fmt.Errorf("read transcript: %w", err))
		}
		return
	}
	if text == "" {
		return
	}
	w.mark.Advance(uuid)
	if w.OnTurn != nil {
		w.OnTurn(text)
	}
}

// checkExit detects the agent returning control to the shell. The final
// extraction allows a pending turn so the agent's last words are not lost.
func (w *Watcher) checkExit(logPath string) bool {
	if time.Since(w.startedAt) < w.cfg.ExitGrace {
		return false
	}
	if w.term.Alive() && !w.cfg.ShellNames[w.term.ForegroundCommand()] {
		return false
	}

	exited := false
	w.once.Do(func() {
		exited = true
		if logPath != "" {
			w.relayTurn(logPath, true)
		}
		if denied := w.channel.DenyAll(); len(denied) > 0 {
			w.resolved(denied, "agent exited, auto-denied")
		}
		if w.OnExit != nil {
			w.OnExit()
		}
	})
	return exited
}

func (w *Watcher) resolved(reqs []*perm.Request, reason string) {
	if w.OnResolved != nil {
		w.OnResolved(reqs, reason)
	}
}

func (w *Watcher) reportError(err error) {
	log.Printf("watcher: %v", err)
	if w.OnError != nil {
		w.OnError(err)
	}
}

func fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
