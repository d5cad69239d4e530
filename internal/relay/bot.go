package relay

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/telegent/telegent/internal/config"
	"github.com/telegent/telegent/internal/notify"
	"github.com/telegent/telegent/internal/perm"
	"github.com/telegent/telegent/internal/tmux"
	"github.com/telegent/telegent/internal/transcript"
	"github.com/telegent/telegent/internal/util"
	"github.com/telegent/telegent/internal/watcher"
)

// Sender is the slice of the Telegram Bot API client the relay uses.
// *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Terminal is the tmux session surface the relay drives. *tmux.Session
// satisfies it.
type Terminal interface {
	Spawn(dir string, env map[string]string) error
	Kill()
	Alive() bool
	Name() string
	Status() string
	Cwd() string
	Write(data string)
	SendLine(line string)
	SendSignalChar(b byte)
	SendKey(name string)
	CapturePane() (string, error)
	PipeSize() int64
	SetSuppressOutput(v bool)
	StartReading(cb tmux.OutputFunc)
	StopReading()
	ForegroundCommand() string
}

const (
	trustDismissDelay = 1500 * time.Millisecond
	exitFirstDelay    = 2 * time.Second
	exitSecondDelay   = time.Second
	denySettleDelay   = 500 * time.Millisecond
)

// Bot relays between the operator's Telegram chat and the terminal session.
type Bot struct {
	api      Sender
	term     Terminal
	cfg      *config.Config
	notifier *notify.Notifier

	// relaySession namespaces this process's permission files.
	relaySession string
	projectsBase string
	transcriber  Transcriber
	sleep        func(time.Duration)

	mu          sync.Mutex
	agentMode   bool
	permMode    PermMode
	mark        transcript.Watermark
	channel     *perm.Channel
	watchCancel context.CancelFunc
	watchDone   chan struct{}
	resumeIDs   []string

	launchWG sync.WaitGroup
}

// New builds a relay bot. The config must already be validated.
func New(api Sender, term Terminal, cfg *config.Config, notifier *notify.Notifier) *Bot {
	mode, err := ParsePermMode(cfg.PermMode)
	if err != nil {
		mode = ModeNormal
	}
	b := &Bot{
		api:          api,
		term:         term,
		cfg:          cfg,
		notifier:     notifier,
		relaySession: strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		projectsBase: transcript.DefaultProjectsBase(),
		permMode:     mode,
		sleep:        time.Sleep,
	}
	if cfg.Media.TranscribeCommand != "" {
		b.transcriber = ExecTranscriber{Command: cfg.Media.TranscribeCommand}
	}
	return b
}

// RelaySession returns this process's permission-file namespace, exported to
// the terminal session as TELEGENT_SESSION_ID.
func (b *Bot) RelaySession() string { return b.relaySession }

// Run starts the terminal session, announces readiness, and processes
// updates until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	if err := b.startSession(); err != nil {
		return err
	}
	b.sendText(fmt.Sprintf(
		"Terminal bot started.\nAttach locally: tmux attach -t %s\nSend /start for help.",
		b.cfg.Tmux.SessionName))

	defer b.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(u)
		}
	}
}

// HandleUpdate routes one update. Anything not from the operator chat is
// silently ignored.
func (b *Bot) HandleUpdate(u tgbotapi.Update) {
	if u.CallbackQuery != nil {
		b.handleCallback(u.CallbackQuery)
		return
	}
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != b.cfg.ChatID {
		return
	}
	switch {
	case msg.IsCommand():
		b.handleCommand(msg)
	case len(msg.Photo) > 0:
		b.handlePhoto(msg)
	case msg.Voice != nil:
		b.handleVoice(msg)
	case msg.Text != "":
		b.handleText(msg.Text)
	}
}

func (b *Bot) shutdown() {
	b.exitAgentMode(false)
	b.term.StopReading()
	b.term.Kill()
	b.notify(notify.Event{
		Type:    notify.EventSessionKilled,
		Session: b.cfg.Tmux.SessionName,
		Message: "Terminal session killed on shutdown",
	})
}

// startSession (re)spawns the tmux session and wires terminal output back to
// the chat. The relay session id rides in as an env var for the hook.
func (b *Bot) startSession() error {
	if b.term.Alive() {
		b.term.StopReading()
		b.term.Kill()
	}
	env := map[string]string{
		"TELEGENT_SESSION_ID": b.relaySession,
		"TELEGENT_PERM_DIR":   b.cfg.Perm.Dir,
	}
	if err := b.term.Spawn(b.cfg.StartDir, env); err != nil {
		return fmt.Errorf("spawn session: %w", err)
	}
	b.term.StartReading(b.sendTerminalOutput)
	b.notify(notify.Event{
		Type:    notify.EventSessionCreated,
		Session: b.cfg.Tmux.SessionName,
		Message: "Terminal session started",
	})
	return nil
}

func (b *Bot) ensureSession() {
	if !b.term.Alive() {
		if err := b.startSession(); err != nil {
			b.sendText(fmt.Sprintf("Failed to start session: %v", err))
		}
	}
}

// --- command handling ---

const helpText = `Terminal bot ready.
Send any text to execute in the terminal.
Type "claude <prompt>" to enter Claude mode.

Commands:
/new — new terminal session
/kill — kill current session
/status — session info
/terminal — exit Claude mode, back to terminal
/claude_new — reset Claude conversation
/resume — resume a recent Claude session
/mode — show/set Claude permission mode (normal/auto/plan)
/ctrl_c — send Ctrl+C
/ctrl_d — send Ctrl+D
/ctrl_z — send Ctrl+Z`

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendText(helpText)
	case "new":
		b.exitAgentMode(false)
		if err := b.startSession(); err != nil {
			b.sendText(fmt.Sprintf("Failed to start session: %v", err))
			return
		}
		b.sendText("New terminal session started.")
	case "kill":
		if !b.term.Alive() {
			b.sendText("No active session.")
			return
		}
		b.exitAgentMode(false)
		b.term.StopReading()
		b.term.Kill()
		b.sendText("Session killed.")
	case "status":
		b.sendText(b.term.Status())
	case "ctrl_c":
		b.sendSignal(0x03)
	case "ctrl_d":
		b.sendSignal(0x04)
	case "ctrl_z":
		b.sendSignal(0x1a)
	case "terminal":
		b.exitAgentMode(true)
		b.sendText("Back to terminal mode.")
	case "claude_new":
		b.exitAgentMode(true)
		b.ensureSession()
		b.enterAgentMode("", "")
		b.sendText("Fresh Claude session started.")
	case "mode":
		b.handleModeCommand(msg.CommandArguments())
	case "resume":
		b.handleResumeCommand()
	default:
		b.mu.Lock()
		inAgent := b.agentMode
		b.mu.Unlock()
		if inAgent {
			// Unrecognized slash commands belong to the agent, e.g. a
			// custom /research_codebase command.
			b.forwardToAgent(msg.Text)
			return
		}
		b.sendText("Unknown command. Send /start for help.")
	}
}

func (b *Bot) sendSignal(c byte) {
	if !b.term.Alive() {
		b.sendText("No active session.")
		return
	}
	b.term.SendSignalChar(c)
}

func (b *Bot) handleModeCommand(args string) {
	args = strings.TrimSpace(args)
	b.mu.Lock()
	current := b.permMode
	inAgent := b.agentMode
	b.mu.Unlock()

	if args == "" {
		b.sendText(fmt.Sprintf("Claude permission mode: %s", current))
		return
	}
	mode, err := ParsePermMode(args)
	if err != nil {
		b.sendText("Usage: /mode [normal|auto|plan]")
		return
	}

	b.denyPending()
	b.mu.Lock()
	b.permMode = mode
	b.mu.Unlock()

	// A running agent keeps its launch flags; restart it so the new mode
	// takes effect.
	if inAgent {
		b.exitAgentMode(true)
		b.sleep(time.Second)
		b.ensureSession()
		b.enterAgentMode("", "")
		b.sendText(fmt.Sprintf("Claude restarted with mode: %s", mode))
		return
	}
	b.sendText(fmt.Sprintf("Claude permission mode set to: %s", mode))
}

func (b *Bot) handleResumeCommand() {
	b.ensureSession()
	sessions := transcript.ListRecent(b.projectsBase, b.term.Cwd(), 5)
	if len(sessions) == 0 {
		b.sendText("No recent sessions found.")
		return
	}

	lines := []string{"Recent sessions:"}
	ids := make([]string, 0, len(sessions))
	for i, s := range sessions {
		lines = append(lines, fmt.Sprintf("%d. %s (%s)", i+1, s.Preview, util.TimeAgo(s.ModTime)))
		ids = append(ids, s.ID)
	}
	lines = append(lines, "", "Reply with a number to resume.")

	b.mu.Lock()
	b.resumeIDs = ids
	b.mu.Unlock()
	b.sendText(strings.Join(lines, "\n"))
}

// --- text handling ---

func (b *Bot) handleText(text string) {
	if b.handleResumeSelection(text) {
		return
	}

	if text == "claude" || strings.HasPrefix(text, "claude ") {
		prompt := strings.TrimSpace(strings.TrimPrefix(text, "claude"))
		b.ensureSession()
		b.exitAgentMode(false)
		b.enterAgentMode(prompt, "")
		if prompt == "" {
			b.sendText("Claude mode. Send a message or /terminal to exit.")
		}
		return
	}

	b.mu.Lock()
	inAgent := b.agentMode
	b.mu.Unlock()
	if inAgent {
		b.handleAgentText(text)
		return
	}
	b.handleTerminalText(text)
}

// handleResumeSelection consumes the reply to a /resume listing. Returns
// true when the text was handled. Any non-numeric reply cancels the listing
// and flows on as a normal message.
func (b *Bot) handleResumeSelection(text string) bool {
	b.mu.Lock()
	ids := b.resumeIDs
	b.resumeIDs = nil
	b.mu.Unlock()
	if len(ids) == 0 {
		return false
	}

	trimmed := strings.TrimSpace(text)
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return false
	}
	if idx < 1 || idx > len(ids) {
		b.sendText("Invalid selection. Resume cancelled.")
		return true
	}

	b.ensureSession()
	b.exitAgentMode(true)
	b.enterAgentMode("", ids[idx-1])
	b.sendText(fmt.Sprintf("Resuming session %d...", idx))
	return true
}

func (b *Bot) handleAgentText(text string) {
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()

	if text == "^C" {
		b.denyPending()
		if b.term.Alive() {
			b.term.SendSignalChar(0x03)
			b.sendText("Claude cancelled.")
		}
		return
	}

	lower := strings.ToLower(text)
	if ch != nil && ch.Pending() > 0 && (lower == "y" || lower == "yes" || lower == "n" || lower == "no") {
		allow := lower == "y" || lower == "yes"
		b.reportResolution(ch.ResolveHead(allow))
		return
	}

	// Any other message while a request is pending: deny it, interrupt the
	// agent, and deliver the new instruction.
	if ch != nil && ch.Pending() > 0 {
		ch.DenyAll()
		if b.term.Alive() {
			b.term.SendSignalChar(0x03)
		}
		b.sleep(denySettleDelay)
	}

	b.forwardToAgent(text)
}

func (b *Bot) forwardToAgent(text string) {
	b.ensureSession()
	// The agent's input box is single-line.
	b.term.SendLine(util.FlattenLine(text))
}

func (b *Bot) handleTerminalText(text string) {
	b.ensureSession()
	switch text {
	case "^C":
		b.term.SendSignalChar(0x03)
	case "^D":
		b.term.SendSignalChar(0x04)
	case "^Z":
		b.term.SendSignalChar(0x1a)
	case "^[":
		b.term.SendSignalChar(0x1b)
	case ".":
		b.term.Write("\n")
	default:
		b.term.SendLine(text)
	}
}

// --- permission resolution ---

func (b *Bot) denyPending() {
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch != nil && ch.Pending() > 0 {
		ch.DenyAll()
		b.sleep(denySettleDelay)
	}
}

func (b *Bot) reportResolution(outcome perm.Outcome, reqs []*perm.Request) {
	switch outcome {
	case perm.ResolvedAllow:
		b.sendText("Allowed.")
	case perm.ResolvedDeny:
		b.sendText("Denied.")
	case perm.StaleCleared:
		b.sendText(fmt.Sprintf("Prompt no longer on screen; cleared %d stale request(s).", len(reqs)))
	case perm.NoPending:
		b.sendText("No pending permission request.")
	}
	b.clearRequestButtons(reqs)
}

// handleCallback resolves inline Allow/Deny button presses. Only the head of
// the queue may be decided; a press for an older message loses the race.
func (b *Bot) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.Message.Chat.ID != b.cfg.ChatID {
		return
	}

	parts := strings.Split(cq.Data, ":")
	if len(parts) != 3 || parts[0] != "perm" || !perm.ValidUID(parts[2]) {
		b.answerCallback(cq.ID, "Malformed request.")
		return
	}
	allow := parts[1] == "allow"
	uid := parts[2]

	b.mu.Lock()
	ch := b.channel
	inAgent := b.agentMode
	b.mu.Unlock()
	if !inAgent || ch == nil {
		b.answerCallback(cq.ID, "No pending permission request.")
		return
	}

	outcome, reqs := ch.ResolveByUID(uid, allow)
	switch outcome {
	case perm.ResolvedAllow:
		b.answerCallback(cq.ID, "Allowed.")
	case perm.ResolvedDeny:
		b.answerCallback(cq.ID, "Denied.")
	case perm.RaceLost:
		b.answerCallback(cq.ID, "Superseded: decide the oldest request first.")
	case perm.StaleCleared:
		b.answerCallback(cq.ID, "Prompt gone; cleared stale requests.")
	case perm.NoPending:
		b.answerCallback(cq.ID, "No pending permission request.")
	}
	b.clearRequestButtons(reqs)
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.Printf("relay: answer callback: %v", err)
	}
}

// clearRequestButtons strips the inline keyboard off resolved request
// messages so stale buttons cannot be pressed.
func (b *Bot) clearRequestButtons(reqs []*perm.Request) {
	for _, req := range reqs {
		if req.MessageID == 0 {
			continue
		}
		edit := tgbotapi.NewEditMessageText(b.cfg.ChatID, req.MessageID, perm.Format(req))
		if _, err := b.api.Request(edit); err != nil {
			log.Printf("relay: clear buttons for %s: %v", req.UID, err)
		}
	}
}

// sendPermRequest surfaces a newly admitted request with Allow/Deny buttons.
// Runs on the watcher goroutine.
func (b *Bot) sendPermRequest(req *perm.Request) {
	msg := tgbotapi.NewMessage(b.cfg.ChatID, perm.Format(req))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Allow", "perm:allow:"+req.UID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Deny", "perm:deny:"+req.UID),
		),
	)
	sent, err := b.api.Send(msg)
	if err != nil {
		log.Printf("relay: send permission request: %v", err)
		return
	}

	// Recorded through the channel lock: the operator may resolve the head
	// on the handler goroutine while this runs on the watcher goroutine.
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch != nil {
		ch.SetMessageID(req.UID, sent.MessageID)
	}
}

// --- agent mode lifecycle ---

// stopWatcher cancels the running watcher and waits for its goroutine to
// finish, so no stale iteration can touch the watermark or channel being
// replaced. Must not be called from the watcher goroutine itself.
func (b *Bot) stopWatcher() {
	b.mu.Lock()
	cancel := b.watchCancel
	done := b.watchDone
	b.watchCancel = nil
	b.watchDone = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// enterAgentMode suppresses raw terminal output, snapshots the transcript
// watermark, starts the arbitration watcher, and launches the agent. With a
// resumeID the watermark is pinned to that conversation's log.
func (b *Bot) enterAgentMode(prompt, resumeID string) {
	b.stopWatcher()
	cwd := b.term.Cwd()

	b.mu.Lock()
	b.agentMode = true
	mode := b.permMode
	b.term.SetSuppressOutput(true)

	b.mark = transcript.Watermark{}
	if resumeID != "" {
		logPath := filepath.Join(transcript.ProjectDir(b.projectsBase, cwd), resumeID+".jsonl")
		b.mark.LockTo(logPath)
	} else if latest := transcript.LocateLatest(b.projectsBase, cwd); latest != "" {
		b.mark.Retarget(latest)
	}

	scanner := perm.NewScanner(b.cfg.Perm.Dir, b.relaySession)
	b.channel = perm.NewChannel(scanner, b.term, b.cfg.Perm.QueueCap,
		time.Duration(b.cfg.Perm.TimeoutSec)*time.Second,
		time.Duration(b.cfg.Perm.StaleSec)*time.Second)

	w := watcher.New(watcher.Config{}, b.term, b.channel, &b.mark, b.projectsBase, cwd)
	w.OnTurn = b.sendAgentOutput
	w.OnRequest = b.sendPermRequest
	w.OnResolved = b.onAutoResolved
	w.OnExit = b.onAgentExit
	w.OnError = func(err error) {
		b.sendText(fmt.Sprintf("[watcher error] %v", err))
		b.notify(notify.NewWatcherErrorEvent(b.cfg.Tmux.SessionName, err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.watchCancel = cancel
	b.watchDone = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	b.term.SendLine(LaunchCommand(b.cfg.ClaudeBin, mode, resumeID))
	b.notify(notify.Event{
		Type:    notify.EventAgentStarted,
		Session: b.cfg.Tmux.SessionName,
		Message: "Claude launched",
	})

	b.launchWG.Add(1)
	go func() {
		defer b.launchWG.Done()
		b.finishLaunch(prompt)
	}()
}

// finishLaunch waits for the agent TUI to paint, dismisses the folder-trust
// dialog with Enter (harmless when already trusted), and delivers the
// initial prompt.
func (b *Bot) finishLaunch(prompt string) {
	b.waitForAgentReady()
	if !b.term.Alive() {
		return
	}
	b.term.SendKey("Enter")
	b.sleep(trustDismissDelay)
	if prompt != "" && b.term.Alive() {
		b.term.SendLine(util.FlattenLine(prompt))
	}
}

// waitForAgentReady polls the pipe log for growth, the signal that the TUI
// has drawn its welcome screen.
func (b *Bot) waitForAgentReady() bool {
	initial := b.term.PipeSize()
	for i := 0; i < 25; i++ {
		if b.term.PipeSize() > initial {
			b.sleep(denySettleDelay)
			return true
		}
		b.sleep(200 * time.Millisecond)
	}
	return false
}

// exitAgentMode leaves agent mode. With graceful, the agent gets /exit and
// escalating interrupts; otherwise state is torn down without touching the
// terminal.
func (b *Bot) exitAgentMode(graceful bool) {
	b.mu.Lock()
	wasAgent := b.agentMode
	b.agentMode = false
	ch := b.channel
	b.channel = nil
	b.mu.Unlock()
	if !wasAgent {
		return
	}

	b.stopWatcher()
	if ch != nil && ch.Pending() > 0 {
		ch.DenyAll()
		b.sleep(denySettleDelay)
	}
	if graceful && b.term.Alive() {
		b.term.SendLine("/exit")
		b.sleep(exitFirstDelay)
		b.term.SendSignalChar(0x03)
		b.sleep(exitSecondDelay)
		b.term.SendSignalChar(0x03)
	}
	b.term.SetSuppressOutput(false)
}

// onAgentExit fires from the watcher when the agent hands the pane back.
// Runs on the watcher goroutine, so it cancels without waiting on watchDone;
// the goroutine is about to return anyway.
func (b *Bot) onAgentExit() {
	b.mu.Lock()
	b.agentMode = false
	cancel := b.watchCancel
	b.watchCancel = nil
	b.watchDone = nil
	b.channel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.term.SetSuppressOutput(false)
	b.sendText("Claude exited. Back to terminal mode.")
	b.notify(notify.NewAgentExitedEvent(b.cfg.Tmux.SessionName))
}

func (b *Bot) onAutoResolved(reqs []*perm.Request, reason string) {
	for _, req := range reqs {
		b.sendText(fmt.Sprintf("Permission request for %s %s.", req.ToolName, reason))
		if strings.Contains(reason, "timed out") {
			b.notify(notify.NewPermissionTimeoutEvent(b.cfg.Tmux.SessionName, req.UID, req.ToolName))
		}
	}
	b.clearRequestButtons(reqs)
}

// --- chat output ---

// sendTerminalOutput relays raw terminal output as monospace code blocks.
// Markdown failures (binary noise, stray backticks) retry once as plain
// text.
func (b *Bot) sendTerminalOutput(text string) {
	for _, chunk := range SplitMessage(text, TelegramMaxLength-10) {
		msg := tgbotapi.NewMessage(b.cfg.ChatID, fmt.Sprintf("```\n%s\n```", chunk))
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := b.api.Send(msg); err != nil {
			plain := tgbotapi.NewMessage(b.cfg.ChatID, chunk)
			if _, err := b.api.Send(plain); err != nil {
				log.Printf("relay: send terminal output: %v", err)
			}
		}
	}
}

// sendAgentOutput relays agent turns as Markdown prose.
func (b *Bot) sendAgentOutput(text string) {
	for _, chunk := range SplitMessage(text, TelegramMaxLength-50) {
		msg := tgbotapi.NewMessage(b.cfg.ChatID, chunk)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := b.api.Send(msg); err != nil {
			plain := tgbotapi.NewMessage(b.cfg.ChatID, chunk)
			if _, err := b.api.Send(plain); err != nil {
				log.Printf("relay: send agent output: %v", err)
			}
		}
	}
}

func (b *Bot) sendText(text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(b.cfg.ChatID, text)); err != nil {
		log.Printf("relay: send message: %v", err)
	}
}

func (b *Bot) notify(event notify.Event) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Notify(event); err != nil {
		log.Printf("relay: notify: %v", err)
	}
}
