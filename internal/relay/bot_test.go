package relay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/telegent/telegent/internal/config"
	"github.com/telegent/telegent/internal/perm"
	"github.com/telegent/telegent/internal/tmux"
)

const testChatID int64 = 42

// fakeAPI records outgoing Telegram traffic.
type fakeAPI struct {
	mu           sync.Mutex
	texts        []string
	parseModes   []string
	requests     []tgbotapi.Chattable
	failMarkdown bool
	nextMsgID    int
	fileURL      string
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		if f.failMarkdown && m.ParseMode == tgbotapi.ModeMarkdown {
			return tgbotapi.Message{}, fmt.Errorf("can't parse entities")
		}
		f.texts = append(f.texts, m.Text)
		f.parseModes = append(f.parseModes, m.ParseMode)
	}
	f.nextMsgID++
	return tgbotapi.Message{MessageID: f.nextMsgID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeAPI) allText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.texts, "\n---\n")
}

// fakeTerminal records terminal interactions.
type fakeTerminal struct {
	mu        sync.Mutex
	alive     bool
	cwd       string
	pane      string
	fg        string
	pipeCalls int64
	spawns    int
	lines     []string
	keys      []string
	signals   []byte
	writes    []string
	suppress  bool
}

func (f *fakeTerminal) Spawn(dir string, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns++
	f.alive = true
	return nil
}
func (f *fakeTerminal) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}
func (f *fakeTerminal) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}
func (f *fakeTerminal) Name() string   { return "telegent-test" }
func (f *fakeTerminal) Status() string { return "status ok" }
func (f *fakeTerminal) Cwd() string    { return f.cwd }
func (f *fakeTerminal) Write(data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
}
func (f *fakeTerminal) SendLine(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
}
func (f *fakeTerminal) SendSignalChar(b byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, b)
}
func (f *fakeTerminal) SendKey(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, name)
}
func (f *fakeTerminal) CapturePane() (string, error) { return f.pane, nil }
func (f *fakeTerminal) PipeSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipeCalls++
	return f.pipeCalls
}
func (f *fakeTerminal) SetSuppressOutput(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suppress = v
}
func (f *fakeTerminal) StartReading(cb tmux.OutputFunc) {}
func (f *fakeTerminal) StopReading()                    {}
func (f *fakeTerminal) ForegroundCommand() string       { return f.fg }

func (f *fakeTerminal) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

const dialogPane = "Do you want to proceed?\n❯ 1. Yes\n  2. No\n"

func newTestBot(t *testing.T) (*Bot, *fakeAPI, *fakeTerminal) {
	t.Helper()
	cfg := config.Default()
	cfg.BotToken = "123:abc"
	cfg.ChatID = testChatID
	cfg.Perm.Dir = t.TempDir()
	cfg.Media.ImagesDir = filepath.Join(t.TempDir(), "img")
	cfg.Media.VoiceDir = filepath.Join(t.TempDir(), "voice")

	api := &fakeAPI{}
	term := &fakeTerminal{alive: true, cwd: "/home/op/project", fg: "claude", pane: dialogPane}

	b := New(api, term, cfg, nil)
	b.sleep = func(time.Duration) {}
	b.projectsBase = t.TempDir()
	t.Cleanup(func() {
		b.exitAgentMode(false)
		b.launchWG.Wait()
	})
	return b, api, term
}

func operatorMessage(text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: testChatID},
	}
	if strings.HasPrefix(text, "/") {
		cmdLen := len(strings.Fields(text)[0])
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}}
	}
	return tgbotapi.Update{Message: msg}
}

func TestSplitMessage(t *testing.T) {
	if got := SplitMessage("short", 100); len(got) != 1 || got[0] != "short" {
		t.Errorf("short message split: %v", got)
	}

	lines := strings.Repeat("line of output\n", 20)
	chunks := SplitMessage(lines, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d length %d exceeds limit", i, len(c))
		}
	}
	// Splitting at newlines keeps lines whole.
	for _, c := range chunks {
		for _, l := range strings.Split(strings.TrimRight(c, "\n"), "\n") {
			if l != "line of output" && l != "" {
				t.Errorf("line broken mid-way: %q", l)
			}
		}
	}

	// No newline anywhere: hard cut at the limit.
	blob := strings.Repeat("x", 250)
	chunks = SplitMessage(blob, 100)
	if len(chunks) != 3 || len(chunks[0]) != 100 || len(chunks[2]) != 50 {
		t.Errorf("hard-cut chunks = %v", lens(chunks))
	}

	// A newline before half the limit is ignored in favor of a full cut.
	early := "ab\n" + strings.Repeat("x", 200)
	chunks = SplitMessage(early, 100)
	if len(chunks[0]) != 100 {
		t.Errorf("early newline should not force a tiny chunk, first = %d", len(chunks[0]))
	}

	// Multibyte runs (agent TUI box drawing) must never split mid-rune.
	box := strings.Repeat("─", 60)
	chunks = SplitMessage(box, 100)
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is invalid UTF-8: %q", i, c)
		}
	}
	if strings.Join(chunks, "") != box {
		t.Error("multibyte content lost across chunks")
	}
}

func lens(ss []string) []int {
	out := make([]int, len(ss))
	for i, s := range ss {
		out[i] = len(s)
	}
	return out
}

func TestParsePermMode(t *testing.T) {
	tests := []struct {
		in      string
		want    PermMode
		wantErr bool
	}{
		{"normal", ModeNormal, false},
		{"AUTO", ModeAuto, false},
		{" plan ", ModePlan, false},
		{"yolo", ModeNormal, true},
	}
	for _, tt := range tests {
		got, err := ParsePermMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePermMode(%q) = (%v, %v)", tt.in, got, err)
		}
	}
}

func TestLaunchCommand(t *testing.T) {
	if got := LaunchCommand("claude", ModeNormal, ""); got != "claude" {
		t.Errorf("normal = %q", got)
	}
	if got := LaunchCommand("claude", ModeAuto, ""); got != "claude --dangerously-skip-permissions" {
		t.Errorf("auto = %q", got)
	}
	if got := LaunchCommand("claude", ModePlan, ""); got != "claude --permission-mode plan" {
		t.Errorf("plan = %q", got)
	}
	if got := LaunchCommand("claude", ModeNormal, "abc123"); got != "claude --resume abc123" {
		t.Errorf("resume = %q", got)
	}
}

func TestHandleUpdate_IgnoresOtherChats(t *testing.T) {
	b, api, term := newTestBot(t)

	u := operatorMessage("ls -la")
	u.Message.Chat.ID = 9999
	b.HandleUpdate(u)

	if len(term.sentLines()) != 0 {
		t.Error("message from unauthorized chat reached the terminal")
	}
	if api.allText() != "" {
		t.Error("unauthorized chat got a reply")
	}
}

func TestTerminalMode_TextAndShortcuts(t *testing.T) {
	b, _, term := newTestBot(t)

	b.HandleUpdate(operatorMessage("ls -la"))
	if lines := term.sentLines(); len(lines) != 1 || lines[0] != "ls -la" {
		t.Errorf("lines = %v", lines)
	}

	for _, tt := range []struct {
		text string
		want byte
	}{
		{"^C", 0x03}, {"^D", 0x04}, {"^Z", 0x1a}, {"^[", 0x1b},
	} {
		b.HandleUpdate(operatorMessage(tt.text))
		last := term.signals[len(term.signals)-1]
		if last != tt.want {
			t.Errorf("%q sent %#x, want %#x", tt.text, last, tt.want)
		}
	}

	b.HandleUpdate(operatorMessage("."))
	if len(term.writes) != 1 || term.writes[0] != "\n" {
		t.Errorf("writes = %v", term.writes)
	}
}

func TestTerminalMode_AutoStartsSession(t *testing.T) {
	b, _, term := newTestBot(t)
	term.Kill()

	b.HandleUpdate(operatorMessage("echo hi"))
	if term.spawns != 1 {
		t.Errorf("spawns = %d, want 1", term.spawns)
	}
	if lines := term.sentLines(); len(lines) != 1 || lines[0] != "echo hi" {
		t.Errorf("lines = %v", lines)
	}
}

func TestClaudeTrigger_LaunchSequence(t *testing.T) {
	b, _, term := newTestBot(t)

	b.HandleUpdate(operatorMessage("claude fix the\nbug"))
	b.launchWG.Wait()

	b.mu.Lock()
	inAgent := b.agentMode
	b.mu.Unlock()
	if !inAgent {
		t.Fatal("agent mode not entered")
	}
	if !term.suppress {
		t.Error("terminal output not suppressed in agent mode")
	}

	lines := term.sentLines()
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if lines[0] != "claude" {
		t.Errorf("launch line = %q", lines[0])
	}
	// Trust prompt dismissed between launch and prompt delivery.
	if len(term.keys) == 0 || term.keys[0] != "Enter" {
		t.Errorf("keys = %v, want Enter first", term.keys)
	}
	// Multi-line prompt flattened for the single-line input box.
	if lines[1] != "fix the bug" {
		t.Errorf("prompt line = %q", lines[1])
	}
}

func TestClaudeTrigger_NoPrompt(t *testing.T) {
	b, api, term := newTestBot(t)

	b.HandleUpdate(operatorMessage("claude"))
	b.launchWG.Wait()

	if !strings.Contains(api.allText(), "Claude mode.") {
		t.Errorf("missing mode acknowledgement: %s", api.allText())
	}
	if lines := term.sentLines(); len(lines) != 1 {
		t.Errorf("expected only the launch line, got %v", lines)
	}
}

func TestModeCommand(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.HandleUpdate(operatorMessage("/mode"))
	if !strings.Contains(api.allText(), "Claude permission mode: normal") {
		t.Errorf("mode display: %s", api.allText())
	}

	b.HandleUpdate(operatorMessage("/mode auto"))
	if !strings.Contains(api.allText(), "set to: auto") {
		t.Errorf("mode set: %s", api.allText())
	}
	b.mu.Lock()
	got := b.permMode
	b.mu.Unlock()
	if got != ModeAuto {
		t.Errorf("permMode = %v", got)
	}

	b.HandleUpdate(operatorMessage("/mode bogus"))
	if !strings.Contains(api.allText(), "Usage: /mode") {
		t.Errorf("usage hint missing: %s", api.allText())
	}
}

func TestModeCommand_RestartsRunningAgent(t *testing.T) {
	b, api, term := newTestBot(t)

	b.HandleUpdate(operatorMessage("claude"))
	b.launchWG.Wait()

	b.HandleUpdate(operatorMessage("/mode auto"))
	b.launchWG.Wait()

	var launch string
	for _, l := range term.sentLines() {
		if strings.HasPrefix(l, "claude") && l != "claude" {
			launch = l
		}
	}
	if launch != "claude --dangerously-skip-permissions" {
		t.Errorf("relaunch line = %q", launch)
	}
	if !strings.Contains(api.allText(), "Claude restarted with mode: auto") {
		t.Errorf("restart ack missing: %s", api.allText())
	}
}

func TestUnknownCommand(t *testing.T) {
	b, api, term := newTestBot(t)

	b.HandleUpdate(operatorMessage("/frobnicate now"))
	if !strings.Contains(api.allText(), "Unknown command") {
		t.Errorf("terminal mode should reject unknown commands: %s", api.allText())
	}

	b.HandleUpdate(operatorMessage("claude"))
	b.launchWG.Wait()
	b.HandleUpdate(operatorMessage("/research_codebase the auth module"))

	lines := term.sentLines()
	if lines[len(lines)-1] != "/research_codebase the auth module" {
		t.Errorf("agent-mode slash command not forwarded: %v", lines)
	}
}

// enterAgentState puts the bot in agent mode with a live channel, without
// running the launch sequence.
func enterAgentState(t *testing.T, b *Bot, term *fakeTerminal) *perm.Channel {
	t.Helper()
	ch := perm.NewChannel(perm.NewScanner(b.cfg.Perm.Dir, b.relaySession), term, 0, 0, 0)
	b.mu.Lock()
	b.agentMode = true
	b.channel = ch
	b.mu.Unlock()
	return ch
}

func queueRequest(t *testing.T, b *Bot, ch *perm.Channel, uid string) *perm.Request {
	t.Helper()
	req := &perm.Request{UID: uid, ToolName: "Bash", ToolInput: []byte(`{"command":"ls"}`), TS: time.Now().Unix()}
	if err := perm.WriteRequestFile(b.cfg.Perm.Dir, b.relaySession, req); err != nil {
		t.Fatal(err)
	}
	admitted := ch.EnqueueNew(0)
	if len(admitted) != 1 {
		t.Fatalf("admitted = %v", admitted)
	}
	return admitted[0]
}

func TestAgentMode_YesNoResolution(t *testing.T) {
	b, api, term := newTestBot(t)
	ch := enterAgentState(t, b, term)
	queueRequest(t, b, ch, "aa")

	b.HandleUpdate(operatorMessage("y"))
	if !strings.Contains(api.allText(), "Allowed.") {
		t.Errorf("allow ack missing: %s", api.allText())
	}
	if len(term.keys) != 1 || term.keys[0] != "Enter" {
		t.Errorf("keys = %v, want [Enter]", term.keys)
	}

	queueRequest(t, b, ch, "bb")
	b.HandleUpdate(operatorMessage("no"))
	if !strings.Contains(api.allText(), "Denied.") {
		t.Errorf("deny ack missing: %s", api.allText())
	}
	if term.keys[len(term.keys)-1] != "Escape" {
		t.Errorf("keys = %v, want Escape last", term.keys)
	}
}

func TestAgentMode_OtherTextDeniesAndForwards(t *testing.T) {
	b, _, term := newTestBot(t)
	ch := enterAgentState(t, b, term)
	queueRequest(t, b, ch, "aa")

	b.HandleUpdate(operatorMessage("actually try another approach"))

	if ch.Pending() != 0 {
		t.Error("pending request should be denied")
	}
	if len(term.signals) == 0 || term.signals[0] != 0x03 {
		t.Errorf("signals = %v, want interrupt", term.signals)
	}
	lines := term.sentLines()
	if lines[len(lines)-1] != "actually try another approach" {
		t.Errorf("new instruction not forwarded: %v", lines)
	}
}

func TestAgentMode_PlainYWithNothingPendingIsForwarded(t *testing.T) {
	b, _, term := newTestBot(t)
	enterAgentState(t, b, term)

	b.HandleUpdate(operatorMessage("y"))
	if lines := term.sentLines(); len(lines) != 1 || lines[0] != "y" {
		t.Errorf("lines = %v, want plain forward", lines)
	}
}

func TestAgentMode_CancelShortcut(t *testing.T) {
	b, api, term := newTestBot(t)
	enterAgentState(t, b, term)

	b.HandleUpdate(operatorMessage("^C"))
	if len(term.signals) != 1 || term.signals[0] != 0x03 {
		t.Errorf("signals = %v", term.signals)
	}
	if !strings.Contains(api.allText(), "Claude cancelled.") {
		t.Errorf("cancel ack missing: %s", api.allText())
	}
}

func TestCallback_AllowAndRace(t *testing.T) {
	b, _, term := newTestBot(t)
	ch := enterAgentState(t, b, term)
	queueRequest(t, b, ch, "aa")
	queueRequest(t, b, ch, "bb")

	callback := func(data string) {
		b.HandleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb1",
			Data:    data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: testChatID}},
		}})
	}

	// Pressing the button for the newer request loses the race.
	callback("perm:allow:bb")
	if ch.Pending() != 2 {
		t.Errorf("race press consumed a request, pending = %d", ch.Pending())
	}

	callback("perm:allow:aa")
	if ch.Pending() != 1 {
		t.Errorf("pending = %d after allowing head", ch.Pending())
	}
	if len(term.keys) != 1 || term.keys[0] != "Enter" {
		t.Errorf("keys = %v", term.keys)
	}

	callback("perm:deny:bb")
	if ch.Pending() != 0 {
		t.Errorf("pending = %d after denying", ch.Pending())
	}
}

func TestCallback_MalformedData(t *testing.T) {
	b, _, term := newTestBot(t)
	ch := enterAgentState(t, b, term)
	queueRequest(t, b, ch, "aa")

	b.HandleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    "perm:allow:../etc",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: testChatID}},
	}})
	if ch.Pending() != 1 {
		t.Error("malformed callback data must not resolve anything")
	}
}

func TestTerminalCommand_ExitsAgentMode(t *testing.T) {
	b, api, term := newTestBot(t)
	b.HandleUpdate(operatorMessage("claude"))
	b.launchWG.Wait()

	b.HandleUpdate(operatorMessage("/terminal"))

	b.mu.Lock()
	inAgent := b.agentMode
	b.mu.Unlock()
	if inAgent {
		t.Error("still in agent mode after /terminal")
	}
	if term.suppress {
		t.Error("suppression not lifted")
	}
	lines := term.sentLines()
	if lines[len(lines)-1] != "/exit" {
		t.Errorf("graceful exit line missing: %v", lines)
	}
	// Escalating interrupts follow /exit.
	if len(term.signals) < 2 {
		t.Errorf("signals = %v, want two interrupts", term.signals)
	}
	if !strings.Contains(api.allText(), "Back to terminal mode.") {
		t.Errorf("ack missing: %s", api.allText())
	}
}

func TestResumeFlow(t *testing.T) {
	b, api, term := newTestBot(t)

	// Two recorded conversations for the project.
	dir := filepath.Join(b.projectsBase, "-home-op-project")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	older := filepath.Join(dir, "sess-old.jsonl")
	newer := filepath.Join(dir, "sess-new.jsonl")
	line := `{"type":"user","uuid":"u1","message":{"content":[{"type":"text","text":"fix the tests"}]}}` + "\n"
	if err := os.WriteFile(older, []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	b.HandleUpdate(operatorMessage("/resume"))
	if !strings.Contains(api.allText(), "1. fix the tests") {
		t.Fatalf("resume listing: %s", api.allText())
	}

	b.HandleUpdate(operatorMessage("2"))
	b.launchWG.Wait()

	var launch string
	for _, l := range term.sentLines() {
		if strings.HasPrefix(l, "claude") {
			launch = l
		}
	}
	if launch != "claude --resume sess-old" {
		t.Errorf("resume launch = %q", launch)
	}
	// Resumed sessions pin the watermark to their own log.
	b.mu.Lock()
	locked, path := b.mark.Locked, b.mark.Path
	b.mu.Unlock()
	if !locked || path != older {
		t.Errorf("watermark = (%v, %q), want locked to %q", locked, path, older)
	}
}

func TestResumeFlow_InvalidSelection(t *testing.T) {
	b, api, term := newTestBot(t)

	dir := filepath.Join(b.projectsBase, "-home-op-project")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	line := `{"type":"user","uuid":"u1","message":{"content":[{"type":"text","text":"hello"}]}}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "s.jsonl"), []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}

	b.HandleUpdate(operatorMessage("/resume"))
	b.HandleUpdate(operatorMessage("9"))
	if !strings.Contains(api.allText(), "Invalid selection") {
		t.Errorf("invalid selection not reported: %s", api.allText())
	}

	// Listing is cleared; digits are terminal input again.
	b.HandleUpdate(operatorMessage("9"))
	if lines := term.sentLines(); len(lines) != 1 || lines[0] != "9" {
		t.Errorf("lines = %v", lines)
	}
}

func TestSendTerminalOutput_MarkdownFallback(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.sendTerminalOutput("hello world")
	if len(api.texts) != 1 || api.texts[0] != "```\nhello world\n```" {
		t.Errorf("texts = %v", api.texts)
	}
	if api.parseModes[0] != tgbotapi.ModeMarkdown {
		t.Errorf("parse mode = %q", api.parseModes[0])
	}

	api.failMarkdown = true
	b.sendTerminalOutput("plain retry")
	got := api.texts[len(api.texts)-1]
	if got != "plain retry" {
		t.Errorf("fallback text = %q", got)
	}
}

func TestSendPermRequest_RecordsMessageID(t *testing.T) {
	b, _, term := newTestBot(t)
	ch := enterAgentState(t, b, term)
	req := queueRequest(t, b, ch, "aa")

	b.sendPermRequest(req)
	if ch.Head().MessageID == 0 {
		t.Error("message id not recorded for button cleanup")
	}

	// A request resolved before the send completes keeps its zero id; the
	// resolver already handled its buttons.
	late := queueRequest(t, b, ch, "bb")
	ch.ResolveByUID("aa", true)
	ch.ResolveByUID("bb", true)
	b.sendPermRequest(late)
	if late.MessageID != 0 {
		t.Error("dequeued request must not be written to after resolution")
	}
}

func TestAgentMode_DenyHeadLeavesNextRequestQueued(t *testing.T) {
	b, api, term := newTestBot(t)
	ch := enterAgentState(t, b, term)
	queueRequest(t, b, ch, "aa")
	queueRequest(t, b, ch, "bb")

	b.HandleUpdate(operatorMessage("n"))

	if !strings.Contains(api.allText(), "Denied.") {
		t.Errorf("deny ack missing: %s", api.allText())
	}
	if len(term.keys) != 1 || term.keys[0] != "Escape" {
		t.Errorf("keys = %v, want a single Escape for the head", term.keys)
	}
	if ch.Pending() != 1 {
		t.Fatalf("pending = %d, want the second request untouched", ch.Pending())
	}
	if head := ch.Head(); head == nil || head.UID != "bb" {
		t.Errorf("new head = %+v, want uid bb", head)
	}
}

func TestEnterAgentMode_JoinsPreviousWatcher(t *testing.T) {
	b, _, _ := newTestBot(t)

	b.HandleUpdate(operatorMessage("claude"))
	b.launchWG.Wait()
	b.mu.Lock()
	firstDone := b.watchDone
	b.mu.Unlock()
	if firstDone == nil {
		t.Fatal("no watcher running after entering agent mode")
	}

	// Re-entering agent mode must replace the watcher only after the old
	// goroutine has fully stopped.
	b.HandleUpdate(operatorMessage("claude again"))
	b.launchWG.Wait()

	select {
	case <-firstDone:
	default:
		t.Error("previous watcher still running after re-entry")
	}
	b.mu.Lock()
	secondDone := b.watchDone
	b.mu.Unlock()
	if secondDone == nil || secondDone == firstDone {
		t.Error("new watcher was not started with its own lifetime")
	}
}

func TestOnAgentExit(t *testing.T) {
	b, api, term := newTestBot(t)
	enterAgentState(t, b, term)
	term.SetSuppressOutput(true)

	b.onAgentExit()

	b.mu.Lock()
	inAgent := b.agentMode
	b.mu.Unlock()
	if inAgent || term.suppress {
		t.Error("exit should clear agent mode and suppression")
	}
	if !strings.Contains(api.allText(), "Claude exited. Back to terminal mode.") {
		t.Errorf("exit ack missing: %s", api.allText())
	}
}

func TestHandlePhoto(t *testing.T) {
	b, api, term := newTestBot(t)

	var downloaded string
	orig := downloadFile
	downloadFile = func(url, dest string) error {
		downloaded = dest
		return os.WriteFile(dest, []byte("jpeg"), 0o644)
	}
	defer func() { downloadFile = orig }()

	msg := &tgbotapi.Message{
		Chat:    &tgbotapi.Chat{ID: testChatID},
		Photo:   []tgbotapi.PhotoSize{{FileID: "low"}, {FileID: "high"}},
		Caption: "what is this",
	}
	b.HandleUpdate(tgbotapi.Update{Message: msg})

	if downloaded == "" {
		t.Fatal("photo not downloaded")
	}
	lines := term.sentLines()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "what is this ") {
		t.Errorf("caption line = %v", lines)
	}
	if !strings.Contains(api.allText(), "Saved: ") {
		t.Errorf("save ack missing: %s", api.allText())
	}
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(string) (string, error) { return f.text, f.err }

func TestHandleVoice(t *testing.T) {
	b, api, term := newTestBot(t)
	b.transcriber = fakeTranscriber{text: "list the files"}

	orig := downloadFile
	downloadFile = func(url, dest string) error {
		return os.WriteFile(dest, []byte("ogg"), 0o644)
	}
	defer func() { downloadFile = orig }()

	voice := func() tgbotapi.Update {
		return tgbotapi.Update{Message: &tgbotapi.Message{
			Chat:  &tgbotapi.Chat{ID: testChatID},
			Voice: &tgbotapi.Voice{FileID: "v1"},
		}}
	}

	// Terminal mode: transcript shown, never executed.
	b.HandleUpdate(voice())
	if !strings.Contains(api.allText(), "Heard: list the files") {
		t.Fatalf("transcript missing: %s", api.allText())
	}
	if len(term.sentLines()) != 0 {
		t.Errorf("terminal mode executed a voice transcript: %v", term.sentLines())
	}

	// Agent mode: transcript forwarded as a prompt.
	enterAgentState(t, b, term)
	b.HandleUpdate(voice())
	lines := term.sentLines()
	if len(lines) != 1 || lines[0] != "list the files" {
		t.Errorf("agent mode lines = %v", lines)
	}
}

func TestHandleVoice_NotConfigured(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.transcriber = nil

	b.HandleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: testChatID},
		Voice: &tgbotapi.Voice{FileID: "v1"},
	}})
	if !strings.Contains(api.allText(), "not configured") {
		t.Errorf("missing config hint: %s", api.allText())
	}
}
