package relay

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/telegent/telegent/internal/tmux"
	"github.com/telegent/telegent/internal/util"
)

// Transcriber converts a voice recording into text.
type Transcriber interface {
	Transcribe(path string) (string, error)
}

// ExecTranscriber shells out to an external speech-to-text command. The
// command receives the audio file path as its argument and prints the
// transcript to stdout.
type ExecTranscriber struct {
	Command string
}

func (e ExecTranscriber) Transcribe(path string) (string, error) {
	out, err := exec.Command("sh", "-c", e.Command+" "+tmux.ShellQuote(path)).Output()
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", path, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// downloadFile fetches a Telegram file URL to dest. Swappable in tests.
var downloadFile = func(url, dest string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", dest, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

// fetchToDir downloads a file by Telegram file id into dir.
func (b *Bot) fetchToDir(fileID, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	if err := downloadFile(url, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// handlePhoto saves the highest-resolution variant to the images dir. A
// caption sends caption plus path into the terminal, so "describe this
// <path>" flows straight to whatever is running there.
func (b *Bot) handlePhoto(msg *tgbotapi.Message) {
	photo := msg.Photo[len(msg.Photo)-1]
	name := fmt.Sprintf("img_%d.jpg", time.Now().Unix())
	path, err := b.fetchToDir(photo.FileID, b.cfg.Media.ImagesDir, name)
	if err != nil {
		b.sendText(fmt.Sprintf("Failed to save photo: %v", err))
		return
	}

	if msg.Caption == "" {
		b.sendText(fmt.Sprintf("Saved: %s", path))
		return
	}
	b.ensureSession()
	b.term.SendLine(fmt.Sprintf("%s %s", msg.Caption, path))
	b.sendText(fmt.Sprintf("Saved: %s\nSent to terminal with caption.", path))
}

// handleVoice downloads and transcribes a voice note. The transcript is
// forwarded in agent mode only; terminal mode shows it without executing,
// since mis-heard words make dangerous shell commands.
func (b *Bot) handleVoice(msg *tgbotapi.Message) {
	if b.transcriber == nil {
		b.sendText("Voice messages are not configured (set media.transcribe_command).")
		return
	}

	name := fmt.Sprintf("voice_%d.ogg", time.Now().Unix())
	path, err := b.fetchToDir(msg.Voice.FileID, b.cfg.Media.VoiceDir, name)
	if err != nil {
		b.sendText(fmt.Sprintf("Failed to save voice message: %v", err))
		return
	}

	b.sendText("Transcribing...")
	text, err := b.transcriber.Transcribe(path)
	if err != nil {
		b.sendText(fmt.Sprintf("Transcription failed: %v", err))
		return
	}
	if text == "" {
		b.sendText("Could not transcribe audio.")
		return
	}
	b.sendText(fmt.Sprintf("Heard: %s", text))

	b.mu.Lock()
	inAgent := b.agentMode
	b.mu.Unlock()
	if !inAgent {
		b.sendText("(Terminal mode: transcription shown only, not executed)")
		return
	}

	b.denyPending()
	b.ensureSession()
	b.term.SendLine(util.FlattenLine(text))
}
