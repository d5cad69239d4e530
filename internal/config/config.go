// Package config loads and validates the relay configuration. Precedence is
// environment variables over the TOML file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/telegent/telegent/internal/notify"
	"github.com/telegent/telegent/internal/util"
)

// Config is the main relay configuration.
type Config struct {
	// BotToken authenticates against the Telegram Bot API.
	BotToken string `toml:"bot_token"`
	// ChatID is the single authorized operator chat. Updates from any
	// other chat are ignored.
	ChatID int64 `toml:"chat_id"`
	// StartDir is the terminal session's initial working directory.
	StartDir string `toml:"start_dir"`
	// PermMode is the agent launch mode: normal, auto, or plan.
	PermMode string `toml:"perm_mode"`
	// ClaudeBin is the agent binary.
	ClaudeBin string `toml:"claude_bin"`

	Tmux          TmuxConfig    `toml:"tmux"`
	Perm          PermConfig    `toml:"perm"`
	Media         MediaConfig   `toml:"media"`
	Notifications notify.Config `toml:"notifications"`
}

// TmuxConfig names the terminal session and its output pipe.
type TmuxConfig struct {
	SessionName string `toml:"session_name"`
	PipeFile    string `toml:"pipe_file"`
	Cols        int    `toml:"cols"`
	Rows        int    `toml:"rows"`
}

// PermConfig tunes the permission channel.
type PermConfig struct {
	// Dir is the scratch directory for request/response files.
	Dir string `toml:"dir"`
	// QueueCap bounds pending requests.
	QueueCap int `toml:"queue_cap"`
	// TimeoutSec auto-denies unanswered requests.
	TimeoutSec int `toml:"timeout_sec"`
	// StaleSec is the minimum head age before staleness checks apply.
	StaleSec int `toml:"stale_sec"`
}

// MediaConfig covers photo and voice message handling.
type MediaConfig struct {
	// ImagesDir receives downloaded photos for the agent to read.
	ImagesDir string `toml:"images_dir"`
	// VoiceDir receives downloaded voice notes.
	VoiceDir string `toml:"voice_dir"`
	// TranscribeCommand converts a voice file to text; it gets the file
	// path as its argument and prints the transcript to stdout. Voice
	// support is off when empty.
	TranscribeCommand string `toml:"transcribe_command"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StartDir:  util.ExpandHome("~"),
		PermMode:  "normal",
		ClaudeBin: "claude",
		Tmux: TmuxConfig{
			SessionName: "telegent",
			PipeFile:    filepath.Join(os.TempDir(), "telegent_pipe.log"),
			Cols:        200,
			Rows:        50,
		},
		Perm: PermConfig{
			Dir:        os.TempDir(),
			QueueCap:   8,
			TimeoutSec: 60,
			StaleSec:   5,
		},
		Media: MediaConfig{
			ImagesDir: filepath.Join(os.TempDir(), "telegent_images"),
			VoiceDir:  filepath.Join(os.TempDir(), "telegent_voice"),
		},
		Notifications: notify.DefaultConfig(),
	}
}

// DefaultPath returns the config file location. TELEGENT_CONFIG wins, then
// XDG_CONFIG_HOME, then ~/.config.
func DefaultPath() string {
	if env := os.Getenv("TELEGENT_CONFIG"); env != "" {
		return util.ExpandHome(env)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "telegent", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "telegent", "config.toml")
}

// Load reads the config at path (DefaultPath when empty). A missing file is
// not an error; defaults plus environment still apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if token := os.Getenv("TELEGENT_BOT_TOKEN"); token != "" {
		cfg.BotToken = token
	}
	if chat := os.Getenv("TELEGENT_CHAT_ID"); chat != "" {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGENT_CHAT_ID: %w", err)
		}
		cfg.ChatID = id
	}
	if dir := os.Getenv("TELEGENT_START_DIR"); dir != "" {
		cfg.StartDir = dir
	}
	if mode := os.Getenv("TELEGENT_PERM_MODE"); mode != "" {
		cfg.PermMode = mode
	}

	cfg.StartDir = util.ExpandHome(cfg.StartDir)
	cfg.Perm.Dir = util.ExpandHome(cfg.Perm.Dir)
	cfg.Media.ImagesDir = util.ExpandHome(cfg.Media.ImagesDir)
	cfg.Media.VoiceDir = util.ExpandHome(cfg.Media.VoiceDir)

	return cfg, nil
}

// Validate reports configuration the relay cannot start without.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("bot_token is required (or set TELEGENT_BOT_TOKEN)")
	}
	if c.ChatID == 0 {
		return fmt.Errorf("chat_id is required (or set TELEGENT_CHAT_ID)")
	}
	switch c.PermMode {
	case "normal", "auto", "plan":
	default:
		return fmt.Errorf("perm_mode must be normal, auto, or plan, got %q", c.PermMode)
	}
	if c.Tmux.SessionName == "" {
		return fmt.Errorf("tmux.session_name must not be empty")
	}
	return nil
}
