package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Tmux.SessionName != "telegent" {
		t.Errorf("session name = %q", cfg.Tmux.SessionName)
	}
	if cfg.Tmux.Cols != 200 || cfg.Tmux.Rows != 50 {
		t.Errorf("pane size = %dx%d", cfg.Tmux.Cols, cfg.Tmux.Rows)
	}
	if cfg.Perm.QueueCap != 8 || cfg.Perm.TimeoutSec != 60 {
		t.Errorf("perm tuning = %+v", cfg.Perm)
	}
	if cfg.PermMode != "normal" {
		t.Errorf("perm mode = %q", cfg.PermMode)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClaudeBin != "claude" {
		t.Errorf("claude bin = %q", cfg.ClaudeBin)
	}
}

func TestLoad_TOMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
bot_token = "123:abc"
chat_id = 42
perm_mode = "plan"

[tmux]
session_name = "mybox"

[perm]
timeout_sec = 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotToken != "123:abc" || cfg.ChatID != 42 {
		t.Errorf("credentials = (%q, %d)", cfg.BotToken, cfg.ChatID)
	}
	if cfg.Tmux.SessionName != "mybox" {
		t.Errorf("session name = %q", cfg.Tmux.SessionName)
	}
	if cfg.Perm.TimeoutSec != 30 {
		t.Errorf("timeout = %d", cfg.Perm.TimeoutSec)
	}
	// Unset keys keep their defaults.
	if cfg.Perm.QueueCap != 8 {
		t.Errorf("queue cap = %d, want default 8", cfg.Perm.QueueCap)
	}
}

func TestLoad_EnvOverridesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("bot_token = \"from-file\"\nchat_id = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TELEGENT_BOT_TOKEN", "from-env")
	t.Setenv("TELEGENT_CHAT_ID", "99")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotToken != "from-env" {
		t.Errorf("token = %q, want env value", cfg.BotToken)
	}
	if cfg.ChatID != 99 {
		t.Errorf("chat id = %d, want 99", cfg.ChatID)
	}
}

func TestLoad_BadChatIDEnv(t *testing.T) {
	t.Setenv("TELEGENT_CHAT_ID", "not-a-number")
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for unparseable TELEGENT_CHAT_ID")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("missing token should fail validation")
	}

	cfg.BotToken = "123:abc"
	if err := cfg.Validate(); err == nil {
		t.Error("missing chat id should fail validation")
	}

	cfg.ChatID = 42
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.PermMode = "yolo"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown perm mode should fail validation")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("TELEGENT_CONFIG", "/etc/telegent.toml")
	if got := DefaultPath(); got != "/etc/telegent.toml" {
		t.Errorf("DefaultPath = %q", got)
	}

	t.Setenv("TELEGENT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != "/xdg/telegent/config.toml" {
		t.Errorf("DefaultPath = %q", got)
	}
}
