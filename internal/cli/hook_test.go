package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestHookStanza(t *testing.T) {
	stanza := hookStanza()
	pre, ok := stanza["PreToolUse"].([]any)
	if !ok || len(pre) != 1 {
		t.Fatalf("PreToolUse = %#v", stanza["PreToolUse"])
	}
	entry := pre[0].(map[string]any)
	if entry["matcher"] != "*" {
		t.Errorf("matcher = %v", entry["matcher"])
	}
	hooks := entry["hooks"].([]any)
	hook := hooks[0].(map[string]any)
	if hook["type"] != "command" {
		t.Errorf("type = %v", hook["type"])
	}
	if cmd, _ := hook["command"].(string); cmd == "" {
		t.Error("command is empty")
	}
}

func TestInstallHook_FreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := installHook(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatal(err)
	}
	hooks := settings["hooks"].(map[string]any)
	if _, ok := hooks["PreToolUse"]; !ok {
		t.Error("PreToolUse missing after install")
	}
}

func TestInstallHook_PreservesExistingSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	existing := `{"model":"opus","hooks":{"PostToolUse":[{"matcher":"Bash"}]}}`
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := installHook(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatal(err)
	}
	if settings["model"] != "opus" {
		t.Error("unrelated top-level key lost")
	}
	hooks := settings["hooks"].(map[string]any)
	if _, ok := hooks["PostToolUse"]; !ok {
		t.Error("hooks for other events lost")
	}
	if _, ok := hooks["PreToolUse"]; !ok {
		t.Error("PreToolUse missing after install")
	}
}

func TestInstallHook_RejectsCorruptSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := installHook(path); err == nil {
		t.Error("corrupt settings file should not be overwritten")
	}
}

