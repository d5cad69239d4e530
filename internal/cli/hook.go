package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/telegent/telegent/internal/util"
)

var hookInstall bool

func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Print or install the Claude Code permission hook",
		Long: `Claude Code calls the telegent-hook binary before every tool use. The hook
writes a permission request file for the relay and tells Claude to ask.

Without flags this prints the hooks stanza for ~/.claude/settings.json.
With --install it merges the stanza into the settings file directly.`,
		RunE: runHook,
	}
	cmd.Flags().BoolVar(&hookInstall, "install", false, "Merge the stanza into ~/.claude/settings.json")
	return cmd
}

// hookStanza builds the PreToolUse hooks block pointing at the telegent-hook
// binary. An absolute path is used when the binary is resolvable so the hook
// works regardless of Claude's PATH.
func hookStanza() map[string]any {
	command := "telegent-hook"
	if path, err := exec.LookPath(command); err == nil {
		command = path
	}
	return map[string]any{
		"PreToolUse": []any{
			map[string]any{
				"matcher": "*",
				"hooks": []any{
					map[string]any{"type": "command", "command": command},
				},
			},
		},
	}
}

func runHook(cmd *cobra.Command, args []string) error {
	stanza := map[string]any{"hooks": hookStanza()}

	if !hookInstall {
		data, err := json.MarshalIndent(stanza, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		fmt.Fprintln(cmd.OutOrStdout(), "\nMerge into ~/.claude/settings.json, or run: telegent hook --install")
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	return installHook(filepath.Join(home, ".claude", "settings.json"))
}

// installHook merges the PreToolUse stanza into an existing settings file,
// preserving unrelated keys and any hooks for other events.
func installHook(path string) error {
	settings := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = map[string]any{}
	}
	hooks["PreToolUse"] = hookStanza()["PreToolUse"]
	settings["hooks"] = hooks

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := util.AtomicWriteFile(path, append(data, '\n'), 0o644); err != nil {
		return err
	}
	fmt.Printf("Installed PreToolUse hook into %s\n", path)
	return nil
}
