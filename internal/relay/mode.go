// Package relay orchestrates the Telegram side: it routes operator messages
// to the terminal session, drives agent mode, and relays agent turns and
// permission requests back to the chat.
package relay

import (
	"fmt"
	"strings"
)

// PermMode selects how the agent is launched.
type PermMode int

const (
	// ModeNormal launches with the agent's default permission prompts.
	ModeNormal PermMode = iota
	// ModeAuto skips permission prompts entirely.
	ModeAuto
	// ModePlan launches in plan mode.
	ModePlan
)

func (m PermMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModePlan:
		return "plan"
	default:
		return "normal"
	}
}

// ParsePermMode parses a mode name.
func ParsePermMode(s string) (PermMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return ModeNormal, nil
	case "auto":
		return ModeAuto, nil
	case "plan":
		return ModePlan, nil
	default:
		return ModeNormal, fmt.Errorf("unknown permission mode %q", s)
	}
}

// LaunchArgs returns the agent CLI flags for a mode, plus --resume when a
// session id is given.
func LaunchArgs(mode PermMode, resumeID string) []string {
	var args []string
	switch mode {
	case ModeAuto:
		args = append(args, "--dangerously-skip-permissions")
	case ModePlan:
		args = append(args, "--permission-mode", "plan")
	}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}
	return args
}

// LaunchCommand builds the shell line that starts the agent TUI.
func LaunchCommand(bin string, mode PermMode, resumeID string) string {
	parts := append([]string{bin}, LaunchArgs(mode, resumeID)...)
	return strings.Join(parts, " ")
}
