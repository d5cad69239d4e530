package perm

import "strings"

// promptMarkers are fragments of the agent's native permission dialog as it
// renders in the pane. The dialog wording shifts between agent releases, so
// visibility is a heuristic: any marker counts.
var promptMarkers = []string{
	"Do you want",
	"Would you like",
	"1. Yes",
	"2. No",
	"Allow this",
	"(esc to cancel)",
}

// PromptVisible reports whether pane (a capture-pane snapshot) currently
// shows a permission dialog. A decision keystroke must never be sent blind:
// with no dialog on screen, Enter or Escape would land in the agent's input
// box instead.
func PromptVisible(pane string) bool {
	for _, m := range promptMarkers {
		if strings.Contains(pane, m) {
			return true
		}
	}
	return false
}
