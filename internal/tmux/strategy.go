package tmux

import "strings"

// EchoStripper removes the terminal's echo of an injected command from a
// flushed output chunk.
type EchoStripper interface {
	Strip(output, injected string) string
}

// PrefixEchoStripper discards everything up to and including the first
// occurrence of the injected text. This is a heuristic: it misfires when the
// command text also appears legitimately in the real output.
type PrefixEchoStripper struct{}

func (PrefixEchoStripper) Strip(output, injected string) string {
	if injected == "" {
		return output
	}
	if idx := strings.Index(output, injected); idx != -1 {
		return output[idx+len(injected):]
	}
	return output
}

// NoEchoStripper disables echo suppression.
type NoEchoStripper struct{}

func (NoEchoStripper) Strip(output, _ string) string { return output }
