// Package ansi turns raw terminal output into display-safe text.
//
// Cursor-forward sequences are replaced with the equivalent number of
// spaces so column alignment survives; every other recognized control
// sequence is removed outright. Clean is pure and idempotent.
package ansi

import (
	"regexp"
	"strconv"
	"strings"
)

// cursorForwardRe matches CSI cursor-forward (ESC [ n C).
var cursorForwardRe = regexp.MustCompile(`\x1b\[(\d*)C`)

// escapeRe matches the sequences removed with no replacement: CSI (covers
// SGR, mouse, kitty keyboard, private modes), OSC (BEL or ST terminated),
// DCS, two-character ESC sequences, 8-bit CSI, BEL and NUL. Bare carriage
// returns are handled separately since RE2 has no lookahead.
var escapeRe = regexp.MustCompile(`(` +
	`\x1b\[[0-9;?<>=! "']*[@-~]` + // CSI
	`|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)` + // OSC
	`|\x1bP[^\x1b]*\x1b\\` + // DCS
	`|\x1b[^\[\]P]` + // two-char ESC sequences
	`|\x9b[0-9;?<>=! ]*[@-~]` + // 8-bit CSI
	`|\x07` + // bell
	`|\x00` + // null
	`)`)

// Clean strips terminal control sequences from s. Cursor-forward becomes an
// equal run of spaces; everything else recognized is dropped. Already-clean
// text passes through unchanged.
func Clean(s string) string {
	if s == "" {
		return s
	}
	s = cursorForwardRe.ReplaceAllStringFunc(s, expandCursorForward)
	s = escapeRe.ReplaceAllString(s, "")
	return stripBareCR(s)
}

func expandCursorForward(m string) string {
	// m is "\x1b[<digits>C"; no digits means move by one column.
	n := 1
	if d := m[2 : len(m)-1]; d != "" {
		if v, err := strconv.Atoi(d); err == nil && v > 0 {
			n = v
		}
	}
	return strings.Repeat(" ", n)
}

// stripBareCR removes carriage returns not followed by a newline.
func stripBareCR(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' && (i+1 >= len(s) || s[i+1] != '\n') {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
