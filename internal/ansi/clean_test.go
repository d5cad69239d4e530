package ansi

import (
	"strings"
	"testing"
)

func TestClean_CursorForward(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"explicit count", "a\x1b[5Cb", "a     b"},
		{"default count", "a\x1b[Cb", "a b"},
		{"count one", "a\x1b[1Cb", "a b"},
		{"multiple", "\x1b[2Cx\x1b[3Cy", "  x   y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestClean_StripsSequences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"sgr color", "\x1b[31mred\x1b[0m", "red"},
		{"csi private mode", "\x1b[?25lhidden\x1b[?25h", "hidden"},
		{"osc bel terminated", "\x1b]0;title\x07text", "text"},
		{"osc st terminated", "\x1b]8;;http://x\x1b\\link", "link"},
		{"dcs", "\x1bPq#0\x1b\\after", "after"},
		{"two char esc", "\x1b=ascii", "ascii"},
		{"bell", "ding\x07dong", "dingdong"},
		{"null", "a\x00b", "ab"},
		{"bare cr dropped", "progress\rdone", "progressdone"},
		{"crlf kept", "line1\r\nline2", "line1\r\nline2"},
		{"trailing bare cr", "spinner\r", "spinner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text with no escapes",
		"a\x1b[5Cb",
		"\x1b[31mred\x1b[0m and \x1b]0;t\x07title",
		"mixed\rcr\r\nlf\x07bell",
		"ls -la\x1b[?2004l\r\ntotal 8\r\n",
	}

	for _, in := range inputs {
		once := Clean(in)
		twice := Clean(once)
		if once != twice {
			t.Errorf("Clean not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestClean_NoEscapeBytesRemain(t *testing.T) {
	input := "\x1b[1;32m$\x1b[0m ls\x1b[?2004h\r\nfile1  file2\r\n\x1b]0;bash\x07"
	got := Clean(input)
	if strings.ContainsRune(got, '\x1b') {
		t.Errorf("cleaned output still contains ESC: %q", got)
	}
	if strings.ContainsRune(got, '\x07') {
		t.Errorf("cleaned output still contains BEL: %q", got)
	}
}

func TestClean_RealisticShellOutput(t *testing.T) {
	input := "\x1b[?2004hls\r\n\x1b[0m\x1b[01;34mdir\x1b[0m  file.txt\r\n\x1b[?2004l"
	want := "ls\r\ndir  file.txt\r\n"
	if got := Clean(input); got != want {
		t.Errorf("Clean = %q, want %q", got, want)
	}
}
