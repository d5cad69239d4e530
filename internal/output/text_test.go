package output

import (
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"short string unchanged", "abc", 10, "abc"},
		{"exact length unchanged", "abcde", 5, "abcde"},
		{"truncated with ellipsis", "abcdefghij", 8, "abcde..."},
		{"zero max", "abc", 0, ""},
		{"multibyte safe", "héllo wörld", 8, "héll..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.s, tt.maxLen)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
			if len(got) > tt.maxLen {
				t.Errorf("Truncate result %q exceeds maxLen %d", got, tt.maxLen)
			}
		})
	}
}

func TestTable_Render(t *testing.T) {
	var sb strings.Builder
	tbl := NewTable(&sb, "NAME", "STATUS")
	tbl.AddRow("terminal", "live")
	tbl.AddRow("agent", "idle")
	tbl.Render()

	out := sb.String()
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "terminal") {
		t.Errorf("table output missing content:\n%s", out)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Errorf("expected 4 lines (header, sep, 2 rows), got %d", len(lines))
	}
}
