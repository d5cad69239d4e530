package cli

import (
	"strings"
	"testing"
	"time"
)

func TestDoctorChecks(t *testing.T) {
	t.Run("perm dir writable", func(t *testing.T) {
		c := checkPermDir(nil)
		if c.Status != "ok" {
			t.Errorf("temp dir check = %+v", c)
		}
	})

	t.Run("transcription unconfigured is ok", func(t *testing.T) {
		c := checkTranscription(nil)
		if c.Status != "ok" {
			t.Errorf("check = %+v", c)
		}
	})
}

func TestRenderDoctorPlain(t *testing.T) {
	report := &DoctorReport{
		Timestamp: time.Now(),
		Overall:   "unhealthy",
		Errors:    1,
		Checks: []Check{
			{Name: "tmux", Status: "ok", Message: "tmux 3.4"},
			{Name: "config", Status: "error", Message: "bot_token is required"},
		},
	}

	var buf strings.Builder
	renderDoctorPlain(&buf, report)
	out := buf.String()

	for _, want := range []string{"tmux 3.4", "bot_token is required", "Overall: UNHEALTHY (1 errors, 0 warnings)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain output contains escape sequences")
	}
}
