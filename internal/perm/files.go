package perm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/telegent/telegent/internal/util"
)

// RequestPath returns the request file path for one (relay session, uid)
// pair under dir.
func RequestPath(dir, relaySession, uid string) string {
	return filepath.Join(dir, fmt.Sprintf("telegent_perm_req_%s_%s.json", relaySession, uid))
}

// RequestGlob matches all request files for one relay session.
func RequestGlob(dir, relaySession string) string {
	return filepath.Join(dir, fmt.Sprintf("telegent_perm_req_%s_*.json", relaySession))
}

// WriteRequestFile writes a request atomically so the scanner never observes
// a half-written file.
func WriteRequestFile(dir, relaySession string, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return util.AtomicWriteFile(RequestPath(dir, relaySession, req.UID), data, 0o644)
}

// Response is the legacy single-slot decision file, kept for hooks running
// in -wait mode against older relays.
type Response struct {
	Decision string `json:"decision"` // "allow" or "deny"
}

// ResponsePath returns the legacy response file path for a relay session.
func ResponsePath(dir, relaySession string) string {
	return filepath.Join(dir, fmt.Sprintf("telegent_perm_resp_%s.json", relaySession))
}

// WriteResponse publishes a decision for a -wait mode hook to pick up.
func WriteResponse(dir, relaySession, decision string) error {
	data, err := json.Marshal(Response{Decision: decision})
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(ResponsePath(dir, relaySession), data, 0o644)
}

// ReadResponse consumes the legacy response file, removing it so a decision
// is observed at most once. Returns "" when no decision is available yet.
func ReadResponse(dir, relaySession string) string {
	path := ResponsePath(dir, relaySession)
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	_ = os.Remove(path)
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return ""
	}
	return resp.Decision
}

// WaitResponse polls for a legacy decision until timeout. Used by the hook's
// -wait mode only; the relay itself never blocks on this.
func WaitResponse(dir, relaySession string, timeout, interval time.Duration) string {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d := ReadResponse(dir, relaySession); d != "" {
			return d
		}
		time.Sleep(interval)
	}
	return ""
}
