// Package perm implements the file-based permission handshake between the
// agent's PreToolUse hook and the relay, and the arbitration of pending
// requests: a bounded FIFO queue, staleness detection, timeouts, and
// keystroke mirroring of operator decisions into the agent's native prompt.
package perm

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// uidRe is the only accepted request-id shape. Anything else in a request
// file is treated as forged or corrupt and dropped.
var uidRe = regexp.MustCompile(`^[0-9a-f]{1,16}$`)

// ValidUID reports whether s is an acceptable request id.
func ValidUID(s string) bool {
	return uidRe.MatchString(s)
}

// NewUID generates a fresh request id (8 random bytes, hex).
func NewUID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Fall back to a time-derived id; uniqueness per process lifetime
		// is what matters here.
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Request is one agent tool-use authorization ask.
type Request struct {
	UID       string          `json:"uid"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
	TS        int64           `json:"ts"`

	// EnqueuedAt is when the relay accepted the request.
	EnqueuedAt time.Time `json:"-"`
	// MessageID is the chat message carrying this request's buttons, kept
	// so the buttons can be removed once the request resolves.
	MessageID int `json:"-"`
	// LogSize is the transcript size observed at enqueue time, used for
	// staleness detection.
	LogSize int64 `json:"-"`
}

// ParseRequestFile reads and validates a permission request file.
func ParseRequestFile(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request %s: %w", path, err)
	}
	if !ValidUID(req.UID) {
		return nil, fmt.Errorf("request %s: invalid uid %q", path, req.UID)
	}
	if req.ToolName == "" {
		req.ToolName = "unknown"
	}
	return &req, nil
}
