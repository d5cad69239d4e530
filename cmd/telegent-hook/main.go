// Command telegent-hook is the Claude Code PreToolUse hook. It receives the
// pending tool call as JSON on stdin, writes a permission request file for
// the relay, and tells Claude to surface its native permission dialog.
//
// Outside a relay-managed session (no TELEGENT_SESSION_ID in the
// environment) the hook exits without output, leaving Claude's default
// permission behavior untouched.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/telegent/telegent/internal/perm"
)

type hookInput struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
}

type hookOutput struct {
	HookSpecificOutput hookDecision `json:"hookSpecificOutput"`
}

type hookDecision struct {
	HookEventName      string `json:"hookEventName"`
	PermissionDecision string `json:"permissionDecision"`
}

func main() {
	wait := flag.Bool("wait", false, "Poll for a response file instead of deferring to the native dialog")
	timeout := flag.Duration("timeout", 60*time.Second, "How long to wait for a response in -wait mode")
	flag.Parse()

	log.SetFlags(0)
	log.SetPrefix("telegent-hook: ")

	relaySession := os.Getenv("TELEGENT_SESSION_ID")
	if relaySession == "" {
		return
	}

	dir := os.Getenv("TELEGENT_PERM_DIR")
	if dir == "" {
		dir = os.TempDir()
	}

	var in hookInput
	if data, err := io.ReadAll(os.Stdin); err == nil {
		// Malformed input still produces a request; the relay shows the
		// tool name as "unknown".
		_ = json.Unmarshal(data, &in)
	}

	req := &perm.Request{
		UID:       perm.NewUID(),
		ToolName:  in.ToolName,
		ToolInput: in.ToolInput,
		TS:        time.Now().Unix(),
	}
	if err := perm.WriteRequestFile(dir, relaySession, req); err != nil {
		// Claude falls back to its own dialog; do not block the tool call.
		log.Printf("write request: %v", err)
		return
	}

	decision := "ask"
	if *wait {
		switch perm.WaitResponse(dir, relaySession, *timeout, 500*time.Millisecond) {
		case "allow":
			decision = "allow"
		default:
			decision = "deny"
		}
	}
	emit(decision)
}

func emit(decision string) {
	out := hookOutput{hookDecision{
		HookEventName:      "PreToolUse",
		PermissionDecision: decision,
	}}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	fmt.Println(string(data))
}
