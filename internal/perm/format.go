package perm

import (
	"encoding/json"
	"fmt"

	"github.com/muesli/reflow/truncate"
)

const (
	commandPreviewLimit = 200
	requestTextLimit    = 500
)

// Format renders a permission request for the operator. Bash requests show
// the command itself, file-editing tools show the target path, anything else
// shows the raw tool input.
func Format(req *Request) string {
	detail := requestDetail(req)
	text := fmt.Sprintf("🔐 Permission request\nTool: %s\n%s\n\nReply y to allow, n to deny.", req.ToolName, detail)
	return string(truncate.StringWithTail(text, requestTextLimit, "..."))
}

func requestDetail(req *Request) string {
	var input map[string]any
	if err := json.Unmarshal(req.ToolInput, &input); err != nil {
		return rawInput(req.ToolInput)
	}

	switch req.ToolName {
	case "Bash":
		if cmd, ok := input["command"].(string); ok && cmd != "" {
			return "Command: " + string(truncate.StringWithTail(cmd, commandPreviewLimit, "..."))
		}
	case "Edit", "Write", "MultiEdit", "NotebookEdit":
		if path, ok := input["file_path"].(string); ok && path != "" {
			return "File: " + path
		}
	}
	return rawInput(req.ToolInput)
}

func rawInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "Input: (none)"
	}
	return "Input: " + string(truncate.StringWithTail(string(raw), commandPreviewLimit, "..."))
}
