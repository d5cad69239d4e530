// Package transcript reads the agent's append-only JSONL conversation log
// and reconstructs assistant turns for relaying.
//
// A turn is a maximal run of assistant-authored entries. It is complete once
// any non-assistant entry follows it, or, when pending turns are allowed, at
// end of file. Extraction is latest-only: the operator needs the newest
// completed turn, not a backlog.
package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/muesli/reflow/truncate"
)

// maxLineBytes bounds a single JSONL line; agent entries with large tool
// results can run long.
const maxLineBytes = 4 * 1024 * 1024

type rawEntry struct {
	Type    string          `json:"type"`
	UUID    string          `json:"uuid"`
	Message json.RawMessage `json:"message"`
}

type rawMessage struct {
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DefaultProjectsBase returns the conversation-log root used by the agent
// (~/.claude/projects).
func DefaultProjectsBase() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude/projects"
	}
	return filepath.Join(home, ".claude", "projects")
}

// ProjectDir maps a working directory to its conversation-log directory:
// path separators become dashes.
func ProjectDir(base, cwd string) string {
	slug := strings.ReplaceAll(cwd, "/", "-")
	return filepath.Join(base, slug)
}

// LocateLatest returns the most recently modified .jsonl log for cwd, or ""
// when the project has none.
func LocateLatest(base, cwd string) string {
	dir := ProjectDir(base, cwd)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = filepath.Join(dir, e.Name())
			latestMod = info.ModTime()
		}
	}
	return latest
}

// ExtractLastResponse scans the log for the most recent completed assistant
// turn after the entry with uuid afterUUID (from the start when afterUUID is
// empty). The turn text is its assistant text blocks joined with a blank
// line; the returned uuid is the turn's last entry, usable as the next
// watermark. With allowPending, an unterminated turn at end of file is
// reported as if completed. Malformed lines are skipped, never fatal.
func ExtractLastResponse(path, afterUUID string, allowPending bool) (string, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	foundMarker := afterUUID == ""
	var lastText, lastUUID string
	var turnTexts []string
	var turnUUID string

	finalize := func() {
		if len(turnTexts) > 0 && turnUUID != "" {
			lastText = strings.Join(turnTexts, "\n\n")
			lastUUID = turnUUID
		}
		turnTexts = nil
		turnUUID = ""
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry rawEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if !foundMarker {
			if entry.UUID == afterUUID {
				foundMarker = true
			}
			continue
		}

		if entry.Type == "assistant" {
			for _, text := range assistantTexts(entry.Message) {
				turnTexts = append(turnTexts, text)
			}
			turnUUID = entry.UUID
			continue
		}
		// Non-assistant entry terminates the accumulated turn.
		finalize()
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}

	if allowPending {
		finalize()
	}
	return lastText, lastUUID, nil
}

// assistantTexts pulls the non-blank text blocks out of an assistant entry.
func assistantTexts(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil
	}
	var texts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			texts = append(texts, b.Text)
		}
	}
	return texts
}

// SnapshotLastUUID bookmarks the log's current tail so pre-existing turns
// (like the agent's greeting) are never re-relayed. Pending turns count.
func SnapshotLastUUID(path string) string {
	if path == "" {
		return ""
	}
	_, uuid, _ := ExtractLastResponse(path, "", true)
	return uuid
}

// QuietFor reports whether the log has not been modified for at least d.
// A quiet log is treated as an implicitly completed turn.
func QuietFor(path string, d time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) >= d
}

// SessionInfo describes one recent conversation for the resume listing.
type SessionInfo struct {
	ID      string // log filename stem
	Preview string // first user message, truncated
	ModTime time.Time
}

// previewLimit caps resume previews.
const previewLimit = 60

// ListRecent returns the n most recently modified conversations for cwd,
// newest first, each with a preview of its first user message.
func ListRecent(base, cwd string, n int) []SessionInfo {
	dir := ProjectDir(base, cwd)
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil || len(paths) == 0 {
		return nil
	}

	type pathInfo struct {
		path string
		mod  time.Time
	}
	infos := make([]pathInfo, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			continue
		}
		infos = append(infos, pathInfo{p, st.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].mod.After(infos[j].mod) })
	if len(infos) > n {
		infos = infos[:n]
	}

	results := make([]SessionInfo, 0, len(infos))
	for _, pi := range infos {
		id := strings.TrimSuffix(filepath.Base(pi.path), ".jsonl")
		preview := firstUserText(pi.path)
		if preview == "" {
			preview = "(no preview)"
		}
		results = append(results, SessionInfo{ID: id, Preview: preview, ModTime: pi.mod})
	}
	return results
}

// firstUserText returns the first user message text in the log, truncated.
// User content may be a plain string or a list of typed blocks.
func firstUserText(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry rawEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Type != "user" || len(entry.Message) == 0 {
			continue
		}
		var msg rawMessage
		if err := json.Unmarshal(entry.Message, &msg); err != nil {
			continue
		}
		if text := userContentText(msg.Content); text != "" {
			return truncatePreview(text)
		}
	}
	return ""
}

func userContentText(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	for _, b := range blocks {
		var block contentBlock
		if err := json.Unmarshal(b, &block); err == nil && block.Type == "text" {
			if t := strings.TrimSpace(block.Text); t != "" {
				return t
			}
		}
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		}
	}
	return ""
}

func truncatePreview(s string) string {
	return string(truncate.StringWithTail(s, previewLimit, "..."))
}
