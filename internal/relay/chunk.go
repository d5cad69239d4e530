package relay

import (
	"strings"
	"unicode/utf8"
)

// TelegramMaxLength is the Bot API message size limit.
const TelegramMaxLength = 4096

// SplitMessage breaks text into chunks of at most limit bytes, preferring to
// split at the last newline past half the limit so lines stay intact.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = TelegramMaxLength
	}

	var chunks []string
	for text != "" {
		if len(text) <= limit {
			chunks = append(chunks, text)
			break
		}
		cut := strings.LastIndex(text[:limit], "\n")
		if cut < limit/2 {
			// Hard cut, backed off to a rune boundary so multibyte output
			// (TUI box drawing, non-ASCII prose) never splits mid-rune.
			cut = limit
			for cut > limit/2 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	return chunks
}
