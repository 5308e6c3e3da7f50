package telegramutil

import "strings"

// DefaultMaxMessageLength is the Telegram Bot API limit for one sendMessage
// call.
const DefaultMaxMessageLength = 4096

const fenceMarker = "```"

// EscapeMarkdownV2 escapes every character reserved by Telegram MarkdownV2.
func EscapeMarkdownV2(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + 8)
	for _, r := range text {
		switch r {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isFenceLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// SplitMarkdownSafe splits a model reply into MarkdownV2-safe chunks of at
// most maxLen bytes. Lines outside code fences are escaped, lines inside are
// passed through verbatim, and a fence that would straddle a chunk boundary
// is closed at the end of the current chunk and reopened at the start of the
// next one. Fence marker lines themselves are normalized to a bare ``` and
// never escaped.
//
// A single line longer than maxLen is emitted alone in its own chunk,
// unsplit; Telegram rejects such a message, but cutting inside a line could
// break an escape sequence in half, which is worse.
func SplitMarkdownSafe(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}

	var (
		chunks      []string
		current     strings.Builder
		insideFence bool
	)

	flush := func(closeFence bool) {
		if closeFence {
			current.WriteString(fenceMarker + "\n")
		}
		chunk := strings.TrimRight(current.String(), "\n")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		wasInside := insideFence

		var processed string
		switch {
		case isFenceLine(line):
			insideFence = !insideFence
			processed = fenceMarker
		case insideFence:
			processed = line
		default:
			processed = EscapeMarkdownV2(line)
		}

		// Inside a fence the chunk may still need a closing marker, so
		// reserve room for it.
		limit := maxLen
		if wasInside {
			limit -= len(fenceMarker) + 1
		}
		if current.Len()+len(processed)+1 > limit {
			if wasInside {
				// The finished chunk must not leave a fence open.
				flush(true)
				current.WriteString(fenceMarker + "\n")
			} else {
				flush(false)
			}
		}
		current.WriteString(processed)
		current.WriteByte('\n')
	}

	flush(insideFence)
	return chunks
}
