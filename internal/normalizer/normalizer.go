// Package normalizer cleans decrypted report text before it is shown to a
// person or placed into a prompt. PDF extraction and pgcrypto round-trips
// leave UTF-8 bytes decoded as Latin-1 (mojibake), stray control characters
// and ragged whitespace; everything here is a pure string transform.
package normalizer

import "strings"

// mojibake pairs, most specific first. Three-byte sequences must be replaced
// before their two-byte prefixes.
var mojibakeReplacer = strings.NewReplacer(
	"â", "'",
	"â", "'",
	"â", "\"",
	"â", "\"",
	"â", "-",
	"â", "-",
	"â¦", "...",
	"Â°", "°",
	"Âµ", "µ",
	"Â ", " ",
	"Â", "",
	"�", "",
)

// Normalize repairs encoding artifacts and tidies whitespace while preserving
// line structure. Section headers must stay on their own lines so that the
// structural retrieval pass can still find them.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = mojibakeReplacer.Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = stripControl(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = collapseSpaces(strings.TrimRight(line, " \t"))
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// Preview truncates text to max runes for display, appending an ellipsis
// marker when anything was cut.
func Preview(text string, max int) string {
	text = Normalize(text)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimRight(string(runes[:max]), " ") + "..."
}

func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
}

func collapseSpaces(line string) string {
	for strings.Contains(line, "  ") {
		line = strings.ReplaceAll(line, "  ", " ")
	}
	return line
}
