// Package delivery splits outbound replies into channel-sized parts.
package delivery

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the WhatsApp body limit enforced by Twilio.
const DefaultMaxLength = 1600

// minBudget is the least text a numbered part may carry. Below it parts are
// sent unnumbered.
const minBudget = 8

var partPrefix = regexp.MustCompile(`^\(\d+/\d+\) `)

// Split breaks text into parts of at most max characters. Cuts prefer
// paragraph breaks, then line breaks, then spaces; only a word longer than a
// whole part is cut mid-word. Separators stay at the end of the part they
// follow. When more than one part results, each is prefixed "(i/n) " and the
// prefix counts toward max; when max is too small to leave minBudget
// characters after the prefix, parts are sent unnumbered. Empty text yields
// no parts.
func Split(text string, max int) []string {
	if text == "" {
		return nil
	}
	if max <= 0 {
		max = DefaultMaxLength
	}
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	// The prefix width depends on the part count, which depends on the
	// budget left after the prefix. Grow the assumed count until stable.
	n := 2
	var chunks []string
	for {
		budget := max - len(prefix(n, n))
		if budget < minBudget {
			return chunk(text, max)
		}
		chunks = chunk(text, budget)
		if len(prefix(len(chunks), len(chunks))) <= len(prefix(n, n)) {
			break
		}
		n = len(chunks)
	}

	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = prefix(i+1, len(chunks)) + c
	}
	return parts
}

// StripPrefix removes a "(i/n) " part prefix if present.
func StripPrefix(part string) string {
	return partPrefix.ReplaceAllString(part, "")
}

// Join reassembles parts produced by Split into the original text.
func Join(parts []string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(StripPrefix(p))
	}
	return b.String()
}

func prefix(i, n int) string {
	return fmt.Sprintf("(%d/%d) ", i, n)
}

// chunk cuts text greedily into pieces of at most budget runes.
func chunk(text string, budget int) []string {
	var out []string
	for text != "" {
		if utf8.RuneCountInString(text) <= budget {
			out = append(out, text)
			break
		}
		window := text[:runeOffset(text, budget)]
		cut := cutPoint(window)
		out = append(out, text[:cut])
		text = text[cut:]
	}
	return out
}

// cutPoint returns the byte offset after the best separator in window, or
// len(window) when no separator exists.
func cutPoint(window string) int {
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i > 0 {
			return i + len(sep)
		}
	}
	return len(window)
}

// runeOffset returns the byte offset of the n-th rune of s.
func runeOffset(s string, n int) int {
	i := 0
	for off := range s {
		if i == n {
			return off
		}
		i++
	}
	return len(s)
}
