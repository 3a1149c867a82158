package delivery

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func checkParts(t *testing.T, text string, max int, parts []string) {
	t.Helper()
	for i, p := range parts {
		if n := utf8.RuneCountInString(p); n > max {
			t.Errorf("part %d has %d chars, limit %d", i+1, n, max)
		}
		if len(parts) > 1 {
			want := fmt.Sprintf("(%d/%d) ", i+1, len(parts))
			if !strings.HasPrefix(p, want) {
				t.Errorf("part %d missing prefix %q: %q", i+1, want, p)
			}
		}
	}
	if got := Join(parts); got != text {
		t.Errorf("joined parts differ from original:\n got %q\nwant %q", got, text)
	}
}

func TestSplitShortText(t *testing.T) {
	parts := Split("hola", 1600)
	if len(parts) != 1 || parts[0] != "hola" {
		t.Fatalf("expected single unprefixed part, got %v", parts)
	}
}

func TestSplitEmpty(t *testing.T) {
	if parts := Split("", 100); len(parts) != 0 {
		t.Fatalf("expected no parts, got %v", parts)
	}
}

func TestSplitPrefersParagraphs(t *testing.T) {
	p1 := strings.Repeat("a", 30)
	p2 := strings.Repeat("b", 30)
	text := p1 + "\n\n" + p2

	parts := Split(text, 50)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %q", len(parts), parts)
	}
	if parts[0] != "(1/2) "+p1+"\n\n" {
		t.Errorf("expected first paragraph with separator, got %q", parts[0])
	}
	if parts[1] != "(2/2) "+p2 {
		t.Errorf("expected second paragraph, got %q", parts[1])
	}
	checkParts(t, text, 50, parts)
}

func TestSplitFallsBackToLinesThenWords(t *testing.T) {
	lines := "first line here\nsecond line here\nthird line here"
	checkParts(t, lines, 30, Split(lines, 30))

	words := strings.Repeat("palabra ", 40)
	parts := Split(words, 40)
	if len(parts) < 2 {
		t.Fatalf("expected several parts, got %d", len(parts))
	}
	for _, p := range parts[:len(parts)-1] {
		if !strings.HasSuffix(p, " ") {
			t.Errorf("expected cut at a word boundary, got %q", p)
		}
	}
	checkParts(t, words, 40, parts)
}

func TestSplitHardCutsLongWords(t *testing.T) {
	text := strings.Repeat("x", 100)
	parts := Split(text, 30)
	if len(parts) < 4 {
		t.Fatalf("expected at least 4 parts, got %d", len(parts))
	}
	checkParts(t, text, 30, parts)
}

func TestSplitManyPartsWidensPrefix(t *testing.T) {
	text := strings.Repeat("ventas del dia ", 200)
	parts := Split(text, 40)
	if len(parts) < 10 {
		t.Fatalf("expected double-digit part count, got %d", len(parts))
	}
	checkParts(t, text, 40, parts)
}

func TestSplitMultibyte(t *testing.T) {
	text := strings.Repeat("añoñ ", 60) + strings.Repeat("📈", 50)
	parts := Split(text, 45)
	checkParts(t, text, 45, parts)
}

func TestSplitDefaultLimit(t *testing.T) {
	text := strings.Repeat("z ", 1000)
	parts := Split(text, 0)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts at the default limit, got %d", len(parts))
	}
	checkParts(t, text, DefaultMaxLength, parts)
}

func TestSplitNeverExceedsSmallLimits(t *testing.T) {
	texts := []string{
		strings.Repeat("abcdefghij", 5) + "klmno",
		strings.Repeat("uno dos tres ", 30),
		strings.Repeat("ñ", 333),
	}
	for _, text := range texts {
		for max := 1; max <= 60; max++ {
			parts := Split(text, max)
			numbered := strings.HasPrefix(parts[0], "(1/")
			for i, p := range parts {
				if n := utf8.RuneCountInString(p); n > max {
					t.Fatalf("max=%d: part %d has %d chars: %q", max, i+1, n, p)
				}
				if numbered && !strings.HasPrefix(p, fmt.Sprintf("(%d/%d) ", i+1, len(parts))) {
					t.Fatalf("max=%d: part %d misnumbered: %q", max, i+1, p)
				}
			}
			if numbered {
				if got := Join(parts); got != text {
					t.Fatalf("max=%d: joined parts differ", max)
				}
			} else if got := strings.Join(parts, ""); got != text {
				t.Fatalf("max=%d: unnumbered parts differ", max)
			}
		}
	}
}

func TestSplitSmallLimitSendsUnnumbered(t *testing.T) {
	text := strings.Repeat("abcdefghij", 5) + "klmno"
	parts := Split(text, 12)
	if len(parts) != 5 {
		t.Fatalf("expected 5 parts, got %d: %q", len(parts), parts)
	}
	if parts[0] != "abcdefghijkl" {
		t.Errorf("expected unnumbered first part, got %q", parts[0])
	}
}

func TestStripPrefix(t *testing.T) {
	tests := []struct{ in, want string }{
		{"(1/3) hola", "hola"},
		{"(12/15) x", "x"},
		{"sin prefijo", "sin prefijo"},
		{"(a/b) no", "(a/b) no"},
	}
	for _, tt := range tests {
		if got := StripPrefix(tt.in); got != tt.want {
			t.Errorf("StripPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
