package indexer

import (
	"strings"
	"testing"
)

func TestChunkTextKeepsSmallParagraphsTogether(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\nThird."
	chunks := ChunkText(text, 200)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1: %q", len(chunks), chunks)
	}
	for _, want := range []string{"First paragraph.", "Second paragraph.", "Third."} {
		if !strings.Contains(chunks[0], want) {
			t.Errorf("chunk missing %q", want)
		}
	}
}

func TestChunkTextSplitsAtParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 30) // ~150 bytes
	text := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)

	chunks := ChunkText(text, 160)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 160 {
			t.Errorf("chunk %d is %d bytes, want <= 160", i, len(c))
		}
	}
}

func TestChunkTextSplitsOversizedParagraphBySentence(t *testing.T) {
	sentence := strings.Repeat("a", 90) + ". "
	text := strings.TrimSpace(strings.Repeat(sentence, 5)) // one ~460 byte paragraph

	chunks := ChunkText(text, 100)
	if len(chunks) < 4 {
		t.Fatalf("chunks = %d, want sentence-level split", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d is %d bytes, want <= 100", i, len(c))
		}
	}
}

func TestChunkTextHardSplitsUnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := ChunkText(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[2]) != 50 {
		t.Errorf("chunk sizes = %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestChunkTextDropsWhitespace(t *testing.T) {
	if chunks := ChunkText("\n\n   \n\n", 100); len(chunks) != 0 {
		t.Errorf("chunks = %q, want none", chunks)
	}
}

func TestURLSlug(t *testing.T) {
	cases := map[string]string{
		"https://en.wikipedia.org/wiki/Paul_Allen": "paul_allen",
		"https://example.com/":                     "page",
		"://bad":                                   "page",
	}
	for in, want := range cases {
		if got := urlSlug(in); got != want {
			t.Errorf("urlSlug(%q) = %q, want %q", in, got, want)
		}
	}
}
