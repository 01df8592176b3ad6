package indexer

import (
	"strings"
)

// ChunkText splits plain text into chunks of at most chunkSize bytes,
// preferring paragraph boundaries and falling back to sentence-ish
// splits for oversized paragraphs. Whitespace-only chunks are dropped.
func ChunkText(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, piece := range splitOversized(para, chunkSize) {
			if current.Len() > 0 && current.Len()+len(piece)+1 > chunkSize {
				flush()
			}
			if current.Len() > 0 {
				current.WriteByte(' ')
			}
			current.WriteString(piece)
		}
	}
	flush()
	return chunks
}

// splitOversized breaks a paragraph longer than chunkSize at sentence
// ends, hard-splitting sentences that are still too long.
func splitOversized(para string, chunkSize int) []string {
	if len(para) <= chunkSize {
		return []string{para}
	}

	var pieces []string
	start := 0
	for i := 0; i < len(para); i++ {
		if para[i] == '.' || para[i] == '!' || para[i] == '?' {
			end := i + 1
			if end-start >= chunkSize/2 {
				pieces = append(pieces, strings.TrimSpace(para[start:end]))
				start = end
			}
		}
	}
	if start < len(para) {
		rest := strings.TrimSpace(para[start:])
		for len(rest) > chunkSize {
			pieces = append(pieces, rest[:chunkSize])
			rest = rest[chunkSize:]
		}
		if rest != "" {
			pieces = append(pieces, rest)
		}
	}
	return pieces
}
