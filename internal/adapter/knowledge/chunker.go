package knowledge

import "strings"

const (
	defaultChunkSize    = 800
	defaultChunkOverlap = 100
)

// splitText slices text into overlapping chunks of roughly chunkSize
// runes. It prefers to break at paragraph and sentence boundaries near
// the target size so chunks stay coherent. Overlap carries trailing
// context from one chunk into the next.
func splitText(text string, chunkSize, chunkOverlap int) []string {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = defaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= chunkSize {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakPoint(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		start = end - chunkOverlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// breakPoint searches backwards from end for a natural boundary within
// the last quarter of the window. Falls back to the hard limit.
func breakPoint(runes []rune, start, end int) int {
	minBreak := end - (end-start)/4
	for i := end - 1; i > minBreak; i-- {
		switch runes[i] {
		case '\n':
			return i + 1
		case '.', '!', '?', '。', '！', '？':
			return i + 1
		}
	}
	for i := end - 1; i > minBreak; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}
	return end
}
