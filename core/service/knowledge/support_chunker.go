package knowledge

import "strings"

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits document text into overlapping segments. Sizes are counted in characters.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker falls back to the defaults for a non-positive size or an overlap that would not
// leave room for forward progress.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Chunker{size: size, overlap: overlap}
}

type span struct {
	start, end int
}

// Chunk returns the trimmed, non-blank segments of text.
func (c *Chunker) Chunk(text string) []string {
	runes := normalize(text)
	var chunks []string
	for _, s := range c.spans(runes) {
		chunk := strings.TrimSpace(string(runes[s.start:s.end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// spans is a greedy forward scan. A proposed end short of the text end snaps back to the
// last sentence break or newline when that break lies past the middle of the chunk.
func (c *Chunker) spans(runes []rune) []span {
	var result []span
	n := len(runes)
	start := 0
	for start < n {
		end := start + c.size
		if end > n {
			end = n
		}
		if end < n {
			if brk := lastBreak(runes, start, end); brk > start+c.size/2 {
				end = brk + 1
			}
		}
		result = append(result, span{start, end})

		if end >= n {
			break
		}

		next := end - c.overlap
		if next < 0 {
			next = 0
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return result
}

// lastBreak returns the index of the last ". " or newline inside runes[start:end], or -1.
func lastBreak(runes []rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if runes[i] == '\n' {
			return i
		}
		if runes[i] == '.' && i+1 < end && runes[i+1] == ' ' {
			return i
		}
	}
	return -1
}

func normalize(text string) []rune {
	return []rune(strings.ReplaceAll(text, "\r", "\n"))
}
