package indexer

import "strings"

// Chunk is one contiguous slice of a source file.
type Chunk struct {
	Text        string
	ChunkIndex  int
	TotalChunks int
	StartChar   int
	EndChar     int
}

// codeBlockOverflow lets a chunk run past the target size to keep a fenced
// code block intact, up to this fraction of the chunk size.
const codeBlockOverflow = 0.2

// ChunkText splits content into overlapping chunks of roughly chunkSize
// characters, preferring semantic break points: paragraph boundary, then
// sentence end, then newline, then word boundary. The split is purely a
// function of (content, chunkSize, overlap), so re-runs produce identical
// chunks.
func ChunkText(content string, chunkSize, overlap int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 5
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(content) {
		end := start + chunkSize
		if end >= len(content) {
			end = len(content)
		} else {
			end = findBreak(content, start, end)
		}

		text := strings.TrimSpace(content[start:end])
		if text != "" {
			chunks = append(chunks, Chunk{
				Text:       text,
				ChunkIndex: len(chunks),
				StartChar:  start,
				EndChar:    end,
			})
		}

		if end >= len(content) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// findBreak picks the best break point at or before end, searching back
// through at most half the chunk. A fenced code block open at end may extend
// the chunk to its closing fence within the overflow allowance.
func findBreak(content string, start, end int) int {
	if inCodeBlock(content, start, end) {
		limit := end + int(float64(end-start)*codeBlockOverflow)
		if limit > len(content) {
			limit = len(content)
		}
		if close := strings.Index(content[end:limit], "\n```"); close >= 0 {
			fenceEnd := end + close + len("\n```")
			if nl := strings.IndexByte(content[fenceEnd:limit], '\n'); nl >= 0 {
				return fenceEnd + nl + 1
			}
			return fenceEnd
		}
	}

	window := (end - start) / 2
	floor := end - window
	if floor < start {
		floor = start
	}

	// paragraph boundary
	if i := strings.LastIndex(content[floor:end], "\n\n"); i >= 0 {
		return floor + i + 2
	}
	// sentence end
	for i := end - 1; i > floor; i-- {
		c := content[i-1]
		if (c == '.' || c == '!' || c == '?') && (content[i] == ' ' || content[i] == '\n') {
			return i + 1
		}
	}
	// newline
	if i := strings.LastIndexByte(content[floor:end], '\n'); i >= 0 {
		return floor + i + 1
	}
	// word boundary
	if i := strings.LastIndexByte(content[floor:end], ' '); i >= 0 {
		return floor + i + 1
	}
	return end
}

// inCodeBlock reports whether position end falls inside a fenced code block
// opened within [start, end).
func inCodeBlock(content string, start, end int) bool {
	fences := strings.Count(content[start:end], "```")
	return fences%2 == 1
}
