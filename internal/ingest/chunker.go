// Package ingest turns uploaded documents into indexed, searchable chunks.
package ingest

import (
	"strings"

	"github.com/hyperjump/chishiki/internal/models"
)

// Chunk sizes and offsets are measured in runes so CJK text is not split
// mid-character.

// sentenceEnders are the characters a chunk boundary prefers to cut after.
const sentenceEnders = ".!?。！？\n"

// Chunker splits text into overlapping, sentence-boundary-aware chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in runes).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into ordered chunks. Text no longer than the chunk size
// yields exactly one chunk spanning the whole text, even when empty; callers
// reject zero-length text upstream. Otherwise a sliding window advances through
// the text, snapping each cut to the last sentence-terminal character found in
// the final 20% of the window, and the next window starts chunk_overlap runes
// before the previous end. Chunks that are blank after trimming are dropped;
// indices stay contiguous over emitted chunks.
func (c *Chunker) Chunk(text string) []*models.Chunk {
	runes := []rune(text)
	if len(runes) <= c.chunkSize {
		return []*models.Chunk{{
			Text:       text,
			ChunkIndex: 0,
			Start:      0,
			End:        len(runes),
		}}
	}

	var chunks []*models.Chunk
	start := 0
	chunkIndex := 0

	for start < len(runes) {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		if end < len(runes) {
			searchStart := end - c.chunkSize/5
			if searchStart < start {
				searchStart = start
			}
			for i := end - 1; i > searchStart; i-- {
				if strings.ContainsRune(sentenceEnders, runes[i]) {
					end = i + 1
					break
				}
			}
		}

		chunkText := strings.TrimSpace(string(runes[start:end]))
		if chunkText != "" {
			chunks = append(chunks, &models.Chunk{
				Text:       chunkText,
				ChunkIndex: chunkIndex,
				Start:      start,
				End:        end,
			})
			chunkIndex++
		}

		if end == len(runes) {
			break
		}
		next := end - c.chunkOverlap
		// Non-progress guard for chunk_overlap >= chunk_size.
		if next <= start {
			break
		}
		start = next
	}

	return chunks
}
