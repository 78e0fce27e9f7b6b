package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunker_SingleChunk(t *testing.T) {
	c := NewChunker(100, 10)
	chunks := c.Chunk("short text")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "short text" {
		t.Errorf("text: got %q", chunks[0].Text)
	}
	if chunks[0].ChunkIndex != 0 {
		t.Errorf("index: got %d", chunks[0].ChunkIndex)
	}
}

func TestChunker_ContiguousIndices(t *testing.T) {
	c := NewChunker(50, 10)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 10)
	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, ch.ChunkIndex)
		}
		if ch.Text == "" {
			t.Errorf("chunk %d is empty", i)
		}
		if n := utf8.RuneCountInString(ch.Text); n > 50 {
			t.Errorf("chunk %d has %d runes, want <= 50", i, n)
		}
	}
}

func TestChunker_SentenceSnap(t *testing.T) {
	// A period inside the last fifth of the window pulls the cut to just
	// after it.
	text := strings.Repeat("a", 90) + ". " + strings.Repeat("b", 60)
	c := NewChunker(100, 10)
	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, ".") {
		t.Errorf("first chunk should end at the sentence boundary, got %q", chunks[0].Text)
	}
}

func TestChunker_Overlap(t *testing.T) {
	text := strings.Repeat("x", 120)
	c := NewChunker(50, 10)
	chunks := c.Chunk(text)
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Start != chunks[i-1].End-10 {
			t.Errorf("chunk %d starts at %d, want %d", i, chunks[i].Start, chunks[i-1].End-10)
		}
	}
}

func TestChunker_BlankChunksDropped(t *testing.T) {
	text := "abcde" + strings.Repeat(" ", 5) + "fghij"
	c := NewChunker(5, 0)
	chunks := c.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "abcde" || chunks[1].Text != "fghij" {
		t.Errorf("chunks: got %q, %q", chunks[0].Text, chunks[1].Text)
	}
	// Indices stay contiguous even though the blank middle chunk was dropped.
	if chunks[0].ChunkIndex != 0 || chunks[1].ChunkIndex != 1 {
		t.Errorf("indices: got %d, %d", chunks[0].ChunkIndex, chunks[1].ChunkIndex)
	}
}

func TestChunker_NonProgressGuard(t *testing.T) {
	// With overlap equal to size the window cannot advance; chunking must
	// still terminate.
	c := NewChunker(10, 10)
	chunks := c.Chunk(strings.Repeat("y", 25))
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestChunker_CJKRuneBoundaries(t *testing.T) {
	text := strings.Repeat("知識は力なり。", 10)
	c := NewChunker(20, 5)
	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if !utf8.ValidString(ch.Text) {
			t.Errorf("chunk %d split a multi-byte character: %q", i, ch.Text)
		}
		if n := utf8.RuneCountInString(ch.Text); n > 20 {
			t.Errorf("chunk %d has %d runes, want <= 20", i, n)
		}
	}
}
