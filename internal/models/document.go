// Package models defines core data structures for documents, chunks, and search results.
package models

import "fmt"

// Document statuses. Transitions are uploaded -> processing -> indexed, with
// error as the failure terminal; re-ingestion resets indexed/error to processing.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusError      = "error"
)

// DocumentRecord is one ledger entry per uploaded file.
type DocumentRecord struct {
	FileID           string `json:"file_id"`
	OriginalFilename string `json:"original_filename"`
	StoredFilename   string `json:"stored_filename"`
	Path             string `json:"path"`
	Size             int64  `json:"size"`
	Hash             string `json:"hash"`
	Timestamp        string `json:"timestamp"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

// Ledger is the per-character metadata file listing all uploaded documents.
type Ledger struct {
	Documents   []*DocumentRecord `json:"documents"`
	LastUpdated string            `json:"last_updated,omitempty"`
}

// Find returns the record with the given file ID, or nil.
func (l *Ledger) Find(fileID string) *DocumentRecord {
	for _, doc := range l.Documents {
		if doc.FileID == fileID {
			return doc
		}
	}
	return nil
}

// Chunk is a contiguous, possibly overlapping substring of a document's
// normalized text. Start and End are rune offsets into the source text.
type Chunk struct {
	Text       string `json:"text"`
	ChunkIndex int    `json:"chunk_index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// ChunkID returns the index row ID for a chunk of the given document.
func ChunkID(fileID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", fileID, chunkIndex)
}
