package models

// SearchResult is a single retrieval hit, ordered by relevance.
type SearchResult struct {
	ChunkID          string  `json:"chunk_id"`
	FileID           string  `json:"file_id"`
	Filename         string  `json:"filename"`
	OriginalFilename string  `json:"original_filename,omitempty"`
	ChunkIndex       int     `json:"chunk_index"`
	Text             string  `json:"text"`
	Rank             float64 `json:"rank"`
	Truncated        bool    `json:"truncated"`
}

// IndexStats describes the state of a character's full-text index.
type IndexStats struct {
	TotalDocuments int   `json:"total_documents"`
	TotalChunks    int   `json:"total_chunks"`
	DBSizeBytes    int64 `json:"db_size_bytes"`
}

// Stats combines index statistics with ledger status counts and the
// character's total on-disk footprint.
type Stats struct {
	TotalDocuments int            `json:"total_documents"`
	TotalChunks    int            `json:"total_chunks"`
	DBSizeBytes    int64          `json:"db_size_bytes"`
	DiskUsageBytes int64          `json:"disk_usage_bytes"`
	ByStatus       map[string]int `json:"by_status"`
}

// TaskInfo describes a dispatched background ingestion.
type TaskInfo struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}
