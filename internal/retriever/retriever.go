package retriever

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/hyperjump/chishiki/internal/kberrors"
	"github.com/hyperjump/chishiki/internal/models"
)

const (
	ftsTableV2     = "kb_chunks_v2"
	ftsTableLegacy = "kb_chunks"
	docsTable      = "kb_documents"

	// truncationMarker is appended to a result cut down to the character budget.
	truncationMarker = "..."
)

// Retriever is a per-character FTS5 index at a single database file.
// Connections are opened per operation; SQLite's own locking keeps interleaved
// reads and writes consistent.
type Retriever struct {
	dbPath string
	logger *zap.Logger

	initMu      sync.Mutex
	initialized bool
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a logger for operational events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// NewRetriever creates a retriever for the index database at dbPath.
// The schema is created lazily on first use.
func NewRetriever(dbPath string, opts ...Option) *Retriever {
	r := &Retriever{dbPath: dbPath}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retriever) open() (*sql.DB, error) {
	if dir := filepath.Dir(r.dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, kberrors.Storage("create index directory", err)
		}
	}
	db, err := sql.Open("sqlite", r.dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, kberrors.Index("open index database", err)
	}
	return db, nil
}

// initialize creates the current schema if absent and migrates rows from the
// legacy schema exactly once. Idempotent: re-running on an already-migrated
// index is a no-op.
func (r *Retriever) initialize(ctx context.Context, db *sql.DB) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.initialized {
		return nil
	}

	// V2 schema: adds the text_ngrams column for CJK substring matching.
	if _, err := db.ExecContext(ctx, `
		CREATE VIRTUAL TABLE IF NOT EXISTS kb_chunks_v2 USING fts5(
			chunk_id UNINDEXED,
			file_id UNINDEXED,
			chunk_index UNINDEXED,
			text,
			text_ngrams,
			tokenize = 'unicode61'
		)`); err != nil {
		return kberrors.Index("create chunks table", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kb_documents (
			file_id TEXT PRIMARY KEY,
			filename TEXT,
			added_at TEXT,
			chunk_count INTEGER
		)`); err != nil {
		return kberrors.Index("create documents table", err)
	}

	if err := r.migrateLegacy(ctx, db); err != nil {
		return err
	}

	r.initialized = true
	if r.logger != nil {
		r.logger.Debug("index initialized", zap.String("db", r.dbPath))
	}
	return nil
}

// migrateLegacy copies rows from the pre-bigram kb_chunks table into the v2
// table, recomputing the ngram stream. Runs only when the v2 table is empty so
// an interrupted migration can be retried without duplicate inserts.
func (r *Retriever) migrateLegacy(ctx context.Context, db *sql.DB) error {
	var exists int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type='table' AND name=?`, ftsTableLegacy,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return kberrors.Index("check legacy table", err)
	}

	var v2Count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kb_chunks_v2`).Scan(&v2Count); err != nil {
		return kberrors.Index("count current rows", err)
	}
	if v2Count > 0 {
		return nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT chunk_id, file_id, chunk_index, text FROM kb_chunks`)
	if err != nil {
		return kberrors.Index("read legacy rows", err)
	}
	type legacyRow struct {
		chunkID    string
		fileID     string
		chunkIndex int
		text       string
	}
	var legacy []legacyRow
	for rows.Next() {
		var lr legacyRow
		if err := rows.Scan(&lr.chunkID, &lr.fileID, &lr.chunkIndex, &lr.text); err != nil {
			rows.Close()
			return kberrors.Index("scan legacy row", err)
		}
		legacy = append(legacy, lr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return kberrors.Index("read legacy rows", err)
	}
	if len(legacy) == 0 {
		return nil
	}

	if r.logger != nil {
		r.logger.Info("migrating legacy index rows", zap.String("db", r.dbPath), zap.Int("rows", len(legacy)))
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return kberrors.Index("begin migration", err)
	}
	defer tx.Rollback()
	for _, lr := range legacy {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kb_chunks_v2 (chunk_id, file_id, chunk_index, text, text_ngrams)
			 VALUES (?, ?, ?, ?, ?)`,
			lr.chunkID, lr.fileID, lr.chunkIndex, lr.text, buildNgramText(lr.text),
		); err != nil {
			return kberrors.Index("migrate legacy row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return kberrors.Index("commit migration", err)
	}
	if r.logger != nil {
		r.logger.Info("legacy index migration completed", zap.String("db", r.dbPath))
	}
	return nil
}

// AddChunks indexes the chunks of a document, replacing any prior rows for the
// same file ID so re-ingestion is idempotent. One metadata row per document
// records the filename and chunk count for query-time joins.
func (r *Retriever) AddChunks(ctx context.Context, fileID, filename string, chunks []*models.Chunk) error {
	db, err := r.open()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := r.initialize(ctx, db); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return kberrors.Index("begin add chunks", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_chunks_v2 WHERE file_id = ?`, fileID); err != nil {
		return kberrors.Index("delete prior chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_documents WHERE file_id = ?`, fileID); err != nil {
		return kberrors.Index("delete prior document row", err)
	}

	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kb_chunks_v2 (chunk_id, file_id, chunk_index, text, text_ngrams)
			 VALUES (?, ?, ?, ?, ?)`,
			models.ChunkID(fileID, chunk.ChunkIndex), fileID, chunk.ChunkIndex,
			chunk.Text, buildNgramText(chunk.Text),
		); err != nil {
			return kberrors.Index("insert chunk", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kb_documents (file_id, filename, added_at, chunk_count)
		 VALUES (?, ?, datetime('now'), ?)`,
		fileID, filename, len(chunks),
	); err != nil {
		return kberrors.Index("insert document row", err)
	}

	if err := tx.Commit(); err != nil {
		return kberrors.Index("commit add chunks", err)
	}
	if r.logger != nil {
		r.logger.Info("indexed chunks",
			zap.String("file_id", fileID),
			zap.String("filename", filename),
			zap.Int("chunks", len(chunks)),
		)
	}
	return nil
}

// Search runs the combined token and bigram-phrase expression, ordered by bm25
// relevance. Results are over-fetched at twice topK, then walked in rank order
// under the character budget: the first result is always included, truncated if
// it alone exceeds maxChars, so any match yields at least one result.
// maxChars <= 0 disables the budget.
func (r *Retriever) Search(ctx context.Context, query string, topK, maxChars int) ([]*models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	db, err := r.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := r.initialize(ctx, db); err != nil {
		return nil, err
	}

	textQuery := buildMatchQuery(query)
	ngramQuery := buildBigramPhraseQuery(query)
	matchExpr := textQuery
	if ngramQuery != "" {
		matchExpr = "(" + textQuery + ") OR (" + ngramQuery + ")"
	}

	rows, err := db.QueryContext(ctx, `
		SELECT
			c.chunk_id,
			c.file_id,
			c.chunk_index,
			c.text,
			d.filename,
			bm25(kb_chunks_v2) AS rank
		FROM kb_chunks_v2 c
		JOIN kb_documents d ON c.file_id = d.file_id
		WHERE kb_chunks_v2 MATCH ?
		ORDER BY rank
		LIMIT ?`,
		matchExpr, topK*2,
	)
	if err != nil {
		return nil, kberrors.Index("search", err)
	}
	defer rows.Close()

	var results []*models.SearchResult
	totalChars := 0

	for rows.Next() {
		var res models.SearchResult
		if err := rows.Scan(&res.ChunkID, &res.FileID, &res.ChunkIndex, &res.Text, &res.Filename, &res.Rank); err != nil {
			return nil, kberrors.Index("scan result", err)
		}

		textLen := utf8.RuneCountInString(res.Text)
		if maxChars > 0 && totalChars+textLen > maxChars {
			if len(results) == 0 {
				remaining := maxChars - totalChars
				res.Text = string([]rune(res.Text)[:remaining]) + truncationMarker
				res.Truncated = true
				results = append(results, &res)
			}
			break
		}

		results = append(results, &res)
		totalChars += textLen
		if len(results) >= topK {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.Index("read results", err)
	}

	if r.logger != nil {
		r.logger.Debug("search completed",
			zap.Int("results", len(results)),
			zap.Int("total_chars", totalChars),
		)
	}
	return results, nil
}

// DeleteDocument removes all index rows and the metadata row for a document,
// returning the number of chunk rows removed.
func (r *Retriever) DeleteDocument(ctx context.Context, fileID string) (int, error) {
	db, err := r.open()
	if err != nil {
		return 0, err
	}
	defer db.Close()
	if err := r.initialize(ctx, db); err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM kb_chunks_v2 WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, kberrors.Index("delete chunks", err)
	}
	deleted, _ := res.RowsAffected()
	if _, err := db.ExecContext(ctx, `DELETE FROM kb_documents WHERE file_id = ?`, fileID); err != nil {
		return 0, kberrors.Index("delete document row", err)
	}
	if r.logger != nil {
		r.logger.Info("deleted indexed document", zap.String("file_id", fileID), zap.Int64("chunks", deleted))
	}
	return int(deleted), nil
}

// Stats reports document count, chunk count, and on-disk index size. It never
// fails on an empty or uninitialized index: counts fall back through schema
// generations and default to zero.
func (r *Retriever) Stats(ctx context.Context) (*models.IndexStats, error) {
	db, err := r.open()
	if err != nil {
		return &models.IndexStats{}, nil
	}
	defer db.Close()
	if err := r.initialize(ctx, db); err != nil {
		return &models.IndexStats{}, nil
	}

	stats := &models.IndexStats{}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kb_documents`).Scan(&stats.TotalDocuments); err != nil {
		stats.TotalDocuments = 0
	}
	for _, table := range []string{ftsTableV2, ftsTableLegacy} {
		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err == nil {
			stats.TotalChunks = count
			break
		}
	}
	if info, err := os.Stat(r.dbPath); err == nil {
		stats.DBSizeBytes = info.Size()
	}
	return stats, nil
}

// ClearAll empties both the chunk and document tables.
func (r *Retriever) ClearAll(ctx context.Context) error {
	db, err := r.open()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := r.initialize(ctx, db); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM kb_chunks_v2`); err != nil {
		return kberrors.Index("clear chunks", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM kb_documents`); err != nil {
		return kberrors.Index("clear documents", err)
	}
	if r.logger != nil {
		r.logger.Warn("cleared all indexed documents", zap.String("db", r.dbPath))
	}
	return nil
}
