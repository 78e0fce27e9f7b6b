// Package kb is the façade over storage, ingestion, and retrieval for
// per-character knowledge bases.
package kb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/extract"
	"github.com/hyperjump/chishiki/internal/ingest"
	"github.com/hyperjump/chishiki/internal/kberrors"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/retriever"
	"github.com/hyperjump/chishiki/internal/storage"
)

// Retrieval defaults applied when a caller leaves the parameters unset.
const (
	DefaultTopK     = 3
	DefaultMaxChars = 2000
)

// Manager exposes upload, ingestion, retrieval, and maintenance for character
// knowledge bases. It owns the only registry mapping characters to retriever
// instances: one per character, created lazily, cached for the process
// lifetime.
type Manager struct {
	storage  *storage.Manager
	pipeline *ingest.Pipeline
	logger   *zap.Logger

	defChunkSize    int
	defChunkOverlap int
	defTopK         int
	defMaxChars     int

	mu         sync.Mutex
	retrievers map[string]*retriever.Retriever
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger shared with the pipeline and retrievers.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDefaults overrides the fallback chunking and retrieval parameters used
// when a caller leaves them unset. Non-positive values keep the built-ins.
func WithDefaults(chunkSize, chunkOverlap, topK, maxChars int) Option {
	return func(m *Manager) {
		if chunkSize > 0 {
			m.defChunkSize = chunkSize
		}
		if chunkOverlap > 0 {
			m.defChunkOverlap = chunkOverlap
		}
		if topK > 0 {
			m.defTopK = topK
		}
		if maxChars > 0 {
			m.defMaxChars = maxChars
		}
	}
}

// NewManager creates a knowledge base manager rooted at baseDir.
func NewManager(baseDir string, opts ...Option) (*Manager, error) {
	m := &Manager{
		retrievers:      make(map[string]*retriever.Retriever),
		defChunkSize:    ingest.DefaultChunkSize,
		defChunkOverlap: ingest.DefaultChunkOverlap,
		defTopK:         DefaultTopK,
		defMaxChars:     DefaultMaxChars,
	}
	for _, opt := range opts {
		opt(m)
	}

	var storageOpts []storage.ManagerOption
	if m.logger != nil {
		storageOpts = append(storageOpts, storage.WithLogger(m.logger))
	}
	store, err := storage.NewManager(baseDir, storageOpts...)
	if err != nil {
		return nil, err
	}
	m.storage = store

	var pipelineOpts []ingest.PipelineOption
	if m.logger != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithLogger(m.logger))
	}
	m.pipeline = ingest.NewPipeline(store, m.retrieverFor, pipelineOpts...)

	if m.logger != nil {
		m.logger.Info("knowledge base manager initialized", zap.String("base_dir", store.BaseDir()))
	}
	return m, nil
}

// Storage exposes the layout manager, used by the HTTP layer for stats.
func (m *Manager) Storage() *storage.Manager {
	return m.storage
}

// retrieverFor returns the cached retriever for a character, creating it on
// first use. The registry is only mutated here.
func (m *Manager) retrieverFor(character string) (*retriever.Retriever, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.retrievers[character]; ok {
		return r, nil
	}
	dbPath, err := m.storage.DBPath(character)
	if err != nil {
		return nil, err
	}
	var opts []retriever.Option
	if m.logger != nil {
		opts = append(opts, retriever.WithLogger(m.logger))
	}
	r := retriever.NewRetriever(dbPath, opts...)
	m.retrievers[character] = r
	return r, nil
}

// UploadDocument validates and stores a document, appending it to the ledger
// with status uploaded. The content is not indexed until ingestion runs.
func (m *Manager) UploadDocument(character, filename string, content []byte) (*models.DocumentRecord, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, kberrors.Validation("filename is required")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !extract.IsSupported(ext) {
		return nil, kberrors.Validation("unsupported file type %q, supported: %s",
			ext, strings.Join(extract.SupportedExtensions(), " "))
	}
	if len(content) == 0 {
		return nil, kberrors.Validation("file content is empty")
	}

	doc, err := m.storage.SaveUploadedFile(character, filename, content)
	if err != nil {
		return nil, err
	}
	if err := m.storage.AppendDocument(character, doc); err != nil {
		return nil, err
	}
	if m.logger != nil {
		m.logger.Info("uploaded document",
			zap.String("character", character),
			zap.String("filename", filename),
			zap.String("file_id", doc.FileID),
		)
	}
	return doc, nil
}

// IngestDocument runs ingestion for an uploaded document. In background mode
// it returns a task handle immediately; in foreground mode it blocks until
// ingestion finishes and returns nil task info. Zero chunk parameters take the
// defaults.
func (m *Manager) IngestDocument(ctx context.Context, character, fileID string, background bool, chunkSize, chunkOverlap int) (*models.TaskInfo, error) {
	if _, err := storage.SanitizeCharacterID(character); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = m.defChunkSize
	}
	if chunkOverlap <= 0 {
		chunkOverlap = m.defChunkOverlap
	}
	if background {
		return m.pipeline.IngestBackground(character, fileID, chunkSize, chunkOverlap), nil
	}
	return nil, m.pipeline.Ingest(ctx, character, fileID, chunkSize, chunkOverlap)
}

// WaitForIngestion blocks until the background ingestion of a document
// settles. Used by callers that need a consistent index, such as tests and
// the rebuild path.
func (m *Manager) WaitForIngestion(character, fileID string) {
	m.pipeline.Wait(character, fileID)
}

// Retrieve searches a character's index and enriches each result with the
// document's original filename from the ledger, falling back to the stored
// filename when the ledger lookup misses.
func (m *Manager) Retrieve(ctx context.Context, character, query string, topK, maxChars int) ([]*models.SearchResult, error) {
	if topK <= 0 {
		topK = m.defTopK
	}
	if maxChars == 0 {
		maxChars = m.defMaxChars
	}

	ret, err := m.retrieverFor(character)
	if err != nil {
		return nil, err
	}
	results, err := ret.Search(ctx, query, topK, maxChars)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return results, nil
	}

	ledger, err := m.storage.LoadLedger(character)
	if err != nil {
		return results, nil
	}
	originals := make(map[string]string, len(ledger.Documents))
	for _, doc := range ledger.Documents {
		name := doc.OriginalFilename
		if name == "" {
			name = doc.StoredFilename
		}
		originals[doc.FileID] = name
	}
	for _, res := range results {
		if name, ok := originals[res.FileID]; ok && name != "" {
			res.OriginalFilename = name
		} else {
			res.OriginalFilename = res.Filename
		}
	}
	if m.logger != nil {
		m.logger.Info("retrieved results",
			zap.String("character", character),
			zap.Int("results", len(results)),
		)
	}
	return results, nil
}

// ListDocuments returns the character's ledger records.
func (m *Manager) ListDocuments(character string) ([]*models.DocumentRecord, error) {
	return m.storage.ListDocuments(character)
}

// DeleteDocument removes a document from the index first, then from storage,
// so a partial failure cannot leave dangling index rows. Returns false when
// the ledger has no such document.
func (m *Manager) DeleteDocument(ctx context.Context, character, fileID string) (bool, error) {
	ret, err := m.retrieverFor(character)
	if err != nil {
		return false, err
	}
	if _, err := ret.DeleteDocument(ctx, fileID); err != nil {
		return false, err
	}
	return m.storage.DeleteDocument(character, fileID)
}

// RebuildIndex clears and re-ingests the character's whole knowledge base.
func (m *Manager) RebuildIndex(ctx context.Context, character string) error {
	return m.pipeline.RebuildIndex(ctx, character)
}

// GetStats combines index statistics with ledger status counts. Read failures
// degrade to zero values rather than erroring.
func (m *Manager) GetStats(ctx context.Context, character string) (*models.Stats, error) {
	if _, err := storage.SanitizeCharacterID(character); err != nil {
		return nil, err
	}
	ret, err := m.retrieverFor(character)
	if err != nil {
		return nil, err
	}
	indexStats, err := ret.Stats(ctx)
	if err != nil {
		indexStats = &models.IndexStats{}
	}

	docs, err := m.storage.ListDocuments(character)
	if err != nil {
		docs = nil
	}
	byStatus := make(map[string]int)
	for _, doc := range docs {
		status := doc.Status
		if status == "" {
			status = "unknown"
		}
		byStatus[status]++
	}

	var diskUsage int64
	if dir, err := m.storage.CharacterDir(character); err == nil {
		if n, err := storage.DiskUsageBytes(dir); err == nil {
			diskUsage = n
		}
	}

	return &models.Stats{
		TotalDocuments: len(docs),
		TotalChunks:    indexStats.TotalChunks,
		DBSizeBytes:    indexStats.DBSizeBytes,
		DiskUsageBytes: diskUsage,
		ByStatus:       byStatus,
	}, nil
}

// ImportFile uploads a file from disk and starts background ingestion. This is
// the entry point for the drop-directory watcher.
func (m *Manager) ImportFile(character, path string) (*models.DocumentRecord, *models.TaskInfo, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, kberrors.Storage("read import file", err)
	}
	doc, err := m.UploadDocument(character, filepath.Base(path), content)
	if err != nil {
		return nil, nil, err
	}
	info, err := m.IngestDocument(context.Background(), character, doc.FileID, true, 0, 0)
	if err != nil {
		return doc, nil, err
	}
	return doc, info, nil
}

// FormatContext renders results as a numbered, delimited block for prompt
// injection. Returns an empty string when there are no results.
func (m *Manager) FormatContext(results []*models.SearchResult, includeSources bool) string {
	if len(results) == 0 {
		return ""
	}
	lines := []string{"[Retrieved Knowledge Base Context]"}
	for i, res := range results {
		if includeSources {
			source := res.OriginalFilename
			if source == "" {
				source = res.Filename
			}
			lines = append(lines, fmt.Sprintf("%d. %s (Source: %s)", i+1, res.Text, source))
		} else {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, res.Text))
		}
	}
	lines = append(lines, "[End of Retrieved Context]")
	return strings.Join(lines, "\n")
}
