package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/extract"
	"github.com/hyperjump/chishiki/internal/kberrors"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/retriever"
	"github.com/hyperjump/chishiki/internal/storage"
)

// Default chunk parameters, applied when a caller leaves them unset.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// RetrieverFactory returns the retriever for a character.
type RetrieverFactory func(character string) (*retriever.Retriever, error)

// Pipeline coordinates document ingestion: extract, chunk, persist, index.
// Each (character, file ID) pair has at most one in-flight background task;
// starting a new one cancels the previous and waits for it to settle, so the
// latest ingestion request wins.
type Pipeline struct {
	storage      *storage.Manager
	retrieverFor RetrieverFactory
	extractor    *extract.Extractor
	logger       *zap.Logger

	tasks *taskRegistry
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets a logger for ingestion events.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store *storage.Manager, retrieverFor RetrieverFactory, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		storage:      store,
		retrieverFor: retrieverFor,
		extractor:    extract.NewExtractor(),
		tasks:        newTaskRegistry(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes one document in the foreground: extract text, chunk it,
// persist the chunk file, and index the chunks. The ledger status moves to
// processing first and ends at indexed, or at error with the failure message;
// it is never left at processing.
func (p *Pipeline) Ingest(ctx context.Context, character, fileID string, chunkSize, chunkOverlap int) (err error) {
	if err := p.storage.UpdateDocumentStatus(character, fileID, models.StatusProcessing, ""); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if p.logger != nil {
				p.logger.Error("ingestion failed",
					zap.String("character", character),
					zap.String("file_id", fileID),
					zap.Error(err),
				)
			}
			// Status writes never leave a document stuck at processing,
			// including on cancellation.
			_ = p.storage.UpdateDocumentStatus(character, fileID, models.StatusError, err.Error())
		}
	}()

	ledger, err := p.storage.LoadLedger(character)
	if err != nil {
		return err
	}
	doc := ledger.Find(fileID)
	if doc == nil {
		return kberrors.NotFound("document %q not in ledger", fileID)
	}
	if _, statErr := os.Stat(doc.Path); statErr != nil {
		return kberrors.Storage("raw file not found: "+doc.Path, statErr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text, err := p.extractor.Extract(doc.Path)
	if err != nil {
		return err
	}
	if text == "" {
		return kberrors.Extraction("document contains no text content", nil)
	}

	chunks := NewChunker(chunkSize, chunkOverlap).Chunk(text)
	if p.logger != nil {
		p.logger.Info("processed document",
			zap.String("file_id", fileID),
			zap.String("filename", doc.OriginalFilename),
			zap.Int("text_len", len(text)),
			zap.Int("chunks", len(chunks)),
		)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := p.writeChunkFile(character, fileID, chunks); err != nil {
		return err
	}

	ret, err := p.retrieverFor(character)
	if err != nil {
		return err
	}
	if err := ret.AddChunks(ctx, fileID, doc.OriginalFilename, chunks); err != nil {
		return err
	}

	return p.storage.UpdateDocumentStatus(character, fileID, models.StatusIndexed, "")
}

// writeChunkFile persists the chunk list for inspection alongside the index.
func (p *Pipeline) writeChunkFile(character, fileID string, chunks []*models.Chunk) error {
	path, err := p.storage.ChunkFilePath(character, fileID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return kberrors.Storage("marshal chunks", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return kberrors.Storage("write chunk file", err)
	}
	return nil
}

// IngestBackground dispatches Ingest as a cancelable background task keyed by
// (character, file ID). An unfinished task for the same key is cancelled and
// awaited before the new one starts, so stale work cannot race the index.
func (p *Pipeline) IngestBackground(character, fileID string, chunkSize, chunkOverlap int) *models.TaskInfo {
	key := character + ":" + fileID
	info := p.tasks.start(key, func(ctx context.Context) {
		if err := p.Ingest(ctx, character, fileID, chunkSize, chunkOverlap); err != nil && p.logger != nil {
			p.logger.Error("background ingestion failed",
				zap.String("task", key),
				zap.Error(err),
			)
		}
	})
	if p.logger != nil {
		p.logger.Info("started background ingestion",
			zap.String("task", key),
			zap.String("task_id", info.TaskID),
		)
	}
	return info
}

// Wait blocks until the background task for the given character and file ID
// finishes. It returns immediately when none is in flight.
func (p *Pipeline) Wait(character, fileID string) {
	p.tasks.wait(character + ":" + fileID)
}

// RebuildIndex clears the character's index and re-ingests every ledger
// document in listing order. A single document's failure is logged and
// skipped; a partial rebuild is a valid outcome, observable per document in
// the ledger.
func (p *Pipeline) RebuildIndex(ctx context.Context, character string) error {
	if p.logger != nil {
		p.logger.Info("rebuilding index", zap.String("character", character))
	}
	docs, err := p.storage.ListDocuments(character)
	if err != nil {
		return err
	}
	ret, err := p.retrieverFor(character)
	if err != nil {
		return err
	}
	if err := ret.ClearAll(ctx); err != nil {
		return err
	}

	for _, doc := range docs {
		if err := p.Ingest(ctx, character, doc.FileID, DefaultChunkSize, DefaultChunkOverlap); err != nil {
			if p.logger != nil {
				p.logger.Error("failed to re-index document",
					zap.String("file_id", doc.FileID),
					zap.Error(err),
				)
			}
			continue
		}
	}
	if p.logger != nil {
		p.logger.Info("index rebuild complete", zap.String("character", character))
	}
	return nil
}

// TaskKey returns the background task key for a document, as reported in
// TaskInfo responses.
func TaskKey(character, fileID string) string {
	return fmt.Sprintf("%s:%s", character, fileID)
}
