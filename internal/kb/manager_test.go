package kb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/chishiki/internal/kberrors"
	"github.com/hyperjump/chishiki/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManager_UploadValidation(t *testing.T) {
	m := newTestManager(t)
	tests := []struct {
		name     string
		filename string
		content  []byte
	}{
		{"empty filename", "", []byte("x")},
		{"unsupported type", "a.docx", []byte("x")},
		{"empty content", "a.txt", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.UploadDocument("alice", tt.filename, tt.content)
			if !errors.Is(err, kberrors.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestManager_UploadInvalidCharacter(t *testing.T) {
	m := newTestManager(t)
	_, err := m.UploadDocument("a/b", "a.txt", []byte("x"))
	if !errors.Is(err, kberrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestManager_UploadIngestRetrieve(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	doc, err := m.UploadDocument("alice", "facts.txt", []byte("Octopuses have three hearts and blue blood."))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != models.StatusUploaded {
		t.Errorf("status after upload: %q", doc.Status)
	}

	if _, err := m.IngestDocument(ctx, "alice", doc.FileID, false, 0, 0); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	results, err := m.Retrieve(ctx, "alice", "octopus hearts", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].OriginalFilename != "facts.txt" {
		t.Errorf("original filename not enriched: %+v", results[0])
	}
}

func TestManager_BackgroundIngest(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	doc, err := m.UploadDocument("alice", "bg.txt", []byte("Lighthouses guide ships at night."))
	if err != nil {
		t.Fatal(err)
	}
	info, err := m.IngestDocument(ctx, "alice", doc.FileID, true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if info == nil || info.TaskID == "" {
		t.Fatalf("expected task info, got %+v", info)
	}
	m.WaitForIngestion("alice", doc.FileID)

	results, err := m.Retrieve(ctx, "alice", "lighthouse ships", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Error("expected results after background ingestion")
	}
}

func TestManager_RetrieveUnknownCharacterDirIsEmpty(t *testing.T) {
	m := newTestManager(t)
	results, err := m.Retrieve(context.Background(), "nobody", "anything", 0, 0)
	if err != nil {
		t.Fatalf("querying a fresh character must not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results", len(results))
	}
}

func TestManager_DeleteDocument(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	doc, _ := m.UploadDocument("alice", "del.txt", []byte("Ephemeral content about comets."))
	if _, err := m.IngestDocument(ctx, "alice", doc.FileID, false, 0, 0); err != nil {
		t.Fatal(err)
	}

	deleted, err := m.DeleteDocument(ctx, "alice", doc.FileID)
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Fatal("expected deletion")
	}
	results, _ := m.Retrieve(ctx, "alice", "comets", 0, 0)
	if len(results) != 0 {
		t.Errorf("deleted document still retrievable: %+v", results)
	}
	docs, _ := m.ListDocuments("alice")
	if len(docs) != 0 {
		t.Errorf("ledger should be empty, got %d", len(docs))
	}

	deleted, err = m.DeleteDocument(ctx, "alice", doc.FileID)
	if err != nil || deleted {
		t.Errorf("second delete: deleted=%v err=%v", deleted, err)
	}
}

func TestManager_GetStats(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	doc1, _ := m.UploadDocument("alice", "a.txt", []byte("Indexed content."))
	_, _ = m.UploadDocument("alice", "b.txt", []byte("Never ingested."))
	if _, err := m.IngestDocument(ctx, "alice", doc1.FileID, false, 0, 0); err != nil {
		t.Fatal(err)
	}

	stats, err := m.GetStats(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocuments != 2 {
		t.Errorf("documents: got %d, want 2", stats.TotalDocuments)
	}
	if stats.ByStatus[models.StatusIndexed] != 1 || stats.ByStatus[models.StatusUploaded] != 1 {
		t.Errorf("by_status: %v", stats.ByStatus)
	}
	if stats.TotalChunks < 1 {
		t.Errorf("chunks: got %d", stats.TotalChunks)
	}
	if stats.DiskUsageBytes < 1 {
		t.Errorf("disk usage: got %d", stats.DiskUsageBytes)
	}
}

func TestManager_RebuildIndex(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	doc, _ := m.UploadDocument("alice", "r.txt", []byte("Rebuild survives a wiped index."))
	if _, err := m.IngestDocument(ctx, "alice", doc.FileID, false, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := m.RebuildIndex(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	results, err := m.Retrieve(ctx, "alice", "rebuild wiped", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Error("expected results after rebuild")
	}
}

func TestManager_ImportFile(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "dropped.txt")
	if err := os.WriteFile(path, []byte("Dropped files are ingested automatically."), 0644); err != nil {
		t.Fatal(err)
	}
	doc, info, err := m.ImportFile("alice", path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.OriginalFilename != "dropped.txt" {
		t.Errorf("filename: %q", doc.OriginalFilename)
	}
	if info == nil {
		t.Fatal("expected background task info")
	}
	m.WaitForIngestion("alice", doc.FileID)

	results, err := m.Retrieve(ctx, "alice", "dropped automatically", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Error("expected imported file to be retrievable")
	}
}

func TestManager_FormatContext(t *testing.T) {
	m := newTestManager(t)

	if got := m.FormatContext(nil, true); got != "" {
		t.Errorf("empty results: got %q", got)
	}

	results := []*models.SearchResult{
		{Text: "First fact.", OriginalFilename: "a.txt"},
		{Text: "Second fact.", Filename: "b.txt"},
	}
	out := m.FormatContext(results, true)
	if !strings.HasPrefix(out, "[Retrieved Knowledge Base Context]") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.HasSuffix(out, "[End of Retrieved Context]") {
		t.Errorf("missing footer: %q", out)
	}
	if !strings.Contains(out, "1. First fact. (Source: a.txt)") {
		t.Errorf("missing numbered entry: %q", out)
	}
	if !strings.Contains(out, "2. Second fact. (Source: b.txt)") {
		t.Errorf("source fallback to stored filename failed: %q", out)
	}

	plain := m.FormatContext(results, false)
	if strings.Contains(plain, "Source:") {
		t.Errorf("sources should be omitted: %q", plain)
	}
}

func TestManager_WithDefaults(t *testing.T) {
	m, err := NewManager(t.TempDir(), WithDefaults(100, 10, 5, 300))
	if err != nil {
		t.Fatal(err)
	}
	if m.defChunkSize != 100 || m.defChunkOverlap != 10 || m.defTopK != 5 || m.defMaxChars != 300 {
		t.Errorf("defaults not applied: %+v", m)
	}

	// Non-positive values keep the built-ins.
	m2, _ := NewManager(t.TempDir(), WithDefaults(0, 0, 0, 0))
	if m2.defTopK != DefaultTopK || m2.defMaxChars != DefaultMaxChars {
		t.Errorf("built-ins not kept: topK=%d maxChars=%d", m2.defTopK, m2.defMaxChars)
	}
}
