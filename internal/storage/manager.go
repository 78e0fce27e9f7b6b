// Package storage manages the on-disk layout of per-character knowledge bases.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/kberrors"
	"github.com/hyperjump/chishiki/internal/models"
)

// Layout per character, rooted at the base directory:
//
//	<base>/<character>/
//	    raw/          original uploaded files
//	    chunks/       chunk files produced by ingestion
//	    index/kb.db   embedded full-text index
//	    metadata.json document ledger
const (
	rawDirName    = "raw"
	chunksDirName = "chunks"
	indexDirName  = "index"
	ledgerName    = "metadata.json"
	dbName        = "kb.db"
)

var unsafeChars = regexp.MustCompile(`[<>:"|?*\\/]`)
var unsafeFilenameChars = regexp.MustCompile(`[<>:"|?*\\/ ]`)

// Manager resolves and creates the directory layout for each character and owns
// the document ledger. Ledger writes for the same character are serialized
// through a per-character mutex; readers are not blocked.
type Manager struct {
	baseDir string
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a storage manager rooted at baseDir, creating it if needed.
func NewManager(baseDir string, opts ...ManagerOption) (*Manager, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, kberrors.Storage("create base directory", err)
	}
	m := &Manager{
		baseDir: abs,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// BaseDir returns the absolute base directory.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// SanitizeCharacterID validates a character identifier for filesystem use.
// The policy is reject, not normalize: an identifier whose cleaned form differs
// from the input is refused, since character IDs name configuration and must
// already be clean.
func SanitizeCharacterID(character string) (string, error) {
	if character == "" {
		return "", kberrors.Validation("character ID cannot be empty")
	}
	sanitized := unsafeChars.ReplaceAllString(character, "")
	sanitized = strings.Trim(sanitized, ". ")
	if sanitized == "" || sanitized != character {
		return "", kberrors.Validation("invalid character ID %q: must not contain path separators or special characters", character)
	}
	if strings.HasPrefix(sanitized, "..") {
		return "", kberrors.Validation("invalid character ID %q: cannot start with '..'", character)
	}
	return sanitized, nil
}

// SanitizeFilename reduces a user-supplied filename to a safe basename,
// preserving the extension. Unlike character IDs, filenames are normalized
// rather than rejected.
func SanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	sanitized := unsafeFilenameChars.ReplaceAllString(filename, "_")
	if sanitized == "" || sanitized == "." || sanitized == ".." {
		return "unnamed_file"
	}
	return sanitized
}

// CharacterDir returns the knowledge base directory for a character, creating it.
func (m *Manager) CharacterDir(character string) (string, error) {
	id, err := SanitizeCharacterID(character)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(m.baseDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", kberrors.Storage("create character directory", err)
	}
	return dir, nil
}

func (m *Manager) subdir(character, name string) (string, error) {
	base, err := m.CharacterDir(character)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", kberrors.Storage("create "+name+" directory", err)
	}
	return dir, nil
}

// RawDir returns the directory holding original uploaded files.
func (m *Manager) RawDir(character string) (string, error) {
	return m.subdir(character, rawDirName)
}

// ChunksDir returns the directory holding derived chunk files.
func (m *Manager) ChunksDir(character string) (string, error) {
	return m.subdir(character, chunksDirName)
}

// IndexDir returns the directory holding the full-text index.
func (m *Manager) IndexDir(character string) (string, error) {
	return m.subdir(character, indexDirName)
}

// LedgerPath returns the path of the character's metadata.json.
func (m *Manager) LedgerPath(character string) (string, error) {
	base, err := m.CharacterDir(character)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, ledgerName), nil
}

// DBPath returns the path of the character's embedded index database.
func (m *Manager) DBPath(character string) (string, error) {
	dir, err := m.IndexDir(character)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbName), nil
}

// ChunkFilePath returns the path of the chunk file for a document.
func (m *Manager) ChunkFilePath(character, fileID string) (string, error) {
	dir, err := m.ChunksDir(character)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileID+".json"), nil
}

// SaveUploadedFile writes raw bytes into the character's raw directory and
// returns the ledger record stub. The file ID is derived from the upload time
// and a content hash prefix, so identical content uploaded twice still yields
// distinct IDs.
func (m *Manager) SaveUploadedFile(character, filename string, content []byte) (*models.DocumentRecord, error) {
	sanitized := SanitizeFilename(filename)
	rawDir, err := m.RawDir(character)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])[:16]
	timestamp := time.Now().Format("20060102_150405")
	fileID := timestamp + "_" + hash

	ext := filepath.Ext(sanitized)
	storedFilename := fileID + ext
	path := filepath.Join(rawDir, storedFilename)

	if err := os.WriteFile(path, content, 0644); err != nil {
		return nil, kberrors.Storage("write uploaded file", err)
	}
	if m.logger != nil {
		m.logger.Debug("saved uploaded file",
			zap.String("character", character),
			zap.String("filename", filename),
			zap.String("stored", storedFilename),
		)
	}

	now := time.Now().Format(time.RFC3339)
	return &models.DocumentRecord{
		FileID:           fileID,
		OriginalFilename: filename,
		StoredFilename:   storedFilename,
		Path:             path,
		Size:             int64(len(content)),
		Hash:             hash,
		Timestamp:        timestamp,
		Status:           models.StatusUploaded,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// charLock returns the mutex that serializes ledger writes for a character.
func (m *Manager) charLock(character string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[character]
	if !ok {
		l = &sync.Mutex{}
		m.locks[character] = l
	}
	return l
}

// LoadLedger reads the character's ledger. A missing or unreadable ledger
// yields an empty ledger, never an error.
func (m *Manager) LoadLedger(character string) (*models.Ledger, error) {
	path, err := m.LedgerPath(character)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &models.Ledger{Documents: []*models.DocumentRecord{}}, nil
		}
		if m.logger != nil {
			m.logger.Error("failed to load ledger", zap.String("character", character), zap.Error(err))
		}
		return &models.Ledger{Documents: []*models.DocumentRecord{}}, nil
	}
	var ledger models.Ledger
	if err := json.Unmarshal(data, &ledger); err != nil {
		if m.logger != nil {
			m.logger.Error("failed to parse ledger", zap.String("character", character), zap.Error(err))
		}
		return &models.Ledger{Documents: []*models.DocumentRecord{}}, nil
	}
	if ledger.Documents == nil {
		ledger.Documents = []*models.DocumentRecord{}
	}
	return &ledger, nil
}

// SaveLedger writes the character's ledger as a whole, stamping last_updated.
func (m *Manager) SaveLedger(character string, ledger *models.Ledger) error {
	path, err := m.LedgerPath(character)
	if err != nil {
		return err
	}
	ledger.LastUpdated = time.Now().Format(time.RFC3339)
	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return kberrors.Storage("marshal ledger", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return kberrors.Storage("write ledger", err)
	}
	return nil
}

// AppendDocument adds a record to the character's ledger.
func (m *Manager) AppendDocument(character string, doc *models.DocumentRecord) error {
	lock := m.charLock(character)
	lock.Lock()
	defer lock.Unlock()

	ledger, err := m.LoadLedger(character)
	if err != nil {
		return err
	}
	ledger.Documents = append(ledger.Documents, doc)
	return m.SaveLedger(character, ledger)
}

// UpdateDocumentStatus sets the status (and optional error message) of a
// ledger entry. Unknown file IDs are ignored so a cancelled ingestion racing a
// deletion does not fail.
func (m *Manager) UpdateDocumentStatus(character, fileID, status, errMsg string) error {
	lock := m.charLock(character)
	lock.Lock()
	defer lock.Unlock()

	ledger, err := m.LoadLedger(character)
	if err != nil {
		return err
	}
	doc := ledger.Find(fileID)
	if doc == nil {
		return nil
	}
	doc.Status = status
	doc.Error = errMsg
	doc.UpdatedAt = time.Now().Format(time.RFC3339)
	return m.SaveLedger(character, ledger)
}

// ListDocuments returns all ledger records for a character.
func (m *Manager) ListDocuments(character string) ([]*models.DocumentRecord, error) {
	ledger, err := m.LoadLedger(character)
	if err != nil {
		return nil, err
	}
	return ledger.Documents, nil
}

// DeleteDocument removes a document's ledger entry, raw file, and chunk file.
// It does not touch the index; callers must remove index rows first so a
// partial failure here cannot leave a dangling index entry.
func (m *Manager) DeleteDocument(character, fileID string) (bool, error) {
	lock := m.charLock(character)
	lock.Lock()
	defer lock.Unlock()

	ledger, err := m.LoadLedger(character)
	if err != nil {
		return false, err
	}

	var removed *models.DocumentRecord
	for i, doc := range ledger.Documents {
		if doc.FileID == fileID {
			removed = doc
			ledger.Documents = append(ledger.Documents[:i], ledger.Documents[i+1:]...)
			break
		}
	}
	if removed == nil {
		return false, nil
	}

	if removed.StoredFilename != "" {
		rawDir, err := m.RawDir(character)
		if err != nil {
			return false, err
		}
		rawFile := filepath.Join(rawDir, removed.StoredFilename)
		if err := os.Remove(rawFile); err != nil && !os.IsNotExist(err) {
			return false, kberrors.Storage("delete raw file", err)
		}
	}

	chunkFile, err := m.ChunkFilePath(character, fileID)
	if err != nil {
		return false, err
	}
	if err := os.Remove(chunkFile); err != nil && !os.IsNotExist(err) {
		return false, kberrors.Storage("delete chunk file", err)
	}

	if err := m.SaveLedger(character, ledger); err != nil {
		return false, err
	}
	if m.logger != nil {
		m.logger.Info("deleted document", zap.String("character", character), zap.String("file_id", fileID))
	}
	return true, nil
}
