package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/kberrors"
)

// maxUploadBytes caps multipart uploads at 50 MB.
const maxUploadBytes = 50 << 20

type ingestRequest struct {
	FileID       string `json:"file_id"`
	Background   *bool  `json:"background,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
}

type retrieveRequest struct {
	Query          string `json:"query"`
	TopK           int    `json:"top_k,omitempty"`
	MaxChars       int    `json:"max_chars,omitempty"`
	IncludeContext bool   `json:"include_context,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	character := chi.URLParam(r, "character")
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	doc, err := s.manager.UploadDocument(character, header.Filename, content)
	if err != nil {
		s.respondKBError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	character := chi.URLParam(r, "character")
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileID == "" {
		s.respondError(w, http.StatusBadRequest, "file_id is required")
		return
	}
	background := true
	if req.Background != nil {
		background = *req.Background
	}

	info, err := s.manager.IngestDocument(r.Context(), character, req.FileID, background, req.ChunkSize, req.ChunkOverlap)
	if err != nil {
		s.respondKBError(w, err)
		return
	}
	if info == nil {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "indexed"})
		return
	}
	s.respondJSON(w, http.StatusAccepted, info)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	character := chi.URLParam(r, "character")
	docs, err := s.manager.ListDocuments(character)
	if err != nil {
		s.respondKBError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	character := chi.URLParam(r, "character")
	fileID := chi.URLParam(r, "fileID")
	deleted, err := s.manager.DeleteDocument(r.Context(), character, fileID)
	if err != nil {
		s.respondKBError(w, err)
		return
	}
	if !deleted {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	character := chi.URLParam(r, "character")
	s.logger.Info("rebuild request", zap.String("character", character))
	if err := s.manager.RebuildIndex(r.Context(), character); err != nil {
		s.respondKBError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	character := chi.URLParam(r, "character")
	stats, err := s.manager.GetStats(r.Context(), character)
	if err != nil {
		s.respondKBError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	character := chi.URLParam(r, "character")
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := s.manager.Retrieve(r.Context(), character, req.Query, req.TopK, req.MaxChars)
	if err != nil {
		s.respondKBError(w, err)
		return
	}
	resp := map[string]interface{}{"results": results}
	if req.IncludeContext {
		resp["context"] = s.manager.FormatContext(results, true)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondKBError maps the error taxonomy onto HTTP statuses: validation
// errors are the caller's fault, not-found is 404, everything else is 500.
func (s *Server) respondKBError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, kberrors.ErrValidation):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, kberrors.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
