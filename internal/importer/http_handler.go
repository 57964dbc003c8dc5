package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/caseworks/leximport/internal/auth"
	"github.com/caseworks/leximport/internal/domain"
	"github.com/caseworks/leximport/internal/progress"
	"github.com/caseworks/leximport/internal/repository"
)

// Handler exposes the import pipeline over HTTP.
type Handler struct {
	service *Service
	tracker *progress.Tracker
	jobs    repository.ImportJobRepository
}

// NewHandler wires the import endpoints.
func NewHandler(service *Service, tracker *progress.Tracker, jobs repository.ImportJobRepository) *Handler {
	return &Handler{service: service, tracker: tracker, jobs: jobs}
}

// Register attaches the import routes to a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/imports", h.handleImport)
	mux.HandleFunc("POST /api/imports/preview", h.handlePreview)
	mux.HandleFunc("GET /api/imports", h.handleList)
	mux.HandleFunc("GET /api/imports/{id}/progress", h.handleProgress)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	req, err := h.parseUpload(r, identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer closeUpload(req)

	result, err := h.service.Import(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnsafeFilename) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"jobId":   result.Job.ID,
		"status":  result.Job.Status,
		"summary": result.Summary,
		"report":  result.Report,
	})
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	req, err := h.parseUpload(r, identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer closeUpload(req)

	preview, err := h.service.Preview(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	snapshot, err := h.tracker.Snapshot(r.Context(), jobID, identity)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrForbidden):
			http.Error(w, "forbidden", http.StatusForbidden)
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	jobs, err := h.jobs.ListByOwner(r.Context(), identity.UserID, 50, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handler) parseUpload(r *http.Request, identity auth.Identity) (Request, error) {
	if err := r.ParseMultipartForm(MaxFileSize); err != nil {
		return Request{}, fmt.Errorf("invalid form data: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return Request{}, fmt.Errorf("file required: %w", err)
	}

	importType, err := domain.ParseImportType(r.FormValue("type"))
	if err != nil {
		file.Close()
		return Request{}, err
	}

	return Request{
		FileName: header.Filename,
		Type:     importType,
		Owner:    identity,
		Data:     file,
	}, nil
}

func closeUpload(req Request) {
	if closer, ok := req.Data.(io.Closer); ok {
		closer.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
