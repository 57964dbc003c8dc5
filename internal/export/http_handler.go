package export

import (
	"fmt"
	"net/http"
	"time"
)

// Handler serves the LEX-shaped export download.
type Handler struct {
	service *Service
}

// NewHandler wires the export endpoint.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register attaches the export route to a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/export", h.handleExport)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	stamp := time.Now().Format("2006-01-02")

	switch r.URL.Query().Get("format") {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=lex-export-%s.csv", stamp))
		if err := h.service.WriteCSV(r.Context(), w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=lex-export-%s.xlsx", stamp))
		if err := h.service.WriteXLSX(r.Context(), w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
	}
}
