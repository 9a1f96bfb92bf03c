package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"couplesync/internal/common"
	"couplesync/internal/models"
	"couplesync/internal/server/repository"
	"couplesync/internal/server/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// DocumentHandler handles document CRUD requests
type DocumentHandler struct {
	docService *services.DocumentService
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(docService *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		docService: docService,
	}
}

// CreateDocument handles POST /api/v1/collections/{collection}/documents
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	doc, err := h.docService.Create(r.Context(), collection, fields)
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Msg("Failed to create document")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, doc)
}

// GetDocument handles GET /api/v1/collections/{collection}/documents/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	doc, err := h.docService.Get(r.Context(), collection, id)
	if err != nil {
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, doc)
}

// UpdateDocument handles PATCH /api/v1/collections/{collection}/documents/{id}.
// The If-Match header carries the version precondition.
func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	expectedVersion, err := strconv.ParseInt(r.Header.Get("If-Match"), 10, 64)
	if err != nil {
		respondError(w, "If-Match header with the expected version is required", http.StatusBadRequest)
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	doc, err := h.docService.Update(r.Context(), collection, id, expectedVersion, patch)
	if err != nil {
		log.Warn().Err(err).Str("collection", collection).Str("document_id", id).Msg("Failed to update document")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/v1/collections/{collection}/documents/{id}
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	if err := h.docService.Delete(r.Context(), collection, id); err != nil {
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListResponse wraps a document listing
type ListResponse struct {
	Documents []*models.Document `json:"documents"`
}

// ListDocuments handles GET /api/v1/collections/{collection}/documents
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	filters, err := parseFilters(r.URL.Query()["filter"])
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	order := parseOrder(r.URL.Query().Get("order"))

	docs, err := h.docService.List(r.Context(), collection, filters, order)
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Msg("Failed to list documents")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, ListResponse{Documents: docs})
}

// parseFilters parses "field:op:value" query parameters
func parseFilters(raw []string) ([]repository.Filter, error) {
	filters := make([]repository.Filter, 0, len(raw))
	for _, item := range raw {
		parts := strings.SplitN(item, ":", 3)
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("malformed filter %q: %w", item, common.ErrValidation)
		}
		filters = append(filters, repository.Filter{
			Field: parts[0],
			Op:    parts[1],
			Value: parts[2],
		})
	}
	return filters, nil
}

// parseOrder parses an "order" query parameter, "-" prefix meaning descending
func parseOrder(raw string) *repository.Order {
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "-") {
		return &repository.Order{Field: strings.TrimPrefix(raw, "-"), Desc: true}
	}
	return &repository.Order{Field: raw}
}
