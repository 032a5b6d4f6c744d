package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/recalld/recalld/pkg/api/middleware"
	"github.com/recalld/recalld/pkg/api/response"
	"github.com/recalld/recalld/pkg/engine"
	"github.com/recalld/recalld/pkg/logger"
	"github.com/recalld/recalld/pkg/semantic"
)

// MemoryHandler serves semantic memory endpoints.
type MemoryHandler struct {
	engine *engine.Engine
	logger logger.Logger
}

// NewMemoryHandler creates a MemoryHandler.
func NewMemoryHandler(e *engine.Engine, log logger.Logger) *MemoryHandler {
	return &MemoryHandler{engine: e, logger: log}
}

// queryRequest is the request body for Query.
type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Query returns the user's most relevant memory fragments.
func (h *MemoryHandler) Query(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userID")

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"invalid request body", requestID)
		return
	}
	if req.Query == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"query is required", requestID)
		return
	}

	results, err := h.engine.QueryMemory(r.Context(), userID, req.Query, req.TopK)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "memory query failed",
			"user_id", userID, "error", err)
		response.HandleError(w, err, requestID)
		return
	}
	if results == nil {
		results = []semantic.ScoredFragment{}
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"results": results,
		"count":   len(results),
	})
}

// ingestRequest is the request body for IngestDocument.
type ingestRequest struct {
	Text string `json:"text"`
}

// IngestDocument stores a document as memory fragments.
func (h *MemoryHandler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userID")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"invalid request body", requestID)
		return
	}
	if req.Text == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"text is required", requestID)
		return
	}

	n, err := h.engine.IngestDocument(r.Context(), userID, req.Text)
	if err != nil {
		if errors.Is(err, engine.ErrDegraded) {
			response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable,
				"semantic memory is temporarily unavailable", requestID)
			return
		}
		h.logger.ErrorContext(r.Context(), "document ingest failed",
			"user_id", userID, "stored", n, "error", err)
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusCreated, map[string]any{
		"user_id":   userID,
		"fragments": n,
	})
}
