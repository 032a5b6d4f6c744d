package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/recalld/recalld/pkg/api/middleware"
	"github.com/recalld/recalld/pkg/api/response"
	"github.com/recalld/recalld/pkg/cache"
	"github.com/recalld/recalld/pkg/engine"
	"github.com/recalld/recalld/pkg/logger"
)

// CacheHandler serves response cache endpoints.
type CacheHandler struct {
	engine *engine.Engine
	logger logger.Logger
}

// NewCacheHandler creates a CacheHandler.
func NewCacheHandler(e *engine.Engine, log logger.Logger) *CacheHandler {
	return &CacheHandler{engine: e, logger: log}
}

// Lookup checks the cache for a response to the given query.
func (h *CacheHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userID")

	query := r.URL.Query().Get("query")
	if query == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"query parameter is required", requestID)
		return
	}

	value, found := h.engine.GetCachedResponse(r.Context(), userID, query)
	if !found {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound,
			"no cached response", requestID)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"response": value,
	})
}

// storeRequest is the request body for Store.
type storeRequest struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

// Store caches a generated response for a query.
func (h *CacheHandler) Store(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userID")

	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"invalid request body", requestID)
		return
	}
	if req.Query == "" || req.Response == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"query and response are required", requestID)
		return
	}

	if err := h.engine.StoreResponse(r.Context(), userID, req.Query, req.Response); err != nil {
		if errors.Is(err, cache.ErrRejectedPayload) {
			response.Error(w, http.StatusUnprocessableEntity, response.ErrCodeBadRequest,
				"structured payloads are not cacheable", requestID)
			return
		}
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusCreated, map[string]any{"status": "cached"})
}

// Invalidate drops all of one user's cached responses.
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userID")

	n, err := h.engine.InvalidateUser(r.Context(), userID)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"invalidated": n,
	})
}
