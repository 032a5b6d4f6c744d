package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/recalld/recalld/pkg/api/middleware"
	"github.com/recalld/recalld/pkg/api/response"
	"github.com/recalld/recalld/pkg/engine"
	"github.com/recalld/recalld/pkg/logger"
)

// AdminHandler serves operational endpoints.
type AdminHandler struct {
	engine *engine.Engine
	logger logger.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(e *engine.Engine, log logger.Logger) *AdminHandler {
	return &AdminHandler{engine: e, logger: log}
}

// InvalidateAll drops every cached response for every user.
func (h *AdminHandler) InvalidateAll(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	n, err := h.engine.InvalidateAll(r.Context())
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	h.logger.Info("response cache flushed", "invalidated", n, "request_id", requestID)
	response.JSON(w, http.StatusOK, map[string]any{"invalidated": n})
}

// promptRequest is the request body for SetSystemPrompt.
type promptRequest struct {
	Prompt string `json:"prompt"`
}

// SetSystemPrompt announces a new system prompt. The cache is invalidated
// only when the prompt actually changed.
func (h *AdminHandler) SetSystemPrompt(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"invalid request body", requestID)
		return
	}
	if req.Prompt == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"prompt is required", requestID)
		return
	}

	changed := h.engine.OnSystemPromptChanged(req.Prompt)
	response.JSON(w, http.StatusOK, map[string]any{"changed": changed})
}
