// Package handlers implements the HTTP API handlers.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/recalld/recalld/pkg/api/middleware"
	"github.com/recalld/recalld/pkg/api/response"
	"github.com/recalld/recalld/pkg/engine"
	"github.com/recalld/recalld/pkg/history"
	"github.com/recalld/recalld/pkg/logger"
)

// ConversationHandler serves conversation turn and history endpoints.
type ConversationHandler struct {
	engine *engine.Engine
	logger logger.Logger
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(e *engine.Engine, log logger.Logger) *ConversationHandler {
	return &ConversationHandler{engine: e, logger: log}
}

// turnRequest is the request body for PostTurn.
type turnRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// turnResponse is the response body for PostTurn.
type turnResponse struct {
	Turn     history.Turn `json:"turn"`
	Learning any          `json:"learning,omitempty"`
}

// PostTurn records one conversation turn. User turns run through the
// learning pipeline; assistant turns land in history only.
func (h *ConversationHandler) PostTurn(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userID")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"invalid request body", requestID)
		return
	}
	if req.Content == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"content is required", requestID)
		return
	}

	switch history.Role(req.Role) {
	case history.RoleUser:
		outcome, err := h.engine.ProcessTurn(r.Context(), userID, req.Content)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "turn processing failed",
				"user_id", userID, "error", err)
			response.HandleError(w, err, requestID)
			return
		}
		turns, _ := h.engine.RecentHistory(r.Context(), userID, 1)
		resp := turnResponse{Learning: outcome}
		if len(turns) > 0 {
			resp.Turn = turns[0]
		}
		response.JSON(w, http.StatusCreated, resp)

	case history.RoleAssistant:
		turn, err := h.engine.AppendTurn(r.Context(), userID, history.RoleAssistant, req.Content)
		if err != nil {
			response.HandleError(w, err, requestID)
			return
		}
		response.JSON(w, http.StatusCreated, turnResponse{Turn: turn})

	default:
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"role must be user or assistant", requestID)
	}
}

// GetHistory returns the user's recent turns, newest first.
func (h *ConversationHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
				"limit must be a non-negative integer", requestID)
			return
		}
		limit = n
	}

	turns, err := h.engine.RecentHistory(r.Context(), userID, limit)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}
	if turns == nil {
		turns = []history.Turn{}
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"turns":   turns,
		"count":   len(turns),
	})
}

// DeleteUser erases everything the subsystem holds for a user.
func (h *ConversationHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userID")

	if err := h.engine.ForgetUser(r.Context(), userID); err != nil {
		h.logger.ErrorContext(r.Context(), "user erasure failed",
			"user_id", userID, "error", err)
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"status":  "forgotten",
	})
}
