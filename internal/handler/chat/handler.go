// Package chat exposes the synchronous CRUD mirror of the session store.
// It has none of the real-time protocol's handshake ordering or broadcast
// semantics; it is a thin surface over the same store operations.
package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warrenwl/chatrelay/internal/model/chat"
	chatservice "github.com/warrenwl/chatrelay/internal/service/chat"
	"github.com/warrenwl/chatrelay/internal/store"
	"github.com/warrenwl/chatrelay/pkg/utils"
)

// Handler serves the session and message endpoints.
type Handler struct {
	chatSvc *chatservice.Service
}

// New creates the CRUD handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the session and message routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleAppendMessage)
	r.Post("/sessions/{sessionID}/heartbeat", h.handleHeartbeat)
	r.Post("/sessions/{sessionID}/close", h.handleClose)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		VisitorID string         `json:"visitorId"`
		Metadata  map[string]any `json:"metadata"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.VisitorID == "" {
		utils.RespondError(w, http.StatusBadRequest, "visitorId is required")
		return
	}

	session, err := h.chatSvc.Create(r.Context(), payload.VisitorID, payload.Metadata)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.History(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Sender  chat.Sender `json:"sender"`
		Content string      `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !payload.Sender.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "unknown sender")
		return
	}
	if payload.Content == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	session, err := h.chatSvc.Get(r.Context(), sessionID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if !session.Open() {
		utils.RespondError(w, http.StatusConflict, "session is closed")
		return
	}

	message, err := h.chatSvc.SaveMessage(r.Context(), sessionID, payload.Sender, payload.Content)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, message)
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.Touch(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": string(chat.StatusClosed)})
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrSessionClosed):
		utils.RespondError(w, http.StatusConflict, "session is closed")
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
