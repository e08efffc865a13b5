package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"estatehub/chat"
	"estatehub/middleware"
	"estatehub/models"
)

// MessageHandler exposes the chat operations over REST for clients that
// are not holding a websocket open. Deliveries still reach live sessions.
type MessageHandler struct {
	engine *chat.Engine
	logger *zap.Logger
}

// NewMessageHandler creates the message endpoints
func NewMessageHandler(engine *chat.Engine, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{engine: engine, logger: logger}
}

// ChatPartners returns all conversations for the current user
func (h *MessageHandler) ChatPartners(w http.ResponseWriter, r *http.Request) {
	partners, err := h.engine.ChatPartners(r.Context(), middleware.GetUserIDFromContext(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, partners)
}

// UnseenCount returns the current user's unseen message counts
func (h *MessageHandler) UnseenCount(w http.ResponseWriter, r *http.Request) {
	counts, err := h.engine.UnseenCount(r.Context(), middleware.GetUserIDFromContext(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Thread returns messages between the current user and another user,
// optionally scoped with ?propertyId=
func (h *MessageHandler) Thread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r)
	msgs, err := h.engine.PreviousChat(r.Context(), userID, models.PreviousChatPayload{
		UserID1:    userID,
		UserID2:    mux.Vars(r)["userId"],
		PropertyID: r.URL.Query().Get("propertyId"),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Message returns a single message the current user can see
func (h *MessageHandler) Message(w http.ResponseWriter, r *http.Request) {
	msg, err := h.engine.GetMessage(r.Context(), middleware.GetUserIDFromContext(r), mux.Vars(r)["messageId"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// SendMessage creates a direct or property message
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessagePayload
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	msg, err := h.engine.SendDirectMessage(r.Context(), middleware.GetUserIDFromContext(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkSeen marks messages as read
func (h *MessageHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	var req models.MarkSeenPayload
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	n, err := h.engine.MarkSeen(r.Context(), middleware.GetUserIDFromContext(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}
