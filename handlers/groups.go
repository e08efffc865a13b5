package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"estatehub/chat"
	"estatehub/middleware"
	"estatehub/models"
)

// GroupHandler serves group administration
type GroupHandler struct {
	engine *chat.Engine
	logger *zap.Logger
}

// NewGroupHandler creates the group endpoints
func NewGroupHandler(engine *chat.Engine, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{engine: engine, logger: logger}
}

// CreateGroup creates a group with the caller as admin
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req models.CreateGroupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	g, err := h.engine.CreateGroup(r.Context(), middleware.GetUserIDFromContext(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// ListGroups returns every group with its latest message, for global admins
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.engine.ListGroupsForAdmin(r.Context(), middleware.GetUserIDFromContext(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// GroupMessages returns a group's history for a member
func (h *GroupHandler) GroupMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.engine.GroupMessages(r.Context(), middleware.GetUserIDFromContext(r), mux.Vars(r)["groupId"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// AddMember adds a user to the group
func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req models.GroupMemberRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	g, err := h.engine.AddMember(r.Context(), middleware.GetUserIDFromContext(r), mux.Vars(r)["groupId"], req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// RemoveMember removes the user named in the path
func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	g, err := h.engine.RemoveMember(r.Context(), middleware.GetUserIDFromContext(r), vars["groupId"],
		models.GroupMemberRequest{UserID: vars["userId"]})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// PromoteMember makes a member a group admin
func (h *GroupHandler) PromoteMember(w http.ResponseWriter, r *http.Request) {
	var req models.GroupMemberRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	g, err := h.engine.PromoteMember(r.Context(), middleware.GetUserIDFromContext(r), mux.Vars(r)["groupId"], req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
