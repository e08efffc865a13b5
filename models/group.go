package models

import "time"

// GroupRole is a member's role inside a group
type GroupRole string

const (
	GroupRoleAdmin  GroupRole = "admin"
	GroupRoleMember GroupRole = "member"
)

// Group is a named multi-user conversation. Members is the authorization
// source for reading group messages.
type Group struct {
	ID        string        `json:"id" db:"id" bson:"_id"`
	Name      string        `json:"name" db:"name" bson:"name"`
	Members   []GroupMember `json:"members" db:"-" bson:"members"`
	CreatedBy string        `json:"created_by" db:"created_by" bson:"created_by"`
	Image     string        `json:"image,omitempty" db:"image" bson:"image,omitempty"`
	CreatedAt time.Time     `json:"created_at" db:"created_at" bson:"created_at"`
}

// GroupMember is one entry of a group's ordered member list
type GroupMember struct {
	UserID string    `json:"user_id" db:"user_id" bson:"user_id"`
	Role   GroupRole `json:"role" db:"role" bson:"role"`
}

// IsMember reports whether userID is currently in the group
func (g *Group) IsMember(userID string) bool {
	return g.memberIndex(userID) >= 0
}

// IsAdmin reports whether userID is a group admin
func (g *Group) IsAdmin(userID string) bool {
	i := g.memberIndex(userID)
	return i >= 0 && g.Members[i].Role == GroupRoleAdmin
}

// AdminCount returns how many admins the group has
func (g *Group) AdminCount() int {
	n := 0
	for _, m := range g.Members {
		if m.Role == GroupRoleAdmin {
			n++
		}
	}
	return n
}

// MemberIDs returns the member user ids in list order
func (g *Group) MemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

func (g *Group) memberIndex(userID string) int {
	for i, m := range g.Members {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

// GroupWithLastMessage is a group with its most recent message, if any
type GroupWithLastMessage struct {
	Group
	LastMessage *MessageView `json:"last_message"`
}

// CreateGroupRequest is the body of a create-group call. The caller becomes
// the first admin.
type CreateGroupRequest struct {
	Name      string   `json:"name" validate:"required,max=100"`
	Image     string   `json:"image" validate:"omitempty,url"`
	MemberIDs []string `json:"memberIds" validate:"dive,uuid"`
}

// GroupMemberRequest names the member an admin operation targets
type GroupMemberRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
}
