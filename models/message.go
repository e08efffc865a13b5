package models

import "time"

// Message is a chat message. Exactly one of ReceiverID and GroupID addresses
// it; property inquiry messages carry PropertyID and use ReceiverID for the
// listing owner. Messages are never removed, only hidden per user.
type Message struct {
	ID         string       `json:"id" db:"id" bson:"_id"`
	SenderID   string       `json:"sender_id" db:"sender_id" bson:"sender_id"`
	ReceiverID string       `json:"receiver_id,omitempty" db:"receiver_id" bson:"receiver_id,omitempty"`
	GroupID    string       `json:"group_id,omitempty" db:"group_id" bson:"group_id,omitempty"`
	PropertyID string       `json:"property_id,omitempty" db:"property_id" bson:"property_id,omitempty"`
	Content    string       `json:"content" db:"content" bson:"content"`
	Timestamp  time.Time    `json:"timestamp" db:"created_at" bson:"timestamp"`
	IsSeen     bool         `json:"is_seen" db:"is_seen" bson:"is_seen"`
	SoftDelete []SoftDelete `json:"soft_delete,omitempty" db:"-" bson:"soft_delete"`
}

// SoftDelete records that a user hid a message from their own view
type SoftDelete struct {
	UserID    string `json:"user_id" db:"user_id" bson:"user_id"`
	IsDeleted bool   `json:"is_deleted" db:"is_deleted" bson:"is_deleted"`
}

// HiddenFor reports whether userID has soft-deleted the message.
func (m *Message) HiddenFor(userID string) bool {
	for _, sd := range m.SoftDelete {
		if sd.UserID == userID && sd.IsDeleted {
			return true
		}
	}
	return false
}

// CounterpartOf returns the other party of a direct or property message.
func (m *Message) CounterpartOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// MessageView is a message with its references expanded for display
type MessageView struct {
	Message
	Sender   *UserSummary     `json:"sender,omitempty"`
	Receiver *UserSummary     `json:"receiver,omitempty"`
	Property *PropertySummary `json:"property,omitempty"`
}

// SeenFilter selects the messages a markSeen call flips. Each non-empty
// field enables one predicate branch; branches run additively.
type SeenFilter struct {
	UserID        string
	ChatPartnerID string
	GroupID       string
	PropertyID    string
}

// ThreadFilter selects the messages a user hides with deleteChat
type ThreadFilter struct {
	ChatPartnerID string
	PropertyID    string
	GroupID       string
}

// SenderUnseen counts unseen direct messages from one sender
type SenderUnseen struct {
	SenderID string       `json:"sender_id"`
	Sender   *UserSummary `json:"sender,omitempty"`
	Count    int          `json:"count"`
}

// GroupUnseen counts unseen messages in one group
type GroupUnseen struct {
	GroupID string `json:"group_id"`
	Count   int    `json:"count"`
}

// PropertyUnseen counts unseen inquiry messages on one listing
type PropertyUnseen struct {
	PropertyID string           `json:"property_id"`
	Property   *PropertySummary `json:"property,omitempty"`
	Count      int              `json:"count"`
}

// UnseenCounts is the getUnseenMessagesCount response
type UnseenCounts struct {
	Direct     []SenderUnseen   `json:"direct"`
	Groups     []GroupUnseen    `json:"groups"`
	Properties []PropertyUnseen `json:"properties"`
}

// ChatPartner is one counterpart-and-property thread in the partner list
type ChatPartner struct {
	Partner       UserSummary      `json:"partner"`
	Property      *PropertySummary `json:"property,omitempty"`
	LastMessage   Message          `json:"last_message"`
	LastMessageAt time.Time        `json:"last_message_at"`
	UnseenCount   int              `json:"unseen_count"`
}

// PropertyThread aggregates every inquiry a user received on one listing
type PropertyThread struct {
	Property      PropertySummary `json:"property"`
	LastMessage   Message         `json:"last_message"`
	LastMessageAt time.Time       `json:"last_message_at"`
	UnseenCount   int             `json:"unseen_count"`
}

// ChatPartners is the getChatPartners response
type ChatPartners struct {
	Partners   []ChatPartner    `json:"partners"`
	Properties []PropertyThread `json:"properties"`
}
