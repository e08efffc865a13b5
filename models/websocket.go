package models

import "encoding/json"

// EventType names a realtime request or response event
type EventType string

// Request events accepted from clients
const (
	EventSendMessage         EventType = "sendMessage"
	EventSendGroupMessage    EventType = "sendGroupMessage"
	EventMarkMessagesAsSeen  EventType = "markMessagesAsSeen"
	EventGetUnseenCount      EventType = "getUnseenMessagesCount"
	EventGetPreviousChat     EventType = "getPreviousChat"
	EventGetChatPartners     EventType = "getChatPartners"
	EventGetAllGroups        EventType = "getAllGroups"
	EventGetAllGroupMessages EventType = "getAllGroupMessages"
	EventGetGroupMessages    EventType = "getGroupMessages"
	EventDeleteChat          EventType = "deleteChat"
	EventTyping              EventType = "typing"
)

// Response events sent to clients
const (
	EventReceiveMessage      EventType = "receiveMessage"
	EventReceiveGroupMessage EventType = "receiveGroupMessage"
	EventMessagesMarkedSeen  EventType = "messagesMarkedAsSeen"
	EventMessagesSeen        EventType = "messagesSeen"
	EventUnseenCount         EventType = "unseenMessagesCount"
	EventPreviousChat        EventType = "previousChat"
	EventChatPartners        EventType = "chatPartners"
	EventAllGroups           EventType = "allGroups"
	EventAllGroupMessages    EventType = "allGroupMessages"
	EventGroupMessages       EventType = "groupMessages"
	EventChatDeleted         EventType = "chatDeleted"
	EventOnlineStatus        EventType = "onlineStatus"
	EventUserTyping          EventType = "userTyping"
)

// ErrorEvent returns the error event paired with a request event.
func (t EventType) ErrorEvent() EventType {
	return t + "Error"
}

// WebSocketMessage is the envelope for every realtime frame
type WebSocketMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundMessage is an envelope with a typed payload, marshalled once per send
type OutboundMessage struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// EventError is the payload of a <request>Error event
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendMessagePayload is the sendMessage request body. PropertyID, when
// present, overrides ReceiverID with the listing owner.
type SendMessagePayload struct {
	ReceiverID string `json:"receiverId" validate:"omitempty,uuid"`
	PropertyID string `json:"propertyId" validate:"omitempty,uuid"`
	Content    string `json:"content" validate:"required,max=4000"`
}

// SendGroupMessagePayload is the sendGroupMessage request body
type SendGroupMessagePayload struct {
	GroupID string `json:"groupId" validate:"required,uuid"`
	Content string `json:"content" validate:"required,max=4000"`
}

// MarkSeenPayload is the markMessagesAsSeen request body. Every non-empty
// field enables one branch.
type MarkSeenPayload struct {
	ChatPartnerID string `json:"chatPartnerId" validate:"omitempty,uuid"`
	GroupID       string `json:"groupId" validate:"omitempty,uuid"`
	PropertyID    string `json:"propertyId" validate:"omitempty,uuid"`
}

// PreviousChatPayload is the getPreviousChat request body
type PreviousChatPayload struct {
	UserID1    string `json:"userId1" validate:"required,uuid"`
	UserID2    string `json:"userId2" validate:"required,uuid"`
	PropertyID string `json:"propertyId" validate:"omitempty,uuid"`
}

// GroupPayload carries a single group id
type GroupPayload struct {
	GroupID string `json:"groupId" validate:"required,uuid"`
}

// DeleteChatPayload is the deleteChat request body
type DeleteChatPayload struct {
	ChatPartnerID string `json:"chatPartnerId" validate:"omitempty,uuid"`
	PropertyID    string `json:"propertyId" validate:"omitempty,uuid"`
	GroupID       string `json:"groupId" validate:"omitempty,uuid"`
}

// TypingPayload is the typing request body
type TypingPayload struct {
	RecipientID string `json:"recipientId" validate:"required,uuid"`
	IsTyping    bool   `json:"isTyping"`
}

// TypingStatus is delivered to the recipient of a typing event
type TypingStatus struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// SeenReceipt tells a sender their messages were read
type SeenReceipt struct {
	ReaderID   string `json:"readerId"`
	GroupID    string `json:"groupId,omitempty"`
	PropertyID string `json:"propertyId,omitempty"`
	Count      int64  `json:"count"`
}

// OnlineStatus announces a user connecting or disconnecting
type OnlineStatus struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}
