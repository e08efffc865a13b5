package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"estatehub/models"
)

// SendDirectMessage persists a direct or property inquiry message and
// delivers it to the sender's and receiver's sessions. A property id
// routes the message to the listing owner regardless of ReceiverID.
func (e *Engine) SendDirectMessage(ctx context.Context, senderID string, req models.SendMessagePayload) (*models.MessageView, error) {
	if err := e.checkID("senderId", senderID); err != nil {
		return nil, err
	}
	if err := e.check(req); err != nil {
		return nil, err
	}

	receiverID := req.ReceiverID
	if req.PropertyID != "" {
		prop, err := e.store.GetProperty(ctx, req.PropertyID)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", req.PropertyID, err)
		}
		receiverID = prop.CreatedBy
	} else if receiverID == "" {
		return nil, fmt.Errorf("receiverId or propertyId is required: %w", models.ErrInvalidArgument)
	}

	users, err := e.store.UserSummaries(ctx, []string{receiverID})
	if err != nil {
		return nil, fmt.Errorf("load receiver: %w", err)
	}
	if _, ok := users[receiverID]; !ok {
		return nil, fmt.Errorf("receiver %s: %w", receiverID, models.ErrNotFound)
	}

	msg := models.Message{
		ID:         newID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		PropertyID: req.PropertyID,
		Content:    req.Content,
		Timestamp:  e.now(),
	}
	if err := e.store.CreateMessage(ctx, &msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	view, err := e.expandOne(ctx, msg)
	if err != nil {
		return nil, err
	}

	e.delivery.SendToUsers([]string{senderID, receiverID}, models.OutboundMessage{
		Type:    models.EventReceiveMessage,
		Payload: view,
	})

	title := "New message"
	if view.Sender != nil {
		title = view.Sender.Name
	}
	e.pushOffline(ctx, []string{receiverID}, title, msg.Content, map[string]string{
		"messageId":  msg.ID,
		"senderId":   senderID,
		"propertyId": msg.PropertyID,
	})

	e.logger.Debug("direct message sent",
		zap.String("message_id", msg.ID),
		zap.String("sender_id", senderID),
		zap.String("receiver_id", receiverID),
	)
	return view, nil
}

// SendGroupMessage persists a group message and delivers it to the
// current members. Only members may send.
func (e *Engine) SendGroupMessage(ctx context.Context, senderID string, req models.SendGroupMessagePayload) (*models.MessageView, error) {
	if err := e.checkID("senderId", senderID); err != nil {
		return nil, err
	}
	if err := e.check(req); err != nil {
		return nil, err
	}

	group, err := e.store.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", req.GroupID, err)
	}
	if !group.IsMember(senderID) {
		return nil, fmt.Errorf("sender is not a member of the group: %w", models.ErrForbidden)
	}

	msg := models.Message{
		ID:        newID(),
		SenderID:  senderID,
		GroupID:   group.ID,
		Content:   req.Content,
		Timestamp: e.now(),
	}
	if err := e.store.CreateMessage(ctx, &msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	view, err := e.expandOne(ctx, msg)
	if err != nil {
		return nil, err
	}

	members := group.MemberIDs()
	e.delivery.SendToUsers(members, models.OutboundMessage{
		Type:    models.EventReceiveGroupMessage,
		Payload: view,
	})

	recipients := make([]string, 0, len(members))
	for _, id := range members {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}
	e.pushOffline(ctx, recipients, group.Name, msg.Content, map[string]string{
		"messageId": msg.ID,
		"groupId":   group.ID,
	})
	return view, nil
}

// MarkSeen flips unseen messages to seen for every branch the request
// enables and notifies the other party. Re-marking is a no-op.
func (e *Engine) MarkSeen(ctx context.Context, userID string, req models.MarkSeenPayload) (int64, error) {
	if err := e.checkID("userId", userID); err != nil {
		return 0, err
	}
	if err := e.check(req); err != nil {
		return 0, err
	}

	var group *models.Group
	if req.GroupID != "" {
		g, err := e.store.GetGroup(ctx, req.GroupID)
		if err != nil {
			return 0, fmt.Errorf("group %s: %w", req.GroupID, err)
		}
		if !g.IsMember(userID) {
			return 0, fmt.Errorf("not a member of the group: %w", models.ErrForbidden)
		}
		group = g
	}

	n, err := e.store.MarkSeen(ctx, models.SeenFilter{
		UserID:        userID,
		ChatPartnerID: req.ChatPartnerID,
		GroupID:       req.GroupID,
		PropertyID:    req.PropertyID,
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	receipt := models.OutboundMessage{
		Type: models.EventMessagesSeen,
		Payload: models.SeenReceipt{
			ReaderID:   userID,
			GroupID:    req.GroupID,
			PropertyID: req.PropertyID,
			Count:      n,
		},
	}
	var notifyIDs []string
	if req.ChatPartnerID != "" {
		notifyIDs = append(notifyIDs, req.ChatPartnerID)
	}
	if group != nil {
		for _, id := range group.MemberIDs() {
			if id != userID {
				notifyIDs = append(notifyIDs, id)
			}
		}
	}
	if len(notifyIDs) > 0 {
		e.delivery.SendToUsers(notifyIDs, receipt)
	}
	return n, nil
}

// PreviousChat returns the thread between two users, oldest first, minus
// anything the requester hid. A requester outside the pair gets nothing.
func (e *Engine) PreviousChat(ctx context.Context, requesterID string, req models.PreviousChatPayload) ([]models.MessageView, error) {
	if err := e.checkID("userId", requesterID); err != nil {
		return nil, err
	}
	if err := e.check(req); err != nil {
		return nil, err
	}
	if requesterID != req.UserID1 && requesterID != req.UserID2 {
		return []models.MessageView{}, nil
	}

	msgs, err := e.store.ListThread(ctx, req.UserID1, req.UserID2, req.PropertyID, requesterID)
	if err != nil {
		return nil, err
	}
	return e.expand(ctx, msgs)
}

// DeleteChat hides a thread from the caller's own view. The messages stay
// visible to everyone else.
func (e *Engine) DeleteChat(ctx context.Context, userID string, req models.DeleteChatPayload) (int64, error) {
	if err := e.checkID("userId", userID); err != nil {
		return 0, err
	}
	if err := e.check(req); err != nil {
		return 0, err
	}
	if req.ChatPartnerID == "" && req.PropertyID == "" && req.GroupID == "" {
		return 0, fmt.Errorf("chatPartnerId, propertyId or groupId is required: %w", models.ErrInvalidArgument)
	}

	if req.GroupID != "" {
		g, err := e.store.GetGroup(ctx, req.GroupID)
		if err != nil {
			return 0, fmt.Errorf("group %s: %w", req.GroupID, err)
		}
		if !g.IsMember(userID) {
			return 0, fmt.Errorf("not a member of the group: %w", models.ErrForbidden)
		}
	}

	n, err := e.store.HideMessages(ctx, userID, models.ThreadFilter{
		ChatPartnerID: req.ChatPartnerID,
		PropertyID:    req.PropertyID,
		GroupID:       req.GroupID,
	})
	if err != nil {
		return 0, err
	}
	e.logger.Debug("chat hidden", zap.String("user_id", userID), zap.Int64("messages", n))
	return n, nil
}

// Typing forwards a typing indicator to the recipient's sessions
func (e *Engine) Typing(ctx context.Context, senderID string, req models.TypingPayload) error {
	if err := e.checkID("senderId", senderID); err != nil {
		return err
	}
	if err := e.check(req); err != nil {
		return err
	}
	e.delivery.SendToUsers([]string{req.RecipientID}, models.OutboundMessage{
		Type:    models.EventUserTyping,
		Payload: models.TypingStatus{UserID: senderID, IsTyping: req.IsTyping},
	})
	return nil
}
