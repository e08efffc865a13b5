package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"estatehub/database"
	"estatehub/models"
	"estatehub/notify"
)

// Delivery hands outbound events to live sessions
type Delivery interface {
	SendToUsers(userIDs []string, msg models.OutboundMessage)
	IsUserOnline(userID string) bool
}

// Engine implements the chat operations on top of a Store. It persists
// first and only then delivers to the recipients' sessions.
type Engine struct {
	store    database.Store
	delivery Delivery
	notifier notify.Notifier
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates a chat engine
func NewEngine(store database.Store, delivery Delivery, notifier notify.Notifier, validate *validator.Validate, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		delivery: delivery,
		notifier: notifier,
		validate: validate,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) checkID(name, id string) error {
	if err := e.validate.Var(id, "required,uuid"); err != nil {
		return fmt.Errorf("%s must be a uuid: %w", name, models.ErrInvalidArgument)
	}
	return nil
}

func (e *Engine) check(v interface{}) error {
	if err := e.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s failed %q: %w", verrs[0].Field(), verrs[0].Tag(), models.ErrInvalidArgument)
		}
		return fmt.Errorf("%v: %w", err, models.ErrInvalidArgument)
	}
	return nil
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// expand attaches sender, receiver and property summaries. Soft-delete
// entries are stripped so one user never learns what another hid.
func (e *Engine) expand(ctx context.Context, msgs []models.Message) ([]models.MessageView, error) {
	views := make([]models.MessageView, 0, len(msgs))
	if len(msgs) == 0 {
		return views, nil
	}

	userIDs := newIDSet()
	propIDs := newIDSet()
	for _, m := range msgs {
		userIDs.add(m.SenderID)
		userIDs.add(m.ReceiverID)
		propIDs.add(m.PropertyID)
	}

	users, err := e.store.UserSummaries(ctx, userIDs.list)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	props, err := e.store.PropertySummaries(ctx, propIDs.list)
	if err != nil {
		return nil, fmt.Errorf("load properties: %w", err)
	}

	for _, m := range msgs {
		m.SoftDelete = nil
		v := models.MessageView{Message: m}
		if u, ok := users[m.SenderID]; ok {
			v.Sender = &u
		}
		if u, ok := users[m.ReceiverID]; ok {
			v.Receiver = &u
		}
		if p, ok := props[m.PropertyID]; ok {
			v.Property = &p
		}
		views = append(views, v)
	}
	return views, nil
}

func (e *Engine) expandOne(ctx context.Context, m models.Message) (*models.MessageView, error) {
	views, err := e.expand(ctx, []models.Message{m})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// pushOffline asks the notification gateway to reach the users with no live
// session, as one batch. The outcome is logged and never fails the caller.
func (e *Engine) pushOffline(ctx context.Context, userIDs []string, title, body string, data map[string]string) {
	var offline []string
	for _, id := range userIDs {
		if !e.delivery.IsUserOnline(id) {
			offline = append(offline, id)
		}
	}
	if len(offline) == 0 {
		return
	}
	tokens, err := e.store.DeviceTokens(ctx, offline)
	if err != nil {
		e.logger.Warn("push skipped: device lookup failed", zap.Int("users", len(offline)), zap.Error(err))
		return
	}

	reqs := make([]notify.PushRequest, 0, len(tokens))
	for _, id := range offline {
		token, ok := tokens[id]
		if !ok {
			continue
		}
		reqs = append(reqs, notify.PushRequest{
			UserID:      id,
			DeviceToken: token,
			Title:       title,
			Body:        body,
			Data:        data,
		})
	}
	if len(reqs) == 0 {
		return
	}
	if err := e.notifier.Push(ctx, reqs...); err != nil {
		e.logger.Warn("push notification failed", zap.Int("users", len(reqs)), zap.Error(err))
	}
}

// idSet keeps unique non-empty ids in first-seen order
type idSet struct {
	seen map[string]struct{}
	list []string
}

func newIDSet() *idSet {
	return &idSet{seen: make(map[string]struct{})}
}

func (s *idSet) add(id string) {
	if id == "" {
		return
	}
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.list = append(s.list, id)
}
