package notify

import (
	"context"
	"time"
)

// Domain event types published after entitlement changes commit
const (
	EventSubscriptionActivated = "subscription.activated"
	EventPropertiesActivated   = "properties.activated"
	EventBannerPaid            = "banner.paid"
	EventPropertyBoosted       = "property.boosted"
)

// PushRequest asks the downstream dispatcher to notify a device
type PushRequest struct {
	UserID      string            `json:"user_id"`
	DeviceToken string            `json:"device_token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}

// Event is a domain event about a user's entitlements
type Event struct {
	Type       string                 `json:"type"`
	UserID     string                 `json:"user_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Notifier dispatches push notifications. A call with several requests is
// one delivery; the returned error is its outcome and callers log it and
// carry on.
type Notifier interface {
	Push(ctx context.Context, reqs ...PushRequest) error
}

// Publisher emits domain events
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
