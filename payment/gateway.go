package payment

import (
	"context"
	"errors"
	"time"
)

// Webhook event types the reconciler acts on
const (
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
	EventPaymentIntentFailed     = "payment_intent.payment_failed"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaid             = "invoice.paid"
)

// Metadata keys attached to processor objects at checkout
const (
	MetaType       = "type"
	MetaUserID     = "userId"
	MetaPlanID     = "planId"
	MetaBannerID   = "bannerId"
	MetaPropertyID = "propertyId"
)

// ErrInvalidSignature is returned when a webhook payload fails verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Gateway is the payment processor as seen by the billing engine
type Gateway interface {
	// ParseWebhook verifies the signature header against the raw payload
	// and only then decodes the event.
	ParseWebhook(payload []byte, signature string) (*Event, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
}

// Event is a verified webhook event. Exactly one of PaymentIntent and
// Invoice is set for the event types above.
type Event struct {
	ID            string
	Type          string
	PaymentIntent *PaymentIntent
	Invoice       *Invoice
}

// PaymentIntent is a one-off charge
type PaymentIntent struct {
	ID           string
	CustomerID   string
	InvoiceID    string
	AmountMinor  int64
	Currency     string
	ClientSecret string
	Metadata     map[string]string
}

// Invoice is a subscription billing document
type Invoice struct {
	ID              string
	SubscriptionID  string
	CustomerID      string
	PaymentIntentID string
	AmountPaidMinor int64
	Currency        string
}

// Subscription is a recurring processor subscription
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	CurrentPeriodEnd time.Time
	LatestInvoiceID  string
	ClientSecret     string
	Metadata         map[string]string
}

// CustomerRequest creates a processor customer for a user
type CustomerRequest struct {
	UserID string
	Email  string
	Name   string
}

// SubscriptionRequest starts an incomplete subscription awaiting payment
type SubscriptionRequest struct {
	CustomerID string
	PriceID    string
	Metadata   map[string]string
}

// PaymentIntentRequest starts a one-off charge
type PaymentIntentRequest struct {
	CustomerID  string
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}
