package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEntityType classifies what a payment bought
type PaymentEntityType string

const (
	PaymentEntityBanner       PaymentEntityType = "banner"
	PaymentEntityBoost        PaymentEntityType = "boost"
	PaymentEntitySubscription PaymentEntityType = "subscription"
)

// PaymentStatus is the ledger state of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// SubscriptionPlan grants listing capacity for a number of months
type SubscriptionPlan struct {
	ID             string    `json:"id" db:"id" bson:"_id"`
	Name           string    `json:"name" db:"name" bson:"name"`
	PriceMinor     int64     `json:"price_minor" db:"price_minor" bson:"price_minor"`
	Currency       string    `json:"currency" db:"currency" bson:"currency"`
	DurationMonths int       `json:"duration" db:"duration_months" bson:"duration_months"`
	StripePriceID  string    `json:"stripe_price_id" db:"stripe_price_id" bson:"stripe_price_id"`
	PropertyLimit  int       `json:"property_limit" db:"property_limit" bson:"property_limit"`
	CreatedAt      time.Time `json:"created_at" db:"created_at" bson:"created_at"`
}

// Price returns the plan price in major units
func (p *SubscriptionPlan) Price() decimal.Decimal {
	return MinorToDecimal(p.PriceMinor)
}

// PromotionPlan prices a banner slot or a listing boost for a number of days
type PromotionPlan struct {
	ID           string    `json:"id" db:"id" bson:"_id"`
	Name         string    `json:"name" db:"name" bson:"name"`
	PriceMinor   int64     `json:"price_minor" db:"price_minor" bson:"price_minor"`
	Currency     string    `json:"currency" db:"currency" bson:"currency"`
	DurationDays int       `json:"duration" db:"duration_days" bson:"duration_days"`
	CreatedAt    time.Time `json:"created_at" db:"created_at" bson:"created_at"`
}

// Price returns the plan price in major units
func (p *PromotionPlan) Price() decimal.Decimal {
	return MinorToDecimal(p.PriceMinor)
}

// Banner is a paid advertisement slot
type Banner struct {
	ID         string     `json:"id" db:"id" bson:"_id"`
	UserID     string     `json:"user_id" db:"user_id" bson:"user_id"`
	Title      string     `json:"title" db:"title" bson:"title"`
	Image      string     `json:"image" db:"image" bson:"image"`
	PlanID     string     `json:"plan_id" db:"plan_id" bson:"plan_id"`
	IsPaid     bool       `json:"is_paid" db:"is_paid" bson:"is_paid"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty" db:"expiry_date" bson:"expiry_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at" bson:"created_at"`
}

// PaymentHistory is the payment ledger row. At most one row per processor
// payment intent reaches PaymentStatusSucceeded.
type PaymentHistory struct {
	ID               string            `json:"id" db:"id" bson:"_id"`
	UserID           string            `json:"user_id" db:"user_id" bson:"user_id"`
	EntityType       PaymentEntityType `json:"entity_type" db:"entity_type" bson:"entity_type"`
	EntityID         string            `json:"entity_id" db:"entity_id" bson:"entity_id"`
	PlanID           string            `json:"plan_id" db:"plan_id" bson:"plan_id"`
	StripeCustomerID string            `json:"stripe_customer_id" db:"stripe_customer_id" bson:"stripe_customer_id"`
	PaymentIntentID  string            `json:"payment_intent_id,omitempty" db:"payment_intent_id" bson:"payment_intent_id,omitempty"`
	SubscriptionID   string            `json:"subscription_id,omitempty" db:"subscription_id" bson:"subscription_id,omitempty"`
	InvoiceID        string            `json:"invoice_id,omitempty" db:"invoice_id" bson:"invoice_id,omitempty"`
	AmountMinor      int64             `json:"amount_minor" db:"amount_minor" bson:"amount_minor"`
	Currency         string            `json:"currency" db:"currency" bson:"currency"`
	Status           PaymentStatus     `json:"status" db:"status" bson:"status"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at" bson:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// Amount returns the paid amount in major units
func (p *PaymentHistory) Amount() decimal.Decimal {
	return MinorToDecimal(p.AmountMinor)
}

// PaymentClaim carries the processor identifiers recorded when a pending
// payment is claimed as succeeded.
type PaymentClaim struct {
	PaymentIntentID string
	InvoiceID       string
	AmountMinor     int64
	Currency        string
}

// MinorToDecimal converts processor minor units (cents) to major units.
func MinorToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// SubscriptionCheckoutRequest starts a subscription purchase
type SubscriptionCheckoutRequest struct {
	PlanID string `json:"planId" validate:"required,uuid"`
}

// BannerCheckoutRequest creates an unpaid banner and starts its payment
type BannerCheckoutRequest struct {
	Title  string `json:"title" validate:"required,max=200"`
	Image  string `json:"image" validate:"required,url"`
	PlanID string `json:"planId" validate:"required,uuid"`
}

// BoostCheckoutRequest starts a listing boost purchase
type BoostCheckoutRequest struct {
	PropertyID string `json:"propertyId" validate:"required,uuid"`
	PlanID     string `json:"planId" validate:"required,uuid"`
}

// CheckoutResponse hands the client what it needs to confirm payment
type CheckoutResponse struct {
	PaymentHistoryID string          `json:"paymentHistoryId"`
	ClientSecret     string          `json:"clientSecret"`
	PaymentIntentID  string          `json:"paymentIntentId,omitempty"`
	SubscriptionID   string          `json:"subscriptionId,omitempty"`
	EntityID         string          `json:"entityId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}
