package models

import "time"

// User represents a marketplace account. Only the fields the chat and
// billing engines read or write are modelled here.
type User struct {
	ID                       string              `json:"id" db:"id" bson:"_id"`
	Name                     string              `json:"name" db:"name" bson:"name"`
	Email                    string              `json:"email" db:"email" bson:"email"`
	Avatar                   string              `json:"avatar" db:"avatar" bson:"avatar"`
	IsAdmin                  bool                `json:"is_admin" db:"is_admin" bson:"is_admin"`
	DeviceToken              string              `json:"-" db:"device_token" bson:"device_token"`
	StripeCustomerID         string              `json:"-" db:"stripe_customer_id" bson:"stripe_customer_id"`
	PropertyLimit            int                 `json:"property_limit" db:"property_limit" bson:"property_limit"`
	SubscriptionPlanIsActive bool                `json:"subscription_plan_is_active" db:"subscription_plan_is_active" bson:"subscription_plan_is_active"`
	Subscriptions            []SubscriptionEntry `json:"subscription" db:"-" bson:"subscription"`
	CreatedAt                time.Time           `json:"created_at" db:"created_at" bson:"created_at"`
}

// SubscriptionEntry is one purchased plan period held by a user.
type SubscriptionEntry struct {
	PlanID               string    `json:"plan_id" db:"plan_id" bson:"plan_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id" db:"stripe_subscription_id" bson:"stripe_subscription_id"`
	StartDate            time.Time `json:"start_date" db:"start_date" bson:"start_date"`
	EndDate              time.Time `json:"end_date" db:"end_date" bson:"end_date"`
	IsExpired            bool      `json:"is_expired" db:"is_expired" bson:"is_expired"`
}

// UserSummary is the display projection attached to messages
type UserSummary struct {
	ID     string `json:"id" db:"id" bson:"_id"`
	Name   string `json:"name" db:"name" bson:"name"`
	Avatar string `json:"avatar" db:"avatar" bson:"avatar"`
}

// ToSummary converts User to UserSummary
func (u *User) ToSummary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

// HasActiveSubscription reports whether any entry ends at or after now.
func (u *User) HasActiveSubscription(now time.Time) bool {
	for _, s := range u.Subscriptions {
		if !s.EndDate.Before(now) {
			return true
		}
	}
	return false
}

// RefreshSubscriptionState flags ended entries as expired and recomputes
// SubscriptionPlanIsActive. It returns true when anything changed.
func (u *User) RefreshSubscriptionState(now time.Time) bool {
	changed := false
	for i := range u.Subscriptions {
		expired := u.Subscriptions[i].EndDate.Before(now)
		if expired != u.Subscriptions[i].IsExpired {
			u.Subscriptions[i].IsExpired = expired
			changed = true
		}
	}
	active := u.HasActiveSubscription(now)
	if active != u.SubscriptionPlanIsActive {
		u.SubscriptionPlanIsActive = active
		changed = true
	}
	return changed
}
