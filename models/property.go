package models

import "time"

// PropertyStatus is the listing lifecycle state
type PropertyStatus string

const (
	PropertyStatusDraft    PropertyStatus = "Draft"
	PropertyStatusActive   PropertyStatus = "Active"
	PropertyStatusInactive PropertyStatus = "Inactive"
	PropertyStatusSold     PropertyStatus = "Sold"
)

// Property is a listing. Chat threads and boosts reference it.
type Property struct {
	ID        string          `json:"id" db:"id" bson:"_id"`
	Title     string          `json:"title" db:"title" bson:"title"`
	Image     string          `json:"image" db:"image" bson:"image"`
	Status    PropertyStatus  `json:"status" db:"status" bson:"status"`
	CreatedBy string          `json:"created_by" db:"created_by" bson:"created_by"`
	IsBoosted bool            `json:"is_boosted" db:"is_boosted" bson:"is_boosted"`
	Boosts    []PropertyBoost `json:"boost,omitempty" db:"-" bson:"boost"`
	CreatedAt time.Time       `json:"created_at" db:"created_at" bson:"created_at"`
}

// PropertyBoost is one purchased visibility boost
type PropertyBoost struct {
	PlanID     string    `json:"plan_id" db:"plan_id" bson:"plan_id"`
	ExpiryDate time.Time `json:"expiry_date" db:"expiry_date" bson:"expiry_date"`
}

// PropertySummary is the listing projection attached to chat threads
type PropertySummary struct {
	ID        string         `json:"id" db:"id" bson:"_id"`
	Title     string         `json:"title" db:"title" bson:"title"`
	Image     string         `json:"image" db:"image" bson:"image"`
	Status    PropertyStatus `json:"status" db:"status" bson:"status"`
	CreatedBy string         `json:"created_by" db:"created_by" bson:"created_by"`
}
