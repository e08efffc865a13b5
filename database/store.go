package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"estatehub/config"
	"estatehub/models"
)

// ErrNotFound is returned when a referenced row or document does not exist.
var ErrNotFound = fmt.Errorf("record %w", models.ErrNotFound)

// ErrAlreadyClaimed is returned by ClaimPayment when the payment has
// already reached the succeeded state.
var ErrAlreadyClaimed = fmt.Errorf("payment already succeeded: %w", models.ErrConflict)

// Store is the persistence gateway used by the chat and billing engines.
type Store interface {
	UserStore
	PropertyStore
	MessageStore
	GroupStore
	BillingStore

	// InTx runs fn against a transactional view of the store. fn must only
	// use the Store and context it is handed. Returning an error rolls back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Close(ctx context.Context) error
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	// SaveEntitlements persists PropertyLimit, SubscriptionPlanIsActive,
	// StripeCustomerID and the subscription entries of u.
	SaveEntitlements(ctx context.Context, u *models.User) error
	ListUsersWithSubscriptions(ctx context.Context) ([]*models.User, error)
	UserSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error)
	// DeviceTokens maps each of ids that has a registered device to its token
	DeviceTokens(ctx context.Context, ids []string) (map[string]string, error)
}

type PropertyStore interface {
	CreateProperty(ctx context.Context, p *models.Property) error
	GetProperty(ctx context.Context, id string) (*models.Property, error)
	PropertySummaries(ctx context.Context, ids []string) (map[string]models.PropertySummary, error)
	CountPropertiesByStatus(ctx context.Context, userID string, status models.PropertyStatus) (int, error)
	AddPropertyBoost(ctx context.Context, propertyID string, boost models.PropertyBoost) error
	// ActivateDraftProperties moves up to limit-minus-active Draft listings
	// of userID to Active in insertion order and returns how many moved.
	// The count check and the update happen atomically.
	ActivateDraftProperties(ctx context.Context, userID string, limit int) (int, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	MarkSeen(ctx context.Context, f models.SeenFilter) (int64, error)
	// ListThread returns direct messages between userA and userB, scoped
	// to propertyID when set, hiding those viewerID soft-deleted.
	ListThread(ctx context.Context, userA, userB, propertyID, viewerID string) ([]models.Message, error)
	ListGroupMessages(ctx context.Context, groupIDs []string, viewerID string) ([]models.Message, error)
	// ListConversationMessages returns every non-group message userID sent
	// or received that userID has not hidden, oldest first.
	ListConversationMessages(ctx context.Context, userID string) ([]models.Message, error)
	// ListUnseenMessages returns unseen messages addressed to userID plus
	// unseen messages in groupIDs not sent by userID, skipping any userID hid.
	ListUnseenMessages(ctx context.Context, userID string, groupIDs []string) ([]models.Message, error)
	LatestGroupMessage(ctx context.Context, groupID string) (*models.Message, error)
	HideMessages(ctx context.Context, userID string, f models.ThreadFilter) (int64, error)
}

type GroupStore interface {
	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error)
	// ListGroups returns every group, most recently created first.
	ListGroups(ctx context.Context) ([]*models.Group, error)
	SaveGroupMembers(ctx context.Context, g *models.Group) error
}

type BillingStore interface {
	CreateSubscriptionPlan(ctx context.Context, p *models.SubscriptionPlan) error
	GetSubscriptionPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error)
	CreateBannerPlan(ctx context.Context, p *models.PromotionPlan) error
	GetBannerPlan(ctx context.Context, id string) (*models.PromotionPlan, error)
	CreateBoostPlan(ctx context.Context, p *models.PromotionPlan) error
	GetBoostPlan(ctx context.Context, id string) (*models.PromotionPlan, error)

	CreateBanner(ctx context.Context, b *models.Banner) error
	GetBanner(ctx context.Context, id string) (*models.Banner, error)
	MarkBannerPaid(ctx context.Context, id, planID string, expiry time.Time) error

	CreatePaymentHistory(ctx context.Context, p *models.PaymentHistory) error
	FindPaymentByIntent(ctx context.Context, paymentIntentID string) (*models.PaymentHistory, error)
	FindPaymentByInvoice(ctx context.Context, invoiceID string) (*models.PaymentHistory, error)
	// FindPaymentBySubscription returns the most recent row for the
	// processor subscription id.
	FindPaymentBySubscription(ctx context.Context, subscriptionID string) (*models.PaymentHistory, error)
	// ClaimPayment moves a row to succeeded and records the claim ids.
	// It returns ErrAlreadyClaimed when the row already succeeded.
	ClaimPayment(ctx context.Context, id string, claim models.PaymentClaim) error
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MongoStore)(nil)
)

// Open connects the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "sqlite3":
		s, err := OpenSQLite(ctx, cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongo":
		s, err := OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
