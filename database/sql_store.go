package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"estatehub/models"
)

// SQLStore implements Store on sqlite3 or PostgreSQL. Queries are written
// with ? placeholders and rebound for the active driver.
type SQLStore struct {
	db     *sqlx.DB
	q      sqlx.ExtContext
	inTx   bool
	logger *zap.Logger
}

func newSQLStore(db *sqlx.DB, logger *zap.Logger) *SQLStore {
	return &SQLStore{db: db, q: db, logger: logger}
}

// InTx runs fn inside a database transaction. Nested calls join the outer
// transaction.
func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.atomically(ctx, func(tx *SQLStore) error {
		return fn(ctx, tx)
	})
}

func (s *SQLStore) atomically(ctx context.Context, fn func(tx *SQLStore) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	child := &SQLStore{db: s.db, q: tx, inTx: true, logger: s.logger}

	if err := fn(child); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool
func (s *SQLStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *SQLStore) isPostgres() bool {
	return s.db.DriverName() == "postgres"
}

func (s *SQLStore) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, s.q, dest, s.q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLStore) sel(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, s.q, dest, s.q.Rebind(query), args...)
}

// selIn expands slice arguments into IN (...) lists before selecting
func (s *SQLStore) selIn(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return s.sel(ctx, dest, query, args...)
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) execIn(ctx context.Context, query string, args ...interface{}) (int64, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, query, args...)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

// User queries

const userColumns = `id, name, email, avatar, is_admin, device_token, stripe_customer_id,
	property_limit, subscription_plan_is_active, created_at`

// CreateUser inserts a user with its subscription entries
func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return s.atomically(ctx, func(tx *SQLStore) error {
		_, err := tx.exec(ctx,
			`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Name, u.Email, u.Avatar, u.IsAdmin, u.DeviceToken, u.StripeCustomerID,
			u.PropertyLimit, u.SubscriptionPlanIsActive, u.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		return tx.replaceSubscriptions(ctx, u)
	})
}

// GetUser retrieves a user and its subscription entries
func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	if err := s.get(ctx, u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	subs, err := s.subscriptionsFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	u.Subscriptions = subs[id]
	return u, nil
}

// SaveEntitlements writes the entitlement fields of u
func (s *SQLStore) SaveEntitlements(ctx context.Context, u *models.User) error {
	return s.atomically(ctx, func(tx *SQLStore) error {
		n, err := tx.exec(ctx,
			`UPDATE users SET property_limit = ?, subscription_plan_is_active = ?, stripe_customer_id = ? WHERE id = ?`,
			u.PropertyLimit, u.SubscriptionPlanIsActive, u.StripeCustomerID, u.ID,
		)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return tx.replaceSubscriptions(ctx, u)
	})
}

// ListUsersWithSubscriptions returns every user holding at least one entry
func (s *SQLStore) ListUsersWithSubscriptions(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := s.sel(ctx, &users,
		`SELECT `+userColumns+` FROM users
		WHERE id IN (SELECT DISTINCT user_id FROM user_subscriptions)
		ORDER BY created_at`)
	if err != nil || len(users) == 0 {
		return users, err
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	subs, err := s.subscriptionsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		u.Subscriptions = subs[u.ID]
	}
	return users, nil
}

// UserSummaries returns display fields keyed by user id
func (s *SQLStore) UserSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error) {
	out := make(map[string]models.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.UserSummary
	if err := s.selIn(ctx, &rows, `SELECT id, name, avatar FROM users WHERE id IN (?)`, ids); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// DeviceTokens returns push tokens keyed by user id, skipping users without one
func (s *SQLStore) DeviceTokens(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID          string `db:"id"`
		DeviceToken string `db:"device_token"`
	}
	if err := s.selIn(ctx, &rows, `SELECT id, device_token FROM users WHERE id IN (?) AND device_token <> ''`, ids); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.DeviceToken
	}
	return out, nil
}

type subscriptionRow struct {
	UserID   string `db:"user_id"`
	Position int    `db:"position"`
	models.SubscriptionEntry
}

func (s *SQLStore) subscriptionsFor(ctx context.Context, userIDs []string) (map[string][]models.SubscriptionEntry, error) {
	var rows []subscriptionRow
	err := s.selIn(ctx, &rows,
		`SELECT user_id, position, plan_id, stripe_subscription_id, start_date, end_date, is_expired
		FROM user_subscriptions WHERE user_id IN (?) ORDER BY user_id, position`, userIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.SubscriptionEntry)
	for _, r := range rows {
		out[r.UserID] = append(out[r.UserID], r.SubscriptionEntry)
	}
	return out, nil
}

func (s *SQLStore) replaceSubscriptions(ctx context.Context, u *models.User) error {
	if _, err := s.exec(ctx, `DELETE FROM user_subscriptions WHERE user_id = ?`, u.ID); err != nil {
		return err
	}
	for i, sub := range u.Subscriptions {
		_, err := s.exec(ctx,
			`INSERT INTO user_subscriptions (user_id, position, plan_id, stripe_subscription_id, start_date, end_date, is_expired)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, i, sub.PlanID, sub.StripeSubscriptionID, sub.StartDate.UTC(), sub.EndDate.UTC(), sub.IsExpired,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Property queries

const propertyColumns = `id, title, image, status, created_by, is_boosted, created_at`

// CreateProperty inserts a listing with its boosts
func (s *SQLStore) CreateProperty(ctx context.Context, p *models.Property) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = models.PropertyStatusDraft
	}
	return s.atomically(ctx, func(tx *SQLStore) error {
		_, err := tx.exec(ctx,
			`INSERT INTO properties (`+propertyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Title, p.Image, p.Status, p.CreatedBy, p.IsBoosted, p.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		for i, b := range p.Boosts {
			if err := tx.insertBoost(ctx, p.ID, i, b); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetProperty retrieves a listing and its boosts
func (s *SQLStore) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	p := &models.Property{}
	if err := s.get(ctx, p, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := s.sel(ctx, &p.Boosts,
		`SELECT plan_id, expiry_date FROM property_boosts WHERE property_id = ? ORDER BY position`, id); err != nil {
		return nil, err
	}
	return p, nil
}

// PropertySummaries returns listing display fields keyed by property id
func (s *SQLStore) PropertySummaries(ctx context.Context, ids []string) (map[string]models.PropertySummary, error) {
	out := make(map[string]models.PropertySummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.PropertySummary
	err := s.selIn(ctx, &rows, `SELECT id, title, image, status, created_by FROM properties WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// CountPropertiesByStatus counts a user's listings in one status
func (s *SQLStore) CountPropertiesByStatus(ctx context.Context, userID string, status models.PropertyStatus) (int, error) {
	var n int
	err := s.get(ctx, &n, `SELECT COUNT(*) FROM properties WHERE created_by = ? AND status = ?`, userID, status)
	return n, err
}

// AddPropertyBoost appends a boost and flags the listing as boosted
func (s *SQLStore) AddPropertyBoost(ctx context.Context, propertyID string, boost models.PropertyBoost) error {
	return s.atomically(ctx, func(tx *SQLStore) error {
		n, err := tx.exec(ctx, `UPDATE properties SET is_boosted = ? WHERE id = ?`, true, propertyID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		var next int
		if err := tx.get(ctx, &next,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM property_boosts WHERE property_id = ?`, propertyID); err != nil {
			return err
		}
		return tx.insertBoost(ctx, propertyID, next, boost)
	})
}

func (s *SQLStore) insertBoost(ctx context.Context, propertyID string, position int, b models.PropertyBoost) error {
	_, err := s.exec(ctx,
		`INSERT INTO property_boosts (property_id, position, plan_id, expiry_date) VALUES (?, ?, ?, ?)`,
		propertyID, position, b.PlanID, b.ExpiryDate.UTC(),
	)
	return err
}

// ActivateDraftProperties activates Draft listings up to the user's headroom
func (s *SQLStore) ActivateDraftProperties(ctx context.Context, userID string, limit int) (int, error) {
	activated := 0
	err := s.atomically(ctx, func(tx *SQLStore) error {
		if tx.isPostgres() {
			// Serialise concurrent activations for the same owner.
			var locked string
			if err := tx.get(ctx, &locked, `SELECT id FROM users WHERE id = ? FOR UPDATE`, userID); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		active, err := tx.CountPropertiesByStatus(ctx, userID, models.PropertyStatusActive)
		if err != nil {
			return err
		}
		headroom := limit - active
		if headroom <= 0 {
			return nil
		}

		var ids []string
		if err := tx.sel(ctx, &ids,
			`SELECT id FROM properties WHERE created_by = ? AND status = ?
			ORDER BY created_at, id LIMIT ?`,
			userID, models.PropertyStatusDraft, headroom); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		n, err := tx.execIn(ctx,
			`UPDATE properties SET status = ? WHERE id IN (?) AND status = ?`,
			models.PropertyStatusActive, ids, models.PropertyStatusDraft)
		if err != nil {
			return err
		}
		activated = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return activated, nil
}
