package database

import (
	"context"
	"time"

	"estatehub/models"
)

// Plan queries

// CreateSubscriptionPlan inserts a subscription plan
func (s *SQLStore) CreateSubscriptionPlan(ctx context.Context, p *models.SubscriptionPlan) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO subscription_plans (id, name, price_minor, currency, duration_months, stripe_price_id, property_limit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.PriceMinor, p.Currency, p.DurationMonths, p.StripePriceID, p.PropertyLimit, p.CreatedAt.UTC())
	return err
}

// GetSubscriptionPlan retrieves a subscription plan by its ID
func (s *SQLStore) GetSubscriptionPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	p := &models.SubscriptionPlan{}
	err := s.get(ctx, p,
		`SELECT id, name, price_minor, currency, duration_months, stripe_price_id, property_limit, created_at
		FROM subscription_plans WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateBannerPlan inserts a banner plan
func (s *SQLStore) CreateBannerPlan(ctx context.Context, p *models.PromotionPlan) error {
	return s.createPromotionPlan(ctx, "banner_plans", p)
}

// GetBannerPlan retrieves a banner plan by its ID
func (s *SQLStore) GetBannerPlan(ctx context.Context, id string) (*models.PromotionPlan, error) {
	return s.getPromotionPlan(ctx, "banner_plans", id)
}

// CreateBoostPlan inserts a boost plan
func (s *SQLStore) CreateBoostPlan(ctx context.Context, p *models.PromotionPlan) error {
	return s.createPromotionPlan(ctx, "boost_plans", p)
}

// GetBoostPlan retrieves a boost plan by its ID
func (s *SQLStore) GetBoostPlan(ctx context.Context, id string) (*models.PromotionPlan, error) {
	return s.getPromotionPlan(ctx, "boost_plans", id)
}

func (s *SQLStore) createPromotionPlan(ctx context.Context, table string, p *models.PromotionPlan) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO `+table+` (id, name, price_minor, currency, duration_days, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.PriceMinor, p.Currency, p.DurationDays, p.CreatedAt.UTC())
	return err
}

func (s *SQLStore) getPromotionPlan(ctx context.Context, table, id string) (*models.PromotionPlan, error) {
	p := &models.PromotionPlan{}
	err := s.get(ctx, p,
		`SELECT id, name, price_minor, currency, duration_days, created_at FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Banner queries

// CreateBanner inserts a banner
func (s *SQLStore) CreateBanner(ctx context.Context, b *models.Banner) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO banners (id, user_id, title, image, plan_id, is_paid, expiry_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Title, b.Image, b.PlanID, b.IsPaid, b.ExpiryDate, b.CreatedAt.UTC())
	return err
}

// GetBanner retrieves a banner by its ID
func (s *SQLStore) GetBanner(ctx context.Context, id string) (*models.Banner, error) {
	b := &models.Banner{}
	err := s.get(ctx, b,
		`SELECT id, user_id, title, image, plan_id, is_paid, expiry_date, created_at FROM banners WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// MarkBannerPaid flags a banner as paid until expiry
func (s *SQLStore) MarkBannerPaid(ctx context.Context, id, planID string, expiry time.Time) error {
	n, err := s.exec(ctx,
		`UPDATE banners SET is_paid = ?, plan_id = ?, expiry_date = ? WHERE id = ?`,
		true, planID, expiry.UTC(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Payment history queries

const paymentColumns = `id, user_id, entity_type, entity_id, plan_id, stripe_customer_id,
	COALESCE(payment_intent_id, '') AS payment_intent_id,
	COALESCE(subscription_id, '') AS subscription_id,
	COALESCE(invoice_id, '') AS invoice_id,
	amount_minor, currency, status, created_at, updated_at`

// CreatePaymentHistory inserts a ledger row
func (s *SQLStore) CreatePaymentHistory(ctx context.Context, p *models.PaymentHistory) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	_, err := s.exec(ctx,
		`INSERT INTO payment_histories (id, user_id, entity_type, entity_id, plan_id, stripe_customer_id,
			payment_intent_id, subscription_id, invoice_id, amount_minor, currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.EntityType, p.EntityID, p.PlanID, p.StripeCustomerID,
		nullable(p.PaymentIntentID), nullable(p.SubscriptionID), nullable(p.InvoiceID),
		p.AmountMinor, p.Currency, p.Status, p.CreatedAt.UTC(), p.UpdatedAt)
	return err
}

// FindPaymentByIntent retrieves the ledger row for a payment intent
func (s *SQLStore) FindPaymentByIntent(ctx context.Context, paymentIntentID string) (*models.PaymentHistory, error) {
	return s.findPayment(ctx, `payment_intent_id = ?`, paymentIntentID)
}

// FindPaymentByInvoice retrieves the ledger row for an invoice
func (s *SQLStore) FindPaymentByInvoice(ctx context.Context, invoiceID string) (*models.PaymentHistory, error) {
	return s.findPayment(ctx, `invoice_id = ?`, invoiceID)
}

// FindPaymentBySubscription retrieves the newest ledger row for a subscription
func (s *SQLStore) FindPaymentBySubscription(ctx context.Context, subscriptionID string) (*models.PaymentHistory, error) {
	return s.findPayment(ctx, `subscription_id = ?`, subscriptionID)
}

func (s *SQLStore) findPayment(ctx context.Context, where string, arg string) (*models.PaymentHistory, error) {
	if arg == "" {
		return nil, ErrNotFound
	}
	p := &models.PaymentHistory{}
	err := s.get(ctx, p,
		`SELECT `+paymentColumns+` FROM payment_histories WHERE `+where+`
		ORDER BY created_at DESC, id DESC LIMIT 1`, arg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ClaimPayment conditionally moves a ledger row to succeeded
func (s *SQLStore) ClaimPayment(ctx context.Context, id string, claim models.PaymentClaim) error {
	return s.atomically(ctx, func(tx *SQLStore) error {
		n, err := tx.exec(ctx,
			`UPDATE payment_histories SET
				status = ?,
				payment_intent_id = COALESCE(?, payment_intent_id),
				invoice_id = COALESCE(?, invoice_id),
				amount_minor = COALESCE(?, amount_minor),
				currency = COALESCE(?, currency),
				updated_at = ?
			WHERE id = ? AND status <> ?`,
			models.PaymentStatusSucceeded,
			nullable(claim.PaymentIntentID), nullable(claim.InvoiceID),
			nullableInt(claim.AmountMinor), nullable(claim.Currency),
			time.Now().UTC(), id, models.PaymentStatusSucceeded)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		var status string
		if err := tx.get(ctx, &status, `SELECT status FROM payment_histories WHERE id = ?`, id); err != nil {
			return err
		}
		return ErrAlreadyClaimed
	})
}
