package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"estatehub/models"
)

// CreateSubscriptionPlan inserts a subscription plan
func (s *MongoStore) CreateSubscriptionPlan(ctx context.Context, p *models.SubscriptionPlan) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return s.insert(ctx, colSubscriptionPlans, p)
}

// GetSubscriptionPlan retrieves a subscription plan by its ID
func (s *MongoStore) GetSubscriptionPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	p := &models.SubscriptionPlan{}
	if err := s.findOne(ctx, colSubscriptionPlans, bson.M{"_id": id}, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateBannerPlan inserts a banner plan
func (s *MongoStore) CreateBannerPlan(ctx context.Context, p *models.PromotionPlan) error {
	return s.createPromotionPlan(ctx, colBannerPlans, p)
}

// GetBannerPlan retrieves a banner plan by its ID
func (s *MongoStore) GetBannerPlan(ctx context.Context, id string) (*models.PromotionPlan, error) {
	return s.getPromotionPlan(ctx, colBannerPlans, id)
}

// CreateBoostPlan inserts a boost plan
func (s *MongoStore) CreateBoostPlan(ctx context.Context, p *models.PromotionPlan) error {
	return s.createPromotionPlan(ctx, colBoostPlans, p)
}

// GetBoostPlan retrieves a boost plan by its ID
func (s *MongoStore) GetBoostPlan(ctx context.Context, id string) (*models.PromotionPlan, error) {
	return s.getPromotionPlan(ctx, colBoostPlans, id)
}

func (s *MongoStore) createPromotionPlan(ctx context.Context, col string, p *models.PromotionPlan) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return s.insert(ctx, col, p)
}

func (s *MongoStore) getPromotionPlan(ctx context.Context, col, id string) (*models.PromotionPlan, error) {
	p := &models.PromotionPlan{}
	if err := s.findOne(ctx, col, bson.M{"_id": id}, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateBanner inserts a banner
func (s *MongoStore) CreateBanner(ctx context.Context, b *models.Banner) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return s.insert(ctx, colBanners, b)
}

// GetBanner retrieves a banner by its ID
func (s *MongoStore) GetBanner(ctx context.Context, id string) (*models.Banner, error) {
	b := &models.Banner{}
	if err := s.findOne(ctx, colBanners, bson.M{"_id": id}, b); err != nil {
		return nil, err
	}
	return b, nil
}

// MarkBannerPaid flags a banner as paid until expiry
func (s *MongoStore) MarkBannerPaid(ctx context.Context, id, planID string, expiry time.Time) error {
	res, err := s.col(colBanners).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"is_paid":     true,
		"plan_id":     planID,
		"expiry_date": expiry.UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePaymentHistory inserts a ledger document
func (s *MongoStore) CreatePaymentHistory(ctx context.Context, p *models.PaymentHistory) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	return s.insert(ctx, colPaymentHistories, p)
}

// FindPaymentByIntent retrieves the ledger document for a payment intent
func (s *MongoStore) FindPaymentByIntent(ctx context.Context, paymentIntentID string) (*models.PaymentHistory, error) {
	return s.findPayment(ctx, "payment_intent_id", paymentIntentID)
}

// FindPaymentByInvoice retrieves the ledger document for an invoice
func (s *MongoStore) FindPaymentByInvoice(ctx context.Context, invoiceID string) (*models.PaymentHistory, error) {
	return s.findPayment(ctx, "invoice_id", invoiceID)
}

// FindPaymentBySubscription retrieves the newest ledger document for a subscription
func (s *MongoStore) FindPaymentBySubscription(ctx context.Context, subscriptionID string) (*models.PaymentHistory, error) {
	return s.findPayment(ctx, "subscription_id", subscriptionID)
}

func (s *MongoStore) findPayment(ctx context.Context, field, value string) (*models.PaymentHistory, error) {
	if value == "" {
		return nil, ErrNotFound
	}
	p := &models.PaymentHistory{}
	err := s.findOne(ctx, colPaymentHistories, bson.M{field: value}, p,
		options.FindOne().SetSort(newestFirst))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ClaimPayment conditionally moves a ledger document to succeeded
func (s *MongoStore) ClaimPayment(ctx context.Context, id string, claim models.PaymentClaim) error {
	set := bson.M{
		"status":     models.PaymentStatusSucceeded,
		"updated_at": time.Now().UTC(),
	}
	if claim.PaymentIntentID != "" {
		set["payment_intent_id"] = claim.PaymentIntentID
	}
	if claim.InvoiceID != "" {
		set["invoice_id"] = claim.InvoiceID
	}
	if claim.AmountMinor != 0 {
		set["amount_minor"] = claim.AmountMinor
	}
	if claim.Currency != "" {
		set["currency"] = claim.Currency
	}

	res, err := s.col(colPaymentHistories).UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$ne": models.PaymentStatusSucceeded}},
		bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.col(colPaymentHistories).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrAlreadyClaimed
}
