package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"estatehub/database"
	"estatehub/models"
	"estatehub/payment"
)

// StartSubscription opens a processor subscription for the plan and records
// a pending payment that the invoice webhook later settles.
func (r *Reconciler) StartSubscription(ctx context.Context, userID string, req models.SubscriptionCheckoutRequest) (*models.CheckoutResponse, error) {
	if err := r.checkRequest(userID, req); err != nil {
		return nil, err
	}

	plan, err := r.store.GetSubscriptionPlan(ctx, req.PlanID)
	if err != nil {
		return nil, fmt.Errorf("subscription plan %s: %w", req.PlanID, err)
	}
	if plan.StripePriceID == "" {
		return nil, fmt.Errorf("plan %s is not purchasable: %w", plan.ID, models.ErrInvalidArgument)
	}

	customerID, err := r.ensureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	sub, err := r.gateway.CreateSubscription(ctx, payment.SubscriptionRequest{
		CustomerID: customerID,
		PriceID:    plan.StripePriceID,
		Metadata: map[string]string{
			payment.MetaType:   string(models.PaymentEntitySubscription),
			payment.MetaUserID: userID,
			payment.MetaPlanID: plan.ID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	row := &models.PaymentHistory{
		ID:               uuid.Must(uuid.NewV7()).String(),
		UserID:           userID,
		EntityType:       models.PaymentEntitySubscription,
		EntityID:         plan.ID,
		PlanID:           plan.ID,
		StripeCustomerID: customerID,
		SubscriptionID:   sub.ID,
		InvoiceID:        sub.LatestInvoiceID,
		AmountMinor:      plan.PriceMinor,
		Currency:         plan.Currency,
		Status:           models.PaymentStatusPending,
	}
	if err := r.store.CreatePaymentHistory(ctx, row); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	r.logger.Info("subscription checkout started",
		zap.String("user_id", userID),
		zap.String("plan_id", plan.ID),
		zap.String("subscription_id", sub.ID),
	)
	return &models.CheckoutResponse{
		PaymentHistoryID: row.ID,
		ClientSecret:     sub.ClientSecret,
		SubscriptionID:   sub.ID,
		EntityID:         plan.ID,
		Amount:           plan.Price(),
		Currency:         plan.Currency,
	}, nil
}

// PurchaseBanner creates an unpaid banner and a payment intent for it. The
// banner goes live when the intent succeeds.
func (r *Reconciler) PurchaseBanner(ctx context.Context, userID string, req models.BannerCheckoutRequest) (*models.CheckoutResponse, error) {
	if err := r.checkRequest(userID, req); err != nil {
		return nil, err
	}

	plan, err := r.store.GetBannerPlan(ctx, req.PlanID)
	if err != nil {
		return nil, fmt.Errorf("banner plan %s: %w", req.PlanID, err)
	}

	banner := &models.Banner{
		ID:     uuid.Must(uuid.NewV7()).String(),
		UserID: userID,
		Title:  req.Title,
		Image:  req.Image,
		PlanID: plan.ID,
	}
	if err := r.store.CreateBanner(ctx, banner); err != nil {
		return nil, fmt.Errorf("save banner: %w", err)
	}

	return r.startPromotion(ctx, userID, models.PaymentEntityBanner, banner.ID, payment.MetaBannerID, plan)
}

// PurchaseBoost starts the payment for boosting one of the caller's listings
func (r *Reconciler) PurchaseBoost(ctx context.Context, userID string, req models.BoostCheckoutRequest) (*models.CheckoutResponse, error) {
	if err := r.checkRequest(userID, req); err != nil {
		return nil, err
	}

	prop, err := r.store.GetProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", req.PropertyID, err)
	}
	if prop.CreatedBy != userID {
		return nil, fmt.Errorf("property %s belongs to another user: %w", prop.ID, models.ErrForbidden)
	}
	plan, err := r.store.GetBoostPlan(ctx, req.PlanID)
	if err != nil {
		return nil, fmt.Errorf("boost plan %s: %w", req.PlanID, err)
	}

	return r.startPromotion(ctx, userID, models.PaymentEntityBoost, prop.ID, payment.MetaPropertyID, plan)
}

func (r *Reconciler) startPromotion(ctx context.Context, userID string, kind models.PaymentEntityType, entityID, entityKey string,
	plan *models.PromotionPlan) (*models.CheckoutResponse, error) {
	customerID, err := r.ensureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	pi, err := r.gateway.CreatePaymentIntent(ctx, payment.PaymentIntentRequest{
		CustomerID:  customerID,
		AmountMinor: plan.PriceMinor,
		Currency:    plan.Currency,
		Metadata: map[string]string{
			payment.MetaType:   string(kind),
			payment.MetaUserID: userID,
			payment.MetaPlanID: plan.ID,
			entityKey:          entityID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	row := &models.PaymentHistory{
		ID:               uuid.Must(uuid.NewV7()).String(),
		UserID:           userID,
		EntityType:       kind,
		EntityID:         entityID,
		PlanID:           plan.ID,
		StripeCustomerID: customerID,
		PaymentIntentID:  pi.ID,
		AmountMinor:      plan.PriceMinor,
		Currency:         plan.Currency,
		Status:           models.PaymentStatusPending,
	}
	if err := r.store.CreatePaymentHistory(ctx, row); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	r.logger.Info("promotion checkout started",
		zap.String("type", string(kind)),
		zap.String("user_id", userID),
		zap.String("entity_id", entityID),
		zap.String("payment_intent_id", pi.ID),
	)
	return &models.CheckoutResponse{
		PaymentHistoryID: row.ID,
		ClientSecret:     pi.ClientSecret,
		PaymentIntentID:  pi.ID,
		EntityID:         entityID,
		Amount:           plan.Price(),
		Currency:         plan.Currency,
	}, nil
}

// ensureCustomer returns the user's processor customer, creating and
// saving one on first purchase.
func (r *Reconciler) ensureCustomer(ctx context.Context, userID string) (string, error) {
	u, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("user %s: %w", userID, err)
	}
	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}

	unlock, err := r.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return "", fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	// Re-read under the lock; a concurrent checkout may have won.
	u, err = r.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("user %s: %w", userID, err)
	}
	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}

	customerID, err := r.gateway.CreateCustomer(ctx, payment.CustomerRequest{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Name,
	})
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}

	err = r.store.InTx(ctx, func(ctx context.Context, tx database.Store) error {
		cur, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		cur.StripeCustomerID = customerID
		return tx.SaveEntitlements(ctx, cur)
	})
	if err != nil {
		return "", fmt.Errorf("save customer: %w", err)
	}
	return customerID, nil
}

func (r *Reconciler) checkRequest(userID string, req interface{}) error {
	if err := r.validate.Var(userID, "required,uuid"); err != nil {
		return fmt.Errorf("userId must be a uuid: %w", models.ErrInvalidArgument)
	}
	if err := r.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s failed %q: %w", verrs[0].Field(), verrs[0].Tag(), models.ErrInvalidArgument)
		}
		return fmt.Errorf("%v: %w", err, models.ErrInvalidArgument)
	}
	return nil
}
