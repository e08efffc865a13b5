package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"estatehub/database"
	"estatehub/locks"
	"estatehub/metrics"
	"estatehub/models"
	"estatehub/notify"
	"estatehub/payment"
)

// Outcomes recorded per webhook event
const (
	outcomeApplied      = "applied"
	outcomeDuplicate    = "duplicate"
	outcomeIgnored      = "ignored"
	outcomeUnresolvable = "unresolvable"
	outcomeFailed       = "failed"
)

// Reconciler turns verified payment events into entitlement changes. Each
// grant commits in the same transaction as the pending to succeeded move of
// its PaymentHistory row, so a redelivered event grants nothing.
type Reconciler struct {
	store     database.Store
	gateway   payment.Gateway
	locker    locks.Locker
	publisher notify.Publisher
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(store database.Store, gateway payment.Gateway, locker locks.Locker, publisher notify.Publisher,
	validate *validator.Validate, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		gateway:   gateway,
		locker:    locker,
		publisher: publisher,
		validate:  validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IsPermanent reports whether err can never succeed on redelivery. The
// webhook acknowledges such events instead of asking for a retry.
func IsPermanent(err error) bool {
	return errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidArgument)
}

// errDuplicate marks an event whose payment already succeeded
var errDuplicate = errors.New("payment already reconciled")

// errInvoiceIntent marks an untagged intent that pays a subscription invoice.
// The invoice events carry the grant.
var errInvoiceIntent = errors.New("payment intent settles an invoice")

// HandleEvent dispatches a verified event. A nil error means the event is
// fully handled, including duplicates and event types we do not act on.
func (r *Reconciler) HandleEvent(ctx context.Context, evt *payment.Event) error {
	var err error
	switch {
	case evt.Type == payment.EventPaymentIntentSucceeded && evt.PaymentIntent != nil:
		err = r.HandlePaymentIntentSucceeded(ctx, evt.PaymentIntent)
	case (evt.Type == payment.EventInvoicePaymentSucceeded || evt.Type == payment.EventInvoicePaid) && evt.Invoice != nil:
		err = r.HandleInvoicePaymentSucceeded(ctx, evt.Invoice)
	case evt.Type == payment.EventPaymentIntentFailed && evt.PaymentIntent != nil:
		r.logger.Warn("payment failed",
			zap.String("event_id", evt.ID),
			zap.String("payment_intent_id", evt.PaymentIntent.ID),
			zap.String("user_id", evt.PaymentIntent.Metadata[payment.MetaUserID]),
		)
		metrics.WebhookEvents.WithLabelValues(evt.Type, outcomeIgnored).Inc()
		return nil
	default:
		r.logger.Debug("webhook event ignored", zap.String("event_id", evt.ID), zap.String("type", evt.Type))
		metrics.WebhookEvents.WithLabelValues(evt.Type, outcomeIgnored).Inc()
		return nil
	}

	switch {
	case err == nil:
		metrics.WebhookEvents.WithLabelValues(evt.Type, outcomeApplied).Inc()
	case errors.Is(err, errDuplicate):
		metrics.WebhookEvents.WithLabelValues(evt.Type, outcomeDuplicate).Inc()
		r.logger.Info("duplicate webhook event", zap.String("event_id", evt.ID), zap.String("type", evt.Type))
		return nil
	case errors.Is(err, errInvoiceIntent):
		metrics.WebhookEvents.WithLabelValues(evt.Type, outcomeIgnored).Inc()
		r.logger.Debug("invoice payment intent left to invoice events",
			zap.String("event_id", evt.ID),
			zap.String("payment_intent_id", evt.PaymentIntent.ID),
			zap.String("invoice_id", evt.PaymentIntent.InvoiceID),
		)
		return nil
	case IsPermanent(err):
		metrics.WebhookEvents.WithLabelValues(evt.Type, outcomeUnresolvable).Inc()
	default:
		metrics.WebhookEvents.WithLabelValues(evt.Type, outcomeFailed).Inc()
	}
	return err
}

// HandlePaymentIntentSucceeded grants what a one-off payment bought. The
// intent metadata names the purchase type.
func (r *Reconciler) HandlePaymentIntentSucceeded(ctx context.Context, pi *payment.PaymentIntent) error {
	if pi.ID == "" {
		return fmt.Errorf("payment intent without id: %w", models.ErrInvalidArgument)
	}

	switch models.PaymentEntityType(pi.Metadata[payment.MetaType]) {
	case models.PaymentEntityBanner:
		return r.grantPromotion(ctx, pi, models.PaymentEntityBanner, pi.Metadata[payment.MetaBannerID])
	case models.PaymentEntityBoost:
		return r.grantPromotion(ctx, pi, models.PaymentEntityBoost, pi.Metadata[payment.MetaPropertyID])
	case models.PaymentEntitySubscription:
		return r.paymentIntentForSubscription(ctx, pi)
	case "":
		if pi.InvoiceID != "" {
			return errInvoiceIntent
		}
		return fmt.Errorf("payment intent %s has no type: %w", pi.ID, models.ErrInvalidArgument)
	default:
		return fmt.Errorf("payment intent %s has unknown type %q: %w", pi.ID, pi.Metadata[payment.MetaType], models.ErrInvalidArgument)
	}
}

// grantPromotion marks a banner paid or boosts a listing
func (r *Reconciler) grantPromotion(ctx context.Context, pi *payment.PaymentIntent, kind models.PaymentEntityType, metaEntityID string) error {
	userID := pi.Metadata[payment.MetaUserID]
	if err := r.validate.Var(userID, "required,uuid"); err != nil {
		return fmt.Errorf("payment intent %s: userId metadata: %w", pi.ID, models.ErrInvalidArgument)
	}

	unlock, err := r.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	var evt notify.Event
	err = r.store.InTx(ctx, func(ctx context.Context, tx database.Store) error {
		row, err := tx.FindPaymentByIntent(ctx, pi.ID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			row = &models.PaymentHistory{
				ID:               uuid.Must(uuid.NewV7()).String(),
				UserID:           userID,
				EntityType:       kind,
				EntityID:         metaEntityID,
				PlanID:           pi.Metadata[payment.MetaPlanID],
				StripeCustomerID: pi.CustomerID,
				PaymentIntentID:  pi.ID,
				AmountMinor:      pi.AmountMinor,
				Currency:         pi.Currency,
				Status:           models.PaymentStatusPending,
			}
			if err := tx.CreatePaymentHistory(ctx, row); err != nil {
				return fmt.Errorf("record payment: %w", err)
			}
		case err != nil:
			return fmt.Errorf("find payment %s: %w", pi.ID, err)
		case row.Status == models.PaymentStatusSucceeded:
			return errDuplicate
		}

		if err := r.claim(ctx, tx, row, models.PaymentClaim{
			PaymentIntentID: pi.ID,
			InvoiceID:       pi.InvoiceID,
			AmountMinor:     pi.AmountMinor,
			Currency:        pi.Currency,
		}); err != nil {
			return err
		}

		// The checkout row is authoritative; metadata only fills gaps.
		entityID := firstNonEmpty(row.EntityID, metaEntityID)
		planID := firstNonEmpty(row.PlanID, pi.Metadata[payment.MetaPlanID])
		if entityID == "" || planID == "" {
			return fmt.Errorf("payment intent %s names no %s or plan: %w", pi.ID, kind, models.ErrInvalidArgument)
		}

		if kind == models.PaymentEntityBanner {
			evt, err = r.applyBanner(ctx, tx, row.UserID, entityID, planID)
		} else {
			evt, err = r.applyBoost(ctx, tx, row.UserID, entityID, planID)
		}
		return err
	})
	if err != nil {
		return err
	}

	r.publish(ctx, evt)
	r.logger.Info("promotion granted",
		zap.String("type", string(kind)),
		zap.String("payment_intent_id", pi.ID),
		zap.String("user_id", userID),
	)
	return nil
}

func (r *Reconciler) applyBanner(ctx context.Context, tx database.Store, userID, bannerID, planID string) (notify.Event, error) {
	plan, err := tx.GetBannerPlan(ctx, planID)
	if err != nil {
		return notify.Event{}, fmt.Errorf("banner plan %s: %w", planID, err)
	}
	if _, err := tx.GetBanner(ctx, bannerID); err != nil {
		return notify.Event{}, fmt.Errorf("banner %s: %w", bannerID, err)
	}
	now := r.now()
	expiry := now.AddDate(0, 0, plan.DurationDays)
	if err := tx.MarkBannerPaid(ctx, bannerID, plan.ID, expiry); err != nil {
		return notify.Event{}, fmt.Errorf("mark banner %s paid: %w", bannerID, err)
	}
	return notify.Event{
		Type:       notify.EventBannerPaid,
		UserID:     userID,
		Data:       map[string]interface{}{"bannerId": bannerID, "planId": plan.ID, "expiryDate": expiry},
		OccurredAt: now,
	}, nil
}

func (r *Reconciler) applyBoost(ctx context.Context, tx database.Store, userID, propertyID, planID string) (notify.Event, error) {
	plan, err := tx.GetBoostPlan(ctx, planID)
	if err != nil {
		return notify.Event{}, fmt.Errorf("boost plan %s: %w", planID, err)
	}
	now := r.now()
	boost := models.PropertyBoost{PlanID: plan.ID, ExpiryDate: now.AddDate(0, 0, plan.DurationDays)}
	if err := tx.AddPropertyBoost(ctx, propertyID, boost); err != nil {
		return notify.Event{}, fmt.Errorf("boost property %s: %w", propertyID, err)
	}
	return notify.Event{
		Type:       notify.EventPropertyBoosted,
		UserID:     userID,
		Data:       map[string]interface{}{"propertyId": propertyID, "planId": plan.ID, "expiryDate": boost.ExpiryDate},
		OccurredAt: now,
	}, nil
}

// paymentIntentForSubscription reconciles the intent that paid a
// subscription invoice. The invoice event for the same payment finds the
// row already claimed and becomes a no-op, and so does this one when the
// invoice event wins.
func (r *Reconciler) paymentIntentForSubscription(ctx context.Context, pi *payment.PaymentIntent) error {
	p := subscriptionPayment{
		PaymentIntentID: pi.ID,
		InvoiceID:       pi.InvoiceID,
		CustomerID:      pi.CustomerID,
		AmountMinor:     pi.AmountMinor,
		Currency:        pi.Currency,
		UserID:          pi.Metadata[payment.MetaUserID],
		PlanID:          pi.Metadata[payment.MetaPlanID],
	}
	if pi.InvoiceID != "" {
		inv, err := r.gateway.GetInvoice(ctx, pi.InvoiceID)
		if err != nil {
			return fmt.Errorf("invoice %s: %w", pi.InvoiceID, err)
		}
		p.SubscriptionID = inv.SubscriptionID
	}
	return r.reconcileSubscription(ctx, p)
}

// HandleInvoicePaymentSucceeded grants the plan a paid subscription invoice
// covers, first purchase or renewal alike.
func (r *Reconciler) HandleInvoicePaymentSucceeded(ctx context.Context, inv *payment.Invoice) error {
	if inv.SubscriptionID == "" {
		return fmt.Errorf("invoice %s has no subscription: %w", inv.ID, models.ErrInvalidArgument)
	}
	return r.reconcileSubscription(ctx, subscriptionPayment{
		SubscriptionID:  inv.SubscriptionID,
		InvoiceID:       inv.ID,
		PaymentIntentID: inv.PaymentIntentID,
		CustomerID:      inv.CustomerID,
		AmountMinor:     inv.AmountPaidMinor,
		Currency:        inv.Currency,
	})
}

// subscriptionPayment is what either event kind knows about a paid
// subscription period
type subscriptionPayment struct {
	SubscriptionID  string
	InvoiceID       string
	PaymentIntentID string
	CustomerID      string
	AmountMinor     int64
	Currency        string
	UserID          string
	PlanID          string
}

func (r *Reconciler) reconcileSubscription(ctx context.Context, p subscriptionPayment) error {
	if err := r.resolveOwner(ctx, &p); err != nil {
		return err
	}

	unlock, err := r.locker.Lock(ctx, userLockKey(p.UserID))
	if err != nil {
		return fmt.Errorf("lock user %s: %w", p.UserID, err)
	}
	defer unlock()

	var (
		user      *models.User
		activated int
	)
	err = r.store.InTx(ctx, func(ctx context.Context, tx database.Store) error {
		row, err := r.subscriptionRow(ctx, tx, p)
		if err != nil {
			return err
		}
		if err := r.claim(ctx, tx, row, models.PaymentClaim{
			PaymentIntentID: p.PaymentIntentID,
			InvoiceID:       p.InvoiceID,
			AmountMinor:     p.AmountMinor,
			Currency:        p.Currency,
		}); err != nil {
			return err
		}

		u, err := tx.GetUser(ctx, p.UserID)
		if err != nil {
			return fmt.Errorf("user %s: %w", p.UserID, err)
		}
		plan, err := tx.GetSubscriptionPlan(ctx, p.PlanID)
		if err != nil {
			return fmt.Errorf("subscription plan %s: %w", p.PlanID, err)
		}

		ManageSubscription(u, plan, p.SubscriptionID, r.now())
		if u.StripeCustomerID == "" {
			u.StripeCustomerID = p.CustomerID
		}
		if err := tx.SaveEntitlements(ctx, u); err != nil {
			return fmt.Errorf("save entitlements: %w", err)
		}

		activated, err = r.activateDraftProperties(ctx, tx, u)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return err
	}

	metrics.DraftActivations.Add(float64(activated))
	now := r.now()
	r.publish(ctx, notify.Event{
		Type:   notify.EventSubscriptionActivated,
		UserID: user.ID,
		Data: map[string]interface{}{
			"planId":         p.PlanID,
			"subscriptionId": p.SubscriptionID,
			"propertyLimit":  user.PropertyLimit,
		},
		OccurredAt: now,
	})
	if activated > 0 {
		r.publish(ctx, notify.Event{
			Type:       notify.EventPropertiesActivated,
			UserID:     user.ID,
			Data:       map[string]interface{}{"count": activated},
			OccurredAt: now,
		})
	}
	r.logger.Info("subscription reconciled",
		zap.String("user_id", user.ID),
		zap.String("plan_id", p.PlanID),
		zap.String("subscription_id", p.SubscriptionID),
		zap.String("invoice_id", p.InvoiceID),
		zap.Int("property_limit", user.PropertyLimit),
		zap.Int("activated", activated),
	)
	return nil
}

// resolveOwner fills the user and plan from the subscription's checkout
// row, falling back to the processor's subscription metadata.
func (r *Reconciler) resolveOwner(ctx context.Context, p *subscriptionPayment) error {
	if p.UserID == "" || p.PlanID == "" {
		if p.SubscriptionID != "" {
			row, err := r.store.FindPaymentBySubscription(ctx, p.SubscriptionID)
			switch {
			case err == nil:
				p.UserID = firstNonEmpty(p.UserID, row.UserID)
				p.PlanID = firstNonEmpty(p.PlanID, row.PlanID)
			case !errors.Is(err, models.ErrNotFound):
				return fmt.Errorf("find subscription payment %s: %w", p.SubscriptionID, err)
			}
		}
	}
	if (p.UserID == "" || p.PlanID == "") && p.SubscriptionID != "" {
		sub, err := r.gateway.GetSubscription(ctx, p.SubscriptionID)
		if err != nil {
			return fmt.Errorf("subscription %s: %w", p.SubscriptionID, err)
		}
		p.UserID = firstNonEmpty(p.UserID, sub.Metadata[payment.MetaUserID])
		p.PlanID = firstNonEmpty(p.PlanID, sub.Metadata[payment.MetaPlanID])
		p.CustomerID = firstNonEmpty(p.CustomerID, sub.CustomerID)
	}
	if p.UserID == "" || p.PlanID == "" {
		return fmt.Errorf("no user and plan for subscription %q: %w", p.SubscriptionID, models.ErrNotFound)
	}
	if r.validate.Var(p.UserID, "uuid") != nil || r.validate.Var(p.PlanID, "uuid") != nil {
		return fmt.Errorf("malformed user or plan for subscription %q: %w", p.SubscriptionID, models.ErrInvalidArgument)
	}
	return nil
}

// subscriptionRow finds the PaymentHistory row this payment settles. A row
// already succeeded under the same intent or invoice makes the event a
// duplicate; a succeeded row for the subscription with another invoice is
// an earlier period, so a renewal gets a row of its own.
func (r *Reconciler) subscriptionRow(ctx context.Context, tx database.Store, p subscriptionPayment) (*models.PaymentHistory, error) {
	lookups := []struct {
		key  string
		find func(context.Context, string) (*models.PaymentHistory, error)
	}{
		{p.PaymentIntentID, tx.FindPaymentByIntent},
		{p.InvoiceID, tx.FindPaymentByInvoice},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		row, err := l.find(ctx, l.key)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find payment %s: %w", l.key, err)
		}
		if row.Status == models.PaymentStatusSucceeded {
			return nil, errDuplicate
		}
		return row, nil
	}

	if p.SubscriptionID != "" {
		row, err := tx.FindPaymentBySubscription(ctx, p.SubscriptionID)
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("find subscription payment %s: %w", p.SubscriptionID, err)
		case row.Status != models.PaymentStatusSucceeded && row.PaymentIntentID == "":
			return row, nil
		}
	}

	row := &models.PaymentHistory{
		ID:               uuid.Must(uuid.NewV7()).String(),
		UserID:           p.UserID,
		EntityType:       models.PaymentEntitySubscription,
		EntityID:         p.PlanID,
		PlanID:           p.PlanID,
		StripeCustomerID: p.CustomerID,
		SubscriptionID:   p.SubscriptionID,
		AmountMinor:      p.AmountMinor,
		Currency:         p.Currency,
		Status:           models.PaymentStatusPending,
	}
	if err := tx.CreatePaymentHistory(ctx, row); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	return row, nil
}

// claim moves row to succeeded, reporting a concurrent winner as a duplicate
func (r *Reconciler) claim(ctx context.Context, tx database.Store, row *models.PaymentHistory, c models.PaymentClaim) error {
	err := tx.ClaimPayment(ctx, row.ID, c)
	if errors.Is(err, database.ErrAlreadyClaimed) {
		return errDuplicate
	}
	if err != nil {
		return fmt.Errorf("claim payment %s: %w", row.ID, err)
	}
	return nil
}

// ManageSubscription applies one paid period of plan to u. A live entry for
// the same plan is extended from its current end date; otherwise a new
// entry starts now. The plan's listing allowance always stacks.
func ManageSubscription(u *models.User, plan *models.SubscriptionPlan, subscriptionID string, now time.Time) {
	extended := false
	for i := range u.Subscriptions {
		s := &u.Subscriptions[i]
		if s.PlanID != plan.ID || s.IsExpired || s.EndDate.Before(now) {
			continue
		}
		s.EndDate = s.EndDate.AddDate(0, plan.DurationMonths, 0)
		s.IsExpired = false
		if subscriptionID != "" {
			s.StripeSubscriptionID = subscriptionID
		}
		extended = true
		break
	}
	if !extended {
		u.Subscriptions = append(u.Subscriptions, models.SubscriptionEntry{
			PlanID:               plan.ID,
			StripeSubscriptionID: subscriptionID,
			StartDate:            now,
			EndDate:              now.AddDate(0, plan.DurationMonths, 0),
		})
	}
	u.PropertyLimit += plan.PropertyLimit
	u.SubscriptionPlanIsActive = true
}

// ActivateDraftProperties moves the user's oldest drafts to Active until
// the Active count reaches the user's property limit.
func (r *Reconciler) ActivateDraftProperties(ctx context.Context, userID string) (int, error) {
	if err := r.validate.Var(userID, "required,uuid"); err != nil {
		return 0, fmt.Errorf("userId must be a uuid: %w", models.ErrInvalidArgument)
	}

	unlock, err := r.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return 0, fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	var n int
	err = r.store.InTx(ctx, func(ctx context.Context, tx database.Store) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("user %s: %w", userID, err)
		}
		n, err = r.activateDraftProperties(ctx, tx, u)
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.DraftActivations.Add(float64(n))
	if n > 0 {
		r.publish(ctx, notify.Event{
			Type:       notify.EventPropertiesActivated,
			UserID:     userID,
			Data:       map[string]interface{}{"count": n},
			OccurredAt: r.now(),
		})
	}
	return n, nil
}

func (r *Reconciler) activateDraftProperties(ctx context.Context, tx database.Store, u *models.User) (int, error) {
	if u.PropertyLimit <= 0 {
		return 0, nil
	}
	n, err := tx.ActivateDraftProperties(ctx, u.ID, u.PropertyLimit)
	if err != nil {
		return 0, fmt.Errorf("activate drafts of %s: %w", u.ID, err)
	}
	return n, nil
}

// publish emits a committed entitlement change. Failures are logged only.
func (r *Reconciler) publish(ctx context.Context, evt notify.Event) {
	if evt.Type == "" {
		return
	}
	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.logger.Warn("publish entitlement event failed",
			zap.String("type", evt.Type),
			zap.String("user_id", evt.UserID),
			zap.Error(err),
		)
	}
}

func userLockKey(userID string) string {
	return "entitlements:" + userID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
