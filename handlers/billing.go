package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"estatehub/billing"
	"estatehub/middleware"
	"estatehub/models"
	"estatehub/payment"
)

// WebhookParser verifies and decodes signed processor payloads
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payment.Event, error)
}

// EventHandler applies a verified processor event
type EventHandler interface {
	HandleEvent(ctx context.Context, evt *payment.Event) error
}

// WebhookHandler is the payment processor's inbound endpoint
type WebhookHandler struct {
	parser  WebhookParser
	events  EventHandler
	timeout time.Duration
	logger  *zap.Logger
}

// NewWebhookHandler creates the webhook endpoint
func NewWebhookHandler(parser WebhookParser, events EventHandler, timeout time.Duration, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{parser: parser, events: events, timeout: timeout, logger: logger}
}

// ServeHTTP verifies the signature before anything reads the event. Events
// that can never apply are acknowledged; anything else that fails returns
// 500 so the processor redelivers.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	evt, err := h.parser.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, payment.ErrInvalidSignature) {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}
	if err != nil {
		// Signed but undecodable: redelivery would fail the same way.
		h.logger.Warn("webhook payload undecodable", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	err = h.events.HandleEvent(ctx, evt)
	switch {
	case err == nil:
	case billing.IsPermanent(err):
		h.logger.Warn("webhook event cannot be applied",
			zap.String("event_id", evt.ID),
			zap.String("type", evt.Type),
			zap.Error(err),
		)
	default:
		h.logger.Error("webhook event failed",
			zap.String("event_id", evt.ID),
			zap.String("type", evt.Type),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "retry later"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// CheckoutHandler starts purchases for the authenticated user
type CheckoutHandler struct {
	billing *billing.Reconciler
	logger  *zap.Logger
}

// NewCheckoutHandler creates the checkout endpoints
func NewCheckoutHandler(r *billing.Reconciler, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{billing: r, logger: logger}
}

// Subscription starts a subscription purchase
func (h *CheckoutHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	var req models.SubscriptionCheckoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp, err := h.billing.StartSubscription(r.Context(), middleware.GetUserIDFromContext(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Banner starts a banner purchase
func (h *CheckoutHandler) Banner(w http.ResponseWriter, r *http.Request) {
	var req models.BannerCheckoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp, err := h.billing.PurchaseBanner(r.Context(), middleware.GetUserIDFromContext(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ActivateProperties moves the user's drafts to Active up to their limit
func (h *CheckoutHandler) ActivateProperties(w http.ResponseWriter, r *http.Request) {
	n, err := h.billing.ActivateDraftProperties(r.Context(), middleware.GetUserIDFromContext(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"activated": n})
}

// Boost starts a listing boost purchase
func (h *CheckoutHandler) Boost(w http.ResponseWriter, r *http.Request) {
	var req models.BoostCheckoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp, err := h.billing.PurchaseBoost(r.Context(), middleware.GetUserIDFromContext(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
