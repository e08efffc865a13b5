package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap/zaptest"

	"estatehub/config"
)

const testWebhookSecret = "whsec_test"

func newTestGateway(t *testing.T) *StripeGateway {
	return NewStripeGateway(config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Timeout:       time.Second,
	}, zaptest.NewLogger(t))
}

func sign(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestParseWebhookPaymentIntent(t *testing.T) {
	g := newTestGateway(t)
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"api_version": "` + stripe.APIVersion + `",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 2500,
			"currency": "usd",
			"customer": "cus_1",
			"metadata": {"type": "boost", "userId": "u1", "planId": "p1", "propertyId": "prop1"}
		}}
	}`)

	evt, err := g.ParseWebhook(payload, sign(payload, testWebhookSecret))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if evt.Type != EventPaymentIntentSucceeded {
		t.Fatalf("type = %s", evt.Type)
	}
	pi := evt.PaymentIntent
	if pi == nil || pi.ID != "pi_123" || pi.AmountMinor != 2500 || pi.CustomerID != "cus_1" {
		t.Fatalf("unexpected intent %+v", pi)
	}
	if pi.Metadata[MetaPropertyID] != "prop1" {
		t.Fatalf("metadata = %v", pi.Metadata)
	}
}

func TestParseWebhookInvoice(t *testing.T) {
	g := newTestGateway(t)
	payload := []byte(`{
		"id": "evt_2",
		"object": "event",
		"api_version": "` + stripe.APIVersion + `",
		"type": "invoice.payment_succeeded",
		"data": {"object": {
			"id": "in_1",
			"object": "invoice",
			"subscription": "sub_1",
			"payment_intent": "pi_9",
			"amount_paid": 1000,
			"currency": "usd"
		}}
	}`)

	evt, err := g.ParseWebhook(payload, sign(payload, testWebhookSecret))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	inv := evt.Invoice
	if inv == nil || inv.SubscriptionID != "sub_1" || inv.PaymentIntentID != "pi_9" || inv.AmountPaidMinor != 1000 {
		t.Fatalf("unexpected invoice %+v", inv)
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	g := newTestGateway(t)
	payload := []byte(`{"id": "evt_3", "type": "payment_intent.succeeded"}`)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong secret", sign(payload, "whsec_other")},
		{"garbage", "t=1,v1=deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.ParseWebhook(payload, tt.header)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("err = %v, want invalid signature", err)
			}
		})
	}
}
