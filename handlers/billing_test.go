package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"estatehub/models"
	"estatehub/payment"
)

type fakeParser struct {
	err error
}

func (p fakeParser) ParseWebhook(payload []byte, signature string) (*payment.Event, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &payment.Event{ID: "evt_1", Type: payment.EventPaymentIntentSucceeded}, nil
}

type fakeEvents struct {
	err    error
	called bool
}

func (e *fakeEvents) HandleEvent(ctx context.Context, evt *payment.Event) error {
	e.called = true
	return e.err
}

func TestWebhookStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		parseErr   error
		handleErr  error
		wantStatus int
		wantCalled bool
	}{
		{name: "applied", wantStatus: http.StatusOK, wantCalled: true},
		{
			name:       "bad signature",
			parseErr:   fmt.Errorf("%w: no valid signature", payment.ErrInvalidSignature),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "undecodable body",
			parseErr:   fmt.Errorf("decode invoice: %w", models.ErrInvalidArgument),
			wantStatus: http.StatusOK,
		},
		{
			name:       "unresolvable event",
			handleErr:  fmt.Errorf("no user and plan: %w", models.ErrNotFound),
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "storage failure",
			handleErr:  errors.New("database is locked"),
			wantStatus: http.StatusInternalServerError,
			wantCalled: true,
		},
		{
			name:       "processor outage",
			handleErr:  fmt.Errorf("get subscription: %w", models.ErrUpstream),
			wantStatus: http.StatusInternalServerError,
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &fakeEvents{err: tt.handleErr}
			h := NewWebhookHandler(fakeParser{err: tt.parseErr}, events, time.Second, zaptest.NewLogger(t))

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if events.called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", events.called, tt.wantCalled)
			}
		})
	}
}

func TestWriteErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", fmt.Errorf("groupId: %w", models.ErrInvalidArgument), http.StatusBadRequest},
		{"missing", fmt.Errorf("group: %w", models.ErrNotFound), http.StatusNotFound},
		{"forbidden", fmt.Errorf("not admin: %w", models.ErrForbidden), http.StatusForbidden},
		{"conflict", fmt.Errorf("last admin: %w", models.ErrConflict), http.StatusConflict},
		{"processor", fmt.Errorf("create customer: %w", models.ErrUpstream), http.StatusBadGateway},
		{"store deadline", fmt.Errorf("load users: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, zaptest.NewLogger(t), tt.err)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}
