package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTimeout(t *testing.T) {
	tests := []struct {
		name         string
		timeout      time.Duration
		wantDeadline bool
	}{
		{name: "bounded", timeout: 50 * time.Millisecond, wantDeadline: true},
		{name: "disabled", timeout: 0, wantDeadline: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				hasDeadline bool
				remaining   time.Duration
			)
			h := Timeout(tt.timeout)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var deadline time.Time
				deadline, hasDeadline = r.Context().Deadline()
				remaining = time.Until(deadline)
			}))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/chat/partners", nil))

			if hasDeadline != tt.wantDeadline {
				t.Fatalf("deadline set = %v, want %v", hasDeadline, tt.wantDeadline)
			}
			if hasDeadline && remaining > tt.timeout {
				t.Errorf("remaining %v exceeds timeout %v", remaining, tt.timeout)
			}
		})
	}
}
