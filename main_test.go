package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"

	"estatehub/middleware"
)

func TestIssueToken(t *testing.T) {
	j := middleware.NewJWT("ops-secret")
	userID := uuid.NewString()

	var out bytes.Buffer
	if err := issueToken(&out, j, []string{userID, "2h"}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := j.Parse(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.UserID != userID {
		t.Errorf("user = %s, want %s", claims.UserID, userID)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"bad user", []string{"bob"}},
		{"bad ttl", []string{userID, "soon"}},
		{"negative ttl", []string{userID, "-1h"}},
		{"extra args", []string{userID, "1h", "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := issueToken(&bytes.Buffer{}, j, tc.args); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
