package domain

import (
	"testing"
	"time"
)

func TestConsentToken_NeedsRefresh(t *testing.T) {
	now := time.Now()
	at := func(d time.Duration) *time.Time {
		t := now.Add(d)
		return &t
	}

	tests := []struct {
		name      string
		expiresAt *time.Time
		expected  bool
	}{
		{"no expiry", nil, false},
		{"expires in 30s", at(30 * time.Second), true},
		{"expires exactly at skew", at(DefaultRefreshSkew), true},
		{"expires in 10m", at(10 * time.Minute), false},
		{"already expired", at(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &ConsentToken{ExpiresAt: tt.expiresAt}
			if got := tok.NeedsRefresh(now, DefaultRefreshSkew); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestConsentToken_ApplyKeepsRefreshToken(t *testing.T) {
	now := time.Now()
	tok := NewConsentToken("c1", ProviderFortnox, &TokenResponse{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresIn:    3600,
	}, now)

	if tok.TokenType != "Bearer" {
		t.Errorf("expected default token type Bearer, got %s", tok.TokenType)
	}
	if tok.ExpiresAt == nil || !tok.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("unexpected expiry %v", tok.ExpiresAt)
	}

	tok.Apply(&TokenResponse{AccessToken: "a2", TokenType: "bearer"}, now)
	if tok.AccessToken != "a2" || tok.RefreshToken != "r1" {
		t.Errorf("expected rotated access and kept refresh, got %s/%s", tok.AccessToken, tok.RefreshToken)
	}
	if tok.ExpiresAt != nil {
		t.Error("expected nil expiry for non-expiring response")
	}
}
