package auth

import (
	"errors"
	"testing"
	"time"

	"pitaxi/internal/config"
	"pitaxi/internal/domain"
)

func TestIssuer_SignAndParse(t *testing.T) {
	t.Parallel()

	iss, err := NewIssuer(config.AuthConfig{JWTSecret: "secret", TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	token, expires, err := iss.Sign(&domain.User{ID: "user-1", Role: domain.UserRoleDriver})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Errorf("expiry %v is not in the future", expires)
	}

	claims, err := iss.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != domain.UserRoleDriver {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestIssuer_RejectsBadTokens(t *testing.T) {
	t.Parallel()

	iss, _ := NewIssuer(config.AuthConfig{JWTSecret: "secret"})
	other, _ := NewIssuer(config.AuthConfig{JWTSecret: "other"})

	foreign, _, _ := other.Sign(&domain.User{ID: "user-1", Role: domain.UserRoleRider})

	expiredIssuer, _ := NewIssuer(config.AuthConfig{JWTSecret: "secret", TokenTTL: time.Minute})
	expiredIssuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, _ := expiredIssuer.Sign(&domain.User{ID: "user-1", Role: domain.UserRoleRider})

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := iss.Parse(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewIssuer(config.AuthConfig{}); !errors.Is(err, config.ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}
}
