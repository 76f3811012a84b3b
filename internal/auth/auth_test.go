package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken("usr-001", "Owner", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "usr-001" || claims.Name != "Owner" || claims.ID == "" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ExpiresAt == nil {
		t.Error("ExpiresAt not set")
	}
}

func TestIssueToken_NeverExpires(t *testing.T) {
	token, err := IssueToken("svc", "", testSecret, -1)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", claims.ExpiresAt)
	}
}

func TestParseTokenErrors(t *testing.T) {
	valid, _ := IssueToken("u", "", testSecret, time.Hour)
	past, err := IssueToken("u", "", testSecret, time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	// exp has one-second resolution.
	time.Sleep(1100 * time.Millisecond)

	tests := []struct {
		name   string
		token  string
		secret string
		want   error
	}{
		{"wrong secret", valid, "another-secret-another-secret-xx", ErrTokenInvalid},
		{"garbage", "not.a.jwt", testSecret, ErrTokenInvalid},
		{"expired", past, testSecret, ErrTokenExpired},
		{"no secret", valid, "", ErrNoSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, tt.want) {
				t.Errorf("ParseToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator(config.AuthConfig{
		JWTSecret:      testSecret,
		LongLivedToken: []string{"static-token-abc", ""},
		TokenCacheTTL:  60,
	})

	token, err := IssueToken("usr-9", "Nine", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	id, err := v.Validate(token)
	if err != nil {
		t.Fatalf("Validate(jwt) error = %v", err)
	}
	if id.UserID != "usr-9" || id.LongLived {
		t.Errorf("jwt identity = %+v", id)
	}
	again, err := v.Validate(token)
	if err != nil || again != id {
		t.Errorf("second Validate() = (%p, %v), want cached %p", again, err, id)
	}

	id, err = v.Validate("static-token-abc")
	if err != nil {
		t.Fatalf("Validate(static) error = %v", err)
	}
	if !id.LongLived || !strings.HasPrefix(id.UserID, "long-lived-") {
		t.Errorf("static identity = %+v", id)
	}

	for _, bad := range []string{"", "static-token-abd", "nope"} {
		if _, err := v.Validate(bad); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Validate(%q) error = %v, want ErrTokenInvalid", bad, err)
		}
	}

	v.Forget(token)
	if _, ok := v.cache.Get(hashToken(token)); ok {
		t.Error("Forget() left token cached")
	}
}

func TestValidator_StaticOnly(t *testing.T) {
	v := NewValidator(config.AuthConfig{LongLivedToken: []string{"only"}, TokenCacheTTL: 0})
	if _, err := v.Validate("only"); err != nil {
		t.Errorf("Validate(static) error = %v", err)
	}
	jwtToken, _ := IssueToken("u", "", testSecret, time.Hour)
	if _, err := v.Validate(jwtToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Validate(jwt without secret) error = %v", err)
	}
}
