package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

// Identity is the authenticated principal behind a token.
type Identity struct {
	UserID string
	Name   string
	// LongLived is true for static tokens from configuration.
	LongLived bool
}

// Validator checks bearer tokens. It is safe for concurrent use.
type Validator struct {
	secret string
	static [][]byte
	ttl    time.Duration
	cache  *gocache.Cache
}

// NewValidator builds a validator from the auth configuration.
func NewValidator(cfg config.AuthConfig) *Validator {
	ttl := time.Duration(cfg.TokenCacheTTL) * time.Second
	v := &Validator{
		secret: cfg.JWTSecret,
		ttl:    ttl,
		cache:  gocache.New(ttl, 2*ttl),
	}
	for _, t := range cfg.LongLivedToken {
		if t != "" {
			v.static = append(v.static, []byte(t))
		}
	}
	return v
}

// Validate returns the identity for token, or an error wrapping
// ErrTokenInvalid or ErrTokenExpired.
func (v *Validator) Validate(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	key := hashToken(token)
	if v.ttl > 0 {
		if cached, ok := v.cache.Get(key); ok {
			if id, ok := cached.(*Identity); ok {
				return id, nil
			}
		}
	}

	if id := v.matchStatic(token, key); id != nil {
		v.remember(key, id, v.ttl)
		return id, nil
	}

	claims, err := ParseToken(token, v.secret)
	if err != nil {
		if v.secret == "" {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	id := &Identity{UserID: claims.Subject, Name: claims.Name}
	ttl := v.ttl
	if claims.ExpiresAt != nil {
		ttl = min(ttl, time.Until(claims.ExpiresAt.Time))
	}
	v.remember(key, id, ttl)
	return id, nil
}

// Forget drops token from the cache.
func (v *Validator) Forget(token string) {
	v.cache.Delete(hashToken(token))
}

func (v *Validator) matchStatic(token, key string) *Identity {
	for _, s := range v.static {
		if subtle.ConstantTimeCompare(s, []byte(token)) == 1 {
			return &Identity{UserID: "long-lived-" + key[:12], Name: "long-lived token", LongLived: true}
		}
	}
	return nil
}

func (v *Validator) remember(key string, id *Identity, ttl time.Duration) {
	if ttl > 0 {
		v.cache.Set(key, id, ttl)
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
