// Package auth validates and issues the bearer session tokens the engine's
// own maintenance surface uses: cmd/mirrorctl authenticating to cmd/mirrord,
// and any service-to-service caller. The user-facing source/destination
// forge logins are a separate concern (C2/C10) and never touch this
// package.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	goredis "github.com/go-redis/redis/v8"
)

// Claims identifies the authenticated user a request acts on behalf of.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// Validator issues and validates HS256 session tokens signed with a shared
// secret. An optional Redis client backs a revocation list so a token can
// be invalidated before its natural expiry (e.g. on logout).
type Validator struct {
	secret []byte
	ttl    time.Duration
	redis  *goredis.Client
}

// New constructs a Validator. ttl defaults to 60 minutes when zero. redis
// may be nil, in which case revocation is a no-op (tokens are valid for
// their full ttl once issued).
func New(secret string, ttl time.Duration, redis *goredis.Client) *Validator {
	if ttl == 0 {
		ttl = 60 * time.Minute
	}
	return &Validator{secret: []byte(secret), ttl: ttl, redis: redis}
}

// Issue mints a new bearer token for userID.
func (v *Validator) Issue(userID string) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("auth: signing secret not configured")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Validate parses and verifies token, returning the userID it was issued
// for. It rejects tokens present on the revocation list.
func (v *Validator) Validate(ctx context.Context, token string) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("auth: signing secret not configured")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if v.revoked(ctx, token) {
		return "", fmt.Errorf("token has been revoked")
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("token carries no user id")
	}
	return claims.UserID, nil
}

// Revoke blacklists token until its natural expiry, using Redis as the
// shared store so revocation is visible to every process instance. Without
// Redis it is a no-op.
func (v *Validator) Revoke(ctx context.Context, token string) error {
	if v.redis == nil {
		return nil
	}
	return v.redis.Set(ctx, revocationKey(token), "1", v.ttl).Err()
}

func (v *Validator) revoked(ctx context.Context, token string) bool {
	if v.redis == nil {
		return false
	}
	n, err := v.redis.Exists(ctx, revocationKey(token)).Result()
	return err == nil && n > 0
}

func revocationKey(token string) string {
	return "mirror-layer:auth:revoked:" + token
}
