package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HMACTokenVerifier validates HS256 tokens signed with secret.
func HMACTokenVerifier(secret []byte) VerifyFunc {
	if len(secret) == 0 {
		panic("auth.HMACTokenVerifier: secret must not be empty")
	}

	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			return nil, fmt.Errorf("parse token: %w", err)
		}
		if !parsed.Valid {
			return nil, errors.New("token is not valid")
		}
		return claims, nil
	}
}

// TokenClaims describes a token minted by SignHMAC.
type TokenClaims struct {
	Subject  string
	Email    string
	IsAdmin  bool
	TenantID string
	TTL      time.Duration
}

// SignHMAC mints an HS256 token accepted by HMACTokenVerifier.
func SignHMAC(secret []byte, c TokenClaims, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is required")
	}
	if c.Subject == "" {
		return "", errors.New("subject is required")
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	claims := jwt.MapClaims{
		"sub":     c.Subject,
		"isAdmin": c.IsAdmin,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	if c.Email != "" {
		claims["email"] = c.Email
	}
	if c.TenantID != "" {
		claims["tenantId"] = c.TenantID
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
