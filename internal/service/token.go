package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JobTokens mints and verifies the opaque per-job credential returned at
// submission. A token allows anonymous status polling for that job only.
type JobTokens struct {
	secret []byte
	ttl    time.Duration
}

// NewJobTokens creates the token signer.
func NewJobTokens(secret string, ttl time.Duration) *JobTokens {
	return &JobTokens{secret: []byte(secret), ttl: ttl}
}

// Mint issues a token scoped to a single job id.
func (t *JobTokens) Mint(jobID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   jobID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign job token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the job id it is scoped to.
func (t *JobTokens) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("failed to parse job token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid job token claims")
	}
	return claims.Subject, nil
}
