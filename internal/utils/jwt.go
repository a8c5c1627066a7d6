// Package utils provides helpers for minting service tokens.
package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken represents a signed JWT together with its expiry.  The
// Token field is sent in the Authorization header of protected calls.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewServiceToken builds and signs an HS256 JWT for a backend caller such
// as the payment service.  The token carries the standard subject, expiry
// and issued-at claims plus the caller's role.
func NewServiceToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, fmt.Errorf("empty signing secret")
	}
	if ttl <= 0 {
		return AccessToken{}, fmt.Errorf("token ttl must be positive")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
