// Package authtoken optionally guards the HTTP surface with a signed
// bearer token. The spec's Non-goal is multi-user session persistence, not
// authentication outright: a single-session deployment may still sit
// behind a gateway that forwards a signed operator token, so this package
// verifies one rather than issuing/refreshing sessions the way the
// teacher's internal/services/auth.go does for its multi-user product.
package authtoken

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal claim set an operator token carries: who it was
// issued to and when it expires. No user/session identity is modeled since
// this repo has exactly one active session at a time.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier checks a bearer token's signature and expiry against a shared
// secret (spec §11 "a single-session deployment may still sit behind a
// gateway that forwards a signed operator token").
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether a secret was configured; when it isn't, the
// caller should skip the guard entirely rather than reject every request.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

func (v *Verifier) Verify(tokenString string) error {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return fmt.Errorf("authtoken: empty bearer token")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("authtoken: parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return fmt.Errorf("authtoken: invalid token")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return fmt.Errorf("authtoken: token expired")
	}
	return nil
}

// Issue mints an operator token with the given TTL, used by an operator
// CLI or bootstrap script rather than by the runtime HTTP surface itself.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
