// Package auth issues and verifies bearer tokens and hashes passwords.
//
// Tokens are HS256 JWTs carrying the username in a "username" claim. Verify
// never returns an error: callers only need to know whether the token is
// valid, whether it failed because it expired, and who it names.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
)

const (
	usernameClaim = "username"
	expClaim      = "exp"
	issuedAtClaim = "iat"
)

// ErrEmptySecret is returned by Issue when no signing secret is configured.
var ErrEmptySecret = errors.New("auth: empty signing secret")

// Verification is the outcome of checking a bearer token.
type Verification struct {
	Valid    bool
	Expired  bool
	Username string
}

// Tokens signs and verifies bearer tokens with a shared secret.
type Tokens struct {
	Secret []byte
	TTL    time.Duration

	// now is overridable in tests.
	now func() time.Time
}

// NewTokens returns a Tokens for secret with the given lifetime.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{Secret: []byte(secret), TTL: ttl}
}

func (t *Tokens) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Issue creates a token for username and returns it with its expiry.
func (t *Tokens) Issue(username string) (string, time.Time, error) {
	if len(t.Secret) == 0 {
		return "", time.Time{}, ErrEmptySecret
	}
	now := t.clock()
	exp := now.Add(t.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		usernameClaim: username,
		issuedAtClaim: now.Unix(),
		expClaim:      exp.Unix(),
	})
	signed, err := token.SignedString(t.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm and expiry. An expired token reports
// Expired together with the username it carried.
func (t *Tokens) Verify(tokenString string) Verification {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" || len(t.Secret) == 0 {
		return Verification{}
	}

	token, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.Secret, nil
	})
	if token == nil {
		return Verification{}
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Verification{}
	}
	username, _ := claims[usernameClaim].(string)

	if err != nil {
		var ve *jwt.ValidationError
		// only a pure expiry failure counts as expired; a forged expired
		// token must not leak its claimed username
		if errors.As(err, &ve) && ve.Errors == jwt.ValidationErrorExpired {
			return Verification{Expired: true, Username: username}
		}
		return Verification{}
	}
	if !token.Valid || username == "" {
		return Verification{}
	}
	if _, hasExp := claims[expClaim]; !hasExp {
		return Verification{}
	}
	return Verification{Valid: true, Username: username}
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(h), err
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
