package auth

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "filedeck"

var ErrBadToken = errors.New("invalid remember-me token")

// Remember issues and checks signed remember-me tokens.
type Remember struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewRemember signs with secret, or with a random key when secret is empty.
func NewRemember(secret string, ttl time.Duration) (*Remember, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	return &Remember{key: key, ttl: ttl, now: time.Now}, nil
}

func (r *Remember) TTL() time.Duration { return r.ttl }

func (r *Remember) Issue(username string) (string, error) {
	now := r.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.key)
}

// Verify returns the username a valid token was issued for.
func (r *Remember) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return r.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return "", errors.Join(ErrBadToken, err)
	}
	if claims.Subject == "" {
		return "", ErrBadToken
	}
	return claims.Subject, nil
}
