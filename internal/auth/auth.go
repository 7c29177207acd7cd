// Package auth verifies users, decides which actions a role may perform and
// guards the login form against guessing.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

// Identity is the signed-in user as seen by handlers.
type Identity struct {
	Username string
	Role     string
}

type ctxKey string

const identityKey ctxKey = "filedeck.identity"

func FromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey).(Identity)
	return v, ok
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// BasicAuth requires valid Basic credentials and stores the identity in the
// request context. It is used for WebDAV clients, which cannot do form login.
func BasicAuth(users *Users, realm string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := ParseBasicAuth(r.Header.Get("Authorization"))
		if !ok {
			deny(w, realm)
			return
		}
		id, ok := users.Authenticate(u, p)
		if !ok {
			deny(w, realm)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func deny(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func ParseBasicAuth(v string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(v, prefix)))
	if err != nil {
		return "", "", false
	}
	u, p, found := strings.Cut(string(raw), ":")
	if !found || u == "" {
		return "", "", false
	}
	if strings.Contains(u, "\x00") || strings.Contains(p, "\x00") {
		return "", "", false
	}
	return u, p, true
}

// Account is one configured user.
type Account struct {
	Hash string
	Role string
}

// Users is the static user table loaded from configuration.
type Users struct {
	accounts    map[string]Account
	defaultRole string
}

func NewUsers(accounts map[string]Account, defaultRole string) *Users {
	cp := make(map[string]Account, len(accounts))
	for name, a := range accounts {
		cp[name] = a
	}
	return &Users{accounts: cp, defaultRole: defaultRole}
}

func (u *Users) Len() int { return len(u.accounts) }

// dummyHash keeps the cost of rejecting unknown names close to that of a
// wrong password.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoO5uR4pZ3o2Uq3Y5Zr8gQH7bM9hQnK6a2"

// Authenticate checks a password and returns the user's identity.
func (u *Users) Authenticate(username, password string) (Identity, bool) {
	acct, known := u.accounts[username]
	hash := acct.Hash
	if !known {
		hash = dummyHash
	}
	ok := VerifyPassword(hash, password)
	if !known || !ok {
		return Identity{}, false
	}
	return u.identity(username, acct), true
}

// Lookup returns the identity of a configured user without a password, for
// remember-me tokens.
func (u *Users) Lookup(username string) (Identity, bool) {
	acct, ok := u.accounts[username]
	if !ok {
		return Identity{}, false
	}
	return u.identity(username, acct), true
}

// Default is the identity used when login is disabled.
func (u *Users) Default(username string) Identity {
	if acct, ok := u.accounts[username]; ok {
		return u.identity(username, acct)
	}
	return Identity{Username: username, Role: u.defaultRole}
}

func (u *Users) identity(name string, acct Account) Identity {
	role := acct.Role
	if role == "" {
		role = u.defaultRole
	}
	return Identity{Username: name, Role: role}
}

// SameToken compares two secrets in constant time.
func SameToken(a, b string) bool {
	return a != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
