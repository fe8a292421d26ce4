package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingUser   = errors.New("missing X-User-ID header")
	ErrInvalidUser   = errors.New("X-User-ID must be a positive integer")
)

const UserHeader = "X-User-ID"

// Principal is the acting user of a request. User IDs are issued by the
// core service and are opaque here.
type Principal struct {
	UserID int64
}

type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// HeaderAuthenticator trusts X-User-ID from an upstream gateway. When Token
// is set, requests must also carry it as a bearer token.
type HeaderAuthenticator struct {
	Token string
}

func (a HeaderAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	if a.Token != "" {
		bearer, err := extractBearer(r)
		if err != nil {
			return Principal{}, err
		}
		if subtle.ConstantTimeCompare([]byte(bearer), []byte(a.Token)) != 1 {
			return Principal{}, ErrInvalidToken
		}
	}

	raw := strings.TrimSpace(r.Header.Get(UserHeader))
	if raw == "" {
		return Principal{}, ErrMissingUser
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, ErrInvalidUser
	}
	return Principal{UserID: id}, nil
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
