package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidToken is returned by every Verifier for a token it cannot accept.
// The wrapped cause is for server logs only.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is what a bearer token proves about its holder.
//
// UserID is set only by verifiers that issue tokens for local accounts; an
// external provider leaves it zero and the Directory resolves the account by
// Subject, falling back to Username and Email the first time it is seen.
type Identity struct {
	Subject  string
	UserID   int64
	Email    string
	Username string
}

// Verifier checks a bearer token and decodes the identity inside it.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// ChainVerifier tries each verifier in order and returns the first success.
type ChainVerifier []Verifier

func (c ChainVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	var last error
	for _, v := range c {
		id, err := v.Verify(ctx, token)
		if err == nil {
			return id, nil
		}
		last = err
	}
	if last == nil {
		return nil, fmt.Errorf("%w: no verifier configured", ErrInvalidToken)
	}
	return nil, last
}

// usernameFromEmail derives a username from the local part of an address.
func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// normalize fills in a missing username from the email.
func (id *Identity) normalize() {
	if id.Username == "" {
		id.Username = usernameFromEmail(id.Email)
	}
}
