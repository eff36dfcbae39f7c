package auth

import (
	"context"

	"github.com/sakif/soundboard/internal/model"
)

// Principal is the resolved caller of a request.
//
// Tier is re-read from the user table on every request, so a demotion or
// promotion takes effect without the user logging in again.
type Principal struct {
	ID       int64      `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email,omitempty"`
	BtnSize  int        `json:"btn_size"`
	Tier     model.Tier `json:"is_admin"`
}

// PrincipalFromUser copies the identity fields of an account row.
func PrincipalFromUser(u *model.User) *Principal {
	return &Principal{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		BtnSize:  u.BtnSize,
		Tier:     u.Tier,
	}
}

// contextKey is unexported so no other package can read or overwrite the
// principal stored by this package.
type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller, or (nil, false) for an anonymous
// request.
//
// Usage in handlers:
//
//	p, ok := auth.PrincipalFromContext(r.Context())
//	if !ok {
//	    // anonymous caller
//	}
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}
