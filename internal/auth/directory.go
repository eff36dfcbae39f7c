package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
)

// Directory maps credentials onto accounts.
//
// LookupPrincipal returns an apperror.ErrNotFound error when the account no
// longer exists; the middleware treats that caller as anonymous.
type Directory interface {
	ResolveIdentity(ctx context.Context, id *Identity) (*Principal, error)
	LookupPrincipal(ctx context.Context, userID int64) (*Principal, error)
}

// UserDirectory is the Directory backed by the user table.
type UserDirectory struct {
	users repository.UserRepository
}

var _ Directory = (*UserDirectory)(nil)

func NewUserDirectory(users repository.UserRepository) *UserDirectory {
	return &UserDirectory{users: users}
}

func (d *UserDirectory) LookupPrincipal(ctx context.Context, userID int64) (*Principal, error) {
	u, err := d.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return PrincipalFromUser(u), nil
}

// ResolveIdentity returns the account behind a verified token.
//
// RESOLUTION ORDER:
//  1. our own tokens carry the user id
//  2. an external identity is looked up by its subject, which the provider
//     never reuses (GitHub logins can be renamed, emails can be private)
//  3. an unbound subject is bound once, to the account with the same
//     username, but only when that account has the same email
//  4. an unknown username gets a new account with no password, so it can
//     only sign in through the provider
func (d *UserDirectory) ResolveIdentity(ctx context.Context, id *Identity) (*Principal, error) {
	if id.UserID != 0 {
		return d.LookupPrincipal(ctx, id.UserID)
	}
	if id.Subject == "" {
		return nil, apperror.Unauthorized("token carries no subject")
	}

	u, err := d.users.GetUserByExternalID(ctx, id.Subject)
	if err == nil {
		return PrincipalFromUser(u), nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	if id.Username == "" {
		return nil, apperror.Unauthorized("token carries no username")
	}
	u, err = d.users.GetUserByUsername(ctx, id.Username)
	if err == nil {
		if u.ExternalID != "" || id.Email == "" || !strings.EqualFold(u.Email, id.Email) {
			return nil, apperror.Unauthorized(
				fmt.Sprintf("identity %s does not match account %q", id.Subject, u.Username))
		}
		if err := d.users.BindExternalID(ctx, u.ID, id.Subject); err != nil {
			return nil, fmt.Errorf("auth: binding %s: %w", id.Subject, err)
		}
		return PrincipalFromUser(u), nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	u = &model.User{Username: id.Username, Email: id.Email, ExternalID: id.Subject}
	if err := d.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("auth: provisioning %s: %w", id.Subject, err)
	}
	return PrincipalFromUser(u), nil
}
