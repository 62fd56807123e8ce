// Package auth identifies callers and decides whether they hold a role.
//
// AssertRole is a pure predicate over caller data. Identity comes from an
// IdentityProvider so the fixed development identity can be swapped for a
// token-based one without touching handlers or services.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/types"
)

var (
	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoIdentity is returned when a request carries no usable identity.
	ErrNoIdentity = errors.New("no identity")
)

// Caller is the identity a request acts as.
type Caller struct {
	ID   uuid.UUID
	Nick string
	Role types.Role
}

// AssertRole fails with ErrUnauthorized unless caller holds required.
func AssertRole(caller Caller, required types.Role) error {
	if caller.Role != required {
		return fmt.Errorf("%w: role %q required, caller has %q", ErrUnauthorized, required, caller.Role)
	}
	return nil
}

// IdentityProvider resolves the caller of an HTTP request.
type IdentityProvider interface {
	Identify(r *http.Request) (Caller, error)
}

// FixedIdentity treats every request as the same caller.
type FixedIdentity struct {
	Caller Caller
}

func (f FixedIdentity) Identify(*http.Request) (Caller, error) {
	return f.Caller, nil
}

// Chain asks each provider in turn. The first one that does not report
// ErrNoIdentity decides.
type Chain []IdentityProvider

func (c Chain) Identify(r *http.Request) (Caller, error) {
	for _, provider := range c {
		caller, err := provider.Identify(r)
		if errors.Is(err, ErrNoIdentity) {
			continue
		}
		return caller, err
	}
	return Caller{}, ErrNoIdentity
}

type contextKey string

const callerContextKey contextKey = "caller"

// WithCaller stores caller in ctx.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// CallerFromContext returns the caller stored by WithCaller.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(Caller)
	return caller, ok
}
