// Package reqctx holds the per-request authentication state: the user ID of the
// authenticated principal and the department scope that bounds every data access
// made on the principal's behalf.
//
// The state has a fixed shape ([Principal]) and a single write point ([Bind]).
// Bind refuses to run twice on the same context chain, so a handler cannot
// replace the principal that the authentication middleware established. Readers
// report a distinguishable unauthenticated condition ([ErrUnauthenticated]) when
// nothing was bound.
package reqctx

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

var (
	// ErrUnauthenticated is returned by the Require* readers when no principal
	// has been bound to the context.
	ErrUnauthenticated = errors.New("reqctx: unauthenticated")

	// ErrAlreadyBound is returned by Bind when the context already carries a principal.
	ErrAlreadyBound = errors.New("reqctx: principal already bound")

	// ErrEmptyUserID is returned by Bind for a principal without a user ID.
	ErrEmptyUserID = errors.New("reqctx: empty user id")

	// ErrUnresolvedScope is returned by Bind for a principal whose scope was never
	// resolved to Global or Department.
	ErrUnresolvedScope = errors.New("reqctx: unresolved scope")
)

type contextKey int

const ctxPrincipal contextKey = iota // Principal — authenticated user and scope

// Principal is the authenticated identity of a request. Fields are unexported so
// a Principal can only be built through NewPrincipal and read through accessors.
type Principal struct {
	userID string
	scope  Scope
}

// NewPrincipal returns a Principal for userID restricted to scope.
func NewPrincipal(userID string, scope Scope) Principal {
	return Principal{userID: strings.TrimSpace(userID), scope: scope}
}

// UserID returns the principal's user ID.
func (p Principal) UserID() string { return p.userID }

// Scope returns the principal's data visibility scope.
func (p Principal) Scope() Scope { return p.scope }

func (p Principal) validate() error {
	if p.userID == "" {
		return ErrEmptyUserID
	}
	if !p.scope.resolved() {
		return ErrUnresolvedScope
	}
	return nil
}

// Bind returns a child of ctx carrying p. It is the only way to establish a
// principal and succeeds at most once per context chain.
func Bind(ctx context.Context, p Principal) (context.Context, error) {
	if err := p.validate(); err != nil {
		return ctx, err
	}
	if _, ok := ctx.Value(ctxPrincipal).(Principal); ok {
		return ctx, ErrAlreadyBound
	}
	return context.WithValue(ctx, ctxPrincipal, p), nil
}

// PrincipalFrom returns the bound principal, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	return p, ok
}

// UserID returns the authenticated user ID. ok is false when the request is
// unauthenticated.
func UserID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return "", false
	}
	return p.userID, true
}

// RequireUserID returns the authenticated user ID or ErrUnauthenticated.
func RequireUserID(ctx context.Context) (string, error) {
	id, ok := UserID(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	return id, nil
}

// DeptFilter returns the department the request is restricted to. ok is false
// both for global scope and for unauthenticated requests; use ScopeFrom when the
// distinction matters.
func DeptFilter(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return "", false
	}
	return p.scope.Department()
}

// ScopeFrom returns the scope every data access in this request must honour,
// or ErrUnauthenticated when no principal is bound.
func ScopeFrom(ctx context.Context) (Scope, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return Scope{}, ErrUnauthenticated
	}
	return p.scope, nil
}

// LogAttrs returns slog attributes describing the bound principal. Returns nil
// for unauthenticated contexts.
func LogAttrs(ctx context.Context) []slog.Attr {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return nil
	}
	return []slog.Attr{
		slog.String("user_id", p.userID),
		slog.Any("scope", p.scope),
	}
}
