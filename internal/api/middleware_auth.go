// ABOUTME: RequireAuthenticated middleware: verifies the session token, loads the session
// ABOUTME: record, and binds the principal into the request context before any handler runs.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/auth"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/session"
)

// sessionCookieName carries the HS256 session token.
const sessionCookieName = "ozzy_session"

// sessionToken returns the raw session token from the Authorization header
// (non-browser clients) or the session cookie.
func sessionToken(r *http.Request) (token string, fromCookie bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), false
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value, true
	}
	return "", false
}

// authFailure is a rejection with the metric reason and HTTP status to use.
type authFailure struct {
	reason string
	status int
}

// authenticate resolves the principal for r. It never touches the request
// context; binding is left to the caller so there is exactly one write point.
func (srv *Server) authenticate(r *http.Request) (reqctx.Principal, *authFailure) {
	ctx := r.Context()
	token, _ := sessionToken(r)
	if token == "" {
		return reqctx.Principal{}, &authFailure{rejectMissingToken, http.StatusUnauthorized}
	}
	claims, err := auth.ParseSessionToken(token, srv.env.JWTSecret().Bytes())
	if err != nil {
		return reqctx.Principal{}, &authFailure{rejectInvalidToken, http.StatusUnauthorized}
	}

	rec, err := srv.env.Sessions().LoadRecord(ctx, auth.SessionKey(claims.SessionID))
	switch {
	case errors.Is(err, session.ErrNotFound):
		return reqctx.Principal{}, &authFailure{rejectSessionRevoked, http.StatusUnauthorized}
	case errors.Is(err, session.ErrInvalidRecord):
		slog.WarnContext(ctx, "auth: unreadable session record", "error", err)
		return reqctx.Principal{}, &authFailure{rejectInvalidSession, http.StatusUnauthorized}
	case err != nil:
		slog.ErrorContext(ctx, "auth: load session record", "error", err)
		return reqctx.Principal{}, &authFailure{rejectSessionStore, http.StatusServiceUnavailable}
	}

	if rec.UserID != claims.UserID.String() {
		slog.WarnContext(ctx, "auth: session record does not match token subject")
		return reqctx.Principal{}, &authFailure{rejectSessionMismatch, http.StatusUnauthorized}
	}
	p, err := rec.Principal()
	if err != nil {
		slog.WarnContext(ctx, "auth: session record rejected", "error", err)
		return reqctx.Principal{}, &authFailure{rejectInvalidSession, http.StatusUnauthorized}
	}
	return p, nil
}

// RequireAuthenticated returns a middleware that requires a valid session token
// backed by a live session record. On success it binds the principal with
// reqctx.Bind and only then calls next. On failure next is never called, so
// no handler ever observes an unauthenticated context on a protected route.
func (srv *Server) RequireAuthenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, fail := srv.authenticate(r)
			if fail != nil {
				srv.metrics.reject(fail.reason)
				if fail.status == http.StatusUnauthorized {
					http.Error(w, "unauthorized", fail.status)
				} else {
					http.Error(w, "session store unavailable", fail.status)
				}
				return
			}

			ctx, err := reqctx.Bind(r.Context(), p)
			if err != nil {
				// A second auth layer on the same route is a wiring bug.
				srv.metrics.reject(rejectAlreadyBound)
				slog.ErrorContext(r.Context(), "auth: bind principal", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
