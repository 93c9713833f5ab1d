// ABOUTME: HTTP handlers for authentication: login (huma), logout and me (chi, authenticated).
// ABOUTME: Login writes the session record to the SESSIONS binding and sets the session cookie.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/auth"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/session"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
)

// sessionTTL bounds both the token and its server-side record.
const sessionTTL = 12 * time.Hour

func sessionCookie(token string, secure bool) string {
	return (&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL.Seconds()),
	}).String()
}

func clearSessionCookie(secure bool) string {
	return (&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}).String()
}

// recordFor builds the session record for u with its resolved scope.
func recordFor(u *store.User, scope reqctx.Scope, now time.Time) session.Record {
	rec := session.Record{UserID: u.ID.String(), IssuedAt: now.UTC()}
	if dept, ok := scope.Department(); ok {
		rec.ScopeKind = session.ScopeDepartment
		rec.Department = dept
	} else {
		rec.ScopeKind = session.ScopeGlobal
	}
	return rec
}

// ── Login ─────────────────────────────────────────────────────────────────────

type loginInput struct {
	Body struct {
		Email    string `json:"email"    format:"email" maxLength:"254"  doc:"Account email address"`
		Password string `json:"password" minLength:"1"  maxLength:"1024" doc:"Account password"`
	}
}

type loginOutput struct {
	SetCookie string `header:"Set-Cookie"`
	Body      struct {
		UserID string `json:"user_id"`
		Scope  string `json:"scope"`
		Token  string `json:"token" doc:"Session token for non-browser clients (Authorization: Bearer)"`
	}
}

// loginHandler handles POST /api/v1/auth/login.
// Nonexistent users still run argon2 to normalize response timing.
func (srv *Server) loginHandler(ctx context.Context, input *loginInput) (*loginOutput, error) {
	db := srv.env.DB()
	user, err := db.GetUserByEmail(ctx, input.Body.Email)
	if err != nil {
		slog.ErrorContext(ctx, "login: lookup email", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	if !srv.acquireArgon2() {
		return nil, huma.Error503ServiceUnavailable("server busy, please retry")
	}
	if user == nil {
		auth.VerifyDummy(input.Body.Password)
		srv.releaseArgon2()
		return nil, huma.Error401Unauthorized("invalid credentials")
	}
	ok, err := auth.VerifyPassword(input.Body.Password, user.PasswordHash)
	srv.releaseArgon2()
	if err != nil {
		slog.ErrorContext(ctx, "login: verify password", "user_id", user.ID, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if !ok {
		return nil, huma.Error401Unauthorized("invalid credentials")
	}

	scope, err := user.Scope()
	if err != nil {
		slog.WarnContext(ctx, "login: account without scope", "user_id", user.ID, "error", err)
		return nil, huma.Error403Forbidden("account is not assigned to a department")
	}

	sid, err := auth.NewSessionID()
	if err != nil {
		slog.ErrorContext(ctx, "login: new session id", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	token, err := auth.IssueSessionToken(srv.env.JWTSecret().Bytes(), user.ID, sid, sessionTTL)
	if err != nil {
		slog.ErrorContext(ctx, "login: issue token", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if err := srv.env.Sessions().SaveRecord(ctx, auth.SessionKey(sid), recordFor(user, scope, time.Now()), sessionTTL); err != nil {
		slog.ErrorContext(ctx, "login: save session record", "error", err)
		return nil, huma.Error503ServiceUnavailable("session store unavailable")
	}

	slog.InfoContext(ctx, "login", "user_id", user.ID, "scope", scope)
	out := &loginOutput{SetCookie: sessionCookie(token, srv.cfg.CookieSecure)}
	out.Body.UserID = user.ID.String()
	out.Body.Scope = scope.String()
	out.Body.Token = token
	return out, nil
}

// registerAuthRoutes registers the huma-managed auth routes.
func registerAuthRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID:   "login",
		Method:        http.MethodPost,
		Path:          "/login",
		Tags:          []string{"auth"},
		Summary:       "Log in and receive a session cookie",
		DefaultStatus: http.StatusOK,
	}, srv.loginHandler)
}

// ── Logout ────────────────────────────────────────────────────────────────────

// logoutHandler handles POST /api/v1/auth/logout. It deletes the session
// record so the token stops working immediately, then clears the cookie.
func (srv *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, _ := sessionToken(r)
	claims, err := auth.ParseSessionToken(token, srv.env.JWTSecret().Bytes())
	if err != nil {
		// Unreachable behind RequireAuthenticated.
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := srv.env.Sessions().RevokeRecord(ctx, auth.SessionKey(claims.SessionID)); err != nil {
		writeError(w, r, "logout: revoke session", err)
		return
	}
	w.Header().Add("Set-Cookie", clearSessionCookie(srv.cfg.CookieSecure))
	w.WriteHeader(http.StatusNoContent)
}

// ── Me ────────────────────────────────────────────────────────────────────────

type meResponse struct {
	UserID      string  `json:"user_id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role"`
	Scope       string  `json:"scope"`
	Department  *string `json:"department,omitempty"`
}

// meHandler handles GET /api/v1/auth/me. The scope reported is the one bound
// for this request, not a fresh lookup.
func (srv *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := reqctx.PrincipalFrom(ctx)
	if !ok {
		writeError(w, r, "me", reqctx.ErrUnauthenticated)
		return
	}
	id, err := uuid.Parse(p.UserID())
	if err != nil {
		writeError(w, r, "me: parse user id", err)
		return
	}
	user, err := srv.env.DB().GetUserByID(ctx, id)
	if err != nil {
		writeError(w, r, "me: get user", err)
		return
	}
	if user == nil {
		writeError(w, r, "me", reqctx.ErrUnauthenticated)
		return
	}

	resp := meResponse{
		UserID:      user.ID.String(),
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		Scope:       p.Scope().String(),
	}
	if dept, ok := p.Scope().Department(); ok {
		resp.Department = &dept
	}
	writeJSON(w, http.StatusOK, resp)
}
