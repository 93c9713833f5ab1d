// ABOUTME: POST /api/v1/bootstrap creates the first admin account, guarded by the optional
// ABOUTME: BOOTSTRAP_SECRET binding. Without the binding the route does not exist (404).
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/auth"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
)

const bootstrapHeader = "X-Bootstrap-Secret"

type bootstrapBody struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type bootstrapResponse struct {
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
}

// bootstrapHandler handles POST /api/v1/bootstrap. The admin it creates has
// no department and therefore global scope; every later account is scoped.
func (srv *Server) bootstrapHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	secret, ok := srv.env.BootstrapSecret()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !secret.Equal(r.Header.Get(bootstrapHeader)) {
		srv.metrics.reject(rejectBadBootstrap)
		slog.WarnContext(ctx, "bootstrap: bad secret")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req bootstrapBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		http.Error(w, "valid email is required", http.StatusBadRequest)
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Skip the argon2 cost once accounts exist. BootstrapAdmin re-checks
	// under its lock.
	n, err := srv.env.DB().CountUsers(ctx)
	if err != nil {
		writeError(w, r, "bootstrap: count users", err)
		return
	}
	if n > 0 {
		http.Error(w, "already bootstrapped", http.StatusConflict)
		return
	}

	if !srv.acquireArgon2() {
		http.Error(w, "server busy, please retry", http.StatusServiceUnavailable)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	srv.releaseArgon2()
	if err != nil {
		writeError(w, r, "bootstrap: hash password", err)
		return
	}

	user, err := srv.env.DB().BootstrapAdmin(ctx, store.CreateUserParams{
		Email:        req.Email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
	})
	if errors.Is(err, store.ErrAlreadyBootstrapped) {
		http.Error(w, "already bootstrapped", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, r, "bootstrap: create admin", err)
		return
	}

	scope, err := user.Scope()
	if err != nil {
		writeError(w, r, "bootstrap: resolve scope", err)
		return
	}
	slog.InfoContext(ctx, "bootstrap: admin created", "user_id", user.ID, "scope", scope)
	writeJSON(w, http.StatusCreated, bootstrapResponse{UserID: user.ID.String(), Scope: scope.String()})
}
