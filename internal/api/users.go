// ABOUTME: POST /api/v1/users lets a globally scoped admin create department staff accounts.
// ABOUTME: Department-scoped callers get 403 before any password hashing happens.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/auth"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
)

const maxDepartmentRunes = 64

type createUserBody struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Department  string `json:"department"`
}

type userResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Department  string `json:"department"`
	Scope       string `json:"scope"`
}

// createUserHandler handles POST /api/v1/users.
func (srv *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, err := reqctx.ScopeFrom(ctx)
	if err != nil {
		writeError(w, r, "create user", err)
		return
	}
	if !scope.IsGlobal() {
		writeError(w, r, "create user", store.ErrGlobalScopeRequired)
		return
	}

	var req createUserBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Department = strings.TrimSpace(req.Department)
	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		http.Error(w, "valid email is required", http.StatusBadRequest)
		return
	case req.Department == "":
		writeError(w, r, "create user", store.ErrDepartmentRequired)
		return
	case utf8.RuneCountInString(req.Department) > maxDepartmentRunes:
		http.Error(w, "department is too long", http.StatusBadRequest)
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !srv.acquireArgon2() {
		http.Error(w, "server busy, please retry", http.StatusServiceUnavailable)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	srv.releaseArgon2()
	if err != nil {
		writeError(w, r, "create user: hash password", err)
		return
	}

	user, err := srv.env.DB().CreateStaff(ctx, store.CreateUserParams{
		Email:        req.Email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
		Department:   &req.Department,
	})
	if errors.Is(err, store.ErrEmailTaken) {
		http.Error(w, "email already registered", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, r, "create user", err)
		return
	}

	userScope, err := user.Scope()
	if err != nil {
		writeError(w, r, "create user: resolve scope", err)
		return
	}
	attrs := append(reqctx.LogAttrs(ctx), slog.String("new_user_id", user.ID.String()), slog.String("department", req.Department))
	slog.LogAttrs(ctx, slog.LevelInfo, "user created", attrs...)
	writeJSON(w, http.StatusCreated, userResponse{
		UserID:      user.ID.String(),
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		Department:  *user.Department,
		Scope:       userScope.String(),
	})
}
