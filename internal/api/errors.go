// ABOUTME: Maps domain errors to HTTP status codes for the chi handlers.
// ABOUTME: Unexpected errors are logged with the request principal and surface as 500.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/ai"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
)

// writeError writes the response for err. op names the failing operation in logs.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, reqctx.ErrUnauthenticated):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, store.ErrScopeViolation):
		slog.LogAttrs(ctx, slog.LevelWarn, op+": scope violation", reqctx.LogAttrs(ctx)...)
		http.Error(w, "forbidden: outside your department", http.StatusForbidden)
	case errors.Is(err, store.ErrGlobalScopeRequired):
		slog.LogAttrs(ctx, slog.LevelWarn, op+": requires global scope", reqctx.LogAttrs(ctx)...)
		http.Error(w, "forbidden: requires global scope", http.StatusForbidden)
	case errors.Is(err, store.ErrDepartmentRequired):
		http.Error(w, "department is required", http.StatusBadRequest)
	case errors.Is(err, ai.ErrUnavailable):
		slog.WarnContext(ctx, op+": ai unavailable", "error", err)
		http.Error(w, "assistant temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, ai.ErrBadResponse):
		slog.ErrorContext(ctx, op+": ai bad response", "error", err)
		http.Error(w, "assistant returned an invalid response", http.StatusBadGateway)
	default:
		attrs := append(reqctx.LogAttrs(ctx), slog.Any("error", err))
		slog.LogAttrs(ctx, slog.LevelError, op, attrs...)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
