// Package store provides the data access layer behind the DB binding.
//
// Department-owned data (documents) is only reachable through methods that read
// the request scope from the context: a department scope adds an explicit
// department predicate and sets app.department for the row-level security
// policies; global scope sets app.global_scope and adds no predicate; an
// unauthenticated context is rejected. Identity data (users) and the job queue
// are not department-owned and use the pool directly.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
)

var (
	// ErrScopeViolation is returned when a write targets a department outside
	// the request scope.
	ErrScopeViolation = errors.New("store: department outside request scope")

	// ErrDepartmentRequired is returned when a globally scoped caller creates
	// department data without naming the department.
	ErrDepartmentRequired = errors.New("store: department is required")

	// ErrNoPool is returned by Ping on a Store built without a pool.
	ErrNoPool = errors.New("store: no connection pool")
)

// Store is the central data access object.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for health checks and the vector index.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return ErrNoPool
	}
	return s.pool.Ping(ctx)
}

// SchemaVersion returns the newest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, "SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return v, nil
}

// ScopedTx opens a transaction bound to the request scope and passes the scope
// to fn. The scope is applied with set_config(..., true) so it resets on commit
// or rollback and is safe under connection pooling.
//
// Use this for every read or write of department-owned rows.
func (s *Store) ScopedTx(ctx context.Context, fn func(pgx.Tx, reqctx.Scope) error) error {
	scope, err := reqctx.ScopeFrom(ctx)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on panic or fn error

	if dept, ok := scope.Department(); ok {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.department', $1, true)", dept); err != nil {
			return fmt.Errorf("set department: %w", err)
		}
	} else if scope.IsGlobal() {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.global_scope', 'on', true)"); err != nil {
			return fmt.Errorf("set global scope: %w", err)
		}
	} else {
		return reqctx.ErrUnresolvedScope
	}

	if err := fn(tx, scope); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// systemTx opens a transaction with global visibility for work that runs
// outside any request (bootstrap, background jobs).
// NEVER call from HTTP handler code paths that act for a principal.
func (s *Store) systemTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin system tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if _, err := tx.Exec(ctx, "SELECT set_config('app.global_scope', 'on', true)"); err != nil {
		return fmt.Errorf("set global scope: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// whereable is satisfied by squirrel's Select, Update and Delete builders.
type whereable[B any] interface {
	Where(pred any, args ...any) B
}

// applyScope adds the department predicate on column for a department scope.
// Global scope returns b unchanged; an unresolved scope is an error.
func applyScope[B whereable[B]](b B, scope reqctx.Scope, column string) (B, error) {
	if dept, ok := scope.Department(); ok {
		return b.Where(column+" = ?", dept), nil
	}
	if scope.IsGlobal() {
		return b, nil
	}
	return b, reqctx.ErrUnresolvedScope
}
