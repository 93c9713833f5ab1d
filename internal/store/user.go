// ABOUTME: Store methods for user accounts and the one-time bootstrap admin.
// ABOUTME: Users are identity data, not department-owned, so queries are unscoped.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
)

// User roles.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// ErrAlreadyBootstrapped is returned by BootstrapAdmin once any user exists.
var ErrAlreadyBootstrapped = errors.New("store: already bootstrapped")

// ErrNoDepartment is returned by User.Scope for staff accounts without a department.
var ErrNoDepartment = errors.New("store: staff account has no department")

// ErrGlobalScopeRequired is returned when a department-scoped caller attempts
// an administrative write.
var ErrGlobalScopeRequired = errors.New("store: global scope required")

// ErrEmailTaken is returned when an account with the email already exists.
var ErrEmailTaken = errors.New("store: email already registered")

// User is an account row.
type User struct {
	ID           uuid.UUID
	Email        string
	DisplayName  string
	PasswordHash string
	Department   *string
	Role         string
	CreatedAt    time.Time
}

// Scope resolves the data visibility of u. Only an admin without a department
// is granted global visibility; staff without a department is an error rather
// than an implicit global grant.
func (u *User) Scope() (reqctx.Scope, error) {
	if u.Department != nil && strings.TrimSpace(*u.Department) != "" {
		return reqctx.Department(*u.Department), nil
	}
	if u.Role == RoleAdmin {
		return reqctx.Global(), nil
	}
	return reqctx.Scope{}, ErrNoDepartment
}

// CreateUserParams holds the fields for CreateUser.
type CreateUserParams struct {
	Email        string
	DisplayName  string
	PasswordHash string
	Department   *string
	Role         string
}

// uniqueViolation is the Postgres SQLSTATE for a unique constraint conflict.
const uniqueViolation = "23505"

const userColumns = "id, email, display_name, password_hash, department, role, created_at"

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Department, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user. Role defaults to staff.
func (s *Store) CreateUser(ctx context.Context, p CreateUserParams) (*User, error) {
	return createUser(ctx, s.pool, p)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func createUser(ctx context.Context, q queryRower, p CreateUserParams) (*User, error) {
	if p.Role == "" {
		p.Role = RoleStaff
	}
	u, err := scanUser(q.QueryRow(ctx, `
		INSERT INTO users (email, display_name, password_hash, department, role)
		VALUES (lower($1), $2, $3, $4, $5)
		RETURNING `+userColumns,
		p.Email, p.DisplayName, p.PasswordHash, p.Department, p.Role))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// CreateStaff creates a staff account in p.Department. Only a caller whose
// request scope is global may create accounts; the department is mandatory
// so the new account always resolves to a department scope.
func (s *Store) CreateStaff(ctx context.Context, p CreateUserParams) (*User, error) {
	scope, err := reqctx.ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !scope.IsGlobal() {
		return nil, ErrGlobalScopeRequired
	}
	if p.Department == nil || strings.TrimSpace(*p.Department) == "" {
		return nil, ErrDepartmentRequired
	}
	dept := strings.TrimSpace(*p.Department)
	p.Department = &dept
	p.Role = RoleStaff

	u, err := createUser(ctx, s.pool, p)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, ErrEmailTaken
	}
	return u, err
}

// GetUserByEmail returns the user with the given email, or (nil, nil).
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = lower($1)", email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// GetUserByID returns the user with id, or (nil, nil).
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// CountUsers returns the number of accounts.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// BootstrapAdmin creates the first account as a global admin. An advisory lock
// serialises concurrent attempts; once any user exists it returns
// ErrAlreadyBootstrapped.
func (s *Store) BootstrapAdmin(ctx context.Context, p CreateUserParams) (*User, error) {
	var u *User
	err := s.systemTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('askozzy.bootstrap'))"); err != nil {
			return fmt.Errorf("bootstrap lock: %w", err)
		}
		var n int64
		if err := tx.QueryRow(ctx, "SELECT count(*) FROM users").Scan(&n); err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		if n > 0 {
			return ErrAlreadyBootstrapped
		}
		p.Role = RoleAdmin
		var err error
		u, err = createUser(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}
