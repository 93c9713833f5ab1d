// ABOUTME: Test helper that starts a Postgres testcontainer with all migrations applied.
// ABOUTME: Use NewTestDB(t) in integration tests that need a real database.
package testutil

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/migrations"
)

const (
	appRole     = "askozzy_app"
	appPassword = "apptestpw"
)

// TestDB holds two stores over one migrated database.
type TestDB struct {
	// Store connects as the container superuser and is not subject to row
	// security. Use it to seed rows in any department.
	*store.Store
	// AppStore connects as askozzy_app, the role the service runs as, so
	// department policies apply.
	AppStore *store.Store
}

// NewTestDB starts a throwaway Postgres, migrates it to the latest schema and
// returns stores for both roles. Everything is torn down via t.Cleanup.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	dsn := startPostgres(t)
	migrateUp(t, dsn)
	return &TestDB{
		Store:    store.New(connect(t, dsn, "", "")),
		AppStore: store.New(connect(t, dsn, appRole, appPassword)),
	}
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("askozzy_test"),
		tcpostgres.WithUsername("askozzy_test"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}
	return dsn
}

// migrateUp applies every embedded migration, then lets the app role log in.
// The migration creates it NOLOGIN; production sets its password out of band.
func migrateUp(t *testing.T, dsn string) {
	t.Helper()
	if _, err := migrations.Up(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx) //nolint:errcheck
	if _, err := conn.Exec(ctx,
		`ALTER ROLE `+appRole+` WITH LOGIN NOBYPASSRLS PASSWORD '`+appPassword+`'`); err != nil {
		t.Fatalf("enable %s login: %v", appRole, err)
	}
}

// connect opens a pool on dsn, optionally as a different role.
func connect(t *testing.T, dsn, user, password string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse pool config: %v", err)
	}
	if user != "" {
		cfg.ConnConfig.User = user
		cfg.ConnConfig.Password = password
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect as %q: %v", cfg.ConnConfig.User, err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// AsUser returns a child of ctx carrying a principal for userID in scope.
func AsUser(t *testing.T, ctx context.Context, userID string, scope reqctx.Scope) context.Context {
	t.Helper()
	ctx, err := reqctx.Bind(ctx, reqctx.NewPrincipal(userID, scope))
	if err != nil {
		t.Fatalf("bind principal: %v", err)
	}
	return ctx
}
