// Command askozzy is the Ask Ozzy server binary.
//
// Subcommands:
//
//	serve    HTTP server + embedded worker pool
//	worker   standalone worker pool only
//	migrate  run pending database migrations and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	// Sets GOMEMLIMIT from the cgroup memory limit so the GC triggers before
	// the OOM killer in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/avast/retry-go/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/ai"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/api"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/bindings"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/config"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/session"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/vector"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/worker"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/migrations"
)

func main() {
	root := &cobra.Command{
		Use:   "askozzy",
		Short: "Ask Ozzy, the department-scoped AI assistant",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		workerCmd(),
		migrateCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and embedded worker pool",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	env, closeEnv, err := openEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEnv()

	apiSrv := api.NewServer(env, cfg)
	defer apiSrv.Close()

	// Job metrics share the server's /metrics. Deferred after closeEnv, so
	// on any return the pool stops and settles in-flight jobs while the
	// database is still open.
	stopPool := newWorkerPool(env, worker.WithRegisterer(apiSrv.Registry())).StartBackground(ctx) //nolint:contextcheck // ctx is the process-lifetime context
	defer stopPool()

	// WriteTimeout omitted: /ask waits on the inference endpoint, which has
	// its own timeout in the AI client.
	srv := &http.Server{ //nolint:exhaustruct // WriteTimeout intentionally omitted
		Addr:              cfg.ListenAddr,
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		stop()
	}

	slog.Info("shutting down", "timeout_seconds", cfg.ShutdownTimeoutSeconds)
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the standalone worker pool (no HTTP server)",
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	env, closeEnv, err := openEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEnv()

	slog.Info("worker started")
	newWorkerPool(env).Start(ctx) // blocks until ctx cancelled, then settles in-flight jobs
	return nil
}

func newWorkerPool(env *bindings.Env, opts ...worker.Option) *worker.Pool {
	pool := worker.New(env.DB(), opts...)
	pool.Register(worker.QueueEmbedDocument, worker.EmbedDocument(env.DB(), env.AI(), env.Vectors()))
	return pool
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// DATABASE_URL_MIGRATE lets migrations run as the schema owner while the
	// service connects as askozzy_app.
	migrateURL := cfg.DatabaseURL
	if cfg.DatabaseURLMigrate != "" {
		migrateURL = cfg.DatabaseURLMigrate
	}
	slog.Info("running migrations")
	version, err := migrations.Up(migrateURL)
	if err != nil {
		return err
	}
	slog.Info("migrations complete", "version", version)
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// loadConfig parses the environment and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))
	slog.Info("config loaded", "config", cfg)
	return cfg, nil
}

// openEnv connects every binding and assembles the Env handed to handlers and
// jobs. A missing binding aborts startup before any listener opens.
func openEnv(ctx context.Context, cfg *config.Config) (*bindings.Env, func(), error) {
	db, err := newPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}

	sessions, err := session.Open(cfg.RedisURL, session.WithPrefix(cfg.SessionPrefix))
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sessions: %w", err)
	}

	engine, err := ai.NewClient(ai.Config{
		BaseURL:        cfg.AIBaseURL,
		APIToken:       cfg.AIAPIToken,
		TextModel:      cfg.AITextModel,
		EmbeddingModel: cfg.AIEmbeddingModel,
		Timeout:        cfg.AITimeout,
		CacheEntries:   cfg.AIEmbedCacheSize,
	}, nil)
	if err != nil {
		_ = sessions.Close()
		db.Close()
		return nil, nil, fmt.Errorf("ai: %w", err)
	}

	closeAll := func() {
		engine.Close()
		if err := sessions.Close(); err != nil {
			slog.Warn("close sessions", "error", err)
		}
		db.Close()
	}

	env, err := bindings.New(bindings.Bindings{
		AI:              engine,
		DB:              store.New(db),
		Sessions:        sessions,
		Vectors:         vector.NewPGIndex(db),
		JWTSecret:       cfg.JWTSecret,
		PushPublicKey:   cfg.VAPIDPublicKey,
		PaymentSecret:   cfg.PaystackSecret,
		BootstrapSecret: cfg.BootstrapSecret,
	})
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("bindings: %w", err)
	}

	if err := sessions.Ping(ctx); err != nil {
		slog.Warn("session store not reachable at startup", "error", err)
	}
	return env, closeAll, nil
}

// newPool creates and validates a pgxpool with PgBouncer compatibility, a
// statement timeout and pool sizing from cfg. Connecting is retried with
// linear backoff to ride out Postgres starting alongside the app.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.DBQueryExecMode == "simple_protocol" {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(cfg.DBStatementTimeoutMS)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	db, err := retry.NewWithData[*pgxpool.Pool](
		retry.Context(ctx),
		retry.Attempts(10),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ retry.DelayContext) time.Duration {
			return time.Duration(n) * time.Second
		}),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("database not ready, retrying", "attempt", n+1, "error", err)
		}),
	).Do(func() (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("database unavailable after retries: %w", err)
	}

	var pgMaxConnsStr string
	if err := db.QueryRow(ctx, "SHOW max_connections").Scan(&pgMaxConnsStr); err == nil {
		if pgMaxConns, err := strconv.Atoi(pgMaxConnsStr); err == nil && int(cfg.DBMaxConns) > int(float64(pgMaxConns)*0.8) {
			slog.Warn("DB_MAX_CONNS exceeds 80% of Postgres max_connections",
				"db_max_conns", cfg.DBMaxConns,
				"postgres_max_connections", pgMaxConns,
			)
		}
	}

	checkSchemaVersion(ctx, store.New(db))

	return db, nil
}

// checkSchemaVersion warns when the database is not at the newest migration
// embedded in this binary. It never fails startup.
func checkSchemaVersion(ctx context.Context, db *store.Store) {
	want, err := migrations.Latest()
	if err != nil {
		slog.Warn("schema version check skipped", "error", err)
		return
	}
	applied, err := db.SchemaVersion(ctx)
	if err != nil {
		slog.Warn("schema version check failed", "error", err)
		return
	}
	if applied != int64(want) { //nolint:gosec // migration versions are small
		slog.Warn("schema version mismatch, run `askozzy migrate`",
			"applied_version", applied,
			"expected_version", want,
		)
	}
}

// newLogger creates a slog.Logger based on the configured log level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
