package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/ai"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/api"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/bindings"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/config"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/session"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/testutil"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/vector"
)

type idleEngine struct{}

func (idleEngine) Generate(context.Context, ai.Prompt) (string, error) { return "", ai.ErrUnavailable }
func (idleEngine) Embed(context.Context, string) ([]float32, error) { return nil, ai.ErrUnavailable }

// TestSmokeHealthz starts a real Postgres container and an in-memory Redis,
// builds the full environment the way the serve command does, and asserts
// that /healthz returns 200 {"status":"ok"} and /metrics returns 200.
//
// This is a coarse integration test: if it passes, the router wiring, the
// binding environment, and the Prometheus handler are all operational.
func TestSmokeHealthz(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	sessions, err := session.Open("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("open sessions: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	env, err := bindings.New(bindings.Bindings{
		AI:            idleEngine{},
		DB:            db.AppStore,
		Sessions:      sessions,
		Vectors:       vector.NewPGIndex(db.AppStore.Pool()),
		JWTSecret:     "smoke-secret-32-bytes-minimum-aaaa",
		PushPublicKey: "push-key",
		PaymentSecret: "sk_smoke",
	})
	if err != nil {
		t.Fatalf("bindings: %v", err)
	}

	// ── Build handler and test server ────────────────────────────────────────
	cfg := &config.Config{Argon2MaxConcurrent: 5} //nolint:exhaustruct // test: HTTP tuning only
	apiSrv := api.NewServer(env, cfg)
	t.Cleanup(apiSrv.Close)
	srv := httptest.NewServer(apiSrv.Handler())
	t.Cleanup(srv.Close)

	// ── /healthz ─────────────────────────────────────────────────────────────
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request /healthz: %v", err)
	}
	resp, err := srv.Client().Do(hReq) //nolint:gosec // G704 false positive: srv.URL is httptest.Server, not user input
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck,gosec // G104: body close in test

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode /healthz body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("/healthz status field = %q, want %q", body["status"], "ok")
	}

	// ── /metrics ──────────────────────────────────────────────────────────────
	mReq, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request /metrics: %v", err)
	}
	mResp, err := srv.Client().Do(mReq) //nolint:gosec // G704 false positive
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer mResp.Body.Close() //nolint:errcheck,gosec // G104: body close in test
	if mResp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", mResp.StatusCode)
	}
}
