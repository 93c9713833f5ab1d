// ABOUTME: Shared fixtures for api tests: stub AI engine and vector index, a miniredis-backed
// ABOUTME: session store, and helpers that mint sessions and issue requests.
package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/ai"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/auth"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/bindings"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/config"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/session"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/testutil"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/vector"
)

const (
	testJWTSecret      = "test-secret-32-bytes-minimum-aaaa"
	testPaymentSecret  = "sk_test_payment_secret"
	testBootstrapValue = "bootstrap-secret-value"
	testPushKey        = "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM"
)

// stubEngine returns a fixed embedding and answer and records prompts.
type stubEngine struct {
	mu        sync.Mutex
	embedding []float32
	answer    string
	err       error
	prompts   []ai.Prompt
}

func (e *stubEngine) Generate(_ context.Context, p ai.Prompt) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.prompts = append(e.prompts, p)
	return e.answer, nil
}

// lastPrompt returns the user message of the most recent Generate call.
func (e *stubEngine) lastPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.prompts) == 0 {
		return ""
	}
	return e.prompts[len(e.prompts)-1].Messages[1].Content
}

func (e *stubEngine) Embed(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.embedding, nil
}

// stubIndex records the scope each query ran under.
type stubIndex struct {
	mu      sync.Mutex
	matches []vector.Match
	scopes  []reqctx.Scope
	queried int
}

func (x *stubIndex) Upsert(context.Context, []vector.Vector) error { return nil }

func (x *stubIndex) Query(ctx context.Context, _ []float32, _ int) ([]vector.Match, error) {
	scope, err := reqctx.ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.queried++
	x.scopes = append(x.scopes, scope)
	return x.matches, nil
}

func (x *stubIndex) DeleteByDocument(context.Context, uuid.UUID) error { return nil }

// testEnv holds everything a test needs to drive a Server.
type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	sessions *session.Store
	redis    *miniredis.Miniredis
	engine   *stubEngine
}

type envOption func(*bindings.Bindings)

func withDB(db *store.Store) envOption { return func(b *bindings.Bindings) { b.DB = db } }
func withIndex(ix vector.Index) envOption { return func(b *bindings.Bindings) { b.Vectors = ix } }
func withEngine(e ai.Engine) envOption { return func(b *bindings.Bindings) { b.AI = e } }
func withBootstrap(secret string) envOption { return func(b *bindings.Bindings) { b.BootstrapSecret = secret } }

// newTestEnv builds a Server over a complete environment. The DB defaults to
// a pool-less Store, enough for routes that never reach Postgres.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions, err := session.New(redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 200 * time.Millisecond,
		ReadTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	}))
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	engine := &stubEngine{embedding: []float32{1, 0}, answer: "stub answer"}
	b := bindings.Bindings{
		AI:            engine,
		DB:            store.New(nil),
		Sessions:      sessions,
		Vectors:       &stubIndex{},
		JWTSecret:     testJWTSecret,
		PushPublicKey: testPushKey,
		PaymentSecret: testPaymentSecret,
	}
	for _, o := range opts {
		o(&b)
	}
	env, err := bindings.New(b)
	if err != nil {
		t.Fatalf("bindings: %v", err)
	}

	cfg := &config.Config{Argon2MaxConcurrent: 2} //nolint:exhaustruct // test: HTTP tuning only
	srv := NewServer(env, cfg)
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, ts: ts, sessions: sessions, redis: mr, engine: engine}
}

// mintSession stores a session record for userID in scope and returns the token.
func (te *testEnv) mintSession(t *testing.T, userID uuid.UUID, scope reqctx.Scope) string {
	t.Helper()
	sid, err := auth.NewSessionID()
	if err != nil {
		t.Fatalf("session id: %v", err)
	}
	token, err := auth.IssueSessionToken([]byte(testJWTSecret), userID, sid, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec := session.Record{UserID: userID.String(), IssuedAt: time.Now()}
	if dept, ok := scope.Department(); ok {
		rec.ScopeKind, rec.Department = session.ScopeDepartment, dept
	} else {
		rec.ScopeKind = session.ScopeGlobal
	}
	if err := te.sessions.SaveRecord(context.Background(), auth.SessionKey(sid), rec, time.Hour); err != nil {
		t.Fatalf("save record: %v", err)
	}
	return token
}

// do sends a request to the test server. A non-empty token is sent as the
// session cookie along with the CSRF header.
func (te *testEnv) do(t *testing.T, method, path, token, body string) (*http.Response, string) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, te.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
		req.Header.Set(csrfHeader, csrfHeaderValue)
	}
	resp, err := te.ts.Client().Do(req) //nolint:gosec // G704 false positive: test server URL
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.String()
}

// newDBEnv is newTestEnv over a real Postgres: the DB binding connects as the
// application role so row-level security is in force, and VECTORIZE is a
// PGIndex on the same pool.
func newDBEnv(t *testing.T, opts ...envOption) (*testEnv, *testutil.TestDB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	base := []envOption{withDB(db.AppStore), withIndex(vector.NewPGIndex(db.AppStore.Pool()))}
	return newTestEnv(t, append(base, opts...)...), db
}

// seedUser creates an account with a real argon2 hash. An empty dept with
// role admin yields a global account.
func seedUser(t *testing.T, db *testutil.TestDB, email, password, dept, role string) *store.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	p := store.CreateUserParams{Email: email, DisplayName: email, PasswordHash: hash, Role: role}
	if dept != "" {
		p.Department = &dept
	}
	u, err := db.CreateUser(context.Background(), p)
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}
