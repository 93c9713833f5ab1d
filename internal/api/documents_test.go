// ABOUTME: Integration tests for document routes and /ask over real Postgres.
// ABOUTME: Each caller's department comes from its session; cross-department access must fail.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/vector"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/worker"
)

func createDoc(t *testing.T, te *testEnv, token, body string) (int, documentEntry) {
	t.Helper()
	resp, raw := te.do(t, http.MethodPost, "/api/v1/documents", token, body)
	var d documentEntry
	if resp.StatusCode == http.StatusCreated {
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			t.Fatalf("decode document: %v", err)
		}
	}
	return resp.StatusCode, d
}

func listDocs(t *testing.T, te *testEnv, token string) []documentEntry {
	t.Helper()
	resp, raw := te.do(t, http.MethodGet, "/api/v1/documents", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: got %d, want 200", resp.StatusCode)
	}
	var out listDocumentsResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return out.Items
}

func TestDocumentsHTTP_DepartmentIsolation(t *testing.T) {
	t.Parallel()
	te, db := newDBEnv(t)

	health := seedUser(t, db, "nurse@example.gov.gh", testPassword, "health", "")
	finance := seedUser(t, db, "clerk@example.gov.gh", testPassword, "finance", "")
	admin := seedUser(t, db, "root@example.gov.gh", testPassword, "", "admin")
	healthTok := te.mintSession(t, health.ID, reqctx.Department("health"))
	financeTok := te.mintSession(t, finance.ID, reqctx.Department("finance"))
	adminTok := te.mintSession(t, admin.ID, reqctx.Global())

	status, healthDoc := createDoc(t, te, healthTok, `{"title":"Leave policy","body":"Staff receive 30 days."}`)
	if status != http.StatusCreated || healthDoc.Department != "health" {
		t.Fatalf("health create: status %d dept %q", status, healthDoc.Department)
	}

	if status, _ := createDoc(t, te, healthTok, `{"title":"x","body":"y","department":"finance"}`); status != http.StatusForbidden {
		t.Errorf("cross-department create: got %d, want 403", status)
	}
	if status, _ := createDoc(t, te, adminTok, `{"title":"x","body":"y"}`); status != http.StatusBadRequest {
		t.Errorf("global create without department: got %d, want 400", status)
	}
	status, financeDoc := createDoc(t, te, adminTok, `{"title":"Budget","body":"Q3 figures.","department":"finance"}`)
	if status != http.StatusCreated || financeDoc.Department != "finance" {
		t.Fatalf("admin create for finance: status %d dept %q", status, financeDoc.Department)
	}

	if got := listDocs(t, te, healthTok); len(got) != 1 || got[0].ID != healthDoc.ID {
		t.Errorf("health list = %v, want only its own document", got)
	}
	if got := listDocs(t, te, financeTok); len(got) != 1 || got[0].ID != financeDoc.ID {
		t.Errorf("finance list = %v, want only its own document", got)
	}
	if got := listDocs(t, te, adminTok); len(got) != 2 {
		t.Errorf("global list has %d documents, want 2", len(got))
	}

	// Another department's document does not exist as far as finance can tell.
	if resp, _ := te.do(t, http.MethodGet, "/api/v1/documents/"+healthDoc.ID, financeTok, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("finance GET health doc: got %d, want 404", resp.StatusCode)
	}
	if resp, _ := te.do(t, http.MethodDelete, "/api/v1/documents/"+healthDoc.ID, financeTok, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("finance DELETE health doc: got %d, want 404", resp.StatusCode)
	}
	if resp, _ := te.do(t, http.MethodGet, "/api/v1/documents/"+healthDoc.ID, adminTok, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("global GET health doc: got %d, want 200", resp.StatusCode)
	}

	if resp, _ := te.do(t, http.MethodDelete, "/api/v1/documents/"+healthDoc.ID, healthTok, ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("health DELETE own doc: got %d, want 204", resp.StatusCode)
	}
	if resp, _ := te.do(t, http.MethodGet, "/api/v1/documents/"+healthDoc.ID, healthTok, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete: got %d, want 404", resp.StatusCode)
	}
}

func TestDocumentsHTTP_ListPagination(t *testing.T) {
	t.Parallel()
	te, db := newDBEnv(t)
	u := seedUser(t, db, "pager@example.gov.gh", testPassword, "health", "")
	tok := te.mintSession(t, u.ID, reqctx.Department("health"))

	for _, title := range []string{"a", "b", "c"} {
		if status, _ := createDoc(t, te, tok, `{"title":"`+title+`","body":"text"}`); status != http.StatusCreated {
			t.Fatalf("create %s: %d", title, status)
		}
	}

	seen := map[string]bool{}
	path := "/api/v1/documents?limit=2"
	for range 3 {
		resp, raw := te.do(t, http.MethodGet, path, tok, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list: got %d", resp.StatusCode)
		}
		var page listDocumentsResponse
		if err := json.Unmarshal([]byte(raw), &page); err != nil {
			t.Fatalf("decode: %v", err)
		}
		for _, d := range page.Items {
			if seen[d.ID] {
				t.Errorf("document %s returned twice", d.ID)
			}
			seen[d.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		path = "/api/v1/documents?limit=2&after=" + page.NextCursor
	}
	if len(seen) != 3 {
		t.Errorf("paged through %d documents, want 3", len(seen))
	}

	if resp, _ := te.do(t, http.MethodGet, "/api/v1/documents?limit=0", tok, ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0: got %d, want 400", resp.StatusCode)
	}
	if resp, _ := te.do(t, http.MethodGet, "/api/v1/documents?after=nope", tok, ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad cursor: got %d, want 400", resp.StatusCode)
	}
}

// Title length is measured in characters, so a title in a non-Latin script is
// not rejected for its byte length.
func TestDocumentsHTTP_TitleLimitCountsRunes(t *testing.T) {
	t.Parallel()
	te, db := newDBEnv(t)
	u := seedUser(t, db, "twi@example.gov.gh", testPassword, "health", "")
	tok := te.mintSession(t, u.ID, reqctx.Department("health"))

	atLimit := strings.Repeat("ɛ", maxTitleRunes)
	if status, d := createDoc(t, te, tok, `{"title":"`+atLimit+`","body":"text"}`); status != http.StatusCreated || d.Title != atLimit {
		t.Errorf("%d two-byte runes: got %d, want 201", maxTitleRunes, status)
	}
	if status, _ := createDoc(t, te, tok, `{"title":"`+atLimit+`ɛ","body":"text"}`); status != http.StatusBadRequest {
		t.Errorf("%d runes: got %d, want 400", maxTitleRunes+1, status)
	}
}

// Documents created over HTTP are embedded by the job the create enqueued;
// /ask then only cites sources in the caller's department.
func TestAsk_EndToEndScopedSources(t *testing.T) {
	t.Parallel()
	te, db := newDBEnv(t)
	ctx := context.Background()

	health := seedUser(t, db, "doc@example.gov.gh", testPassword, "health", "")
	admin := seedUser(t, db, "root@example.gov.gh", testPassword, "", "admin")
	healthTok := te.mintSession(t, health.ID, reqctx.Department("health"))
	adminTok := te.mintSession(t, admin.ID, reqctx.Global())

	if status, _ := createDoc(t, te, healthTok, `{"title":"Vaccination schedule","body":"Clinics open at 8."}`); status != http.StatusCreated {
		t.Fatalf("create health doc: %d", status)
	}
	if status, _ := createDoc(t, te, adminTok, `{"title":"Payroll calendar","body":"Salaries paid on the 25th.","department":"finance"}`); status != http.StatusCreated {
		t.Fatalf("create finance doc: %d", status)
	}

	embed := worker.EmbedDocument(db.Store, te.engine, vector.NewPGIndex(db.Pool()))
	for {
		job, err := db.ClaimJob(ctx, worker.QueueEmbedDocument, "test")
		if err != nil {
			t.Fatalf("claim job: %v", err)
		}
		if job == nil {
			break
		}
		if err := embed(ctx, job.Payload); err != nil {
			t.Fatalf("embed job: %v", err)
		}
		if err := db.CompleteJob(ctx, job.ID); err != nil {
			t.Fatalf("complete job: %v", err)
		}
	}

	ask := func(token string) askResponse {
		t.Helper()
		resp, raw := te.do(t, http.MethodPost, "/api/v1/ask", token, `{"question":"When do things happen?"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ask: got %d (%s)", resp.StatusCode, raw)
		}
		var out askResponse
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			t.Fatalf("decode ask: %v", err)
		}
		return out
	}

	out := ask(healthTok)
	if len(out.Sources) != 1 || out.Sources[0].Title != "Vaccination schedule" {
		t.Errorf("health sources = %+v, want only the health document", out.Sources)
	}
	if strings.Contains(te.engine.lastPrompt(), "Payroll") {
		t.Error("finance document leaked into a health prompt")
	}

	out = ask(adminTok)
	if len(out.Sources) != 2 {
		t.Errorf("global sources = %+v, want both documents", out.Sources)
	}
}
