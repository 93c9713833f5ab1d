// ABOUTME: HTTP handlers for department documents: list, create, read, delete.
// ABOUTME: Scope comes from the bound principal; the store filters or rejects by department.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/worker"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxTitleRunes   = 300
)

type documentEntry struct {
	ID         string `json:"id"`
	Department string `json:"department"`
	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func documentToEntry(d *store.Document, withBody bool) documentEntry {
	e := documentEntry{
		ID:         d.ID.String(),
		Department: d.Department,
		Title:      d.Title,
		CreatedBy:  d.CreatedBy.String(),
		CreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  d.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if withBody {
		e.Body = d.Body
	}
	return e
}

type listDocumentsResponse struct {
	Items      []documentEntry `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// listDocumentsHandler handles GET /api/v1/documents?after=<id>&limit=<n>.
func (srv *Server) listDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultPageSize
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxPageSize)
	}
	var after *uuid.UUID
	if s := q.Get("after"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			http.Error(w, "after must be a document id", http.StatusBadRequest)
			return
		}
		after = &id
	}

	docs, err := srv.env.DB().ListDocuments(r.Context(), after, limit)
	if err != nil {
		writeError(w, r, "list documents", err)
		return
	}
	resp := listDocumentsResponse{Items: make([]documentEntry, 0, len(docs))}
	for i := range docs {
		resp.Items = append(resp.Items, documentToEntry(&docs[i], false))
	}
	if len(docs) == limit {
		resp.NextCursor = docs[len(docs)-1].ID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type createDocumentBody struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Department string `json:"department,omitempty"`
}

// createDocumentHandler handles POST /api/v1/documents. Department-scoped
// callers may omit the department; a different one is rejected with 403.
// Embedding is queued; the document is searchable once the job runs.
func (srv *Server) createDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := reqctx.RequireUserID(ctx)
	if err != nil {
		writeError(w, r, "create document", err)
		return
	}
	createdBy, err := uuid.Parse(userID)
	if err != nil {
		writeError(w, r, "create document: parse user id", err)
		return
	}

	var req createDocumentBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || strings.TrimSpace(req.Body) == "" {
		http.Error(w, "title and body are required", http.StatusBadRequest)
		return
	}
	if utf8.RuneCountInString(req.Title) > maxTitleRunes {
		http.Error(w, "title is too long", http.StatusBadRequest)
		return
	}

	doc, err := srv.env.DB().CreateDocument(ctx, store.CreateDocumentParams{
		Department: strings.TrimSpace(req.Department),
		Title:      req.Title,
		Body:       req.Body,
		CreatedBy:  createdBy,
	})
	if err != nil {
		writeError(w, r, "create document", err)
		return
	}

	if err := worker.EnqueueEmbed(ctx, srv.env.DB(), doc.ID); err != nil {
		// The document exists; a later edit or manual re-enqueue indexes it.
		slog.ErrorContext(ctx, "create document: enqueue embed", "document_id", doc.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, documentToEntry(doc, true))
}

func documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// getDocumentHandler handles GET /api/v1/documents/{id}. A document outside
// the caller's department is reported as not found.
func (srv *Server) getDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := srv.env.DB().GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, "get document", err)
		return
	}
	if doc == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, documentToEntry(doc, true))
}

// deleteDocumentHandler handles DELETE /api/v1/documents/{id}.
func (srv *Server) deleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	deleted, err := srv.env.DB().DeleteDocument(ctx, id)
	if err != nil {
		writeError(w, r, "delete document", err)
		return
	}
	if !deleted {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	// The Postgres index cascades with the documents row. The call keeps
	// any other Index binding, which need not share this database, in step.
	if err := srv.env.Vectors().DeleteByDocument(ctx, id); err != nil {
		slog.WarnContext(ctx, "delete document: drop vectors", "document_id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
