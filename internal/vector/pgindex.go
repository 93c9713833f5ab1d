// ABOUTME: Postgres-backed vector index: embeddings in a real[] column, cosine ranking in Go.
// ABOUTME: Query applies the request's department filter; global scope applies none.
package vector

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
)

// DefaultTopK is used when Query is called with topK <= 0.
const DefaultTopK = 5

// candidatePage is how many rows Query reads per round trip. Every in-scope
// vector is scored; paging only bounds memory.
const candidatePage = 1000

// PGIndex implements Index on the document_vectors table.
type PGIndex struct {
	pool     *pgxpool.Pool
	pageSize int
}

var _ Index = (*PGIndex)(nil)

// NewPGIndex returns an index backed by pool.
func NewPGIndex(pool *pgxpool.Pool) *PGIndex {
	return &PGIndex{pool: pool, pageSize: candidatePage}
}

// Upsert writes vectors in one transaction. All vectors must share a dimension.
func (ix *PGIndex) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0].Values)
	for _, v := range vectors {
		if len(v.Values) != dim || dim == 0 {
			return fmt.Errorf("upsert %s: %w", v.ID, ErrDimensionMismatch)
		}
		if v.Department == "" {
			return fmt.Errorf("upsert %s: department is required", v.ID)
		}
	}

	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vector upsert: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, v := range vectors {
		batch.Queue(`
			INSERT INTO document_vectors (id, document_id, department, embedding)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET document_id = EXCLUDED.document_id,
			    department  = EXCLUDED.department,
			    embedding   = EXCLUDED.embedding,
			    updated_at  = now()`,
			v.ID, v.DocumentID, v.Department, v.Values)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("vector upsert: %w", err)
	}
	return tx.Commit(ctx)
}

// buildCandidateQuery returns one page of candidates for scope, ordered by id
// and starting after the id after ("" for the first page). A department scope
// always adds the department predicate; global scope adds none.
func buildCandidateQuery(scope reqctx.Scope, dim int, after string, limit int) (string, []any, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.Select("id", "document_id", "department", "embedding").
		From("document_vectors").
		Where(sq.Eq{"array_length(embedding, 1)": dim}).
		OrderBy("id").
		Limit(uint64(limit)) //nolint:gosec // limit is a positive page size

	if dept, ok := scope.Department(); ok {
		sb = sb.Where(sq.Eq{"department": dept})
	} else if !scope.IsGlobal() {
		return "", nil, reqctx.ErrUnresolvedScope
	}
	if after != "" {
		sb = sb.Where(sq.Gt{"id": after})
	}
	return sb.ToSql()
}

// pageFunc fetches up to limit candidates with id greater than after.
type pageFunc func(ctx context.Context, after string, limit int) ([]Vector, error)

// scanAll walks every page from fetch and keeps the best topK.
func scanAll(ctx context.Context, query []float32, topK, pageSize int, fetch pageFunc) ([]Match, error) {
	b := newBest(topK)
	after := ""
	for {
		page, err := fetch(ctx, after, pageSize)
		if err != nil {
			return nil, err
		}
		b.add(query, page)
		if len(page) < pageSize {
			return b.matches(), nil
		}
		after = page[len(page)-1].ID
	}
}

// Query ranks every vector visible in the request scope against values.
func (ix *PGIndex) Query(ctx context.Context, values []float32, topK int) ([]Match, error) {
	scope, err := reqctx.ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errors.New("vector query: empty query vector")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	fetch := func(ctx context.Context, after string, limit int) ([]Vector, error) {
		query, args, err := buildCandidateQuery(scope, len(values), after, limit)
		if err != nil {
			return nil, fmt.Errorf("vector query: build query: %w", err)
		}
		rows, err := ix.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("vector query: %w", err)
		}
		page, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Vector, error) {
			var v Vector
			err := row.Scan(&v.ID, &v.DocumentID, &v.Department, &v.Values)
			return v, err
		})
		if err != nil {
			return nil, fmt.Errorf("vector query: scan: %w", err)
		}
		return page, nil
	}
	return scanAll(ctx, values, topK, ix.pageSize, fetch)
}

// DeleteByDocument removes every vector belonging to documentID.
func (ix *PGIndex) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	if _, err := ix.pool.Exec(ctx, `DELETE FROM document_vectors WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("vector delete %s: %w", documentID, err)
	}
	return nil
}
