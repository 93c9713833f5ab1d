// ABOUTME: Store methods for knowledge-base documents, the department-owned data.
// ABOUTME: Every method runs in ScopedTx and filters by the request's department.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
)

// Document is a knowledge-base entry owned by one department.
type Document struct {
	ID         uuid.UUID
	Department string
	Title      string
	Body       string
	CreatedBy  uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateDocumentParams holds the fields for CreateDocument. An empty Department
// defaults to the request's department filter.
type CreateDocumentParams struct {
	Department string
	Title      string
	Body       string
	CreatedBy  uuid.UUID
}

const documentColumns = "id, department, title, body, created_by, created_at, updated_at"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	if err := row.Scan(&d.ID, &d.Department, &d.Title, &d.Body, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// resolveDepartment picks the target department for a write and checks it
// against scope.
func resolveDepartment(scope reqctx.Scope, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if dept, ok := scope.Department(); ok {
		if requested == "" {
			return dept, nil
		}
		if requested != dept {
			return "", ErrScopeViolation
		}
		return dept, nil
	}
	if !scope.IsGlobal() {
		return "", reqctx.ErrUnresolvedScope
	}
	if requested == "" {
		return "", ErrDepartmentRequired
	}
	return requested, nil
}

// CreateDocument inserts a document into the request's department.
func (s *Store) CreateDocument(ctx context.Context, p CreateDocumentParams) (*Document, error) {
	var doc *Document
	err := s.ScopedTx(ctx, func(tx pgx.Tx, scope reqctx.Scope) error {
		dept, err := resolveDepartment(scope, p.Department)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO documents (department, title, body, created_by)
			VALUES ($1, $2, $3, $4)
			RETURNING `+documentColumns,
			dept, p.Title, p.Body, p.CreatedBy)
		doc, err = scanDocument(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// buildGetDocument returns the scoped lookup for a single document.
func buildGetDocument(scope reqctx.Scope, id uuid.UUID) (string, []any, error) {
	sb, err := applyScope(psql.Select(documentColumns).From("documents").Where(sq.Eq{"id": id}), scope, "department")
	if err != nil {
		return "", nil, err
	}
	return sb.ToSql()
}

// GetDocument returns the document with id if it is visible in the request
// scope, or (nil, nil) otherwise.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc *Document
	err := s.ScopedTx(ctx, func(tx pgx.Tx, scope reqctx.Scope) error {
		query, args, err := buildGetDocument(scope, id)
		if err != nil {
			return err
		}
		doc, err = scanDocument(tx.QueryRow(ctx, query, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			doc = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// buildListDocuments returns the scoped, id-ordered page query.
func buildListDocuments(scope reqctx.Scope, afterID *uuid.UUID, limit int) (string, []any, error) {
	sb := psql.Select(documentColumns).
		From("documents").
		OrderBy("id ASC").
		Limit(uint64(limit)) //nolint:gosec // G115: limit validated by caller
	if afterID != nil {
		sb = sb.Where(sq.Gt{"id": *afterID})
	}
	sb, err := applyScope(sb, scope, "department")
	if err != nil {
		return "", nil, err
	}
	return sb.ToSql()
}

// ListDocuments returns up to limit documents visible in the request scope,
// ordered by id. Caller passes afterID from the last item to page.
func (s *Store) ListDocuments(ctx context.Context, afterID *uuid.UUID, limit int) ([]Document, error) {
	var docs []Document
	err := s.ScopedTx(ctx, func(tx pgx.Tx, scope reqctx.Scope) error {
		query, args, err := buildListDocuments(scope, afterID, limit)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		docs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Document, error) {
			d, err := scanDocument(row)
			if err != nil {
				return Document{}, err
			}
			return *d, nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// GetDocumentsByIDs returns the visible documents among ids. Documents outside
// the request scope are silently absent from the result.
func (s *Store) GetDocumentsByIDs(ctx context.Context, ids []uuid.UUID) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var docs []Document
	err := s.ScopedTx(ctx, func(tx pgx.Tx, scope reqctx.Scope) error {
		sb, err := applyScope(psql.Select(documentColumns).From("documents").Where("id = ANY(?)", ids), scope, "department")
		if err != nil {
			return err
		}
		query, args, err := sb.ToSql()
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		docs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Document, error) {
			d, err := scanDocument(row)
			if err != nil {
				return Document{}, err
			}
			return *d, nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument deletes the document if visible in the request scope.
// Returns false when nothing was deleted.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) (bool, error) {
	var deleted bool
	err := s.ScopedTx(ctx, func(tx pgx.Tx, scope reqctx.Scope) error {
		db, err := applyScope(psql.Delete("documents").Where(sq.Eq{"id": id}), scope, "department")
		if err != nil {
			return err
		}
		query, args, err := db.ToSql()
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	return deleted, nil
}

// GetDocumentForSystem returns a document regardless of department. Only for
// background jobs that carry no principal.
func (s *Store) GetDocumentForSystem(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc *Document
	err := s.systemTx(ctx, func(tx pgx.Tx) error {
		var err error
		doc, err = scanDocument(tx.QueryRow(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = $1", id))
		if errors.Is(err, pgx.ErrNoRows) {
			doc = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get document (system): %w", err)
	}
	return doc, nil
}
