// ABOUTME: Authentication session records stored in the SESSIONS binding.
// ABOUTME: A record pins the user and the department scope chosen at login.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
)

// Scope kinds persisted in Record.ScopeKind.
const (
	ScopeGlobal     = "global"
	ScopeDepartment = "department"
)

// ErrInvalidRecord is returned when a stored record cannot be turned into a principal.
var ErrInvalidRecord = errors.New("session: invalid record")

// Record is the server-side half of an authenticated session. The scope is
// recorded explicitly at login so global visibility is an auditable decision
// rather than a consequence of a missing department.
type Record struct {
	UserID     string    `json:"user_id"`
	ScopeKind  string    `json:"scope"`
	Department string    `json:"department,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Principal converts the record to a request principal.
func (r Record) Principal() (reqctx.Principal, error) {
	if r.UserID == "" {
		return reqctx.Principal{}, fmt.Errorf("%w: missing user id", ErrInvalidRecord)
	}
	switch r.ScopeKind {
	case ScopeGlobal:
		return reqctx.NewPrincipal(r.UserID, reqctx.Global()), nil
	case ScopeDepartment:
		if r.Department == "" {
			return reqctx.Principal{}, fmt.Errorf("%w: department scope without department", ErrInvalidRecord)
		}
		return reqctx.NewPrincipal(r.UserID, reqctx.Department(r.Department)), nil
	default:
		return reqctx.Principal{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidRecord, r.ScopeKind)
	}
}

func recordKey(sessionID string) string { return "auth:" + sessionID }

// SaveRecord stores rec under sessionID for ttl.
func (s *Store) SaveRecord(ctx context.Context, sessionID string, rec Record, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	return s.Put(ctx, recordKey(sessionID), b, ttl)
}

// LoadRecord returns the record for sessionID, or ErrNotFound.
func (s *Store) LoadRecord(ctx context.Context, sessionID string) (Record, error) {
	b, err := s.Get(ctx, recordKey(sessionID))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return rec, nil
}

// RevokeRecord deletes the record for sessionID.
func (s *Store) RevokeRecord(ctx context.Context, sessionID string) error {
	return s.Delete(ctx, recordKey(sessionID))
}
