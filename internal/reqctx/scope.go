// ABOUTME: Scope value type: explicit global visibility or a single-department filter.
// ABOUTME: The zero Scope is unresolved and rejected by Bind.
package reqctx

import (
	"log/slog"
	"strings"
)

type scopeKind uint8

const (
	scopeUnresolved scopeKind = iota
	scopeGlobal
	scopeDepartment
)

// Scope bounds the data a request may see. Build one with Global or Department.
type Scope struct {
	kind scopeKind
	dept string
}

// Global returns the unrestricted scope. Callers choose it explicitly; it is
// never inferred from a missing department.
func Global() Scope { return Scope{kind: scopeGlobal} }

// Department returns a scope restricted to dept. A blank dept yields the
// unresolved scope, which Bind rejects.
func Department(dept string) Scope {
	dept = strings.TrimSpace(dept)
	if dept == "" {
		return Scope{}
	}
	return Scope{kind: scopeDepartment, dept: dept}
}

// IsGlobal reports whether the scope grants unrestricted visibility.
func (s Scope) IsGlobal() bool { return s.kind == scopeGlobal }

// Department returns the department filter and true for a restricted scope.
func (s Scope) Department() (string, bool) {
	if s.kind != scopeDepartment {
		return "", false
	}
	return s.dept, true
}

// Allows reports whether a record owned by dept is visible in this scope.
func (s Scope) Allows(dept string) bool {
	switch s.kind {
	case scopeGlobal:
		return true
	case scopeDepartment:
		return s.dept == dept
	default:
		return false
	}
}

func (s Scope) resolved() bool { return s.kind != scopeUnresolved }

func (s Scope) String() string {
	switch s.kind {
	case scopeGlobal:
		return "global"
	case scopeDepartment:
		return "department:" + s.dept
	default:
		return "unresolved"
	}
}

// LogValue implements slog.LogValuer.
func (s Scope) LogValue() slog.Value { return slog.StringValue(s.String()) }
