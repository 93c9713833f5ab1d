// Package bindings holds the capability environment: the fixed set of handles
// to external systems and secrets that every request handler receives.
//
// An [Env] is built once at startup with [New], which refuses to produce an
// environment with a required binding missing. After construction it is
// read-only and safe to share across concurrent requests.
package bindings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/ai"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/session"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/vector"
)

// Binding names, as configured for the deployment.
const (
	NameAI              = "AI"
	NameDB              = "DB"
	NameSessions        = "SESSIONS"
	NameVectors         = "VECTORIZE"
	NameJWTSecret       = "JWT_SECRET"
	NamePushPublicKey   = "VAPID_PUBLIC_KEY"
	NamePaymentSecret   = "PAYSTACK_SECRET"
	NameBootstrapSecret = "BOOTSTRAP_SECRET"
)

var (
	// ErrMissingBinding is wrapped by *MissingBindingError.
	ErrMissingBinding = errors.New("bindings: required binding missing")

	// ErrUnknownBinding is returned by Lookup for a name outside the fixed set.
	ErrUnknownBinding = errors.New("bindings: unknown binding")

	// ErrBindingAbsent is returned by Lookup for an optional binding that is not configured.
	ErrBindingAbsent = errors.New("bindings: optional binding not configured")
)

// MissingBindingError lists every required binding that was not supplied.
type MissingBindingError struct {
	Names []string
}

func (e *MissingBindingError) Error() string {
	return fmt.Sprintf("bindings: required binding(s) missing: %s", strings.Join(e.Names, ", "))
}

func (e *MissingBindingError) Unwrap() error { return ErrMissingBinding }

// Bindings is the raw input to New. Secrets are plain strings here and are
// wrapped before they reach the Env.
type Bindings struct {
	AI              ai.Engine
	DB              *store.Store
	Sessions        *session.Store
	Vectors         vector.Index
	JWTSecret       string
	PushPublicKey   string
	PaymentSecret   string
	BootstrapSecret string // optional
}

// Env is the immutable capability environment.
type Env struct {
	ai              ai.Engine
	db              *store.Store
	sessions        *session.Store
	vectors         vector.Index
	jwtSecret       Secret
	pushPublicKey   string
	paymentSecret   Secret
	bootstrapSecret Secret
}

// New validates b and returns the environment. Every missing required binding
// is reported in one *MissingBindingError; the bootstrap secret is optional.
func New(b Bindings) (*Env, error) {
	var missing []string
	if b.AI == nil {
		missing = append(missing, NameAI)
	}
	if b.DB == nil {
		missing = append(missing, NameDB)
	}
	if b.Sessions == nil {
		missing = append(missing, NameSessions)
	}
	if b.Vectors == nil {
		missing = append(missing, NameVectors)
	}
	if strings.TrimSpace(b.JWTSecret) == "" {
		missing = append(missing, NameJWTSecret)
	}
	if strings.TrimSpace(b.PushPublicKey) == "" {
		missing = append(missing, NamePushPublicKey)
	}
	if strings.TrimSpace(b.PaymentSecret) == "" {
		missing = append(missing, NamePaymentSecret)
	}
	if len(missing) > 0 {
		return nil, &MissingBindingError{Names: missing}
	}

	env := &Env{
		ai:            b.AI,
		db:            b.DB,
		sessions:      b.Sessions,
		vectors:       b.Vectors,
		jwtSecret:     NewSecret(b.JWTSecret),
		pushPublicKey: b.PushPublicKey,
		paymentSecret: NewSecret(b.PaymentSecret),
	}
	if strings.TrimSpace(b.BootstrapSecret) != "" {
		env.bootstrapSecret = NewSecret(b.BootstrapSecret)
	}
	return env, nil
}

// AI returns the inference engine.
func (e *Env) AI() ai.Engine { return e.ai }

// DB returns the relational store.
func (e *Env) DB() *store.Store { return e.db }

// Sessions returns the key-value session store.
func (e *Env) Sessions() *session.Store { return e.sessions }

// Vectors returns the similarity index.
func (e *Env) Vectors() vector.Index { return e.vectors }

// JWTSecret returns the token signing key.
func (e *Env) JWTSecret() Secret { return e.jwtSecret }

// PushPublicKey returns the push subscription public key. Safe to expose.
func (e *Env) PushPublicKey() string { return e.pushPublicKey }

// PaymentSecret returns the payment provider credential.
func (e *Env) PaymentSecret() Secret { return e.paymentSecret }

// BootstrapSecret returns the bootstrap credential; ok is false when the
// deployment did not configure one and privileged initialisation is disabled.
func (e *Env) BootstrapSecret() (Secret, bool) {
	return e.bootstrapSecret, !e.bootstrapSecret.IsZero()
}

// Lookup resolves a binding by name. Secrets are returned as Secret values.
func (e *Env) Lookup(name string) (any, error) {
	switch name {
	case NameAI:
		return e.ai, nil
	case NameDB:
		return e.db, nil
	case NameSessions:
		return e.sessions, nil
	case NameVectors:
		return e.vectors, nil
	case NameJWTSecret:
		return e.jwtSecret, nil
	case NamePushPublicKey:
		return e.pushPublicKey, nil
	case NamePaymentSecret:
		return e.paymentSecret, nil
	case NameBootstrapSecret:
		if s, ok := e.BootstrapSecret(); ok {
			return s, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrBindingAbsent, name)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBinding, name)
	}
}
