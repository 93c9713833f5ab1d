// ABOUTME: Narrow per-capability interfaces over Env for consumers that need only part of it.
// ABOUTME: *Env satisfies all of them; tests substitute small fakes.
package bindings

import (
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/ai"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/session"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/vector"
)

type AIProvider interface {
	AI() ai.Engine
}

type DBProvider interface {
	DB() *store.Store
}

type SessionsProvider interface {
	Sessions() *session.Store
}

type VectorsProvider interface {
	Vectors() vector.Index
}

type SecretsProvider interface {
	JWTSecret() Secret
	PushPublicKey() string
	PaymentSecret() Secret
	BootstrapSecret() (Secret, bool)
}

var (
	_ AIProvider       = (*Env)(nil)
	_ DBProvider       = (*Env)(nil)
	_ SessionsProvider = (*Env)(nil)
	_ VectorsProvider  = (*Env)(nil)
	_ SecretsProvider  = (*Env)(nil)
)
