// Package vector is the VECTORIZE binding: a similarity index over document
// embeddings. Queries honour the request's department scope; writes carry
// their department explicitly.
package vector

import (
	"context"
	"errors"
	"math"
	"slices"
	"sort"

	"github.com/google/uuid"
)

// ErrDimensionMismatch is returned when vectors of different lengths are mixed.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// Vector is one indexed embedding.
type Vector struct {
	ID         string
	DocumentID uuid.UUID
	Department string
	Values     []float32
}

// Match is a query hit ordered by descending Score.
type Match struct {
	ID         string
	DocumentID uuid.UUID
	Department string
	Score      float64
}

// Index is the similarity-search capability handed to request handlers.
type Index interface {
	// Upsert inserts or replaces vectors by ID.
	Upsert(ctx context.Context, vectors []Vector) error
	// Query returns up to topK nearest vectors visible in the request's scope.
	// Unauthenticated contexts are rejected.
	Query(ctx context.Context, values []float32, topK int) ([]Match, error)
	// DeleteByDocument removes all vectors of a document.
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is a zero vector or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// best keeps the topK highest-scoring matches seen so far, ordered by
// descending score. Ties keep the earlier match.
type best struct {
	k  int
	ms []Match
}

func newBest(k int) *best { return &best{k: k} }

func (b *best) offer(m Match) {
	if b.k > 0 && len(b.ms) == b.k && m.Score <= b.ms[len(b.ms)-1].Score {
		return
	}
	i := sort.Search(len(b.ms), func(i int) bool { return b.ms[i].Score < m.Score })
	b.ms = slices.Insert(b.ms, i, m)
	if b.k > 0 && len(b.ms) > b.k {
		b.ms = b.ms[:b.k]
	}
}

// add scores each candidate against query. Candidates of another dimension
// are skipped.
func (b *best) add(query []float32, candidates []Vector) {
	for _, c := range candidates {
		if len(c.Values) != len(query) {
			continue
		}
		b.offer(Match{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			Department: c.Department,
			Score:      cosineSimilarity(query, c.Values),
		})
	}
}

func (b *best) matches() []Match {
	if b.ms == nil {
		return []Match{}
	}
	return b.ms
}

// rank scores candidates against query and keeps the best topK. topK <= 0
// keeps all of them.
func rank(query []float32, candidates []Vector, topK int) []Match {
	b := newBest(topK)
	b.add(query, candidates)
	return b.matches()
}
