// ABOUTME: embed_document queue: chunks a document, embeds each chunk, replaces its vectors.
// ABOUTME: EnqueueEmbed is called by the documents API after every create.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/ai"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/vector"
)

// QueueEmbedDocument is the queue name for document embedding jobs.
const QueueEmbedDocument = "embed_document"

const (
	chunkRunes   = 1200
	chunkOverlap = 200
	maxChunks    = 64
	embedRetries = 5
)

// EmbedPayload is the job payload for QueueEmbedDocument.
type EmbedPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
}

// DocumentSource loads a document without a request principal.
type DocumentSource interface {
	GetDocumentForSystem(ctx context.Context, id uuid.UUID) (*store.Document, error)
}

// Enqueuer inserts jobs.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, queue string, payload json.RawMessage, lockKey *string, maxAttempts int32) (uuid.UUID, error)
}

// EnqueueEmbed schedules (re)embedding of documentID. Pending jobs for the
// same document are coalesced by lock key.
func EnqueueEmbed(ctx context.Context, q Enqueuer, documentID uuid.UUID) error {
	payload, err := json.Marshal(EmbedPayload{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("marshal embed payload: %w", err)
	}
	lockKey := "embed:" + documentID.String()
	if _, err := q.EnqueueJob(ctx, QueueEmbedDocument, payload, &lockKey, embedRetries); err != nil {
		return err
	}
	return nil
}

// EmbedDocument returns the handler for QueueEmbedDocument. A document that
// no longer exists completes the job without work.
func EmbedDocument(docs DocumentSource, engine ai.Engine, index vector.Index) Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var p EmbedPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.DocumentID == uuid.Nil {
			return fmt.Errorf("embed_document: bad payload %q", string(raw))
		}

		doc, err := docs.GetDocumentForSystem(ctx, p.DocumentID)
		if err != nil {
			return err
		}
		if doc == nil {
			slog.InfoContext(ctx, "embed_document: document gone", "document_id", p.DocumentID)
			return nil
		}

		chunks := chunkText(doc.Title+"\n\n"+doc.Body, chunkRunes, chunkOverlap)
		vectors := make([]vector.Vector, 0, len(chunks))
		for i, c := range chunks {
			values, err := engine.Embed(ctx, c)
			if err != nil {
				return fmt.Errorf("embed_document %s chunk %d: %w", doc.ID, i, err)
			}
			vectors = append(vectors, vector.Vector{
				ID:         fmt.Sprintf("%s#%d", doc.ID, i),
				DocumentID: doc.ID,
				Department: doc.Department,
				Values:     values,
			})
		}

		if err := index.DeleteByDocument(ctx, doc.ID); err != nil {
			return err
		}
		if err := index.Upsert(ctx, vectors); err != nil {
			if errors.Is(err, vector.ErrDimensionMismatch) {
				slog.ErrorContext(ctx, "embed_document: engine returned mixed dimensions", "document_id", doc.ID)
			}
			return err
		}
		slog.InfoContext(ctx, "embed_document: indexed",
			"document_id", doc.ID, "department", doc.Department, "chunks", len(vectors))
		return nil
	}
}

// chunkText splits s into windows of at most size runes that overlap by
// overlap runes, preferring to break on whitespace. Blank input yields nothing.
func chunkText(s string, size, overlap int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) <= size {
		return []string{s}
	}

	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes) && len(out) < maxChunks; {
		end := min(start+size, len(runes))
		if end < len(runes) {
			// Back up to the last space in the second half of the window.
			for j := end; j > start+size/2; j-- {
				if runes[j-1] == ' ' || runes[j-1] == '\n' {
					end = j
					break
				}
			}
		}
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			out = append(out, c)
		}
		if end == len(runes) {
			break
		}
		start = max(end-overlap, start+1)
	}
	return out
}
