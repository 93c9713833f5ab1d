// ABOUTME: POST /api/v1/ask: embeds the question, retrieves in-scope documents, generates an answer.
// ABOUTME: Both the vector query and the document fetch are filtered by the bound department.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/ai"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/reqctx"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/vector"
)

const (
	maxQuestionRunes = 2000
	maxTopK          = 20
	// contextRunes caps each document excerpt placed in the prompt.
	contextRunes = 4000
	answerTokens = 768
)

const systemPrompt = "You are Ozzy, an assistant for government staff. " +
	"Answer using only the reference documents provided. " +
	"If they do not contain the answer, say so plainly. Cite document titles in brackets."

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

type askSource struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Department string  `json:"department"`
	Score      float64 `json:"score"`
}

type askResponse struct {
	Answer  string      `json:"answer"`
	Sources []askSource `json:"sources"`
}

// askHandler handles POST /api/v1/ask.
func (srv *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" || utf8.RuneCountInString(req.Question) > maxQuestionRunes {
		http.Error(w, fmt.Sprintf("question must be 1-%d characters", maxQuestionRunes), http.StatusBadRequest)
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = vector.DefaultTopK
	}
	topK = min(topK, maxTopK)

	engine := srv.env.AI()
	embedding, err := engine.Embed(ctx, req.Question)
	if err != nil {
		writeError(w, r, "ask: embed question", err)
		return
	}
	matches, err := srv.env.Vectors().Query(ctx, embedding, topK)
	if err != nil {
		writeError(w, r, "ask: vector query", err)
		return
	}

	ids, best := bestScores(matches)
	docs, err := srv.env.DB().GetDocumentsByIDs(ctx, ids)
	if err != nil {
		writeError(w, r, "ask: load documents", err)
		return
	}
	docs = orderByScore(docs, ids)

	answer, err := engine.Generate(ctx, buildPrompt(req.Question, docs))
	if err != nil {
		writeError(w, r, "ask: generate", err)
		return
	}

	resp := askResponse{Answer: answer, Sources: make([]askSource, 0, len(docs))}
	for _, d := range docs {
		resp.Sources = append(resp.Sources, askSource{
			DocumentID: d.ID.String(),
			Title:      d.Title,
			Department: d.Department,
			Score:      best[d.ID],
		})
	}
	attrs := append(reqctx.LogAttrs(ctx), slog.Int("matches", len(matches)), slog.Int("sources", len(docs)))
	slog.LogAttrs(ctx, slog.LevelInfo, "ask answered", attrs...)
	writeJSON(w, http.StatusOK, resp)
}

// bestScores collapses chunk matches to documents, keeping the first (best)
// score per document and the document order by that score.
func bestScores(matches []vector.Match) ([]uuid.UUID, map[uuid.UUID]float64) {
	best := make(map[uuid.UUID]float64, len(matches))
	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		if _, seen := best[m.DocumentID]; seen {
			continue
		}
		best[m.DocumentID] = m.Score
		ids = append(ids, m.DocumentID)
	}
	return ids, best
}

// orderByScore returns docs in the order of ids, dropping any not present.
func orderByScore(docs []store.Document, ids []uuid.UUID) []store.Document {
	byID := make(map[uuid.UUID]store.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	out := make([]store.Document, 0, len(docs))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

func buildPrompt(question string, docs []store.Document) ai.Prompt {
	var b strings.Builder
	if len(docs) == 0 {
		b.WriteString("No reference documents are available for this question.\n")
	}
	for i, d := range docs {
		body := d.Body
		if utf8.RuneCountInString(body) > contextRunes {
			body = string([]rune(body)[:contextRunes])
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, d.Title, body)
	}
	return ai.Prompt{
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: systemPrompt},
			{Role: ai.RoleUser, Content: "Reference documents:\n" + b.String() + "\nQuestion: " + question},
		},
		MaxTokens: answerTokens,
	}
}
