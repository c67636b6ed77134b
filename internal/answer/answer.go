// Package answer turns a question about an indexed repository into a
// grounded response: embed the query, retrieve the nearest chunks,
// assemble them into a context block and ask the LLM.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repochat/repochat/internal/ai"
	"github.com/repochat/repochat/internal/vecstore"
	"github.com/repochat/repochat/pkg/models"
)

// NoContextAnswer is the reply when retrieval finds nothing. It is an
// answer, not an error, and no LLM call is made to produce it.
const NoContextAnswer = "No relevant context found for the query."

const systemPrompt = "Answer as concisely as possible."

const defaultTopK = 10

// Request is one question against an indexed namespace.
type Request struct {
	Namespace string
	Query     string
	History   []models.ConversationTurn
}

// Response carries the generated answer and the matches behind it.
type Response struct {
	Answer  string
	Matches []models.Match
}

// Service answers questions with retrieval-augmented generation.
type Service struct {
	AI    ai.Client
	Store vecstore.Store
	TopK  int
}

func New(client ai.Client, store vecstore.Store) *Service {
	return &Service{AI: client, Store: store, TopK: defaultTopK}
}

// Answer runs the retrieval pipeline for one question. Failures
// propagate; only a genuinely empty retrieval yields the canned
// no-context answer.
func (s *Service) Answer(ctx context.Context, req Request) (Response, error) {
	var resp Response

	// Retrieval sees only the latest question. History shapes the
	// prompt, not the search.
	vecs, err := s.AI.EmbedBatch(ctx, []string{req.Query})
	if err != nil {
		return resp, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return resp, fmt.Errorf("%w: expected 1 query vector, got %d", ai.ErrEmbeddingFailed, len(vecs))
	}

	topK := s.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	log.Info().Str("namespace", req.Namespace).Int("top_k", topK).Msg("retrieving context")
	matches, err := s.Store.Query(ctx, req.Namespace, vecs[0], topK)
	if err != nil {
		return resp, fmt.Errorf("retrieve context: %w", err)
	}
	resp.Matches = matches

	if len(matches) == 0 {
		log.Info().Str("namespace", req.Namespace).Msg("no relevant context found")
		resp.Answer = NoContextAnswer
		return resp, nil
	}

	prompt := buildPrompt(req.Query, req.History, matches)
	answer, err := s.AI.Complete(ctx, systemPrompt, []models.ConversationTurn{
		{Role: models.RoleUser, Content: prompt},
	})
	if err != nil {
		return resp, fmt.Errorf("generate answer: %w", err)
	}
	resp.Answer = answer
	return resp, nil
}

// buildPrompt assembles the augmented user message: retrieved chunks
// inside a <CONTEXT> block, then the conversation so far, then the
// question.
func buildPrompt(query string, history []models.ConversationTurn, matches []models.Match) string {
	contexts := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		// Matches arrive best-first, so the first copy of duplicated
		// content carries the highest score.
		if seen[m.Chunk.Content] {
			continue
		}
		seen[m.Chunk.Content] = true
		contexts = append(contexts, m.Chunk.Content)
	}

	question := query
	if len(history) > 0 {
		lines := make([]string, len(history))
		for i, turn := range history {
			lines[i] = turn.Role + ": " + turn.Content
		}
		question = "History:\n" + strings.Join(lines, "\n") + "\n\nQuery:\n" + query
	}

	return "<CONTEXT>\n" + strings.Join(contexts, "\n\n-------\n\n") + "\n-------\n</CONTEXT>\n\n" + question
}
