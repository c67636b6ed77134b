package ai

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/repochat/repochat/pkg/models"
)

// Sentinel errors for the two provider operations. Callers branch on
// these with errors.Is to map failures to transport responses.
var (
	ErrEmbeddingFailed  = errors.New("embedding failed")
	ErrGenerationFailed = errors.New("generation failed")
)

const (
	// maxBatch bounds how many texts go into one embedding API call.
	maxBatch = 64
	// maxWorkers bounds concurrent embedding calls per request.
	maxWorkers = 8
	// maxInputBytes truncates oversized inputs instead of failing the
	// whole batch.
	maxInputBytes = 8000
)

// Client provides embedding and chat completion capabilities
type Client interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Complete generates a reply to the conversation under the given
	// system instruction.
	Complete(ctx context.Context, system string, turns []models.ConversationTurn) (string, error)
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderStub   Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// embedInBatches fans texts out to the provider in sub-batches of at
// most maxBatch, bounded by maxWorkers, and reassembles the vectors in
// input order by writing each sub-batch into its own output slot.
func embedInBatches(ctx context.Context, texts []string,
	embed func(ctx context.Context, batch []string) ([][]float32, error)) ([][]float32, error) {

	out := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for start := 0; start < len(texts); start += maxBatch {
		start := start
		end := min(start+maxBatch, len(texts))
		g.Go(func() error {
			vecs, err := embed(ctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("%w: got %d vectors for %d inputs",
					ErrEmbeddingFailed, len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// truncate caps a single input so one oversized chunk cannot sink the
// batch.
func truncate(text string) string {
	if len(text) > maxInputBytes {
		return text[:maxInputBytes]
	}
	return text
}

// StubClient is a stub implementation of the Client interface for testing
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// EmbedBatch derives each vector from a hash of its text, so identical
// inputs always embed identically and distinct inputs rarely collide.
func (s *StubClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(text))
		vec := make([]float32, s.dim)
		for j := range vec {
			vec[j] = float32(sum[j%len(sum)])/255.0 - 0.5
		}
		out[i] = vec
	}
	return out, nil
}

// Complete echoes the last line of the last user turn, which is where
// an assembled prompt puts the question, so tests can assert the
// prompt reached the model.
func (s *StubClient) Complete(ctx context.Context, system string, turns []models.ConversationTurn) (string, error) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != models.RoleUser {
			continue
		}
		content := strings.TrimSpace(turns[i].Content)
		if idx := strings.LastIndexByte(content, '\n'); idx >= 0 {
			content = content[idx+1:]
		}
		return "stub answer: " + content, nil
	}
	return "stub answer", nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
