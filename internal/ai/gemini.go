package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/repochat/repochat/pkg/models"
)

type GeminiClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewGeminiClient creates a client for the Gemini API. An API key
// selects the public Gemini backend; without one the client falls back
// to Vertex AI with project and location credentials.
func NewGeminiClient(ctx context.Context, config *ClientConfig) (*GeminiClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-004"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		config: config,
		client: client,
	}, nil
}

// EmbedBatch implements the embedding functionality using the Gemini API
func (c *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	capped := make([]string, len(texts))
	for i, t := range texts {
		capped[i] = truncate(t)
	}
	return embedInBatches(ctx, capped, c.embedOnce)
}

func (c *GeminiClient) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	cfg := genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	}

	contents := make([]*genai.Content, 0, len(batch))
	for _, text := range batch {
		contents = append(contents, genai.Text(text)[0])
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if res == nil || len(res.Embeddings) != len(batch) {
		return nil, fmt.Errorf("%w: provider returned %d embeddings for %d inputs",
			ErrEmbeddingFailed, embeddingCount(res), len(batch))
	}

	vecs := make([][]float32, len(batch))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding for input %d", ErrEmbeddingFailed, i)
		}
		vecs[i] = emb.Values
	}
	return vecs, nil
}

func embeddingCount(res *genai.EmbedContentResponse) int {
	if res == nil {
		return 0
	}
	return len(res.Embeddings)
}

// Complete implements chat completion using the Gemini API
func (c *GeminiClient) Complete(ctx context.Context, system string, turns []models.ConversationTurn) (string, error) {
	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if system != "" {
		cfg.SystemInstruction = genai.Text(system)[0]
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Content}},
		})
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.ChatModel, contents, &cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", ErrGenerationFailed)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *GeminiClient) Dim() int {
	return c.config.Dim
}
