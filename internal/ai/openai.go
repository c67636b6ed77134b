package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/repochat/repochat/pkg/models"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// maxAttempts bounds how often a transient API failure is retried.
const maxAttempts = 3

// OpenAIClient talks to any OpenAI-compatible API. Pointing BaseURL at
// a different host (Groq, a local gateway) is all it takes to switch.
type OpenAIClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	// Set default models if not provided
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gpt-4o-mini"
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Dim == 0 {
		// Set default dimensions based on the embedding model
		switch config.EmbedModel {
		case "text-embedding-3-small":
			config.Dim = 1536
		case "text-embedding-3-large":
			config.Dim = 3072
		case "text-embedding-ada-002":
			config.Dim = 1536
		default:
			// Default to text-embedding-3-small dimensions
			config.Dim = 1536
		}
	}

	// Create HTTP client with optional TLS skip verification
	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("REPOCHAT_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}

	return &OpenAIClient{
		config: config,
		http:   httpClient,
	}
}

// EmbedBatch implements the embedding functionality
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("PROVIDER_API_KEY unset")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	capped := make([]string, len(texts))
	for i, t := range texts {
		capped[i] = truncate(t)
	}
	return embedInBatches(ctx, capped, c.embedOnce)
}

// embedOnce sends one batch. The response carries an index per datum
// and is not guaranteed to arrive in input order, so vectors are
// placed by index.
func (c *OpenAIClient) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	payload := map[string]any{
		"input": batch,
		"model": c.config.EmbedModel,
	}

	resp, err := c.postJSON(ctx, "/embeddings", payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingFailed, apiError(resp))
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	vecs := make([][]float32, len(batch))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(batch) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrEmbeddingFailed, d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%w: no embedding for input %d", ErrEmbeddingFailed, i)
		}
	}
	return vecs, nil
}

// Complete implements chat completion over the conversation
func (c *OpenAIClient) Complete(ctx context.Context, system string, turns []models.ConversationTurn) (string, error) {
	if c.config.APIKey == "" {
		return "", errors.New("PROVIDER_API_KEY unset")
	}

	messages := make([]map[string]string, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, map[string]string{"role": models.RoleSystem, "content": system})
	}
	for _, turn := range turns {
		messages = append(messages, map[string]string{"role": turn.Role, "content": turn.Content})
	}

	payload := map[string]any{
		"model":       c.config.ChatModel,
		"messages":    messages,
		"temperature": 0.2,
	}

	resp, err := c.postJSON(ctx, "/chat/completions", payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s", ErrGenerationFailed, apiError(resp))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrGenerationFailed)
	}

	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

// postJSON issues the request, retrying rate limits and server errors
// with backoff. The Retry-After header wins over the computed delay.
func (c *OpenAIClient) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.config.BaseURL+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		c.setHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if !retryableStatus(resp.StatusCode) || attempt >= maxAttempts {
			return resp, nil
		}

		delay := retryDelay(resp, attempt)
		closeBody(resp)
		log.Debug().Int("status", resp.StatusCode).Int("attempt", attempt).
			Dur("delay", delay).Msg("retrying provider request")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func retryDelay(resp *http.Response, attempt int) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(1<<attempt) * 250 * time.Millisecond
}

// apiError extracts the provider's error message, falling back to the
// HTTP status line.
func apiError(resp *http.Response) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return resp.Status
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if err := resp.Body.Close(); err != nil {
		log.Debug().Err(err).Msg("failed to close response body")
	}
}

// setHeaders sets common headers for OpenAI requests
func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}
