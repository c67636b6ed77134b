package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/repochat/repochat/internal/ai"
	"github.com/repochat/repochat/internal/vecstore"
	"github.com/repochat/repochat/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// mockAI records embedding and completion calls.
type mockAI struct {
	mu            sync.Mutex
	embedCalls    [][]string
	completeCalls int
	lastSystem    string
	lastTurns     []models.ConversationTurn
	embedErr      error
	completeErr   error
	answer        string
}

func (m *mockAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recorded := make([]string, len(texts))
	copy(recorded, texts)
	m.embedCalls = append(m.embedCalls, recorded)
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (m *mockAI) Complete(ctx context.Context, system string, turns []models.ConversationTurn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeCalls++
	m.lastSystem = system
	m.lastTurns = turns
	if m.completeErr != nil {
		return "", m.completeErr
	}
	if m.answer != "" {
		return m.answer, nil
	}
	return "mock answer", nil
}

func (m *mockAI) Dim() int { return 2 }

// mockStore serves canned matches and records the query arguments.
type mockStore struct {
	matches    []models.Match
	queryErr   error
	queryCalls int
	lastNS     string
	lastTopK   int
}

func (m *mockStore) Upsert(ctx context.Context, namespace string, chunks []models.EmbeddedChunk) error {
	return nil
}

func (m *mockStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]models.Match, error) {
	m.queryCalls++
	m.lastNS = namespace
	m.lastTopK = topK
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.matches, nil
}

func (m *mockStore) Namespaces(ctx context.Context) ([]string, error) { return nil, nil }

func (m *mockStore) Close() {}

func match(content string, score float64) models.Match {
	return models.Match{
		Chunk: models.Chunk{
			Kind:      models.KindMethod,
			Content:   content,
			Path:      "main.go",
			StartLine: 1,
			EndLine:   1,
		},
		Score: score,
	}
}

func TestNew(t *testing.T) {
	svc := New(&mockAI{}, &mockStore{})
	if svc.TopK != 10 {
		t.Errorf("Expected default TopK 10, got %d", svc.TopK)
	}
}

func TestAnswer(t *testing.T) {
	client := &mockAI{answer: "Foo returns a widget."}
	store := &mockStore{matches: []models.Match{
		match("func Foo() {}", 0.9),
		match("type Bar struct{}", 0.5),
	}}
	svc := New(client, store)

	resp, err := svc.Answer(context.Background(), Request{Namespace: "repo", Query: "what is Foo?"})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if resp.Answer != "Foo returns a widget." {
		t.Errorf("Expected LLM answer, got %q", resp.Answer)
	}
	if len(resp.Matches) != 2 {
		t.Errorf("Expected 2 matches in response, got %d", len(resp.Matches))
	}

	if store.lastNS != "repo" {
		t.Errorf("Expected namespace repo, got %s", store.lastNS)
	}
	if store.lastTopK != 10 {
		t.Errorf("Expected default topK 10, got %d", store.lastTopK)
	}

	if client.completeCalls != 1 {
		t.Fatalf("Expected 1 Complete call, got %d", client.completeCalls)
	}
	if client.lastSystem != "Answer as concisely as possible." {
		t.Errorf("Unexpected system prompt: %q", client.lastSystem)
	}
	if len(client.lastTurns) != 1 || client.lastTurns[0].Role != models.RoleUser {
		t.Fatalf("Expected a single user turn, got %+v", client.lastTurns)
	}

	want := "<CONTEXT>\nfunc Foo() {}\n\n-------\n\ntype Bar struct{}\n-------\n</CONTEXT>\n\nwhat is Foo?"
	if client.lastTurns[0].Content != want {
		t.Errorf("Unexpected prompt.\nExpected:\n%s\nGot:\n%s", want, client.lastTurns[0].Content)
	}
}

func TestAnswerNoContext(t *testing.T) {
	client := &mockAI{}
	store := &mockStore{matches: []models.Match{}}
	svc := New(client, store)

	resp, err := svc.Answer(context.Background(), Request{Namespace: "repo", Query: "anything?"})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if resp.Answer != NoContextAnswer {
		t.Errorf("Expected canned no-context answer, got %q", resp.Answer)
	}
	if len(resp.Matches) != 0 {
		t.Errorf("Expected no matches, got %d", len(resp.Matches))
	}
	if client.completeCalls != 0 {
		t.Errorf("Expected no Complete calls for empty retrieval, got %d", client.completeCalls)
	}
}

func TestAnswerStoreError(t *testing.T) {
	client := &mockAI{}
	store := &mockStore{queryErr: fmt.Errorf("%w: connection refused", vecstore.ErrQuery)}
	svc := New(client, store)

	resp, err := svc.Answer(context.Background(), Request{Namespace: "repo", Query: "anything?"})
	if err == nil {
		t.Fatal("Expected store error to propagate, got nil")
	}
	if !errors.Is(err, vecstore.ErrQuery) {
		t.Errorf("Expected ErrQuery, got %v", err)
	}
	// A failed retrieval must never masquerade as the canned answer.
	if resp.Answer != "" {
		t.Errorf("Expected empty answer on error, got %q", resp.Answer)
	}
	if client.completeCalls != 0 {
		t.Errorf("Expected no Complete calls on store error, got %d", client.completeCalls)
	}
}

func TestAnswerEmbeddingError(t *testing.T) {
	client := &mockAI{embedErr: fmt.Errorf("%w: boom", ai.ErrEmbeddingFailed)}
	store := &mockStore{}
	svc := New(client, store)

	_, err := svc.Answer(context.Background(), Request{Namespace: "repo", Query: "anything?"})
	if err == nil {
		t.Fatal("Expected embedding error to propagate, got nil")
	}
	if !errors.Is(err, ai.ErrEmbeddingFailed) {
		t.Errorf("Expected ErrEmbeddingFailed, got %v", err)
	}
	if store.queryCalls != 0 {
		t.Errorf("Expected no store query after embedding failure, got %d", store.queryCalls)
	}
}

func TestAnswerGenerationError(t *testing.T) {
	client := &mockAI{completeErr: fmt.Errorf("%w: rate limited", ai.ErrGenerationFailed)}
	store := &mockStore{matches: []models.Match{match("func Foo() {}", 0.9)}}
	svc := New(client, store)

	_, err := svc.Answer(context.Background(), Request{Namespace: "repo", Query: "anything?"})
	if err == nil {
		t.Fatal("Expected generation error to propagate, got nil")
	}
	if !errors.Is(err, ai.ErrGenerationFailed) {
		t.Errorf("Expected ErrGenerationFailed, got %v", err)
	}
}

func TestAnswerHistoryShapesPromptNotRetrieval(t *testing.T) {
	client := &mockAI{}
	store := &mockStore{matches: []models.Match{match("func Bar() {}", 0.8)}}
	svc := New(client, store)

	req := Request{
		Namespace: "repo",
		Query:     "And what about Bar?",
		History: []models.ConversationTurn{
			{Role: models.RoleUser, Content: "What does Foo do?"},
			{Role: models.RoleAssistant, Content: "Foo returns a widget."},
		},
	}
	if _, err := svc.Answer(context.Background(), req); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if len(client.embedCalls) != 1 {
		t.Fatalf("Expected 1 embedding call, got %d", len(client.embedCalls))
	}
	embedded := client.embedCalls[0]
	if len(embedded) != 1 || embedded[0] != "And what about Bar?" {
		t.Errorf("Expected only the latest query to be embedded, got %v", embedded)
	}

	prompt := client.lastTurns[0].Content
	wantHistory := "History:\nuser: What does Foo do?\nassistant: Foo returns a widget.\n\nQuery:\nAnd what about Bar?"
	if !strings.Contains(prompt, wantHistory) {
		t.Errorf("Expected history block in prompt, got:\n%s", prompt)
	}
	if !strings.HasPrefix(prompt, "<CONTEXT>\n") {
		t.Errorf("Expected prompt to open with context block, got:\n%s", prompt)
	}
}

func TestAnswerDeduplicatesContext(t *testing.T) {
	client := &mockAI{}
	store := &mockStore{matches: []models.Match{
		match("func Dup() {}", 0.9),
		match("func Dup() {}", 0.7),
		match("func Other() {}", 0.5),
	}}
	svc := New(client, store)

	if _, err := svc.Answer(context.Background(), Request{Namespace: "repo", Query: "dup?"}); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	prompt := client.lastTurns[0].Content
	if got := strings.Count(prompt, "func Dup() {}"); got != 1 {
		t.Errorf("Expected duplicated content once in prompt, got %d occurrences", got)
	}
	if !strings.Contains(prompt, "func Other() {}") {
		t.Errorf("Expected distinct content kept, got:\n%s", prompt)
	}
	dupIdx := strings.Index(prompt, "func Dup() {}")
	otherIdx := strings.Index(prompt, "func Other() {}")
	if dupIdx > otherIdx {
		t.Error("Expected best-scoring content to come first in the context block")
	}
}

func TestAnswerTopKOverride(t *testing.T) {
	client := &mockAI{}
	store := &mockStore{matches: []models.Match{match("func Foo() {}", 0.9)}}
	svc := New(client, store)
	svc.TopK = 3

	if _, err := svc.Answer(context.Background(), Request{Namespace: "repo", Query: "foo?"}); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if store.lastTopK != 3 {
		t.Errorf("Expected topK 3, got %d", store.lastTopK)
	}

	svc.TopK = 0
	if _, err := svc.Answer(context.Background(), Request{Namespace: "repo", Query: "foo?"}); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if store.lastTopK != 10 {
		t.Errorf("Expected topK to fall back to 10, got %d", store.lastTopK)
	}
}
