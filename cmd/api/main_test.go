package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/repochat/repochat/internal/ai"
	"github.com/repochat/repochat/internal/answer"
	"github.com/repochat/repochat/internal/config"
	"github.com/repochat/repochat/internal/gitsource"
	"github.com/repochat/repochat/internal/ingest"
	"github.com/repochat/repochat/internal/vecstore"
	"github.com/repochat/repochat/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// noCloneRunner fails every clone; tests pre-seed the cache dir so
// Fetch reuses checkouts instead of reaching the network.
type noCloneRunner struct{}

func (noCloneRunner) Clone(ctx context.Context, repoURL, ref, dest string) error {
	return errors.New("network disabled in tests")
}

// erroringStore fails every operation.
type erroringStore struct{}

func (erroringStore) Upsert(ctx context.Context, namespace string, chunks []models.EmbeddedChunk) error {
	return fmt.Errorf("%w: store offline", vecstore.ErrUpsert)
}

func (erroringStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]models.Match, error) {
	return nil, fmt.Errorf("%w: store offline", vecstore.ErrQuery)
}

func (erroringStore) Namespaces(ctx context.Context) ([]string, error) {
	return nil, errors.New("store offline")
}

func (erroringStore) Close() {}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func newTestServer(cloneDir string, store vecstore.Store) *server {
	client := ai.NewStubClient(8)
	return &server{
		source: gitsource.NewWithRunner(cloneDir, "", noCloneRunner{}),
		ingest: ingest.New(client, store),
		answer: answer.New(client, store),
		store:  store,
	}
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSubmitRepoAndQueryEndToEnd(t *testing.T) {
	cloneDir := t.TempDir()
	writeFile(t, filepath.Join(cloneDir, "sample"), "main.py", "def foo():\n    return \"bar\"\n")

	mux := newMux(newTestServer(cloneDir, vecstore.NewMemory()))

	rec := do(mux, http.MethodPost, "/submit-repo", `{"repo_url":"https://github.com/org/sample.git"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from submit-repo, got %d: %s", rec.Code, rec.Body.String())
	}
	var submitResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &submitResp); err != nil {
		t.Fatalf("Failed to decode submit response: %v", err)
	}
	if submitResp["status"] != "success" {
		t.Errorf("Expected status success, got %q", submitResp["status"])
	}
	if submitResp["message"] != "Repository processed successfully." {
		t.Errorf("Unexpected message: %q", submitResp["message"])
	}

	rec = do(mux, http.MethodGet, "/namespaces", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from namespaces, got %d", rec.Code)
	}
	var nsResp struct {
		Namespaces []string `json:"namespaces"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &nsResp); err != nil {
		t.Fatalf("Failed to decode namespaces response: %v", err)
	}
	if len(nsResp.Namespaces) != 1 || nsResp.Namespaces[0] != "sample" {
		t.Errorf("Expected namespaces [sample], got %v", nsResp.Namespaces)
	}

	rec = do(mux, http.MethodPost, "/query", `{"query":"What does foo return?","namespace":"sample"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from query, got %d: %s", rec.Code, rec.Body.String())
	}
	var queryResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &queryResp); err != nil {
		t.Fatalf("Failed to decode query response: %v", err)
	}
	// The stub client echoes the question it was asked.
	if queryResp["answer"] != "stub answer: What does foo return?" {
		t.Errorf("Unexpected answer: %q", queryResp["answer"])
	}
}

func TestSubmitRepoTwiceKeepsVectorCountStable(t *testing.T) {
	cloneDir := t.TempDir()
	writeFile(t, filepath.Join(cloneDir, "sample"), "main.py", "def foo():\n    return \"bar\"\n")

	store := vecstore.NewMemory()
	mux := newMux(newTestServer(cloneDir, store))

	// Chunk identities are deterministic, so re-ingesting overwrites
	// instead of accumulating.
	countVectors := func() int {
		t.Helper()
		vecs, err := ai.NewStubClient(8).EmbedBatch(context.Background(), []string{"probe"})
		if err != nil {
			t.Fatalf("Failed to embed probe: %v", err)
		}
		matches, err := store.Query(context.Background(), "sample", vecs[0], 100)
		if err != nil {
			t.Fatalf("Failed to query store: %v", err)
		}
		return len(matches)
	}

	body := `{"repo_url":"https://github.com/org/sample.git"}`
	if rec := do(mux, http.MethodPost, "/submit-repo", body); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from first submit, got %d: %s", rec.Code, rec.Body.String())
	}
	first := countVectors()
	if first == 0 {
		t.Fatal("Expected vectors stored after first submit")
	}

	if rec := do(mux, http.MethodPost, "/submit-repo", body); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from second submit, got %d: %s", rec.Code, rec.Body.String())
	}
	if second := countVectors(); second != first {
		t.Errorf("Expected vector count to stay at %d after re-submit, got %d", first, second)
	}
}

func TestSubmitRepoValidation(t *testing.T) {
	mux := newMux(newTestServer(t.TempDir(), vecstore.NewMemory()))

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "wrong method",
			method:     http.MethodGet,
			body:       "",
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "method not allowed",
		},
		{
			name:       "invalid JSON",
			method:     http.MethodPost,
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
		{
			name:       "empty repo_url",
			method:     http.MethodPost,
			body:       `{"repo_url":"   "}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "repo_url is required",
		},
		{
			name:       "underivable namespace",
			method:     http.MethodPost,
			body:       `{"repo_url":"https://///"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(mux, tt.method, "/submit-repo", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Expected JSON error body, got %q", rec.Body.String())
			}
			if resp["error"] == "" {
				t.Error("Expected error field in response")
			}
			if tt.wantError != "" && resp["error"] != tt.wantError {
				t.Errorf("Expected error %q, got %q", tt.wantError, resp["error"])
			}
		})
	}
}

func TestSubmitRepoCloneFailure(t *testing.T) {
	// Nothing pre-seeded, so Fetch falls through to the failing runner.
	mux := newMux(newTestServer(t.TempDir(), vecstore.NewMemory()))

	rec := do(mux, http.MethodPost, "/submit-repo", `{"repo_url":"https://github.com/org/unreachable.git"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["error"] != "Failed to clone repository." {
		t.Errorf("Unexpected error: %q", resp["error"])
	}
}

func TestSubmitRepoNoChunks(t *testing.T) {
	cloneDir := t.TempDir()
	writeFile(t, filepath.Join(cloneDir, "docs"), "README.txt", "no source code here")

	mux := newMux(newTestServer(cloneDir, vecstore.NewMemory()))

	rec := do(mux, http.MethodPost, "/submit-repo", `{"repo_url":"https://github.com/org/docs.git"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["error"] != "No valid code chunks found." {
		t.Errorf("Unexpected error: %q", resp["error"])
	}
}

func TestQueryValidation(t *testing.T) {
	mux := newMux(newTestServer(t.TempDir(), vecstore.NewMemory()))

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "wrong method",
			method:     http.MethodGet,
			body:       "",
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "method not allowed",
		},
		{
			name:       "invalid JSON",
			method:     http.MethodPost,
			body:       "{{{",
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
		{
			name:       "missing query",
			method:     http.MethodPost,
			body:       `{"namespace":"sample"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "query is required",
		},
		{
			name:       "missing namespace",
			method:     http.MethodPost,
			body:       `{"query":"what?"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "namespace is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(mux, tt.method, "/query", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Expected JSON error body, got %q", rec.Body.String())
			}
			if resp["error"] != tt.wantError {
				t.Errorf("Expected error %q, got %q", tt.wantError, resp["error"])
			}
		})
	}
}

func TestQueryUnknownNamespace(t *testing.T) {
	mux := newMux(newTestServer(t.TempDir(), vecstore.NewMemory()))

	rec := do(mux, http.MethodPost, "/query", `{"query":"anything?","namespace":"never-indexed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["answer"] != "No relevant context found for the query." {
		t.Errorf("Expected canned no-context answer, got %q", resp["answer"])
	}
}

func TestQueryPipelineFailure(t *testing.T) {
	// A broken store must surface as an error, never as the canned
	// no-context answer.
	mux := newMux(newTestServer(t.TempDir(), erroringStore{}))

	rec := do(mux, http.MethodPost, "/query", `{"query":"anything?","namespace":"sample"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["error"] == "" {
		t.Error("Expected error field in response")
	}
	if resp["answer"] != "" {
		t.Errorf("Expected no answer on failure, got %q", resp["answer"])
	}
}

func TestNamespacesEmpty(t *testing.T) {
	mux := newMux(newTestServer(t.TempDir(), vecstore.NewMemory()))

	rec := do(mux, http.MethodGet, "/namespaces", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"namespaces":[]}` {
		t.Errorf("Expected empty namespace list, got %s", got)
	}
}

func TestNamespacesFailure(t *testing.T) {
	mux := newMux(newTestServer(t.TempDir(), erroringStore{}))

	rec := do(mux, http.MethodGet, "/namespaces", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["error"] != "Failed to fetch namespaces." {
		t.Errorf("Unexpected error: %q", resp["error"])
	}
}

func TestHealthz(t *testing.T) {
	mux := newMux(newTestServer(t.TempDir(), vecstore.NewMemory()))

	rec := do(mux, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestBuildClientConfig(t *testing.T) {
	tests := []struct {
		name         string
		cfg          config.Specification
		wantProvider ai.Provider
		wantBaseURL  string
		wantErr      bool
	}{
		{
			name:         "openai",
			cfg:          config.Specification{Provider: "openai", APIKey: "sk-test"},
			wantProvider: ai.ProviderOpenAI,
		},
		{
			name:         "groq gets the groq endpoint",
			cfg:          config.Specification{Provider: "groq", APIKey: "gsk-test"},
			wantProvider: ai.ProviderOpenAI,
			wantBaseURL:  "https://api.groq.com/openai/v1",
		},
		{
			name:         "groq keeps a custom base URL",
			cfg:          config.Specification{Provider: "groq", BaseURL: "https://proxy.internal/v1"},
			wantProvider: ai.ProviderOpenAI,
			wantBaseURL:  "https://proxy.internal/v1",
		},
		{
			name:         "gemini",
			cfg:          config.Specification{Provider: "gemini", APIKey: "test-key"},
			wantProvider: ai.ProviderGemini,
		},
		{
			name:         "google alias",
			cfg:          config.Specification{Provider: "google", APIKey: "test-key"},
			wantProvider: ai.ProviderGemini,
		},
		{
			name:         "stub",
			cfg:          config.Specification{Provider: "stub"},
			wantProvider: ai.ProviderStub,
		},
		{
			name:    "unsupported",
			cfg:     config.Specification{Provider: "anthropic"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildClientConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got.Provider != tt.wantProvider {
				t.Errorf("Expected provider %s, got %s", tt.wantProvider, got.Provider)
			}
			if tt.wantBaseURL != "" && got.BaseURL != tt.wantBaseURL {
				t.Errorf("Expected base URL %s, got %s", tt.wantBaseURL, got.BaseURL)
			}
		})
	}
}
