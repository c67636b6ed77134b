package vecstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/repochat/repochat/pkg/models"
)

// collectionPrefix marks the collections this service owns, so
// Namespaces can enumerate them on a shared Qdrant instance.
const collectionPrefix = "repochat_"

// QdrantStore is a minimal REST client to Qdrant. Each namespace maps
// to its own collection, created lazily on first upsert with cosine
// distance.
type QdrantStore struct {
	baseURL string
	apiKey  string
	dim     int
	client  *http.Client

	mu      sync.Mutex
	created map[string]bool
}

func NewQdrant(url, apiKey string, dim int) *QdrantStore {
	return &QdrantStore{
		baseURL: strings.TrimRight(url, "/"),
		apiKey:  apiKey,
		dim:     dim,
		client:  &http.Client{Timeout: 15 * time.Second},
		created: make(map[string]bool),
	}
}

func (s *QdrantStore) Close() {}

func collectionName(namespace string) string {
	return collectionPrefix + namespace
}

type qdrantPayload struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (s *QdrantStore) Upsert(ctx context.Context, namespace string, chunks []models.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, namespace); err != nil {
		return fmt.Errorf("%w: %v", ErrUpsert, err)
	}

	points := make([]map[string]any, len(chunks))
	for i, ec := range chunks {
		c := ec.Chunk
		points[i] = map[string]any{
			"id":     pointID(c.ID(namespace)),
			"vector": ec.Vector,
			"payload": qdrantPayload{
				Kind:      string(c.Kind),
				Name:      c.Name,
				Path:      c.Path,
				Content:   c.Content,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
			},
		}
	}

	body := map[string]any{"points": points}
	path := "/collections/" + collectionName(namespace) + "/points?wait=true"
	status, err := s.doJSON(ctx, http.MethodPut, path, body, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpsert, err)
	}
	if status >= 300 {
		return fmt.Errorf("%w: qdrant returned %d", ErrUpsert, status)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]models.Match, error) {
	out := []models.Match{}
	if topK <= 0 {
		return out, nil
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}

	path := "/collections/" + collectionName(namespace) + "/points/search"
	status, err := s.doJSON(ctx, http.MethodPost, path, body, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	if status == http.StatusNotFound {
		// Namespace was never indexed.
		return out, nil
	}
	if status >= 300 {
		return nil, fmt.Errorf("%w: qdrant returned %d", ErrQuery, status)
	}

	for _, r := range resp.Result {
		out = append(out, models.Match{
			Chunk: models.Chunk{
				Kind:      models.ChunkKind(r.Payload.Kind),
				Name:      r.Payload.Name,
				Path:      r.Payload.Path,
				Content:   r.Payload.Content,
				StartLine: r.Payload.StartLine,
				EndLine:   r.Payload.EndLine,
			},
			Score: r.Score,
		})
	}
	return out, nil
}

func (s *QdrantStore) Namespaces(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}

	status, err := s.doJSON(ctx, http.MethodGet, "/collections", nil, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("qdrant list collections returned %d", status)
	}

	var namespaces []string
	for _, col := range resp.Result.Collections {
		if strings.HasPrefix(col.Name, collectionPrefix) {
			namespaces = append(namespaces, strings.TrimPrefix(col.Name, collectionPrefix))
		}
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

// ensureCollection creates the namespace's collection once per
// process. Qdrant answers 200 for an existing collection with the same
// schema and 409 when it already exists.
func (s *QdrantStore) ensureCollection(ctx context.Context, namespace string) error {
	s.mu.Lock()
	if s.created[namespace] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dim,
			"distance": "Cosine",
		},
	}
	status, err := s.doJSON(ctx, http.MethodPut, "/collections/"+collectionName(namespace), body, nil)
	if err != nil {
		return err
	}
	if status >= 300 && status != http.StatusConflict {
		return fmt.Errorf("create collection returned %d", status)
	}

	s.mu.Lock()
	s.created[namespace] = true
	s.mu.Unlock()
	return nil
}

// pointID renders a chunk key as the UUID form Qdrant requires for
// string point ids. The key is a 40-char sha1 hex, so the first 32
// hex digits become the UUID and determinism is preserved.
func pointID(id string) string {
	if len(id) < 32 {
		id += strings.Repeat("0", 32-len(id))
	}
	return id[:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:32]
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
