package vecstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/repochat/repochat/pkg/models"
)

type memEntry struct {
	chunk  models.Chunk
	vector []float32
}

// MemoryStore keeps embeddings in process memory. It backs tests and
// single-node local runs where standing up Postgres or Qdrant is not
// worth it.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]memEntry
}

func NewMemory() *MemoryStore {
	return &MemoryStore{namespaces: make(map[string]map[string]memEntry)}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Upsert(ctx context.Context, namespace string, chunks []models.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]memEntry, len(chunks))
		s.namespaces[namespace] = ns
	}
	for _, ec := range chunks {
		vec := make([]float32, len(ec.Vector))
		copy(vec, ec.Vector)
		ns[ec.Chunk.ID(namespace)] = memEntry{chunk: ec.Chunk, vector: vec}
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]models.Match, error) {
	out := []models.Match{}
	if topK <= 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		return out, nil
	}

	for _, entry := range ns {
		out = append(out, models.Match{
			Chunk: entry.chunk,
			Score: cosineSimilarity(vector, entry.vector),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *MemoryStore) Namespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	namespaces := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

func cosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
