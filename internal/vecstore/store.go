// Package vecstore gates access to the vector index. Three backends
// share one interface: pgvector for self-hosted Postgres, Qdrant for a
// managed index, and an in-memory map for development and tests.
package vecstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/repochat/repochat/pkg/models"
)

// Sentinel errors for the two index operations.
var (
	ErrUpsert = errors.New("vector upsert failed")
	ErrQuery  = errors.New("vector query failed")
)

// Store provides namespaced vector persistence and similarity search.
type Store interface {
	// Upsert writes the embedded chunks into the namespace, overwriting
	// on key collision.
	Upsert(ctx context.Context, namespace string, chunks []models.EmbeddedChunk) error
	// Query returns up to topK nearest neighbors in descending score
	// order, restricted to the namespace. Unknown namespaces yield an
	// empty result, not an error.
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]models.Match, error)
	// Namespaces enumerates the known namespaces, sorted.
	Namespaces(ctx context.Context) ([]string, error)
	Close()
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend      string
	DatabaseURL  string
	QdrantURL    string
	QdrantAPIKey string
	Dim          int
}

// Open builds the configured backend. The pgvector backend is migrated
// to the configured dimension before use.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "pgvector":
		s, err := NewPgvector(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("pgvector: %w", err)
		}
		if err := s.Migrate(ctx, cfg.Dim); err != nil {
			s.Close()
			return nil, fmt.Errorf("pgvector migrate: %w", err)
		}
		return s, nil
	case "qdrant":
		return NewQdrant(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.Dim), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unsupported vector backend: " + cfg.Backend)
	}
}
