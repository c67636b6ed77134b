package vecstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/repochat/repochat/pkg/models"
)

// PgvectorStore persists chunks in Postgres with the pgvector
// extension.
type PgvectorStore struct {
	pool *pgxpool.Pool
}

// NewPgvector creates a store connected to the given database URL.
func NewPgvector(ctx context.Context, url string) (*PgvectorStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PgvectorStore{pool: p}, nil
}

func (s *PgvectorStore) Close() { s.pool.Close() }

// Migrate applies the schema. dim fixes the embedding column width, so
// switching embedding models of a different dimension needs a fresh
// table.
func (s *PgvectorStore) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  id         TEXT PRIMARY KEY,
  namespace  TEXT NOT NULL,
  kind       TEXT NOT NULL,
  name       TEXT NOT NULL DEFAULT '',
  path       TEXT NOT NULL,
  content    TEXT NOT NULL,
  line_start INT NOT NULL,
  line_end   INT NOT NULL,
  embedding  vector(%d),
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_namespace_idx
  ON chunks (namespace);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// Upsert writes all chunks in one batch round trip. Failed statements
// are reported with their position rather than silently dropped.
func (s *PgvectorStore) Upsert(ctx context.Context, namespace string, chunks []models.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO chunks (
			id, namespace, kind, name, path, content, line_start, line_end, embedding, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (id) DO UPDATE SET
			kind       = EXCLUDED.kind,
			name       = EXCLUDED.name,
			path       = EXCLUDED.path,
			content    = EXCLUDED.content,
			line_start = EXCLUDED.line_start,
			line_end   = EXCLUDED.line_end,
			embedding  = EXCLUDED.embedding,
			created_at = chunks.created_at;`

	batch := &pgx.Batch{}
	for _, ec := range chunks {
		c := ec.Chunk
		batch.Queue(q,
			c.ID(namespace), namespace, string(c.Kind), c.Name, c.Path, c.Content,
			c.StartLine, c.EndLine, pgvector.NewVector(ec.Vector),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	var execErr error
	for i := range chunks {
		if _, err := results.Exec(); err != nil && execErr == nil {
			execErr = fmt.Errorf("%w: chunk %d of %d: %v", ErrUpsert, i, len(chunks), err)
		}
	}
	if err := results.Close(); err != nil && execErr == nil {
		execErr = fmt.Errorf("%w: %v", ErrUpsert, err)
	}
	return execErr
}

// Query runs a cosine nearest-neighbor search inside the namespace.
func (s *PgvectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]models.Match, error) {
	out := []models.Match{}
	if topK <= 0 {
		return out, nil
	}

	const q = `
SELECT kind, name, path, content, line_start, line_end,
       LEAST(GREATEST(1.0 - cosine_distance(embedding, $1::vector), 0), 1) AS score
FROM chunks
WHERE namespace = $2 AND embedding IS NOT NULL
ORDER BY embedding <=> $1::vector
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), namespace, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Chunk
		var kind string
		var score float64
		if err := rows.Scan(&kind, &c.Name, &c.Path, &c.Content, &c.StartLine, &c.EndLine, &score); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQuery, err)
		}
		c.Kind = models.ChunkKind(kind)
		out = append(out, models.Match{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return out, nil
}

// Namespaces returns all distinct namespaces in the index.
func (s *PgvectorStore) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT namespace FROM chunks ORDER BY namespace")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, rows.Err()
}

// Ping checks the database connectivity.
func (s *PgvectorStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
