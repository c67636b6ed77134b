// Package ingest runs the indexing pipeline for one repository
// checkout: scan the tree, chunk each source file, embed the chunks
// and upsert them into the vector store under the repository's
// namespace.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/repochat/repochat/internal/ai"
	"github.com/repochat/repochat/internal/chunker"
	"github.com/repochat/repochat/internal/scanner"
	"github.com/repochat/repochat/internal/vecstore"
	"github.com/repochat/repochat/pkg/models"
)

// ErrNoChunks indicates the repository yielded nothing indexable.
var ErrNoChunks = errors.New("no valid code chunks found")

// defaultUpsertBatch caps how many embedded chunks go to the store in
// one call.
const defaultUpsertBatch = 100

// Service wires the ingestion pipeline together.
type Service struct {
	Scanner   *scanner.Scanner
	Chunker   *chunker.Chunker
	AI        ai.Client
	Store     vecstore.Store
	BatchSize int
}

// Stats summarizes one ingestion run.
type Stats struct {
	Files   int
	Chunks  int
	Vectors int
}

// New creates a Service scanning for every extension the chunker
// supports.
func New(client ai.Client, store vecstore.Store) *Service {
	return &Service{
		Scanner: scanner.New(chunker.Exts()),
		Chunker: chunker.New(),
		AI:      client,
		Store:   store,
	}
}

// IngestRepo indexes every supported source file under root into the
// given namespace. Files that cannot be parsed structurally degrade to
// whole-file chunks; an embedding or store failure aborts the run with
// the batches upserted so far left in place.
func (s *Service) IngestRepo(ctx context.Context, namespace, root string) (Stats, error) {
	var stats Stats

	files, err := s.Scanner.Scan(ctx, root)
	if err != nil {
		return stats, fmt.Errorf("scan %s: %w", root, err)
	}
	stats.Files = len(files)

	var chunks []models.Chunk
	for _, f := range files {
		chunks = append(chunks, s.Chunker.ChunkFile(f.Path, f.Ext, f.Text)...)
	}
	stats.Chunks = len(chunks)
	if len(chunks) == 0 {
		return stats, fmt.Errorf("%w: %s", ErrNoChunks, root)
	}

	log.Info().
		Str("namespace", namespace).
		Int("files", stats.Files).
		Int("chunks", stats.Chunks).
		Msg("embedding repository chunks")

	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = defaultUpsertBatch
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := s.AI.EmbedBatch(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}

		embedded := make([]models.EmbeddedChunk, len(batch))
		for i, c := range batch {
			embedded[i] = models.EmbeddedChunk{Chunk: c, Vector: vecs[i]}
		}
		if err := s.Store.Upsert(ctx, namespace, embedded); err != nil {
			return stats, fmt.Errorf("upsert chunks %d-%d: %w", start, end-1, err)
		}
		stats.Vectors += len(embedded)
	}

	log.Info().
		Str("namespace", namespace).
		Int("files", stats.Files).
		Int("vectors", stats.Vectors).
		Msg("repository indexed")
	return stats, nil
}
