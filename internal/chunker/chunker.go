// Package chunker slices source files into typed, line-addressed chunks.
// Extraction covers top-level declarations only; anything the language
// engine cannot recognize degrades to a whole-file chunk, never an error.
package chunker

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repochat/repochat/pkg/models"
)

// engine extracts structural chunks from one file. degraded reports that
// the parse only partially succeeded and the structural set may be
// incomplete.
type engine func(path, text string, lines []string) (chunks []models.Chunk, degraded bool)

var engines = map[string]engine{
	".go":   chunkGo,
	".py":   chunkPython,
	".js":   chunkJS,
	".jsx":  chunkJS,
	".ts":   chunkJS,
	".tsx":  chunkJS,
	".java": chunkCFamily,
	".cpp":  chunkCFamily,
	".h":    chunkCFamily,
}

// Exts returns the extensions with a structural engine, in no particular
// order. The scanner uses this as its supported set.
func Exts() []string {
	out := make([]string, 0, len(engines))
	for ext := range engines {
		out = append(out, ext)
	}
	return out
}

type Chunker struct{}

func New() *Chunker {
	return &Chunker{}
}

// ChunkFile turns one file's text into chunks.
//
// Empty files yield nothing. Unsupported extensions yield a single
// whole-file chunk. When structural extraction finds nothing, the
// whole-file chunk stands in; when the parse was only partial, it is
// emitted alongside the structural chunks so no content is lost.
func (c *Chunker) ChunkFile(path, ext, text string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := splitLines(text)

	eng, ok := engines[strings.ToLower(ext)]
	if !ok {
		return []models.Chunk{fileChunk(path, lines)}
	}

	raw, degraded := eng(path, text, lines)
	if degraded {
		log.Warn().Str("path", path).Msg("structural parse degraded")
	}

	chunks := raw[:0]
	for _, ch := range raw {
		if err := ch.Validate(); err != nil {
			log.Debug().Err(err).Str("path", path).Msg("dropping invalid chunk")
			continue
		}
		chunks = append(chunks, ch)
	}

	if len(chunks) == 0 {
		return []models.Chunk{fileChunk(path, lines)}
	}
	if degraded {
		chunks = append(chunks, fileChunk(path, lines))
	}
	return chunks
}

// fileChunk wraps the entire file as one chunk.
func fileChunk(path string, lines []string) models.Chunk {
	return models.Chunk{
		Kind:      models.KindFile,
		Content:   lineSpan(lines, 1, len(lines)),
		Path:      path,
		StartLine: 1,
		EndLine:   len(lines),
	}
}

// splitLines splits text on newlines, discarding the phantom empty
// element a trailing newline produces.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// lineSpan returns the exact text of the 1-based inclusive line range.
func lineSpan(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
