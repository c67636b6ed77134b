package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// ChunkKind classifies the structural construct a chunk was extracted from.
type ChunkKind string

const (
	KindModuleDocstring ChunkKind = "module_docstring"
	KindClass           ChunkKind = "class"
	KindMethod          ChunkKind = "method"
	KindVariable        ChunkKind = "variable"
	KindImport          ChunkKind = "import"
	KindExport          ChunkKind = "export"
	KindFile            ChunkKind = "file"
)

// Valid reports whether k is one of the known chunk kinds.
func (k ChunkKind) Valid() bool {
	switch k {
	case KindModuleDocstring, KindClass, KindMethod, KindVariable, KindImport, KindExport, KindFile:
		return true
	}
	return false
}

// Chunk is one extracted unit of a source file. Line numbers are 1-based and
// inclusive; Content is the exact text of that line span.
type Chunk struct {
	Kind      ChunkKind `json:"kind"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Path      string    `json:"path"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
}

// Validate checks the chunk invariants.
func (c Chunk) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("unknown chunk kind %q", c.Kind)
	}
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("chunk %s:%d has empty content", c.Path, c.StartLine)
	}
	if c.StartLine < 1 {
		return fmt.Errorf("chunk %s has start_line %d, want >= 1", c.Path, c.StartLine)
	}
	if c.EndLine < c.StartLine {
		return fmt.Errorf("chunk %s has end_line %d before start_line %d", c.Path, c.EndLine, c.StartLine)
	}
	return nil
}

// ID derives a deterministic identifier for the chunk within a namespace.
// Re-ingesting the same repository overwrites rather than duplicates.
func (c Chunk) ID(namespace string) string {
	h := sha1.Sum([]byte(namespace + "|" + c.Path + "|" + fmt.Sprintf("%d:%d", c.StartLine, c.EndLine) + "|" + string(c.Kind)))
	return hex.EncodeToString(h[:])
}

// EmbeddedChunk pairs a chunk with its embedding vector.
type EmbeddedChunk struct {
	Chunk  Chunk     `json:"chunk"`
	Vector []float32 `json:"vector"`
}

// Match is a retrieval hit with its similarity score.
type Match struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationTurn is one prior message of a chat session.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
