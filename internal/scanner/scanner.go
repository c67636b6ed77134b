package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// SourceFile is one readable source file found under the scan root.
type SourceFile struct {
	Path    string // relative to the scan root, forward slashes
	AbsPath string
	Ext     string // lowercase, including the dot
	Text    string
}

// ignoredDirs are directory names never descended into, wherever they
// appear in the tree.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	"venv":         true,
	".venv":        true,
	"env":          true,
	"dist":         true,
	"build":        true,
	".git":         true,
	"__pycache__":  true,
	".next":        true,
	".vscode":      true,
	"vendor":       true,
	"target":       true,
	"bin":          true,
	"obj":          true,
	".idea":        true,
	".cache":       true,
}

// Scanner walks a repository root and collects the source files whose
// extension is in Exts. Unreadable or non-text files are skipped, never
// fatal.
type Scanner struct {
	Exts       map[string]bool
	Walker     FileSystemWalker
	FileReader FileReader
}

// New creates a Scanner for the given extensions (".py", ".go", ...).
func New(exts []string) *Scanner {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[strings.ToLower(e)] = true
	}
	return &Scanner{
		Exts:       m,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}
}

// NewWithDependencies creates a Scanner with custom dependencies for testing
func NewWithDependencies(exts []string, walker FileSystemWalker, reader FileReader) *Scanner {
	s := New(exts)
	s.Walker = walker
	s.FileReader = reader
	return s
}

// Scan walks root and returns the supported source files in path order.
func (s *Scanner) Scan(ctx context.Context, root string) ([]SourceFile, error) {
	if fi, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("scan root: %w", err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("scan root %s is not a directory", root)
	}

	var files []SourceFile
	walkErr := s.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			// Callback errors route through here too; a cancelled
			// context must stop the walk, not skip the entry.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return godirwalk.Halt
			}
			log.Warn().Err(err).Str("path", path).Msg("skipping unreadable entry")
			return godirwalk.SkipNode
		},
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			relPath := rel(root, path)
			// Handle test case where de might be nil (for mock walkers)
			if de != nil && de.IsDir() {
				if inIgnoredDir(relPath) {
					return filepath.SkipDir
				}
				return nil
			}
			if inIgnoredDir(relPath) {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if !s.Exts[ext] {
				return nil
			}

			b, err := s.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}
			if !utf8.Valid(b) {
				log.Warn().Str("path", path).Msg("skipping non-text file")
				return nil
			}

			files = append(files, SourceFile{
				Path:    filepath.ToSlash(relPath),
				AbsPath: path,
				Ext:     ext,
				Text:    string(b),
			})
			return nil
		},
	})
	if walkErr != nil {
		return nil, walkErr
	}

	// godirwalk runs unsorted for speed; order once at the end so results
	// are deterministic for identical trees.
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// inIgnoredDir reports whether any segment of the relative path is an
// ignored directory name.
func inIgnoredDir(relPath string) bool {
	p := filepath.ToSlash(relPath)
	for _, seg := range strings.Split(p, "/") {
		if ignoredDirs[strings.ToLower(seg)] {
			return true
		}
	}
	return false
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}
