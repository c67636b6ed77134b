package gitsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrCloneFailed indicates the repository could not be fetched from its remote.
var ErrCloneFailed = errors.New("clone failed")

// ErrBadRepoURL indicates no usable namespace could be derived from the URL.
var ErrBadRepoURL = errors.New("invalid repository URL")

// GitRunner runs the actual clone. Swapped out in tests.
type GitRunner interface {
	Clone(ctx context.Context, repoURL, ref, dest string) error
}

// ExecGitRunner shells out to the git binary.
type ExecGitRunner struct {
	Token string // optional GitHub token for private repos
}

func (r *ExecGitRunner) Clone(ctx context.Context, repoURL, ref, dest string) error {
	url := r.cloneURL(repoURL)
	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, url, dest)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}

// cloneURL embeds the token into https URLs so private repositories
// clone without an interactive prompt. Other schemes pass through.
func (r *ExecGitRunner) cloneURL(repoURL string) string {
	if r.Token == "" || !strings.HasPrefix(repoURL, "https://") {
		return repoURL
	}
	return "https://" + r.Token + ":x-oauth-basic@" + strings.TrimPrefix(repoURL, "https://")
}

// Manager fetches repositories into a local cache directory keyed by
// namespace. A path that already exists is reused without re-cloning.
type Manager struct {
	CloneDir string
	GitRef   string
	Runner   GitRunner
}

// New creates a Manager that clones with the git binary.
func New(cloneDir, gitRef, token string) *Manager {
	return &Manager{
		CloneDir: cloneDir,
		GitRef:   gitRef,
		Runner:   &ExecGitRunner{Token: token},
	}
}

// NewWithRunner creates a Manager with a custom runner for testing.
func NewWithRunner(cloneDir, gitRef string, runner GitRunner) *Manager {
	return &Manager{CloneDir: cloneDir, GitRef: gitRef, Runner: runner}
}

// Fetch ensures a local checkout of repoURL and returns its root path.
func (m *Manager) Fetch(ctx context.Context, repoURL string) (string, error) {
	name, err := DeriveNamespace(repoURL)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(m.CloneDir, name)
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		log.Info().Str("repo", repoURL).Str("path", dest).Msg("repository already cloned")
		return dest, nil
	}

	if err := os.MkdirAll(m.CloneDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create clone dir: %v", ErrCloneFailed, err)
	}

	log.Info().Str("repo", repoURL).Str("path", dest).Msg("cloning repository")
	if err := m.Runner.Clone(ctx, repoURL, m.GitRef, dest); err != nil {
		// A failed clone may leave a partial checkout behind; a later
		// Fetch must not mistake it for a cached one.
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", dest).Msg("failed to remove partial clone")
		}
		return "", fmt.Errorf("%w: %v", ErrCloneFailed, err)
	}
	return dest, nil
}

// DeriveNamespace maps a repository URL to its index namespace: the last
// path segment with any .git suffix removed, restricted to [A-Za-z0-9._-].
// The mapping is deterministic so re-submitting a repository lands in the
// same namespace.
func DeriveNamespace(repoURL string) (string, error) {
	s := strings.TrimSpace(repoURL)
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	} else if i := strings.LastIndex(s, ":"); i >= 0 {
		// scp-style URLs such as git@host:repo.git
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ".git")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	ns := strings.Trim(b.String(), "-.")
	if ns == "" {
		return "", fmt.Errorf("%w: %q", ErrBadRepoURL, repoURL)
	}
	return ns, nil
}
