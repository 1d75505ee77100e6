// Package group holds the working-group data model: scopes, actors, the
// group document, the global registry, and inbox targeting.
package group

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cccc-dev/cccc/internal/fsutil"
)

// Scope is an identity derived from a filesystem path. It has no store of
// its own; when attached it is mirrored into the group document and into the
// group's scopes/<key>/scope.yaml.
type Scope struct {
	URL       string `yaml:"url" json:"url"`
	ScopeKey  string `yaml:"scope_key" json:"scope_key"`
	Label     string `yaml:"label" json:"label"`
	GitRemote string `yaml:"git_remote,omitempty" json:"git_remote,omitempty"`
}

// DeriveScope builds a Scope from a project root path. The scope key is a
// stable hash of the normalized git remote when the path is a repo with one,
// else a hash of the absolute path.
func DeriveScope(path string) (*Scope, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", abs)
	}
	remote := NormalizeGitRemote(gitRemoteURL(abs))
	keySource := remote
	if keySource == "" {
		keySource = abs
	}
	return &Scope{
		URL:       abs,
		ScopeKey:  ScopeKeyFor(keySource),
		Label:     filepath.Base(abs),
		GitRemote: remote,
	}, nil
}

// SaveScope mirrors a derived scope into its per-group scope.yaml.
func SaveScope(path string, sc *Scope) error {
	data, err := yaml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal scope doc: %w", err)
	}
	return fsutil.AtomicWriteBytes(path, data, 0o644)
}

// LoadScope reads a mirrored scope.yaml.
func LoadScope(path string) (*Scope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scope
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scope doc: %w", err)
	}
	return &sc, nil
}

// ScopeKeyFor hashes a normalized identity source into the stable scope key.
func ScopeKeyFor(source string) string {
	sum := sha256.Sum256([]byte(source))
	return "s_" + hex.EncodeToString(sum[:])[:12]
}

// gitRemoteURL returns the origin remote of the repo at dir, or "".
func gitRemoteURL(dir string) string {
	cmd := exec.Command("git", "config", "--get", "remote.origin.url")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// NormalizeGitRemote converts ssh/scp-style remotes to a canonical https
// form without credentials or the .git suffix, so the same repository keys
// identically regardless of clone style.
func NormalizeGitRemote(remote string) string {
	r := strings.TrimSpace(remote)
	if r == "" {
		return ""
	}
	r = strings.TrimSuffix(r, ".git")

	// scp-like: git@host:org/repo
	if !strings.Contains(r, "://") {
		if at := strings.Index(r, "@"); at >= 0 {
			rest := r[at+1:]
			if colon := strings.Index(rest, ":"); colon >= 0 {
				return "https://" + rest[:colon] + "/" + strings.TrimPrefix(rest[colon+1:], "/")
			}
		}
		return r
	}

	// URL form: strip scheme and userinfo.
	schemeEnd := strings.Index(r, "://")
	rest := r[schemeEnd+3:]
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	// ssh://host:port/path keeps the port; https needs none for identity.
	return "https://" + rest
}
