// Package pathgate implements the sandbox that constrains all file access in
// memsearch to a fixed set of allowed roots (§4.1). Both readFile and the
// Scanner's per-entry guard go through here.
package pathgate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/memsearch/internal/errs"
)

// RootKind classifies an allowed root (§3 Root entity).
type RootKind string

const (
	KindWorkspace RootKind = "workspace"
	KindMemory    RootKind = "memory"
	KindExtra     RootKind = "extra"
)

// Root is one sandbox boundary.
type Root struct {
	Abs  string // absolute, cleaned path
	Kind RootKind
}

// Gate resolves and validates relative paths against a set of allowed roots.
type Gate struct {
	roots       []Root
	maxFileSize int64 // 0 disables the size cap
}

// New builds a Gate. workspace is always an allowed root; extraPaths add
// further roots of kind KindExtra. maxFileSize <= 0 disables the cap.
func New(workspace string, extraPaths []string, maxFileSize int64) (*Gate, error) {
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return nil, errs.New(errs.ConfigInvalid, "pathgate.New", "cannot resolve workspace", err)
	}
	roots := []Root{{Abs: filepath.Clean(absWorkspace), Kind: KindWorkspace}}
	for _, p := range extraPaths {
		absP, err := filepath.Abs(p)
		if err != nil {
			return nil, errs.New(errs.ConfigInvalid, "pathgate.New", "cannot resolve extra path "+p, err)
		}
		roots = append(roots, Root{Abs: filepath.Clean(absP), Kind: KindExtra})
	}
	return &Gate{roots: roots, maxFileSize: maxFileSize}, nil
}

// Resolve validates relPath and returns its absolute path plus the root it
// belongs to: the first root under which the path exists, or, when it exists
// under none, the first root it lies in. It fails with errs.PathDenied when:
//   - the lexical join escapes every allowed root (e.g. contains "..").
//   - any path component, under any root the path lies in, is a symlink
//     (symlinks are never followed, even to a target inside the same root).
//   - the resolved file exceeds the configured size cap.
func (g *Gate) Resolve(relPath string) (string, Root, error) {
	relPath = filepath.ToSlash(relPath)
	if relPath == "" || strings.HasPrefix(relPath, "/") {
		return "", Root{}, errs.New(errs.PathDenied, "pathgate.Resolve", "relPath must be non-empty and root-relative", nil)
	}

	var fallback string
	var fallbackRoot Root
	haveFallback := false
	for _, root := range g.roots {
		candidate := filepath.Join(root.Abs, filepath.FromSlash(relPath))
		candidate = filepath.Clean(candidate)

		if !withinRoot(candidate, root.Abs) {
			continue
		}

		resolved, err := resolveNoEscape(candidate, root.Abs)
		if err != nil {
			return "", Root{}, errs.New(errs.PathDenied, "pathgate.Resolve", "path not allowed: "+relPath, err)
		}

		info, statErr := os.Lstat(resolved)
		if os.IsNotExist(statErr) {
			if !haveFallback {
				fallback, fallbackRoot, haveFallback = resolved, root, true
			}
			continue
		}

		if g.maxFileSize > 0 && statErr == nil && info.Mode().IsRegular() && info.Size() > g.maxFileSize {
			return "", Root{}, errs.New(errs.PathDenied, "pathgate.Resolve", fmt.Sprintf("file exceeds max size %d bytes", g.maxFileSize), nil)
		}

		return resolved, root, nil
	}

	if haveFallback {
		return fallback, fallbackRoot, nil
	}
	return "", Root{}, errs.New(errs.PathDenied, "pathgate.Resolve", "path escapes all allowed roots: "+relPath, nil)
}

// withinRoot reports whether candidate lies lexically inside root.
func withinRoot(candidate, root string) bool {
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}

// resolveNoEscape walks candidate component by component from root and
// rejects any component that is a symlink. SPEC_FULL.md's Open Question
// decision is that symlinks are never followed by default, even when their
// target would itself resolve inside the same root.
func resolveNoEscape(candidate, root string) (string, error) {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return checkNotSymlink(candidate)
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	current := root
	for _, part := range parts {
		current = filepath.Join(current, part)
		if _, err := checkNotSymlink(current); err != nil {
			return "", err
		}
	}
	return candidate, nil
}

// checkNotSymlink fails if path exists and is a symlink.
func checkNotSymlink(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Not-yet-existing tail components (e.g. a file about to be
			// written) are fine as long as nothing resolved so far was a link.
			return path, nil
		}
		return "", err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("symlink not followed: %s", path)
	}
	return path, nil
}

// Roots returns the configured allowed roots.
func (g *Gate) Roots() []Root {
	return g.roots
}
