package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/memsearch/internal/gitignore"
	"github.com/Aman-CERP/memsearch/internal/pathgate"
)

// gitignoreCacheSize bounds the gitignore matcher cache, which holds one
// Matcher per scanned root.
const gitignoreCacheSize = 1000

// Scanner discovers indexable files under the roots known to a Gate.
type Scanner struct {
	gate           *pathgate.Gate
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
}

// New creates a Scanner bound to gate's allowed roots.
func New(gate *pathgate.Gate) (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gitignore cache: %w", err)
	}
	return &Scanner{gate: gate, gitignoreCache: cache}, nil
}

// Scan walks every allowed root and streams accepted files on the returned
// channel. The channel is closed when scanning completes or the context is
// cancelled. Walk errors are not reported: unreadable entries are skipped,
// and the returned error is always nil. Scan is restartable: a fresh
// call re-walks the roots from scratch and is independent of prior calls.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan Record, error) {
	opts = opts.WithDefaults()

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	paths := make(chan string, workers*4)
	results := make(chan Record, workers*4)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for absPath := range paths {
				rec, ok := s.processPath(absPath, opts)
				if !ok {
					continue
				}
				select {
				case results <- rec:
				case <-ctx.Done():
				}
			}
		}()
	}

	go func() {
		defer close(paths)
		for _, root := range s.gate.Roots() {
			if err := s.walkRoot(ctx, root, opts, paths); err != nil {
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results, nil
}

func (s *Scanner) walkRoot(ctx context.Context, root pathgate.Root, opts Options, paths chan<- string) error {
	return filepath.WalkDir(root.Abs, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		relFromRoot, relErr := filepath.Rel(root.Abs, path)
		if relErr != nil {
			return nil
		}

		if d.IsDir() {
			if path != root.Abs && !opts.ShowHiddenDirs && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil // Path Gate forbids following symlinks by default
		}

		if !opts.IgnoreGitignore && s.gitignoreExcludes(root.Abs, relFromRoot) {
			return nil
		}

		if !matchesGlobs(filepath.ToSlash(relFromRoot), opts.IncludeGlobs, opts.ExcludeGlobs) {
			return nil
		}

		select {
		case paths <- path:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

// processPath stats and, if necessary, hashes a single candidate file.
// Returns ok=false for anything rejected by the size cap or a stat failure.
func (s *Scanner) processPath(absPath string, opts Options) (Record, bool) {
	info, err := os.Lstat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		return Record{}, false
	}
	if info.Size() > opts.MaxFileBytes {
		return Record{}, false
	}

	relPath, root, ok := s.relativeTo(absPath)
	if !ok {
		return Record{}, false
	}

	mtimeNs := info.ModTime().UnixNano()
	size := info.Size()

	known, hasKnown := opts.Known(relPath)
	var digest string
	if hasKnown && known.MTimeNs == mtimeNs && known.Size == size {
		digest = known.SHA256
	} else {
		digest, err = hashFile(absPath)
		if err != nil {
			return Record{}, false
		}
	}

	return Record{
		RelPath:  relPath,
		AbsPath:  absPath,
		MTimeNs:  mtimeNs,
		Size:     size,
		SHA256:   digest,
		Source:   classifySource(relPath, root.Kind),
		RootKind: root.Kind,
	}, true
}

func (s *Scanner) relativeTo(absPath string) (string, pathgate.Root, bool) {
	for _, root := range s.gate.Roots() {
		if rel, err := filepath.Rel(root.Abs, absPath); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel), root, true
		}
	}
	return "", pathgate.Root{}, false
}

// gitignoreExcludes reports whether relFromRoot is ignored by a .gitignore
// file at rootAbs. Only the root-level .gitignore is consulted; nested
// .gitignore files are out of scope for this supplemented feature.
func (s *Scanner) gitignoreExcludes(rootAbs, relFromRoot string) bool {
	matcher, ok := s.gitignoreCache.Get(rootAbs)
	if !ok {
		m := gitignore.New()
		_ = m.AddFromFile(filepath.Join(rootAbs, ".gitignore"))
		matcher = m
		s.gitignoreCache.Add(rootAbs, matcher)
	}
	return matcher.Match(filepath.ToSlash(relFromRoot), false)
}

// classifySource applies §4.2's classification: files under memory/ are
// "memory"; top-level sentinel files are "memory"; extra roots are "extra";
// everything else under the workspace root is "workspace".
func classifySource(relPath string, kind pathgate.RootKind) Source {
	if kind == pathgate.KindExtra {
		return SourceExtra
	}
	if sentinelFiles[relPath] {
		return SourceMemory
	}
	slashed := relPath
	if slashed == "memory" || strings.HasPrefix(slashed, "memory/") {
		return SourceMemory
	}
	return SourceWorkspace
}

func matchesGlobs(relPath string, include, exclude []string) bool {
	for _, pattern := range exclude {
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return false
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(relPath)); matched {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(relPath)); matched {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
