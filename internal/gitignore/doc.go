// Package gitignore implements gitignore pattern matching for the Scanner's
// supplemented gitignore-aware-scanning feature: the root-level .gitignore
// of a workspace or extra root is parsed once and cached per root in the
// Scanner's LRU (see internal/scanner), so a Scan only re-reads a root's
// .gitignore when it is evicted from that cache.
//
// Supported syntax (https://git-scm.com/docs/gitignore):
//   - literal and wildcard patterns (*.log, temp/)
//   - double-star patterns (**/, /**)
//   - rooted patterns (/build)
//   - negation (!important.log)
//   - directory-only patterns (build/)
//
// Nested .gitignore files (one per subdirectory, as git itself honors) are
// out of scope: the Scanner only consults a root's own top-level .gitignore.
//
//	m := gitignore.New()
//	_ = m.AddFromFile(filepath.Join(rootAbs, ".gitignore"))
//	if m.Match("build/out.log", false) {
//	    // excluded from the scan
//	}
package gitignore
