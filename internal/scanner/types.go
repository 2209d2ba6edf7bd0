// Package scanner implements the Scanner component (§4.2): it enumerates
// candidate files under configured roots with glob include/exclude and size
// caps, and emits (relPath, mtime, size, sha256) tuples, computing the hash
// lazily only when a file's (path, mtimeNs, size) differs from what the
// caller already has on record.
package scanner

import "github.com/Aman-CERP/memsearch/internal/pathgate"

// Source classifies which kind of root a file was found under (§3 File).
type Source string

const (
	SourceMemory    Source = "memory"
	SourceWorkspace Source = "workspace"
	SourceExtra     Source = "extra"
)

// DefaultMaxFileBytes is the size cap applied when Options.MaxFileBytes
// is zero or negative.
const DefaultMaxFileBytes int64 = 10 * 1024 * 1024

// sentinelFiles are top-level files always classified as memory source,
// regardless of directory (§4.2).
var sentinelFiles = map[string]bool{
	"MEMORY.md": true,
}

// Record is one accepted file, as produced by Scan.
type Record struct {
	RelPath  string // forward-slash, root-relative, never contains ".."
	AbsPath  string
	MTimeNs  int64
	Size     int64
	SHA256   string // computed lazily; see KnownLookup
	Source   Source
	RootKind pathgate.RootKind
}

// Known is a record the caller already has indexed for a relPath. Scan uses
// it to skip recomputing SHA256 when mtimeNs and size are unchanged.
type Known struct {
	MTimeNs int64
	Size    int64
	SHA256  string
}

// KnownLookup returns the caller's on-record (mtimeNs, size, sha256) for a
// relPath, or ok=false if the path is not yet tracked.
type KnownLookup func(relPath string) (Known, bool)

// Options configures a Scan call.
type Options struct {
	IncludeGlobs []string // empty = include everything not excluded
	ExcludeGlobs []string
	MaxFileBytes int64 // 0 uses DefaultMaxFileBytes
	Workers      int   // 0 uses runtime.NumCPU()

	// ShowHiddenDirs disables the default of skipping dot-directories.
	ShowHiddenDirs bool

	// IgnoreGitignore disables the default of honoring a .gitignore file at
	// the scan root (a supplemented feature; see SPEC_FULL.md).
	IgnoreGitignore bool

	Known KnownLookup
}

// WithDefaults fills zero-valued fields with their documented defaults.
func (o Options) WithDefaults() Options {
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = DefaultMaxFileBytes
	}
	if o.Known == nil {
		o.Known = func(string) (Known, bool) { return Known{}, false }
	}
	return o
}
