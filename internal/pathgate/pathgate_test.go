package pathgate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Aman-CERP/memsearch/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithinWorkspace(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "memory"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "memory", "note.md"), []byte("hi"), 0o644))

	g, err := New(ws, nil, 0)
	require.NoError(t, err)

	abs, root, err := g.Resolve("memory/note.md")
	require.NoError(t, err)
	assert.Equal(t, KindWorkspace, root.Kind)
	assert.True(t, withinRoot(filepath.Clean(abs), root.Abs))
}

func TestResolveRejectsDotDotEscape(t *testing.T) {
	ws := t.TempDir()
	g, err := New(ws, nil, 0)
	require.NoError(t, err)

	_, _, err = g.Resolve("../outside.md")
	require.Error(t, err)
	assert.Equal(t, errs.PathDenied, errs.KindOf(err))
}

func TestResolveRejectsAbsoluteRelPath(t *testing.T) {
	ws := t.TempDir()
	g, err := New(ws, nil, 0)
	require.NoError(t, err)

	_, _, err = g.Resolve("/etc/passwd")
	require.Error(t, err)
	assert.Equal(t, errs.PathDenied, errs.KindOf(err))
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.md"), []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.md"), filepath.Join(ws, "link.md")))

	g, err := New(ws, nil, 0)
	require.NoError(t, err)

	_, _, err = g.Resolve("link.md")
	require.Error(t, err)
	assert.Equal(t, errs.PathDenied, errs.KindOf(err))
}

func TestResolveExtraPathSymlinkStillDenied(t *testing.T) {
	extra := t.TempDir()
	ws := t.TempDir()
	target := filepath.Join(extra, "real.md")
	require.NoError(t, os.WriteFile(target, []byte("ok"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(extra, "alias.md")))

	g, err := New(ws, []string{extra}, 0)
	require.NoError(t, err)

	// Even though the symlink target is inside the same extra root, the
	// spec's default forbids following it.
	_, _, err = g.Resolve("alias.md")
	require.Error(t, err)
}

func TestResolveMaxFileSize(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "big.md"), []byte("0123456789"), 0o644))

	g, err := New(ws, nil, 5)
	require.NoError(t, err)

	_, _, err = g.Resolve("big.md")
	require.Error(t, err)
	assert.Equal(t, errs.PathDenied, errs.KindOf(err))
}
