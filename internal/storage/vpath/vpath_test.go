package vpath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedrive/backend/internal/storage/errs"
)

func newValidator(t *testing.T) (*Validator, string) {
	t.Helper()
	root := t.TempDir()
	v, err := New(root)
	require.NoError(t, err)
	return v, v.Root()
}

func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestResolveAcceptsNestedPath(t *testing.T) {
	v, root := newValidator(t)

	abs, err := v.Resolve("docs/reports/q3.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "docs", "reports", "q3.pdf"), abs)
}

func TestResolveEmptyIsRoot(t *testing.T) {
	v, root := newValidator(t)

	for _, raw := range []string{"", ".", "./"} {
		abs, err := v.Resolve(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, root, abs, raw)
	}
}

func TestResolveNormalizesSlashes(t *testing.T) {
	v, root := newValidator(t)

	abs, err := v.Resolve("docs//notes/")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "docs", "notes"), abs)
}

func TestResolveRejectsTraversal(t *testing.T) {
	v, _ := newValidator(t)

	cases := []string{
		"../outside",
		"docs/../../outside",
		"/etc/passwd",
		"docs/..",
		"..",
		"a/b/../../../c",
		"with\x00null",
	}
	for _, raw := range cases {
		_, err := v.Resolve(raw)
		assert.ErrorIs(t, err, errs.ErrPathTraversal, raw)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	v, root := newValidator(t)

	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	_, err := v.Resolve("escape/secret.txt")
	assert.ErrorIs(t, err, errs.ErrPathTraversal)
}

func TestResolveFollowsInternalSymlink(t *testing.T) {
	v, root := newValidator(t)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	abs, err := v.Resolve("alias/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "real", "file.txt"), abs)
}

func TestResolveDestinationRejectsTrash(t *testing.T) {
	v, _ := newValidator(t)

	for _, raw := range []string{".trash", ".trash/stuff"} {
		_, err := v.ResolveDestination(raw)
		assert.ErrorIs(t, err, errs.ErrForbidden, raw)
	}

	_, err := v.ResolveDestination("documents")
	assert.NoError(t, err)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("report.pdf"))
	assert.NoError(t, ValidateName(".hidden"))

	bad := []string{"", ".", "..", "a/b", "a\\b", "nul\x00byte", string(make([]byte, MaxNameLength+1))}
	for _, name := range bad {
		assert.Error(t, ValidateName(name), "%q", name)
	}
}

func TestRelative(t *testing.T) {
	v, root := newValidator(t)

	assert.Equal(t, "", v.Relative(root))
	assert.Equal(t, "a/b", v.Relative(filepath.Join(root, "a", "b")))
}

func TestIsTrash(t *testing.T) {
	v, root := newValidator(t)

	assert.True(t, v.IsTrash(filepath.Join(root, TrashDirName)))
	assert.True(t, v.IsTrash(filepath.Join(root, TrashDirName, "x")))
	assert.False(t, v.IsTrash(filepath.Join(root, ".trashy")))
	assert.False(t, v.IsTrash(root))
}
