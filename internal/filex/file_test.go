package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureSubDir_CreatesDirectoryInCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureSubDir("downloads")
	require.NoError(t, err)

	want := filepath.Join(tmp, "downloads")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
	}
}

func TestEnsureSubDir_Idempotent(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	first, err := EnsureSubDir("downloads")
	require.NoError(t, err)

	second, err := EnsureSubDir("downloads")
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestEnsureSubDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	require.NoError(t, os.WriteFile("downloads", []byte("x"), 0o600))

	_, err := EnsureSubDir("downloads")
	require.Error(t, err, "should fail when a file exists with the same name")
}

func TestFreePath(t *testing.T) {
	dir := t.TempDir()

	p, err := FreePath(dir, "scan.pdf")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "scan.pdf"), p)

	require.NoError(t, os.WriteFile(p, nil, 0o600))
	p, err = FreePath(dir, "scan.pdf")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "scan (1).pdf"), p)

	require.NoError(t, os.WriteFile(p, nil, 0o600))
	p, err = FreePath(dir, "scan.pdf")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "scan (2).pdf"), p)
}

func TestFreePath_StaysInDir(t *testing.T) {
	dir := t.TempDir()

	p, err := FreePath(dir, "../../etc/passwd")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "passwd"), p)

	_, err = FreePath(dir, "")
	require.Error(t, err)
}
