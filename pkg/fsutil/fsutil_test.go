package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "save.hg")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestWriteAtomicFailureKeepsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.hg")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0644))

	err := WriteAtomic(path, 0644, func(w io.Writer) error {
		_, _ = w.Write([]byte("half"))
		return errors.New("boom")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSyncDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory handles cannot be synced on windows")
	}
	assert.NoError(t, syncDir(t.TempDir()))
	assert.Error(t, syncDir(filepath.Join(t.TempDir(), "missing")))
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "save2.hg")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0644))

	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	backupDir := filepath.Join(dir, "backups")

	got, err := Backup(path, backupDir, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(backupDir, "save2_backup_20240309_140507.hg"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = Backup(filepath.Join(dir, "missing.hg"), "", now)
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, filepath.Join("saves", "save_backup_20240102_030405.hg"),
		BackupName(filepath.Join("saves", "save.hg"), "", now))
	assert.Equal(t, filepath.Join("out", "save_recompressed.hg"),
		ReplaceName(filepath.Join("out", "save.hg"), "recompressed"))
	assert.Equal(t, "noext_x", ReplaceName("noext", "x"))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	assert.False(t, Exists(path))
	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.True(t, Exists(path))
	assert.False(t, Exists(dir), "directories are not files")
}
