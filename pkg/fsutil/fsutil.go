// Package fsutil holds file helpers shared by the commands that replace files
// on disk.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/nmstools/nmssave/pkg/applog"
)

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so path never holds a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomic is WriteFileAtomic for content produced by a callback.
func WriteAtomic(path string, perm os.FileMode, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	applog.Debug("Performing atomic file replacement",
		zap.String("source", tmpPath),
		zap.String("dest", path))

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	tmpPath = ""

	if err := syncDir(dir); err != nil && runtime.GOOS != "windows" {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}

// syncDir flushes dir so a rename into it survives a crash. Windows cannot
// sync directory handles.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// BackupName returns "<stem>_backup_<YYYYmmdd_HHMMSS><ext>" for path, placed in
// dir (or next to path when dir is empty).
func BackupName(path, dir string, now time.Time) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	if dir == "" {
		dir = filepath.Dir(path)
	}
	return filepath.Join(dir, fmt.Sprintf("%s_backup_%s%s", stem, now.Format("20060102_150405"), ext))
}

// Backup copies path to a timestamped backup file and returns its location.
func Backup(path, dir string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open original: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat original: %w", err)
	}

	dst := BackupName(path, dir, now)
	err = WriteAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return dst, nil
}

// ReplaceName returns "<stem>_<suffix><ext>" next to path, e.g. the default
// output name for a recompressed save.
func ReplaceName(path, suffix string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + "_" + suffix + ext
}
