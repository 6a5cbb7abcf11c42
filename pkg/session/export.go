package session

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/DataDog/zstd"
	"go.uber.org/zap"

	"github.com/nmstools/nmssave/pkg/applog"
	"github.com/nmstools/nmssave/pkg/fsutil"
	"github.com/nmstools/nmssave/pkg/tree"
)

// ZstdExt marks tree dumps stored zstd-compressed.
const ZstdExt = ".zst"

const zstdLevel = zstd.DefaultCompression

func compressed(path string) bool {
	return strings.EqualFold(path[max(0, len(path)-len(ZstdExt)):], ZstdExt)
}

// WriteJSON writes v as indented JSON, zstd-compressed when path ends in
// ".zst". The file is replaced atomically.
func WriteJSON(path string, v any) error {
	data, err := tree.MarshalIndent(v)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	data = append(data, '\n')

	if !compressed(path) {
		return fsutil.WriteFileAtomic(path, data, 0644)
	}
	return fsutil.WriteAtomic(path, 0644, func(w io.Writer) error {
		zw := zstd.NewWriterLevel(w, zstdLevel)
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return fmt.Errorf("failed to write compressed data: %w", err)
		}
		return zw.Close()
	})
}

// ReadJSON parses the JSON file at path, decompressing it first when the
// name ends in ".zst".
func ReadJSON(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed(path) {
		zr := zstd.NewReader(f)
		defer zr.Close()
		r = zr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	v, err := tree.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// ExportTree writes the whole tree to path.
func (s *Session) ExportTree(path string) error {
	if s.root == nil {
		return ErrNoSave
	}
	if err := WriteJSON(path, s.root); err != nil {
		return err
	}
	applog.Info("Tree exported", zap.String("path", path))
	return nil
}

// LoadTree replaces the session tree with the JSON at path. savePath is where
// a later Save writes by default.
func (s *Session) LoadTree(path, savePath string) error {
	v, err := ReadJSON(path)
	if err != nil {
		return err
	}
	s.SetTree(v, savePath)
	applog.Info("Tree loaded", zap.String("path", path))
	return nil
}

// ExportBase writes a copy of the base at index to path. An existing file is
// backed up first.
func (s *Session) ExportBase(index int, path string) (backup string, err error) {
	base, err := s.Base(index)
	if err != nil {
		return "", err
	}
	if fsutil.Exists(path) {
		backup, err = fsutil.Backup(path, s.backupDir, s.now())
		if err != nil {
			return "", fmt.Errorf("backup %s: %w", path, err)
		}
	}
	if err := WriteJSON(path, base); err != nil {
		return "", err
	}
	applog.Info("Base exported",
		zap.Int("index", index),
		zap.String("path", path))
	return backup, nil
}

// LoadBase reads a base exported by ExportBase. It must be a JSON object.
func LoadBase(path string) (any, error) {
	v, err := ReadJSON(path)
	if err != nil {
		return nil, err
	}
	if _, ok := v.(*tree.Object); !ok {
		return nil, fmt.Errorf("%s: base must be a JSON object, got %T", path, v)
	}
	return v, nil
}

// ImportBase loads the base at path and replaces the base at index with it.
func (s *Session) ImportBase(index int, path string) error {
	base, err := LoadBase(path)
	if err != nil {
		return err
	}
	return s.ReplaceBase(index, base)
}
