// Package session keeps one opened save in memory and applies base edits to it
// until it is written back.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nmstools/nmssave/pkg/applog"
	"github.com/nmstools/nmssave/pkg/bases"
	"github.com/nmstools/nmssave/pkg/container"
	"github.com/nmstools/nmssave/pkg/fsutil"
	"github.com/nmstools/nmssave/pkg/save"
	"github.com/nmstools/nmssave/pkg/tree"
)

// ErrNoSave means an operation needs an opened save.
var ErrNoSave = errors.New("no save loaded")

// Session holds an extracted save tree and the state needed to edit it.
type Session struct {
	codec     *save.Codec
	path      string
	root      any
	basesPath tree.KeyPath
	dirty     bool
	backupDir string
	now       func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithBackupDir sets where backups of overwritten files go. Empty means next
// to the file.
func WithBackupDir(dir string) Option {
	return func(s *Session) {
		s.backupDir = dir
	}
}

// WithClock sets the time source used for backup names.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// New creates an empty session using codec for extraction and recompression.
func New(codec *save.Codec, opts ...Option) *Session {
	if codec == nil {
		codec = save.NewCodec()
	}
	s := &Session{
		codec: codec,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open reads and extracts the save at path, deobfuscating keys when the codec
// has a mapping. The previous tree is kept if extraction fails.
func (s *Session) Open(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := applog.FromContext(ctx)
	start := time.Now()

	v, err := s.codec.ExtractFile(path, s.codec.Mapping() != nil)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	s.set(v, path)
	s.dirty = false
	log.Info("Save extracted",
		zap.String("path", path),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// SetTree replaces the session tree, e.g. with one loaded from an export.
// path is where Save writes by default.
func (s *Session) SetTree(v any, path string) {
	s.set(v, path)
	s.dirty = true
}

func (s *Session) set(v any, path string) {
	s.root = v
	s.path = path
	s.basesPath = nil
}

func (s *Session) Path() string { return s.path }
func (s *Session) Root() any    { return s.root }
func (s *Session) Dirty() bool  { return s.dirty }

// Metadata summarizes the loaded tree.
func (s *Session) Metadata() (save.Metadata, error) {
	if s.root == nil {
		return save.Metadata{}, ErrNoSave
	}
	md := save.Summarize(s.root)
	md.Path = s.path
	return md, nil
}

// BasesPath returns the location of the bases array, found once per tree.
func (s *Session) BasesPath() (tree.KeyPath, error) {
	if s.root == nil {
		return nil, ErrNoSave
	}
	if s.basesPath != nil {
		return s.basesPath, nil
	}
	path, err := bases.FindBasesPath(s.root)
	if err != nil {
		return nil, err
	}
	applog.Debug("Located bases", zap.Stringer("path", path))
	s.basesPath = path
	return path, nil
}

// Bases returns the live bases array.
func (s *Session) Bases() ([]any, error) {
	path, err := s.BasesPath()
	if err != nil {
		return nil, err
	}
	return bases.Get(s.root, path)
}

// BasesByType returns the bases of one type, or all bases when baseType is
// empty.
func (s *Session) BasesByType(baseType string) ([]any, error) {
	all, err := s.Bases()
	if err != nil {
		return nil, err
	}
	if baseType == "" {
		return all, nil
	}
	return bases.FilterByType(all, baseType), nil
}

// Base returns a copy of the base at index.
func (s *Session) Base(index int) (any, error) {
	all, err := s.Bases()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(all) {
		return nil, fmt.Errorf("%w: %d (have %d)", bases.ErrIndexOutOfRange, index, len(all))
	}
	return tree.Clone(all[index]), nil
}

// ReplaceBase overwrites the base at index.
func (s *Session) ReplaceBase(index int, base any) error {
	path, err := s.BasesPath()
	if err != nil {
		return err
	}
	if err := bases.Replace(s.root, path, index, base); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// AppendBase adds a base and returns its index.
func (s *Session) AppendBase(base any) (int, error) {
	path, err := s.BasesPath()
	if err != nil {
		return 0, err
	}
	i, err := bases.Append(s.root, path, base)
	if err != nil {
		return 0, err
	}
	s.dirty = true
	return i, nil
}

// RemoveBase deletes the base at index and returns it.
func (s *Session) RemoveBase(index int) (any, error) {
	path, err := s.BasesPath()
	if err != nil {
		return nil, err
	}
	removed, err := bases.Remove(s.root, path, index)
	if err != nil {
		return nil, err
	}
	s.dirty = true
	return removed, nil
}

// SaveResult describes a completed Save.
type SaveResult struct {
	Path   string
	Backup string
	Stats  container.Stats
}

// Save recompresses the tree and writes it to outPath, or back to the opened
// file when outPath is empty. An existing file is backed up first and then
// replaced atomically.
func (s *Session) Save(ctx context.Context, outPath string) (*SaveResult, error) {
	if s.root == nil {
		return nil, ErrNoSave
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if outPath == "" {
		outPath = s.path
	}
	if outPath == "" {
		return nil, fmt.Errorf("no output path")
	}
	log := applog.FromContext(ctx)

	raw, stats, err := s.codec.RecompressStats(s.root)
	if err != nil {
		return nil, err
	}

	res := &SaveResult{Path: outPath, Stats: stats}
	perm := fileMode(outPath)
	if fsutil.Exists(outPath) {
		backup, err := fsutil.Backup(outPath, s.backupDir, s.now())
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", outPath, err)
		}
		res.Backup = backup
		log.Info("Backup created", zap.String("backup", backup))
	}

	if err := fsutil.WriteFileAtomic(outPath, raw, perm); err != nil {
		return nil, fmt.Errorf("write %s: %w", outPath, err)
	}
	if outPath == s.path {
		s.dirty = false
	}

	log.Info("Save written",
		zap.String("path", outPath),
		zap.Int("blocks", stats.Blocks),
		zap.Int("bytes", len(raw)),
		zap.Float64("ratio", stats.Ratio()))
	return res, nil
}

// Close drops the loaded tree. It reports an error when unsaved edits would
// be lost, unless force is set.
func (s *Session) Close(force bool) error {
	if s.dirty && !force {
		return fmt.Errorf("session has unsaved changes to %s", s.path)
	}
	s.set(nil, "")
	s.dirty = false
	return nil
}

func fileMode(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0644
}
