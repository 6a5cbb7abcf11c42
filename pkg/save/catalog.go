package save

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nmstools/nmssave/pkg/applog"
)

// ErrNoSaveDir means no game save directory could be located.
var ErrNoSaveDir = errors.New("no save directory found")

// SaveFile is a save container found in a save directory.
type SaveFile struct {
	Name   string
	Path   string
	Number int // 1 for save.hg, n for save<n>.hg
	Size   int64
}

// FileSlot is the slot the file name suggests: each slot owns a pair of
// files (save.hg/save2.hg, save3.hg/save4.hg, ...).
func (f SaveFile) FileSlot() int {
	return (f.Number + 1) / 2
}

// saveNumber parses "save.hg" and "save<n>.hg", returning false for other names.
func saveNumber(name string) (int, bool) {
	lower := strings.ToLower(name)
	if !strings.HasPrefix(lower, "save") || !strings.HasSuffix(lower, ".hg") {
		return 0, false
	}
	mid := lower[len("save") : len(lower)-len(".hg")]
	if mid == "" {
		return 1, true
	}
	n, err := strconv.Atoi(mid)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// ScanSaves lists the save containers directly inside dir, ordered by number.
func ScanSaves(dir string) ([]SaveFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read save directory: %w", err)
	}

	var files []SaveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		num, ok := saveNumber(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		files = append(files, SaveFile{
			Name:   e.Name(),
			Path:   filepath.Join(dir, e.Name()),
			Number: num,
			Size:   info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Number < files[j].Number
	})
	return files, nil
}

// ListSaves previews every save in dir. A file that cannot be read is listed
// with Unreadable set instead of failing the whole listing.
func (c *Codec) ListSaves(dir string, budget int) ([]Metadata, error) {
	files, err := ScanSaves(dir)
	if err != nil {
		return nil, err
	}

	out := make([]Metadata, 0, len(files))
	for _, f := range files {
		md, err := c.ReadMetadata(f.Path, budget)
		if err != nil {
			applog.Warn("Unreadable save file",
				zap.String("path", f.Path),
				zap.Error(err))
			md = Metadata{
				Path:           f.Path,
				Size:           f.Size,
				ExpeditionType: TypeUnknown,
				Unreadable:     true,
				Error:          err.Error(),
			}
		}
		md.FileSlot = f.FileSlot()
		out = append(out, md)
	}
	return out, nil
}

// FindSaveDir returns the first "st_*" account directory under root, the
// game's per-user save folder.
func FindSaveDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSaveDir, err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "st_") {
			return filepath.Join(root, e.Name()), nil
		}
	}
	return "", fmt.Errorf("%w under %s", ErrNoSaveDir, root)
}

// DefaultSaveDir locates the save folder under the roaming application data
// directory (%APPDATA%\HelloGames\NMS\st_*).
func DefaultSaveDir() (string, error) {
	appData, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSaveDir, err)
	}
	return FindSaveDir(filepath.Join(appData, "HelloGames", "NMS"))
}
