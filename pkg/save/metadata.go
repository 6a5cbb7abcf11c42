package save

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/nmstools/nmssave/pkg/container"
	"github.com/nmstools/nmssave/pkg/jsonrepair"
	"github.com/nmstools/nmssave/pkg/tree"
)

// Expedition types reported in Metadata.ExpeditionType.
const (
	TypeExpedition = "Expedition"
	TypeNormal     = "Normal"
	TypeUnknown    = "Unknown"
)

const maxTopLevelKeys = 50

// previewReadSize is the first read of a metadata preview. It holds at least
// one full block; later reads double it.
const previewReadSize = 1 << 20

// Metadata is the preview of a save read from the front of its payload.
type Metadata struct {
	Version        int64    `json:"version,omitempty"`
	Platform       string   `json:"platform,omitempty"`
	ActiveContext  string   `json:"active_context,omitempty"`
	SaveName       string   `json:"save_name,omitempty"`
	SaveSummary    string   `json:"save_summary,omitempty"`
	IsExpedition   bool     `json:"is_expedition"`
	ExpeditionType string   `json:"expedition_type"`
	SaveSlot       int      `json:"save_slot,omitempty"`
	FileSlot       int      `json:"save_slot_from_filename,omitempty"`
	TopLevelKeys   []string `json:"top_level_keys,omitempty"`
	RecoveredBy    string   `json:"recovered_by,omitempty"`

	Path       string    `json:"file_path,omitempty"`
	Size       int64     `json:"file_size,omitempty"`
	LastSaved  time.Time `json:"last_saved,omitzero"`
	Unreadable bool      `json:"unreadable,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Documented and obfuscated names of the fields read for a preview.
var (
	keysVersion       = []string{"Version", "F2P"}
	keysPlatform      = []string{"Platform", "8>q"}
	keysActiveContext = []string{"ActiveContext", "XTp"}
	keysSaveSummary   = []string{"SaveSummary", "n:R"}
	keysExpedition    = []string{"ExpeditionContext", "2YS"}
	keysCommonState   = []string{"CommonStateData", "<h0"}
	keysSaveName      = []string{"SaveName", "Pk4"}
)

const slotKey = "@eC"

func firstOf(obj *tree.Object, names []string) (any, bool) {
	for _, n := range names {
		if v, ok := obj.Get(n); ok {
			return v, true
		}
	}
	return nil, false
}

func stringOf(obj *tree.Object, names []string) string {
	v, _ := firstOf(obj, names)
	s, _ := v.(string)
	return s
}

func hasAny(obj *tree.Object, names []string) bool {
	_, ok := firstOf(obj, names)
	return ok
}

// Summarize reads the preview fields from a (possibly partial) save tree. It
// accepts documented and obfuscated key names.
func Summarize(v any) Metadata {
	var md Metadata
	obj, ok := v.(*tree.Object)
	if !ok {
		md.classify(false)
		return md
	}

	if n, ok := numberOf(firstOf(obj, keysVersion)); ok {
		md.Version = n
	}
	md.Platform = stringOf(obj, keysPlatform)
	md.ActiveContext = stringOf(obj, keysActiveContext)
	md.SaveSummary = stringOf(obj, keysSaveSummary)
	md.classify(hasAny(obj, keysExpedition))

	if common, ok := firstOf(obj, keysCommonState); ok {
		if cobj, ok := common.(*tree.Object); ok {
			md.SaveName = stringOf(cobj, keysSaveName)
		}
	}

	keys := obj.Keys()
	if len(keys) > maxTopLevelKeys {
		keys = keys[:maxTopLevelKeys]
	}
	md.TopLevelKeys = append([]string(nil), keys...)

	md.SaveSlot = detectSlot(v)
	return md
}

func (md *Metadata) classify(hasExpedition bool) {
	switch {
	case md.ActiveContext == "Season" || hasExpedition:
		md.IsExpedition = true
		md.ExpeditionType = TypeExpedition
	case md.ActiveContext == "Main":
		md.ExpeditionType = TypeNormal
	case md.ActiveContext != "":
		md.ExpeditionType = md.ActiveContext
	default:
		md.ExpeditionType = TypeUnknown
	}
}

func numberOf(v any, ok bool) (int64, bool) {
	if !ok {
		return 0, false
	}
	n, isNum := v.(tree.Number)
	if !isNum {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return int64(f), true
}

// detectSlot looks for the first "@eC" array; a leading number in 1..15 is
// the save slot.
func detectSlot(v any) int {
	path, ok := tree.FindKey(v, slotKey)
	if !ok {
		return 0
	}
	found, err := tree.Resolve(v, path)
	if err != nil {
		return 0
	}
	arr, ok := found.([]any)
	if !ok || len(arr) == 0 {
		return 0
	}
	n, ok := numberOf(arr[0], true)
	if !ok || n < 1 || n > 15 {
		return 0
	}
	return int(n)
}

var (
	reVersion    = regexp.MustCompile(`"(?:Version|F2P)"\s*:\s*(\d+)`)
	rePlatform   = regexp.MustCompile(`"(?:Platform|8>q)"\s*:\s*"([^"]+)"`)
	reContext    = regexp.MustCompile(`"(?:ActiveContext|XTp)"\s*:\s*"([^"]+)"`)
	reExpedition = regexp.MustCompile(`"(?:ExpeditionContext|2YS)"\s*:`)
	reSaveName   = regexp.MustCompile(`"(?:SaveName|Pk4)"\s*:\s*"([^"]*)"`)
)

// SummarizeText pulls the preview fields out of raw JSON text by pattern
// matching, for payloads no recovery step could parse.
func SummarizeText(text string) Metadata {
	var md Metadata
	if m := reVersion.FindStringSubmatch(text); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			md.Version = n
		}
	}
	if m := rePlatform.FindStringSubmatch(text); m != nil {
		md.Platform = m[1]
	}
	if m := reContext.FindStringSubmatch(text); m != nil {
		md.ActiveContext = m[1]
	}
	if m := reSaveName.FindStringSubmatch(text); m != nil {
		md.SaveName = m[1]
	}
	md.classify(reExpedition.MatchString(text))
	return md
}

// Metadata previews a save from the first budget bytes of its payload.
func (c *Codec) Metadata(raw []byte, budget int) Metadata {
	return c.summarizePreview(c.preview(raw, budget))
}

func (c *Codec) summarizePreview(text string) Metadata {
	v, step := c.recoverPreview(text)
	if step != jsonrepair.StepEmpty {
		md := Summarize(v)
		md.RecoveredBy = step.String()
		return md
	}
	md := SummarizeText(text)
	md.RecoveredBy = "pattern"
	return md
}

// ReadMetadata previews the save at path. Only file errors and a payload
// that decodes to nothing are reported as errors.
func (c *Codec) ReadMetadata(path string, budget int) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open save file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Metadata{}, fmt.Errorf("stat save file: %w", err)
	}
	text, err := readPreview(f, budget)
	if err != nil {
		return Metadata{}, fmt.Errorf("read save file: %w", err)
	}
	if text == "" {
		return Metadata{}, stageErr(StageDecode, ErrContainerFormat)
	}

	md := c.summarizePreview(text)
	md.Path = path
	md.Size = info.Size()
	md.LastSaved = info.ModTime()
	return md, nil
}

// readPreview reads r only until the first budget bytes of the payload
// decode, or until the input ends or a block is unreadable.
func readPreview(r io.Reader, budget int) (string, error) {
	budget = previewBudget(budget)

	var raw []byte
	for size := previewReadSize; ; size *= 2 {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		raw = append(raw, buf[:n]...)
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return "", err
		}

		payload, stats := container.DecodeStats(raw, container.WithLimit(budget))
		if len(payload) >= budget || eof ||
			errors.Is(stats.Stopped, container.ErrBlockCorrupt) ||
			errors.Is(stats.Stopped, container.ErrBadHeader) {
			return validPrefix(payload), nil
		}
	}
}
