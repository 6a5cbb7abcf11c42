// Package save composes the container, tree, key mapping and JSON recovery
// packages into save-file operations.
package save

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nmstools/nmssave/pkg/applog"
	"github.com/nmstools/nmssave/pkg/container"
	"github.com/nmstools/nmssave/pkg/jsonrepair"
	"github.com/nmstools/nmssave/pkg/keymap"
	"github.com/nmstools/nmssave/pkg/mapping"
	"github.com/nmstools/nmssave/pkg/tree"
)

// DefaultMetadataBudget is the number of decompressed bytes read for a
// metadata preview.
const DefaultMetadataBudget = 10 * 1024

// Codec converts between save container bytes and trees. A Codec without a
// mapping leaves keys as they are.
type Codec struct {
	mapping  keymap.Mapping
	toLong   map[string]string
	toShort  map[string]string
	encoding []container.WriterOption
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithMapping sets the key mapping used for deobfuscation and obfuscation.
func WithMapping(m keymap.Mapping) CodecOption {
	return func(c *Codec) {
		c.mapping = m
	}
}

// WithWriterOptions passes options to the container writer on recompression.
func WithWriterOptions(opts ...container.WriterOption) CodecOption {
	return func(c *Codec) {
		c.encoding = append(c.encoding, opts...)
	}
}

// NewCodec creates a codec.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	if c.mapping != nil {
		c.toLong = c.mapping.Lookup(keymap.Deobfuscate)
		c.toShort = c.mapping.Lookup(keymap.Obfuscate)
	}
	return c
}

// Mapping returns the codec's mapping, which may be nil.
func (c *Codec) Mapping() keymap.Mapping {
	return c.mapping
}

// Extract decodes a whole save into a tree, deobfuscating keys when
// applyMapping is set. Failures are *StageError values wrapping one of the
// package's sentinel errors. A container whose blocks stop before the end of
// the input (corrupt, truncated or bad header) fails in the decode stage.
func (c *Codec) Extract(raw []byte, applyMapping bool) (any, error) {
	payload, stats := container.DecodeStats(raw)
	if stats.Stopped != nil {
		applog.Warn("Container decoding stopped early",
			zap.Int("blocks", stats.Blocks),
			zap.Int("bytes", len(payload)),
			zap.Error(stats.Stopped))
		return nil, stageErr(StageDecode, fmt.Errorf("%w: %w", ErrContainerFormat, stats.Stopped))
	}
	if len(payload) == 0 {
		return nil, stageErr(StageDecode, ErrContainerFormat)
	}

	if !utf8.Valid(payload) {
		return nil, stageErr(StageUTF8, ErrEncoding)
	}

	v, err := tree.Parse(payload)
	if err != nil {
		first, _, ferr := tree.ParseFirst(payload)
		if ferr != nil {
			return nil, stageErr(StageParse, fmt.Errorf("%w: %v", ErrParse, err))
		}
		v = first
	}

	if applyMapping {
		if c.mapping == nil {
			return nil, stageErr(StageMapping, mapping.ErrMappingUnavailable)
		}
		v = keymap.MapKeysWith(v, c.toLong)
	}
	return v, nil
}

// ExtractFile reads path and extracts it.
func (c *Codec) ExtractFile(path string, applyMapping bool) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, stageErr(StageRead, err)
	}
	return c.Extract(raw, applyMapping)
}

// ExtractMetadata decodes at most budget bytes of the payload and recovers
// whatever JSON it can from them. It never fails; the result is at worst an
// empty object. Keys are deobfuscated when the codec has a mapping.
func (c *Codec) ExtractMetadata(raw []byte, budget int) (any, jsonrepair.Step) {
	return c.recoverPreview(c.preview(raw, budget))
}

// preview decodes the first budget bytes of the payload as text.
func (c *Codec) preview(raw []byte, budget int) string {
	return validPrefix(container.Decode(raw, container.WithLimit(previewBudget(budget))))
}

func previewBudget(budget int) int {
	if budget <= 0 {
		return DefaultMetadataBudget
	}
	return budget
}

func (c *Codec) recoverPreview(text string) (any, jsonrepair.Step) {
	v, step := jsonrepair.Recover(text)
	if c.toLong != nil {
		v = keymap.MapKeysWith(v, c.toLong)
	}
	return v, step
}

// Recompress obfuscates the tree's keys (when the codec has a mapping),
// serialises it as compact JSON and encodes it as a container.
func (c *Codec) Recompress(v any) ([]byte, error) {
	data, _, err := c.RecompressStats(v)
	return data, err
}

// RecompressStats is Recompress that also reports block statistics.
func (c *Codec) RecompressStats(v any) ([]byte, container.Stats, error) {
	if c.toShort != nil {
		v = keymap.MapKeysWith(v, c.toShort)
	}

	payload, err := tree.Marshal(v)
	if err != nil {
		return nil, container.Stats{}, stageErr(StageSerialize, err)
	}

	var out bytes.Buffer
	out.Grow(len(payload)/2 + container.HeaderSize)
	w := container.NewWriter(&out, c.encoding...)
	if _, err := w.Write(payload); err != nil {
		return nil, container.Stats{}, stageErr(StageEncode, err)
	}
	if err := w.Close(); err != nil {
		return nil, container.Stats{}, stageErr(StageEncode, err)
	}
	return out.Bytes(), w.Stats(), nil
}

// validPrefix drops a rune cut off by the byte budget and replaces any other
// invalid sequence.
func validPrefix(b []byte) string {
	if n := len(b); n > 0 {
		start := n - 1
		for start > 0 && n-start < utf8.UTFMax && !utf8.RuneStart(b[start]) {
			start--
		}
		if !utf8.FullRune(b[start:]) {
			b = b[:start]
		}
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
