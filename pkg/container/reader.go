package container

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"

	"github.com/nmstools/nmssave/pkg/applog"
)

// Reasons a scan or decode stopped before the end of its input.
var (
	ErrTruncatedHeader  = errors.New("truncated block header")
	ErrTruncatedPayload = errors.New("truncated block payload")
	ErrBadHeader        = errors.New("invalid block header")
	ErrBlockCorrupt     = errors.New("block decompression failed")
)

// Block is one framed block located in a container.
type Block struct {
	Offset  int // offset of the header in the input
	Header  Header
	Payload []byte // compressed bytes, aliasing the input
}

// Scanner walks the blocks of a container, re-synchronising on the magic
// number when it meets bytes that are not a block header.
type Scanner struct {
	data    []byte
	pos     int
	block   Block
	err     error
	skipped int
}

// NewScanner creates a scanner over data.
func NewScanner(data []byte) *Scanner {
	return &Scanner{data: data}
}

// Next advances to the next block. It returns false at the end of input or
// when the remaining input cannot hold a complete block; Err reports which.
func (s *Scanner) Next() bool {
	if s.err != nil || s.pos >= len(s.data) {
		return false
	}

	if !s.atMagic(s.pos) {
		idx := bytes.Index(s.data[s.pos+1:], magicBytes[:])
		if idx < 0 {
			s.skipped += len(s.data) - s.pos
			s.pos = len(s.data)
			return false
		}
		s.skipped += idx + 1
		s.pos += idx + 1
	}

	if len(s.data)-s.pos < HeaderSize {
		s.err = fmt.Errorf("%w at offset %d", ErrTruncatedHeader, s.pos)
		return false
	}

	var h Header
	if err := h.UnmarshalBinary(s.data[s.pos : s.pos+HeaderSize]); err != nil {
		s.err = fmt.Errorf("%w at offset %d: %v", ErrBadHeader, s.pos, err)
		return false
	}

	start := s.pos + HeaderSize
	end := start + int(h.CompressedSize)
	if end > len(s.data) {
		s.err = fmt.Errorf("%w at offset %d: need %d bytes, have %d",
			ErrTruncatedPayload, s.pos, h.CompressedSize, len(s.data)-start)
		return false
	}

	s.block = Block{Offset: s.pos, Header: h, Payload: s.data[start:end]}
	s.pos = end
	return true
}

func (s *Scanner) atMagic(pos int) bool {
	return len(s.data)-pos >= 4 && bytes.Equal(s.data[pos:pos+4], magicBytes[:])
}

// Block returns the block found by the last successful Next.
func (s *Scanner) Block() Block {
	return s.block
}

// Err returns why scanning stopped early, or nil if it reached the end.
func (s *Scanner) Err() error {
	return s.err
}

// Skipped returns the number of non-block bytes passed over so far.
func (s *Scanner) Skipped() int {
	return s.skipped
}

// Stats describes a decode run.
type Stats struct {
	Blocks            int
	CompressedBytes   int
	UncompressedBytes int
	SkippedBytes      int
	Stopped           error // nil when the whole input was consumed
}

// Ratio returns compressed/uncompressed, or 0 for an empty payload.
func (s Stats) Ratio() float64 {
	if s.UncompressedBytes == 0 {
		return 0
	}
	return float64(s.CompressedBytes) / float64(s.UncompressedBytes)
}

type decodeOptions struct {
	limit int
}

// DecodeOption configures Decode.
type DecodeOption func(*decodeOptions)

// WithLimit stops decoding once n bytes of output exist and truncates the
// output to n bytes. Zero or negative means no limit.
func WithLimit(n int) DecodeOption {
	return func(o *decodeOptions) {
		o.limit = n
	}
}

// Decode decompresses every readable block in data and returns the
// concatenated payload. It never fails: on a truncated or corrupt block it
// returns what was decoded up to that point, possibly nothing.
func Decode(data []byte, opts ...DecodeOption) []byte {
	out, _ := DecodeStats(data, opts...)
	return out
}

// DecodeStats is Decode that also reports what it saw.
func DecodeStats(data []byte, opts ...DecodeOption) ([]byte, Stats) {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		stats Stats
		out   []byte
	)
	if o.limit > 0 {
		out = make([]byte, 0, o.limit)
	} else {
		out = make([]byte, 0, len(data)*2)
	}

	sc := NewScanner(data)
	for sc.Next() {
		b := sc.Block()
		n := int(b.Header.UncompressedSize)
		if n == 0 {
			stats.Blocks++
			stats.CompressedBytes += len(b.Payload)
			continue
		}

		start := len(out)
		out = grow(out, n)
		got, err := lz4.UncompressBlock(b.Payload, out[start:start+n])
		if err == nil && got != n {
			err = fmt.Errorf("decompressed %d bytes, header says %d", got, n)
		}
		if err != nil {
			out = out[:start]
			stats.Stopped = fmt.Errorf("%w at offset %d: %v", ErrBlockCorrupt, b.Offset, err)
			applog.Warn("LZ4 block decompression failed, keeping earlier blocks",
				zap.Int("offset", b.Offset),
				zap.Int("block", stats.Blocks),
				zap.Error(err),
			)
			break
		}

		stats.Blocks++
		stats.CompressedBytes += len(b.Payload)
		if o.limit > 0 && len(out) >= o.limit {
			out = out[:o.limit]
			break
		}
	}

	if stats.Stopped == nil {
		stats.Stopped = sc.Err()
	}
	stats.SkippedBytes = sc.Skipped()
	stats.UncompressedBytes = len(out)
	return out, stats
}

// grow extends b by n bytes, reallocating when capacity runs out.
func grow(b []byte, n int) []byte {
	if cap(b)-len(b) >= n {
		return b[:len(b)+n]
	}
	nb := make([]byte, len(b)+n, 2*cap(b)+n)
	copy(nb, b)
	return nb
}
