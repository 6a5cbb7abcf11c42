package container

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Writer splits written data into chunks and emits one compressed block per
// chunk to the underlying writer.
type Writer struct {
	dst       io.Writer
	buf       []byte
	chunkSize int
	level     lz4.CompressionLevel
	scratch   []byte
	stats     Stats
	closed    bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithChunkSize sets the uncompressed size of each block, capped at ChunkSize.
func WithChunkSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 && n <= ChunkSize {
			w.chunkSize = n
		}
	}
}

// WithCompressionLevel switches to high-compression LZ4 at the given level.
// lz4.Fast keeps the default fast compressor.
func WithCompressionLevel(level lz4.CompressionLevel) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// NewWriter creates a block writer over dst.
func NewWriter(dst io.Writer, opts ...WriterOption) *Writer {
	w := &Writer{
		dst:       dst,
		chunkSize: ChunkSize,
		level:     lz4.Fast,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.buf = make([]byte, 0, w.chunkSize)
	return w
}

// Write buffers p, emitting a block each time a chunk fills up.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed container writer")
	}
	written := 0
	for len(p) > 0 {
		room := w.chunkSize - len(w.buf)
		take := min(room, len(p))
		w.buf = append(w.buf, p[:take]...)
		p = p[take:]
		written += take
		if len(w.buf) == w.chunkSize {
			if err := w.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Close writes any buffered partial chunk. It does not close dst.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.buf) == 0 {
		return nil
	}
	return w.flush()
}

// Stats reports the blocks written so far.
func (w *Writer) Stats() Stats {
	return w.stats
}

func (w *Writer) flush() error {
	chunk := w.buf
	bound := lz4.CompressBlockBound(len(chunk))
	if cap(w.scratch) < bound {
		w.scratch = make([]byte, bound)
	}
	dst := w.scratch[:bound]

	var (
		n   int
		err error
	)
	if w.level == lz4.Fast {
		n, err = lz4.CompressBlock(chunk, dst, nil)
	} else {
		n, err = lz4.CompressBlockHC(chunk, dst, w.level, nil, nil)
	}
	if err != nil {
		return fmt.Errorf("compress block %d: %w", w.stats.Blocks, err)
	}
	if n == 0 {
		return fmt.Errorf("compress block %d: no output", w.stats.Blocks)
	}

	headerBytes, err := NewHeader(n, len(chunk)).MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if _, err := w.dst.Write(headerBytes); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.dst.Write(dst[:n]); err != nil {
		return fmt.Errorf("write block: %w", err)
	}

	w.stats.Blocks++
	w.stats.CompressedBytes += n
	w.stats.UncompressedBytes += len(chunk)
	w.buf = w.buf[:0]
	return nil
}

// Encode compresses data into container bytes. An empty payload yields an
// empty container.
func Encode(data []byte, opts ...WriterOption) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data)/2 + HeaderSize)
	w := NewWriter(&buf, opts...)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
