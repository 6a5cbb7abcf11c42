// Package container reads and writes the save container format: a
// back-to-back sequence of LZ4-compressed blocks, each behind a 16-byte
// little-endian header.
package container

import (
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"
)

// Magic identifies a block header.
const Magic uint32 = 0xFEEDA1E5

// magicBytes is Magic in on-disk (little-endian) order.
var magicBytes = [4]byte{0xE5, 0xA1, 0xED, 0xFE}

const (
	// HeaderSize is the fixed binary size of a block header.
	HeaderSize = 16 // 4 x uint32

	// ChunkSize is the largest uncompressed payload written per block.
	ChunkSize = 0x80000

	// MaxBlockSize bounds the uncompressed size accepted from a header so a
	// corrupt header cannot force a huge allocation.
	MaxBlockSize = 64 << 20
)

// Header is the fixed header in front of every block.
type Header struct {
	Magic            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	Reserved         uint32
}

// NewHeader creates a block header with the given sizes.
func NewHeader(compressedSize, uncompressedSize int) *Header {
	return &Header{
		Magic:            Magic,
		CompressedSize:   uint32(compressedSize),
		UncompressedSize: uint32(uncompressedSize),
	}
}

// Size returns the binary size of the header.
func (h *Header) Size() int {
	return HeaderSize
}

// Validate checks the header for validity.
func (h *Header) Validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("invalid magic: expected %#08x, got %#08x", Magic, h.Magic)
	}
	if h.CompressedSize == 0 && h.UncompressedSize != 0 {
		return fmt.Errorf("compressed size is zero")
	}
	if h.UncompressedSize > MaxBlockSize {
		return fmt.Errorf("uncompressed size %d exceeds limit %d", h.UncompressedSize, MaxBlockSize)
	}
	return nil
}

// MarshalBinary encodes the header to binary format.
func (h *Header) MarshalBinary() ([]byte, error) {
	return restruct.Pack(binary.LittleEndian, h)
}

// UnmarshalBinary decodes the header and validates it.
func (h *Header) UnmarshalBinary(data []byte) error {
	if err := h.DecodeFrom(data); err != nil {
		return err
	}
	return h.Validate()
}

// DecodeFrom reads the header from the given buffer without validating it.
func (h *Header) DecodeFrom(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("header data too short: need %d, got %d", HeaderSize, len(data))
	}
	return restruct.Unpack(data[:HeaderSize], binary.LittleEndian, h)
}
