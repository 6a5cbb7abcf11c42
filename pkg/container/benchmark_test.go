package container

import (
	"testing"

	"github.com/pierrec/lz4/v4"
)

// BenchmarkCompression benchmarks block compression at different levels.
func BenchmarkCompression(b *testing.B) {
	data := sample(ChunkSize)

	b.Run("Compress_Fast", func(b *testing.B) {
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		b.SetBytes(int64(len(data)))
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := lz4.CompressBlock(data, dst, nil); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Compress_HC", func(b *testing.B) {
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		b.SetBytes(int64(len(data)))
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := lz4.CompressBlockHC(data, dst, lz4.Level9, nil, nil); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkHeader benchmarks header operations.
func BenchmarkHeader(b *testing.B) {
	header := NewHeader(512*1024, 1024*1024)

	b.Run("Marshal", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := header.MarshalBinary(); err != nil {
				b.Fatal(err)
			}
		}
	})

	data, _ := header.MarshalBinary()

	b.Run("Unmarshal", func(b *testing.B) {
		h := &Header{}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := h.UnmarshalBinary(data); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkEncodeDecode benchmarks a full encode/decode cycle.
func BenchmarkEncodeDecode(b *testing.B) {
	data := sample(4 * ChunkSize)

	b.Run("Encode", func(b *testing.B) {
		b.SetBytes(int64(len(data)))
		for i := 0; i < b.N; i++ {
			if _, err := Encode(data); err != nil {
				b.Fatal(err)
			}
		}
	})

	encoded, _ := Encode(data)

	b.Run("Decode", func(b *testing.B) {
		b.SetBytes(int64(len(data)))
		for i := 0; i < b.N; i++ {
			Decode(encoded)
		}
	})

	b.Run("DecodeLimited", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			Decode(encoded, WithLimit(64*1024))
		}
	})
}
