package persistence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// incompressibleRatio is the compressed/raw ratio above which a chunk is stored raw.
const incompressibleRatio = 0.9

// compressBlock compresses data. It returns ok=false when the chunk should
// be stored raw, either because compression is off or because it does not help.
func compressBlock(data []byte, c Compression) (out []byte, ok bool, err error) {
	if c == CompressionNone || len(data) == 0 {
		return nil, false, nil
	}

	var compressed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, false, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, false, err
		}
		compressed = enc.EncodeAll(data, nil)
		putZstdEncoder(enc)
	default:
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}

	// n == 0 from lz4 means incompressible
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*incompressibleRatio {
		return nil, false, nil
	}
	return compressed, true, nil
}

// decompressBlock decompresses src into dst, which must have the exact raw size.
func decompressBlock(src, dst []byte, c Compression) error {
	if len(dst) == 0 {
		return nil
	}
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return err
		}
		if n != len(dst) {
			return errors.New("decompressed size mismatch")
		}
		return nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return err
		}
		defer putZstdDecoder(dec)

		decoded, err := dec.DecodeAll(src, dst[:0])
		if err != nil {
			return err
		}
		if len(decoded) != len(dst) {
			return errors.New("decompressed size mismatch")
		}
		if &decoded[0] != &dst[0] {
			copy(dst, decoded)
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}
}
