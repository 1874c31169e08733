package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// codec is a bytes-to-bytes stage of a chunk's encoding pipeline.
type codec interface {
	decode(src []byte) ([]byte, error)
}

// zstdDecoders provides reusable zstd decoders to avoid repeated allocations.
var zstdDecoders = sync.Pool{
	New: func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			// This should never fail with nil input and default options.
			panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
		}
		return d
	},
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder := zstdDecoders.Get().(*zstd.Decoder)
	defer zstdDecoders.Put(decoder)

	result, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return result, nil
}

type zstdCodec struct{}

func (zstdCodec) decode(src []byte) ([]byte, error) { return decompressZstd(src) }

type gzipCodec struct{}

func (gzipCodec) decode(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("gzip decompression failed: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompression failed: %w", err)
	}
	return out, nil
}

type zlibCodec struct{}

func (zlibCodec) decode(src []byte) ([]byte, error) { return inflateZlib(src) }

func inflateZlib(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib decompression failed: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompression failed: %w", err)
	}
	return out, nil
}

// crc32cCodec strips and verifies the trailing CRC-32C checksum of v3
// chunks.
type crc32cCodec struct{}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func (crc32cCodec) decode(src []byte) ([]byte, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("chunk too short for crc32c checksum")
	}
	body, tail := src[:len(src)-4], src[len(src)-4:]
	if got, want := crc32.Checksum(body, castagnoli), binary.LittleEndian.Uint32(tail); got != want {
		return nil, fmt.Errorf("crc32c mismatch: computed %08x, stored %08x", got, want)
	}
	return body, nil
}

// codecFromV2 maps a v2 compressor object to a codec.
func codecFromV2(cfg map[string]any) (codec, error) {
	id, _ := cfg["id"].(string)
	switch id {
	case "zstd":
		return zstdCodec{}, nil
	case "gzip":
		return gzipCodec{}, nil
	case "zlib":
		return zlibCodec{}, nil
	case "blosc":
		return bloscCodec{}, nil
	}
	return nil, fmt.Errorf("compressor %q is not supported", id)
}

// codecFromV3 maps a v3 bytes-to-bytes codec to its implementation.
func codecFromV3(c namedConfig) (codec, error) {
	switch c.Name {
	case "zstd":
		return zstdCodec{}, nil
	case "gzip":
		return gzipCodec{}, nil
	case "blosc":
		return bloscCodec{}, nil
	case "crc32c":
		return crc32cCodec{}, nil
	}
	return nil, fmt.Errorf("codec %q is not supported", c.Name)
}

// decodeChunk runs the codec pipeline backwards over an encoded chunk.
func decodeChunk(codecs []codec, data []byte) ([]byte, error) {
	for i := len(codecs) - 1; i >= 0; i-- {
		var err error
		if data, err = codecs[i].decode(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}
