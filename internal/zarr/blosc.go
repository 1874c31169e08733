package zarr

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"
)

// Blosc (c-blosc 1.x) frame layout.
const (
	bloscHeaderLen = 16

	bloscDoShuffle    = 0x01
	bloscMemcpyed     = 0x02
	bloscDoBitShuffle = 0x04
	bloscDontSplit    = 0x10

	bloscMaxSplits     = 16
	bloscMinBufferSize = 128
)

// Blosc inner compressor codes, stored in the top three flag bits.
const (
	bloscBloscLZ = iota
	bloscLZ4
	bloscSnappy
	bloscZlib
	bloscZstd
)

// bloscCodec decodes c-blosc 1.x frames, the default compressor xarray
// writes. Byte shuffle and the lz4, snappy, zlib and zstd inner codecs are
// supported; blosclz and bit shuffle are not.
type bloscCodec struct{}

func (bloscCodec) decode(src []byte) ([]byte, error) {
	if len(src) < bloscHeaderLen {
		return nil, fmt.Errorf("blosc frame too short (%d bytes)", len(src))
	}
	version := src[0]
	flags := src[2]
	typesize := int(src[3])
	nbytes := int(binary.LittleEndian.Uint32(src[4:8]))
	blocksize := int(binary.LittleEndian.Uint32(src[8:12]))
	cbytes := int(binary.LittleEndian.Uint32(src[12:16]))

	if version == 0 || version > 2 {
		return nil, fmt.Errorf("blosc format version %d is not supported", version)
	}
	if cbytes > len(src) {
		return nil, fmt.Errorf("blosc frame truncated: header says %d bytes, have %d", cbytes, len(src))
	}
	if flags&bloscMemcpyed != 0 {
		if bloscHeaderLen+nbytes > len(src) {
			return nil, fmt.Errorf("blosc memcpy frame truncated")
		}
		out := make([]byte, nbytes)
		copy(out, src[bloscHeaderLen:])
		return out, nil
	}
	if flags&bloscDoBitShuffle != 0 && typesize > 1 {
		return nil, fmt.Errorf("blosc bit shuffle is not supported")
	}
	if nbytes == 0 {
		return []byte{}, nil
	}
	if blocksize <= 0 || typesize <= 0 {
		return nil, fmt.Errorf("blosc header is corrupt (blocksize %d, typesize %d)", blocksize, typesize)
	}

	inner := int(flags>>5) & 0x7
	decompress, err := bloscInner(inner)
	if err != nil {
		return nil, err
	}

	nblocks := nbytes / blocksize
	leftover := nbytes % blocksize
	if leftover > 0 {
		nblocks++
	}
	if bloscHeaderLen+4*nblocks > len(src) {
		return nil, fmt.Errorf("blosc block index truncated")
	}

	out := make([]byte, nbytes)
	scratch := make([]byte, blocksize)
	for j := 0; j < nblocks; j++ {
		bsize := blocksize
		last := j == nblocks-1 && leftover > 0
		if last {
			bsize = leftover
		}
		start := int(binary.LittleEndian.Uint32(src[bloscHeaderLen+4*j:]))

		nsplits := 1
		if flags&bloscDontSplit == 0 && !last &&
			typesize <= bloscMaxSplits && bsize/typesize >= bloscMinBufferSize {
			nsplits = typesize
		}
		neblock := bsize / nsplits

		block := scratch[:bsize]
		pos := start
		for s := 0; s < nsplits; s++ {
			if pos+4 > len(src) {
				return nil, fmt.Errorf("blosc block %d truncated", j)
			}
			csize := int(binary.LittleEndian.Uint32(src[pos:]))
			pos += 4
			if csize < 0 || pos+csize > len(src) {
				return nil, fmt.Errorf("blosc block %d split %d truncated", j, s)
			}
			dst := block[s*neblock : (s+1)*neblock]
			if csize == neblock {
				copy(dst, src[pos:pos+csize])
			} else if err := decompress(src[pos:pos+csize], dst); err != nil {
				return nil, fmt.Errorf("blosc block %d: %w", j, err)
			}
			pos += csize
		}

		dest := out[j*blocksize : j*blocksize+bsize]
		if flags&bloscDoShuffle != 0 && typesize > 1 {
			unshuffle(dest, block, typesize)
		} else {
			copy(dest, block)
		}
	}
	return out, nil
}

// bloscInner returns a decompressor that fills dst exactly.
func bloscInner(code int) (func(src, dst []byte) error, error) {
	switch code {
	case bloscLZ4:
		return func(src, dst []byte) error {
			n, err := lz4.UncompressBlock(src, dst)
			if err != nil {
				return fmt.Errorf("lz4: %w", err)
			}
			return checkLen(n, len(dst))
		}, nil
	case bloscSnappy:
		return func(src, dst []byte) error {
			out, err := snappy.Decode(dst, src)
			if err != nil {
				return fmt.Errorf("snappy: %w", err)
			}
			if err := checkLen(len(out), len(dst)); err != nil {
				return err
			}
			copy(dst, out)
			return nil
		}, nil
	case bloscZlib:
		return inflateInto(inflateZlib), nil
	case bloscZstd:
		return inflateInto(decompressZstd), nil
	case bloscBloscLZ:
		return nil, fmt.Errorf("blosc inner codec blosclz is not supported")
	}
	return nil, fmt.Errorf("blosc inner codec %d is not supported", code)
}

func inflateInto(fn func([]byte) ([]byte, error)) func(src, dst []byte) error {
	return func(src, dst []byte) error {
		out, err := fn(src)
		if err != nil {
			return err
		}
		if err := checkLen(len(out), len(dst)); err != nil {
			return err
		}
		copy(dst, out)
		return nil
	}
}

func checkLen(got, want int) error {
	if got != want {
		return fmt.Errorf("decompressed %d bytes, expected %d", got, want)
	}
	return nil
}

// unshuffle reverses blosc's byte shuffle: src holds all first bytes of
// each element, then all second bytes, and so on. Trailing bytes that do
// not fill an element are stored unshuffled.
func unshuffle(dst, src []byte, typesize int) {
	n := len(src) / typesize
	for i := 0; i < typesize; i++ {
		plane := src[i*n : (i+1)*n]
		for j, b := range plane {
			dst[j*typesize+i] = b
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
}
