package zarr

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shuffleBytes applies blosc's byte shuffle.
func shuffleBytes(src []byte, typesize int) []byte {
	dst := make([]byte, len(src))
	n := len(src) / typesize
	for j := 0; j < n; j++ {
		for i := 0; i < typesize; i++ {
			dst[i*n+j] = src[j*typesize+i]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
	return dst
}

// buildBlosc encodes data as a c-blosc 1.x frame with the lz4 inner codec.
func buildBlosc(t *testing.T, data []byte, typesize int, shuffle, split bool, blocksize int) []byte {
	t.Helper()
	nbytes := len(data)
	nblocks := (nbytes + blocksize - 1) / blocksize

	flags := byte(bloscLZ4 << 5)
	if shuffle {
		flags |= bloscDoShuffle
	}
	if !split {
		flags |= bloscDontSplit
	}

	frame := make([]byte, bloscHeaderLen+4*nblocks)
	frame[0], frame[1], frame[2], frame[3] = 2, 1, flags, byte(typesize)
	binary.LittleEndian.PutUint32(frame[4:], uint32(nbytes))
	binary.LittleEndian.PutUint32(frame[8:], uint32(blocksize))

	for j := 0; j < nblocks; j++ {
		end := min((j+1)*blocksize, nbytes)
		block := data[j*blocksize : end]
		last := end-j*blocksize < blocksize
		if shuffle {
			block = shuffleBytes(block, typesize)
		}
		nsplits := 1
		if split && !last && len(block)/typesize >= bloscMinBufferSize {
			nsplits = typesize
		}
		binary.LittleEndian.PutUint32(frame[bloscHeaderLen+4*j:], uint32(len(frame)))

		ne := len(block) / nsplits
		for s := 0; s < nsplits; s++ {
			part := block[s*ne : (s+1)*ne]
			dst := make([]byte, lz4.CompressBlockBound(len(part)))
			n, err := lz4.CompressBlock(part, dst, nil)
			require.NoError(t, err)
			size := make([]byte, 4)
			if n == 0 || n >= len(part) {
				binary.LittleEndian.PutUint32(size, uint32(len(part)))
				frame = append(frame, size...)
				frame = append(frame, part...)
				continue
			}
			binary.LittleEndian.PutUint32(size, uint32(n))
			frame = append(frame, size...)
			frame = append(frame, dst[:n]...)
		}
	}
	binary.LittleEndian.PutUint32(frame[12:], uint32(len(frame)))
	return frame
}

func makeBlosc(t *testing.T, data []byte, typesize int, shuffle bool) []byte {
	return buildBlosc(t, data, typesize, shuffle, false, len(data))
}

func makeBloscMemcpy(data []byte, typesize int) []byte {
	frame := make([]byte, bloscHeaderLen, bloscHeaderLen+len(data))
	frame[0], frame[1], frame[2], frame[3] = 2, 1, bloscMemcpyed, byte(typesize)
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(data)))
	binary.LittleEndian.PutUint32(frame[8:], uint32(len(data)))
	binary.LittleEndian.PutUint32(frame[12:], uint32(bloscHeaderLen+len(data)))
	return append(frame, data...)
}

func float32Bytes(n int) []byte {
	buf := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(i%17)*1.5))
	}
	return buf
}

func TestBloscSplitBlocks(t *testing.T) {
	// 300 float32 values with 1024-byte blocks: one split block plus an
	// unsplit leftover.
	data := float32Bytes(300)
	frame := buildBlosc(t, data, 4, true, true, 1024)

	out, err := bloscCodec{}.decode(frame)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestBloscNoShuffle(t *testing.T) {
	data := float32Bytes(64)
	out, err := bloscCodec{}.decode(makeBlosc(t, data, 4, false))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestBloscRejects(t *testing.T) {
	data := float32Bytes(64)

	blosclz := makeBlosc(t, data, 4, true)
	blosclz[2] = blosclz[2]&0x1f | bloscBloscLZ<<5
	_, err := bloscCodec{}.decode(blosclz)
	assert.ErrorContains(t, err, "blosclz")

	bitshuffle := makeBlosc(t, data, 4, false)
	bitshuffle[2] |= bloscDoBitShuffle
	_, err = bloscCodec{}.decode(bitshuffle)
	assert.ErrorContains(t, err, "bit shuffle")

	_, err = bloscCodec{}.decode(data[:8])
	assert.Error(t, err)

	truncated := makeBlosc(t, data, 4, false)
	_, err = bloscCodec{}.decode(truncated[:len(truncated)-3])
	assert.Error(t, err)
}

func TestUnshuffleTrailingBytes(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	shuffled := shuffleBytes(src, 4)
	out := make([]byte, len(src))
	unshuffle(out, shuffled, 4)
	assert.Equal(t, src, out)
}
