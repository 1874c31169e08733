package zarr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"

	"golang.org/x/sync/errgroup"

	"chessscape/internal/external"
	"chessscape/internal/types"
)

// defaultConcurrency bounds chunk fetches when Options leaves it unset.
const defaultConcurrency = 8

// Options configures array reads.
type Options struct {
	// Concurrency bounds the number of chunks fetched at once.
	Concurrency int
}

// Array is an opened Zarr array. It is safe for concurrent reads.
type Array struct {
	path  string
	store external.ObjectStore
	meta  *Metadata
	opts  Options

	scale, offset float64
	scaled        bool
}

func newArray(store external.ObjectStore, p string, meta *Metadata, opts Options) *Array {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	a := &Array{path: p, store: store, meta: meta, opts: opts, scale: 1}
	if s, ok := meta.AttrFloat("scale_factor"); ok {
		a.scale, a.scaled = s, true
	}
	if o, ok := meta.AttrFloat("add_offset"); ok {
		a.offset, a.scaled = o, true
	}
	return a
}

// OpenArray opens the array stored at p, trying v2 metadata first and then
// v3.
func OpenArray(ctx context.Context, store external.ObjectStore, p string, opts Options) (*Array, error) {
	meta, err := loadArrayMeta(ctx, store, p)
	if err != nil {
		return nil, err
	}
	return newArray(store, p, meta, opts), nil
}

func loadArrayMeta(ctx context.Context, store external.ObjectStore, p string) (*Metadata, error) {
	arrayDoc, err := external.ReadAll(ctx, store, path.Join(p, v2ArrayKey))
	if err == nil {
		attrsDoc, err := external.ReadAll(ctx, store, path.Join(p, v2AttrsKey))
		if err != nil && !errors.Is(err, external.ErrObjectNotFound) {
			return nil, err
		}
		return parseV2(p, arrayDoc, attrsDoc)
	}
	if !errors.Is(err, external.ErrObjectNotFound) {
		return nil, err
	}

	doc, err := external.ReadAll(ctx, store, path.Join(p, v3MetaKey))
	if err != nil {
		if errors.Is(err, external.ErrObjectNotFound) {
			return nil, types.NewAppError(
				types.ErrCodeSourceNotFound,
				fmt.Sprintf("no zarr array at %s", p),
				err,
			)
		}
		return nil, err
	}
	return parseV3(p, doc)
}

// Path returns the array's location in its store.
func (a *Array) Path() string { return a.path }

// Metadata returns the parsed array metadata.
func (a *Array) Metadata() *Metadata { return a.meta }

// Shape returns the array shape.
func (a *Array) Shape() []int { return a.meta.Shape }

// Dimensions returns the dimension names, or nil when unnamed.
func (a *Array) Dimensions() []string { return a.meta.Dimensions }

// Attrs returns the user attributes.
func (a *Array) Attrs() map[string]any { return a.meta.Attrs }

// ChunkCount returns the number of chunks a read of [start, stop) touches.
func (a *Array) ChunkCount(start, stop []int) int {
	n := 1
	for k, c := range a.meta.Chunks {
		if stop[k] <= start[k] {
			return 0
		}
		n *= (stop[k]-1)/c - start[k]/c + 1
	}
	return n
}

// Read returns the hyperslab [start, stop) as float32 values in C order over
// the array's own dimension order. tick, when set, is called once per chunk
// resolved and must be safe for concurrent use.
func (a *Array) Read(ctx context.Context, start, stop []int, tick func()) ([]float32, error) {
	return read[float32](ctx, a, start, stop, tick)
}

// ReadAll returns the whole array as float64 values. It is meant for
// coordinate variables.
func (a *Array) ReadAll(ctx context.Context) ([]float64, error) {
	start := make([]int, len(a.meta.Shape))
	return read[float64](ctx, a, start, a.meta.Shape, nil)
}

type number interface {
	~float32 | ~float64
}

func read[T number](ctx context.Context, a *Array, start, stop []int, tick func()) ([]T, error) {
	m := a.meta
	n := len(m.Shape)
	if n == 0 {
		return nil, unsupported(a.path, "zero-dimensional arrays are not supported")
	}
	if len(start) != n || len(stop) != n {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("array %s: selection has %d/%d dimensions, array has %d", a.path, len(start), len(stop), n),
			nil,
		)
	}

	outShape := make([]int, n)
	total := 1
	for k := 0; k < n; k++ {
		if start[k] < 0 || stop[k] > m.Shape[k] || start[k] > stop[k] {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				fmt.Sprintf("array %s: selection [%v, %v) outside shape %v", a.path, start, stop, m.Shape),
				nil,
			)
		}
		outShape[k] = stop[k] - start[k]
		total *= outShape[k]
	}
	out := make([]T, total)
	if total == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for _, idx := range chunksCovering(m.Chunks, start, stop) {
		g.Go(func() error {
			chunk, err := loadChunk[T](gctx, a, idx)
			if err != nil {
				return err
			}
			copyRegion(out, outShape, start, chunk, m, idx)
			if tick != nil {
				tick()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// chunksCovering enumerates the grid positions of every chunk intersecting
// [start, stop).
func chunksCovering(chunks, start, stop []int) [][]int {
	n := len(chunks)
	lo := make([]int, n)
	hi := make([]int, n)
	for k := range chunks {
		lo[k] = start[k] / chunks[k]
		hi[k] = (stop[k] - 1) / chunks[k]
	}

	var out [][]int
	pos := append([]int(nil), lo...)
	for {
		out = append(out, append([]int(nil), pos...))
		k := n - 1
		for ; k >= 0; k-- {
			pos[k]++
			if pos[k] <= hi[k] {
				break
			}
			pos[k] = lo[k]
		}
		if k < 0 {
			return out
		}
	}
}

// loadChunk fetches and decodes one chunk. Unwritten chunks are filled with
// the array's fill value.
func loadChunk[T number](ctx context.Context, a *Array, idx []int) ([]T, error) {
	m := a.meta
	key := m.ChunkKey(idx)
	vals := make([]T, m.chunkLen())

	data, err := external.ReadAll(ctx, a.store, path.Join(a.path, key))
	if errors.Is(err, external.ErrObjectNotFound) {
		fill := T(m.Fill)
		for i := range vals {
			vals[i] = fill
		}
		return vals, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := decodeChunk(m.codecs, data)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeCorruptChunk,
			fmt.Sprintf("failed to decode chunk %s/%s", a.path, key),
			err,
		)
	}
	if want := len(vals) * m.DType.Size; len(raw) != want {
		return nil, types.NewAppError(
			types.ErrCodeCorruptChunk,
			fmt.Sprintf("chunk %s/%s has %d bytes, expected %d", a.path, key, len(raw), want),
			nil,
		)
	}

	decodeValues(vals, raw, m.DType)
	if a.scaled {
		fill := T(m.Fill)
		for i, v := range vals {
			if m.HasFill && v == fill {
				continue
			}
			vals[i] = T(float64(v)*a.scale + a.offset)
		}
	}
	return vals, nil
}

// decodeValues converts raw element bytes into dst.
func decodeValues[T number](dst []T, raw []byte, dt DType) {
	o := dt.Order
	switch dt.Kind {
	case 'f':
		if dt.Size == 4 {
			for i := range dst {
				dst[i] = T(math.Float32frombits(o.Uint32(raw[i*4:])))
			}
			return
		}
		for i := range dst {
			dst[i] = T(math.Float64frombits(o.Uint64(raw[i*8:])))
		}
	case 'i':
		switch dt.Size {
		case 1:
			for i := range dst {
				dst[i] = T(int8(raw[i]))
			}
		case 2:
			for i := range dst {
				dst[i] = T(int16(o.Uint16(raw[i*2:])))
			}
		case 4:
			for i := range dst {
				dst[i] = T(int32(o.Uint32(raw[i*4:])))
			}
		case 8:
			for i := range dst {
				dst[i] = T(int64(o.Uint64(raw[i*8:])))
			}
		}
	case 'u':
		switch dt.Size {
		case 1:
			for i := range dst {
				dst[i] = T(raw[i])
			}
		case 2:
			for i := range dst {
				dst[i] = T(o.Uint16(raw[i*2:]))
			}
		case 4:
			for i := range dst {
				dst[i] = T(o.Uint32(raw[i*4:]))
			}
		case 8:
			for i := range dst {
				dst[i] = T(o.Uint64(raw[i*8:]))
			}
		}
	}
}

// copyRegion copies the part of chunk idx that falls inside the selection
// into out, which is laid out in C order over outShape starting at start.
func copyRegion[T number](out []T, outShape, start []int, chunk []T, m *Metadata, idx []int) {
	n := len(outShape)
	origin := make([]int, n)
	lo := make([]int, n)
	hi := make([]int, n)
	for k := 0; k < n; k++ {
		origin[k] = idx[k] * m.Chunks[k]
		lo[k] = max(start[k], origin[k])
		hi[k] = min(start[k]+outShape[k], origin[k]+m.Chunks[k])
	}

	cs := strides(m.Chunks, m.FOrder)
	os := strides(outShape, false)
	last := n - 1

	pos := append([]int(nil), lo...)
	for {
		cOff, oOff := 0, 0
		for k := 0; k < last; k++ {
			cOff += (pos[k] - origin[k]) * cs[k]
			oOff += (pos[k] - start[k]) * os[k]
		}
		cOff += (lo[last] - origin[last]) * cs[last]
		oOff += lo[last] - start[last]
		width := hi[last] - lo[last]
		if cs[last] == 1 {
			copy(out[oOff:oOff+width], chunk[cOff:cOff+width])
		} else {
			for i := 0; i < width; i++ {
				out[oOff+i] = chunk[cOff+i*cs[last]]
			}
		}

		k := last - 1
		for ; k >= 0; k-- {
			pos[k]++
			if pos[k] < hi[k] {
				break
			}
			pos[k] = lo[k]
		}
		if k < 0 {
			return
		}
	}
}

// strides returns element strides for shape in C or Fortran order.
func strides(shape []int, fortran bool) []int {
	n := len(shape)
	s := make([]int, n)
	acc := 1
	if fortran {
		for k := 0; k < n; k++ {
			s[k] = acc
			acc *= shape[k]
		}
		return s
	}
	for k := n - 1; k >= 0; k-- {
		s[k] = acc
		acc *= shape[k]
	}
	return s
}
