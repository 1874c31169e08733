// Package netcdf reads a data variable spread over a directory of NetCDF
// files, one file per time span, as produced by the CHESS-SCAPE archive
// (DIR/<variable>/*.nc). Files are ordered by their first time value and
// presented as a single array along the time dimension.
package netcdf

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"chessscape/internal/types"
)

const (
	defaultTimeDim = "time"
	// defaultBatch is the number of time steps fetched per GetSlice call.
	defaultBatch = 360
)

// Options configures how a variable is opened.
type Options struct {
	TimeDim string
	Batch   int
	Logger  *slog.Logger
}

// fileSpan places one file on the concatenated time axis.
type fileSpan struct {
	path   string
	offset int
	length int
	first  float64
}

// Variable is a data variable concatenated over several files.
type Variable struct {
	name      string
	dims      []string
	shape     []int
	files     []fileSpan
	coords    map[string][]float64
	attrs     map[string]any
	fill      float64
	hasFill   bool
	scale     float64
	offset    float64
	scaled    bool
	timeUnits string
	calendar  string
	batch     int
	logger    *slog.Logger
}

// Open scans dir for *.nc files that hold variable name.
func Open(ctx context.Context, dir, name string, opts Options) (*Variable, error) {
	if opts.TimeDim == "" {
		opts.TimeDim = defaultTimeDim
	}
	if opts.Batch <= 0 {
		opts.Batch = defaultBatch
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.nc"))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidSource, "invalid source directory pattern", err)
	}
	if len(paths) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeSourceNotFound,
			fmt.Sprintf("no NetCDF files in %s", dir),
			nil,
		)
	}
	sort.Strings(paths)

	v := &Variable{
		name:   name,
		coords: make(map[string][]float64),
		batch:  opts.Batch,
		logger: opts.Logger,
		scale:  1,
	}

	var times [][]float64
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := v.scanFile(p, i == 0, opts.TimeDim)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
		v.files = append(v.files, fileSpan{path: p, length: len(t), first: t[0]})
	}

	order := make([]int, len(v.files))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return v.files[order[a]].first < v.files[order[b]].first })

	sorted := make([]fileSpan, 0, len(v.files))
	var axis []float64
	for _, i := range order {
		span := v.files[i]
		if len(axis) > 0 && times[i][0] <= axis[len(axis)-1] {
			return nil, types.NewAppError(
				types.ErrCodeSchemaMismatch,
				fmt.Sprintf("%s overlaps the time range of earlier files", filepath.Base(span.path)),
				nil,
			)
		}
		span.offset = len(axis)
		axis = append(axis, times[i]...)
		sorted = append(sorted, span)
	}
	v.files = sorted
	v.coords[opts.TimeDim] = axis
	v.shape[0] = len(axis)

	v.logger.Debug("opened NetCDF variable",
		"variable", name,
		"files", len(v.files),
		"shape", v.shape,
	)
	return v, nil
}

// scanFile reads a file's time axis and, for the first file, the variable
// layout. Later files must agree with it.
func (v *Variable) scanFile(path string, first bool, timeDim string) ([]float64, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeSourceUnavailable,
			fmt.Sprintf("failed to open %s", path),
			err,
		)
	}
	defer nc.Close()

	vg, err := nc.GetVarGetter(v.name)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("%s has no variable %s", filepath.Base(path), v.name),
			err,
		)
	}
	dims := vg.Dimensions()
	if len(dims) == 0 || dims[0] != timeDim {
		return nil, types.NewAppError(
			types.ErrCodeUnsupportedFormat,
			fmt.Sprintf("%s: variable %s has dimensions %v, time must come first", filepath.Base(path), v.name, dims),
			nil,
		)
	}

	timeGetter, err := nc.GetVarGetter(timeDim)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("%s has no %s coordinate", filepath.Base(path), timeDim),
			err,
		)
	}
	times, err := readFloat64(timeGetter)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("%s has an empty time axis", filepath.Base(path)),
			nil,
		)
	}
	units := attrString(timeGetter.Attributes(), "units")
	calendar := attrString(timeGetter.Attributes(), "calendar")

	if first {
		v.dims = append([]string(nil), dims...)
		v.shape = make([]int, len(dims))
		v.timeUnits, v.calendar = units, calendar
		v.attrs = attrMap(vg.Attributes())
		for i, dim := range dims[1:] {
			g, err := nc.GetVarGetter(dim)
			if err != nil {
				return nil, types.NewAppError(
					types.ErrCodeSchemaMismatch,
					fmt.Sprintf("%s has no coordinate variable for dimension %s", filepath.Base(path), dim),
					err,
				)
			}
			vals, err := readFloat64(g)
			if err != nil {
				return nil, err
			}
			v.coords[dim] = vals
			v.shape[i+1] = len(vals)
		}
		v.fill, v.hasFill = attrFloat(v.attrs, "_FillValue")
		if s, ok := attrFloat(v.attrs, "scale_factor"); ok {
			v.scale, v.scaled = s, true
		}
		if o, ok := attrFloat(v.attrs, "add_offset"); ok {
			v.offset, v.scaled = o, true
		}
		return times, nil
	}

	if !equalStrings(dims, v.dims) {
		return nil, types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("%s: dimensions %v differ from %v", filepath.Base(path), dims, v.dims),
			nil,
		)
	}
	if units != v.timeUnits || calendar != v.calendar {
		return nil, types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("%s: time encoding %q/%q differs from %q/%q", filepath.Base(path), units, calendar, v.timeUnits, v.calendar),
			nil,
		)
	}
	for _, dim := range dims[1:] {
		g, err := nc.GetVarGetter(dim)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeSchemaMismatch, fmt.Sprintf("%s has no %s coordinate", filepath.Base(path), dim), err)
		}
		vals, err := readFloat64(g)
		if err != nil {
			return nil, err
		}
		if !equalFloats(vals, v.coords[dim]) {
			return nil, types.NewAppError(
				types.ErrCodeSchemaMismatch,
				fmt.Sprintf("%s: %s coordinate differs from the first file", filepath.Base(path), dim),
				nil,
			)
		}
	}
	return times, nil
}

// Name returns the data variable name.
func (v *Variable) Name() string { return v.name }

// Dimensions returns the dimension names in storage order.
func (v *Variable) Dimensions() []string { return v.dims }

// Shape returns the concatenated shape.
func (v *Variable) Shape() []int { return v.shape }

// Attrs returns the variable attributes of the first file.
func (v *Variable) Attrs() map[string]any { return v.attrs }

// TimeEncoding returns the CF units and calendar of the time axis.
func (v *Variable) TimeEncoding() (units, calendar string) { return v.timeUnits, v.calendar }

// Coordinate returns the values of a dimension coordinate.
func (v *Variable) Coordinate(dim string) ([]float64, bool) {
	c, ok := v.coords[dim]
	return c, ok
}

// Files returns the file paths in time order.
func (v *Variable) Files() []string {
	out := make([]string, len(v.files))
	for i, f := range v.files {
		out[i] = f.path
	}
	return out
}

// Auxiliary reads a non-dimension variable, such as 2-D lat/lon, from the
// first file. It returns ok=false when the file has no such variable.
func (v *Variable) Auxiliary(name string) (values []float64, dims []string, ok bool, err error) {
	nc, err := netcdf.Open(v.files[0].path)
	if err != nil {
		return nil, nil, false, types.NewAppError(types.ErrCodeSourceUnavailable, fmt.Sprintf("failed to open %s", v.files[0].path), err)
	}
	defer nc.Close()

	g, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, nil, false, nil
	}
	values, err = readFloat64(g)
	if err != nil {
		return nil, nil, false, err
	}
	return values, g.Dimensions(), true, nil
}

// Tasks returns how many slice reads Read performs for the selection.
func (v *Variable) Tasks(start, stop []int) int {
	n := 0
	for _, f := range v.files {
		b := max(start[0], f.offset)
		e := min(stop[0], f.offset+f.length)
		if b < e {
			n += (e - b + v.batch - 1) / v.batch
		}
	}
	return n
}

// Read returns the hyperslab [start, stop) as float32 values in C order.
// tick, when set, is called after every slice read.
func (v *Variable) Read(ctx context.Context, start, stop []int, tick func()) ([]float32, error) {
	n := len(v.shape)
	if len(start) != n || len(stop) != n {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("variable %s: selection has %d/%d dimensions, variable has %d", v.name, len(start), len(stop), n),
			nil,
		)
	}
	outShape := make([]int, n)
	total := 1
	for k := 0; k < n; k++ {
		if start[k] < 0 || stop[k] > v.shape[k] || start[k] > stop[k] {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				fmt.Sprintf("variable %s: selection [%v, %v) outside shape %v", v.name, start, stop, v.shape),
				nil,
			)
		}
		outShape[k] = stop[k] - start[k]
		total *= outShape[k]
	}
	out := make([]float32, total)
	if total == 0 {
		return out, nil
	}

	// One time step of the cropped output.
	plane := total / outShape[0]
	var buf []float32
	for _, f := range v.files {
		b := max(start[0], f.offset)
		e := min(stop[0], f.offset+f.length)
		if b >= e {
			continue
		}
		if err := v.readFile(ctx, f, b, e, start, stop, outShape, plane, out, &buf, tick); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (v *Variable) readFile(ctx context.Context, f fileSpan, b, e int, start, stop, outShape []int, plane int, out []float32, buf *[]float32, tick func()) error {
	nc, err := netcdf.Open(f.path)
	if err != nil {
		return types.NewAppError(types.ErrCodeSourceUnavailable, fmt.Sprintf("failed to open %s", f.path), err)
	}
	defer nc.Close()

	vg, err := nc.GetVarGetter(v.name)
	if err != nil {
		return types.NewAppError(types.ErrCodeSchemaMismatch, fmt.Sprintf("%s has no variable %s", filepath.Base(f.path), v.name), err)
	}

	for bb := b; bb < e; bb += v.batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		be := min(bb+v.batch, e)
		raw, err := vg.GetSlice(int64(bb-f.offset), int64(be-f.offset))
		if err != nil {
			return types.NewAppError(
				types.ErrCodeSourceUnavailable,
				fmt.Sprintf("failed to read %s[%d:%d] from %s", v.name, bb-f.offset, be-f.offset, filepath.Base(f.path)),
				err,
			)
		}
		*buf, err = flatten((*buf)[:0], raw)
		if err != nil {
			return types.NewAppError(types.ErrCodeUnsupportedFormat, fmt.Sprintf("variable %s", v.name), err)
		}

		full := 1
		for _, s := range v.shape[1:] {
			full *= s
		}
		if len(*buf) != (be-bb)*full {
			return types.NewAppError(
				types.ErrCodeCorruptChunk,
				fmt.Sprintf("%s: slice has %d values, expected %d", filepath.Base(f.path), len(*buf), (be-bb)*full),
				nil,
			)
		}
		for t := bb; t < be; t++ {
			src := (*buf)[(t-bb)*full : (t-bb+1)*full]
			dst := out[(t-start[0])*plane : (t-start[0]+1)*plane]
			cropPlane(dst, src, v.shape[1:], start[1:], stop[1:])
		}
		if v.scaled {
			v.applyScale(out[(bb-start[0])*plane : (be-start[0])*plane])
		}
		if tick != nil {
			tick()
		}
	}
	return nil
}

func (v *Variable) applyScale(vals []float32) {
	fill := float32(v.fill)
	for i, x := range vals {
		if v.hasFill && x == fill {
			continue
		}
		vals[i] = float32(float64(x)*v.scale + v.offset)
	}
}

// cropPlane copies the [start, stop) box of a C-ordered array of the given
// shape into dst.
func cropPlane(dst, src []float32, shape, start, stop []int) {
	n := len(shape)
	if n == 0 {
		dst[0] = src[0]
		return
	}
	st := make([]int, n)
	acc := 1
	for k := n - 1; k >= 0; k-- {
		st[k] = acc
		acc *= shape[k]
	}
	width := stop[n-1] - start[n-1]
	pos := append([]int(nil), start...)
	o := 0
	for {
		off := 0
		for k := 0; k < n; k++ {
			off += pos[k] * st[k]
		}
		copy(dst[o:o+width], src[off:off+width])
		o += width

		k := n - 2
		for ; k >= 0; k-- {
			pos[k]++
			if pos[k] < stop[k] {
				break
			}
			pos[k] = start[k]
		}
		if k < 0 {
			return
		}
	}
}

func readFloat64(g api.VarGetter) ([]float64, error) {
	raw, err := g.Values()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeSourceUnavailable, "failed to read coordinate values", err)
	}
	var out []float64
	out, err = flatten(out, raw)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUnsupportedFormat, "coordinate values", err)
	}
	return out, nil
}

// flatten appends the numeric contents of nested slices to dst.
func flatten[T float32 | float64](dst []T, v any) ([]T, error) {
	switch s := v.(type) {
	case []float32:
		for _, x := range s {
			dst = append(dst, T(x))
		}
		return dst, nil
	case [][]float32:
		for _, row := range s {
			for _, x := range row {
				dst = append(dst, T(x))
			}
		}
		return dst, nil
	case [][][]float32:
		for _, plane := range s {
			for _, row := range plane {
				for _, x := range row {
					dst = append(dst, T(x))
				}
			}
		}
		return dst, nil
	}
	return appendValue(dst, reflect.ValueOf(v))
}

func appendValue[T float32 | float64](dst []T, rv reflect.Value) ([]T, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var err error
		for i := 0; i < rv.Len(); i++ {
			if dst, err = appendValue(dst, rv.Index(i)); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case reflect.Float32, reflect.Float64:
		return append(dst, T(rv.Float())), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return append(dst, T(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return append(dst, T(rv.Uint())), nil
	}
	return nil, fmt.Errorf("unsupported value type %s", rv.Type())
}

func attrString(m api.AttributeMap, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// attrMap converts NetCDF attributes to plain Go values. Numeric scalars and
// single-element vectors become float64.
func attrMap(m api.AttributeMap) map[string]any {
	out := make(map[string]any)
	if m == nil {
		return out
	}
	for _, key := range m.Keys() {
		v, _ := m.Get(key)
		if s, ok := v.(string); ok {
			out[key] = s
			continue
		}
		vals, err := flatten[float64](nil, v)
		switch {
		case err != nil:
			out[key] = v
		case len(vals) == 1:
			out[key] = vals[0]
		default:
			out[key] = vals
		}
	}
	return out
}

func attrFloat(attrs map[string]any, key string) (float64, bool) {
	f, ok := attrs[key].(float64)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
