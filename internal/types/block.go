package types

import (
	"fmt"
	"sort"
)

// Calendar names as used in CF time metadata.
const (
	Calendar360Day             = "360_day"
	CalendarStandard           = "standard"
	CalendarGregorian          = "gregorian"
	CalendarProlepticGregorian = "proleptic_gregorian"
)

// IsGregorianCalendar reports whether name is one of the CF aliases for the
// Gregorian calendar.
func IsGregorianCalendar(name string) bool {
	switch name {
	case CalendarStandard, CalendarGregorian, CalendarProlepticGregorian, "":
		return true
	}
	return false
}

// Block is a materialized sub-array over (time, x, y) for a set of
// variables. Values are stored time-major: index = (t*len(X)+xi)*len(Y)+yi.
//
// A Block is built once by the selector, then mutated in place by calendar
// normalization and unit conversion; after that it is read-only.
type Block struct {
	Calendar string
	Dates    []Date
	X        []float64
	Y        []float64
	Vars     map[string][]float32
}

// NewBlock allocates an empty block over the given axes.
func NewBlock(calendar string, dates []Date, x, y []float64) *Block {
	return &Block{
		Calendar: calendar,
		Dates:    dates,
		X:        x,
		Y:        y,
		Vars:     make(map[string][]float32),
	}
}

// Len returns the number of values per variable.
func (b *Block) Len() int { return len(b.Dates) * len(b.X) * len(b.Y) }

// Index returns the flat offset of (t, xi, yi).
func (b *Block) Index(t, xi, yi int) int {
	return (t*len(b.X)+xi)*len(b.Y) + yi
}

// AddVar attaches values for a variable. The slice length must match the
// block's shape.
func (b *Block) AddVar(name string, values []float32) error {
	if len(values) != b.Len() {
		return NewAppError(ErrCodeSchemaMismatch,
			fmt.Sprintf("variable %s has %d values, block shape %dx%dx%d needs %d",
				name, len(values), len(b.Dates), len(b.X), len(b.Y), b.Len()), nil)
	}
	b.Vars[name] = values
	return nil
}

// At returns the value of a variable at (t, xi, yi).
func (b *Block) At(name string, t, xi, yi int) float32 {
	return b.Vars[name][b.Index(t, xi, yi)]
}

// Series copies the time series of a variable at (xi, yi) into dst,
// growing it as needed, and returns it.
func (b *Block) Series(name string, xi, yi int, dst []float32) []float32 {
	nt := len(b.Dates)
	if cap(dst) < nt {
		dst = make([]float32, nt)
	}
	dst = dst[:nt]
	vals := b.Vars[name]
	stride := len(b.X) * len(b.Y)
	off := xi*len(b.Y) + yi
	for t := 0; t < nt; t++ {
		dst[t] = vals[t*stride+off]
	}
	return dst
}

// VarNames returns the variable names in sorted order.
func (b *Block) VarNames() []string {
	names := make([]string, 0, len(b.Vars))
	for name := range b.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SliceTime returns a new block restricted to time indices [t0, t1).
func (b *Block) SliceTime(t0, t1 int) *Block {
	out := NewBlock(b.Calendar, append([]Date(nil), b.Dates[t0:t1]...), b.X, b.Y)
	plane := len(b.X) * len(b.Y)
	for name, vals := range b.Vars {
		out.Vars[name] = append([]float32(nil), vals[t0*plane:t1*plane]...)
	}
	return out
}

// Points enumerates every grid point in ascending x, then ascending y,
// independent of the order the axes were stored in.
func (b *Block) Points() []GridPoint {
	xi := sortedIndices(b.X)
	yi := sortedIndices(b.Y)
	points := make([]GridPoint, 0, len(b.X)*len(b.Y))
	for _, i := range xi {
		for _, j := range yi {
			points = append(points, GridPoint{X: b.X[i], Y: b.Y[j], XIndex: i, YIndex: j})
		}
	}
	return points
}

func sortedIndices(vals []float64) []int {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return vals[idx[a]] < vals[idx[b]] })
	return idx
}
