package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"chessscape/internal/types"
)

// maxParallelVariables bounds how many variables are read at once. Each
// variable read runs its own bounded chunk pool.
const maxParallelVariables = 2

// Selection is a planned sub-block: half-open index ranges over the
// dataset's time, x and y axes. Planning performs no data reads.
type Selection struct {
	ds     *Dataset
	T0, T1 int
	X0, X1 int
	Y0, Y1 int
}

// Plan selects the cells whose coordinates fall inside w, inclusive on both
// ends, whatever the direction of each axis.
//
// When tw is set, the time range is narrowed to the years tw touches plus
// one step on either side, so calendar gaps at the edges of the window are
// filled from the same neighbours a full read would use. The exact window is
// applied after calendar normalization.
func (ds *Dataset) Plan(w types.SpatialWindow, tw *types.TemporalWindow) (*Selection, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	sel := &Selection{ds: ds, T1: len(ds.Dates)}
	sel.X0, sel.X1 = labelRange(ds.X, w.ContainsX)
	sel.Y0, sel.Y1 = labelRange(ds.Y, w.ContainsY)

	if tw != nil {
		t0, t1 := -1, -1
		for i, d := range ds.Dates {
			if d.Year < tw.Start.Year() || d.Year > tw.End.Year() {
				continue
			}
			if t0 < 0 {
				t0 = i
			}
			t1 = i + 1
		}
		if t0 < 0 {
			return nil, types.NewAppError(
				types.ErrCodeValidationInvalidDate,
				fmt.Sprintf("window %s..%s lies outside the series %s..%s",
					tw.Start.Format(types.DateLayout), tw.End.Format(types.DateLayout),
					ds.Dates[0], ds.Dates[len(ds.Dates)-1]),
				nil,
			)
		}
		sel.T0 = max(t0-1, 0)
		sel.T1 = min(t1+1, len(ds.Dates))
	}
	return sel, nil
}

// PlanPoint selects the single cell nearest to (x, y).
func (ds *Dataset) PlanPoint(x, y float64, tw *types.TemporalWindow) (*Selection, error) {
	w := types.SpatialWindow{XLL: x, YLL: y, XUR: x, YUR: y}
	sel, err := ds.Plan(w, tw)
	if err != nil {
		return nil, err
	}
	sel.X0 = nearest(ds.X, x)
	sel.X1 = sel.X0 + 1
	sel.Y0 = nearest(ds.Y, y)
	sel.Y1 = sel.Y0 + 1
	return sel, nil
}

// PlanTimestep selects time step t over w.
func (ds *Dataset) PlanTimestep(w types.SpatialWindow, t int) (*Selection, error) {
	if t < 0 || t >= len(ds.Dates) {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("time step %d outside series of %d", t, len(ds.Dates)),
			nil,
		)
	}
	sel, err := ds.Plan(w, nil)
	if err != nil {
		return nil, err
	}
	sel.T0, sel.T1 = t, t+1
	return sel, nil
}

// labelRange returns the index range of coords accepted by in. coords is
// monotonic, so the accepted cells are contiguous.
func labelRange(coords []float64, in func(float64) bool) (int, int) {
	lo, hi := -1, -1
	for i, c := range coords {
		if in(c) {
			if lo < 0 {
				lo = i
			}
			hi = i + 1
		}
	}
	if lo < 0 {
		return 0, 0
	}
	return lo, hi
}

func nearest(coords []float64, v float64) int {
	best, dist := 0, math.Inf(1)
	for i, c := range coords {
		if d := math.Abs(c - v); d < dist {
			best, dist = i, d
		}
	}
	return best
}

// Dates returns the selected time axis.
func (s *Selection) Dates() []types.Date { return s.ds.Dates[s.T0:s.T1] }

// X returns the selected x coordinates.
func (s *Selection) X() []float64 { return s.ds.X[s.X0:s.X1] }

// Y returns the selected y coordinates.
func (s *Selection) Y() []float64 { return s.ds.Y[s.Y0:s.Y1] }

// Empty reports whether the selection holds no cells.
func (s *Selection) Empty() bool {
	return s.T1 <= s.T0 || s.X1 <= s.X0 || s.Y1 <= s.Y0
}

// Tasks returns the number of progress ticks Materialize reports.
func (s *Selection) Tasks() int {
	n := 0
	for _, v := range s.ds.vars {
		start, stop := s.box(v)
		n += v.store.Tasks(start, stop)
	}
	return n
}

func (s *Selection) box(v variable) (start, stop []int) {
	start = make([]int, 3)
	stop = make([]int, 3)
	start[v.t], stop[v.t] = s.T0, s.T1
	start[v.x], stop[v.x] = s.X0, s.X1
	start[v.y], stop[v.y] = s.Y0, s.Y1
	return start, stop
}

// ProgressFunc receives the number of completed and total read tasks. It
// may be called from several goroutines.
type ProgressFunc func(done, total int)

// LogProgress returns a ProgressFunc that logs every tenth of the work.
func LogProgress(log *slog.Logger, what string) ProgressFunc {
	var last atomic.Int32
	return func(done, total int) {
		if total <= 0 {
			return
		}
		step := int32(done * 10 / total)
		for {
			prev := last.Load()
			if step <= prev {
				return
			}
			if last.CompareAndSwap(prev, step) {
				log.Info(what, "percent", step*10, "done", done, "total", total)
				return
			}
		}
	}
}

// Materialize reads every variable of the selection into a block laid out
// time-major. It blocks until the whole block is resolved.
func (s *Selection) Materialize(ctx context.Context, progress ProgressFunc) (*types.Block, error) {
	b := types.NewBlock(s.ds.Calendar,
		append([]types.Date(nil), s.Dates()...),
		append([]float64(nil), s.X()...),
		append([]float64(nil), s.Y()...),
	)
	if s.Empty() {
		for _, v := range s.ds.vars {
			b.Vars[v.name] = []float32{}
		}
		return b, nil
	}

	total := s.Tasks()
	var done atomic.Int64
	tick := func() {
		n := done.Add(1)
		if progress != nil {
			progress(int(n), total)
		}
	}

	results := make([][]float32, len(s.ds.vars))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelVariables)
	for i, v := range s.ds.vars {
		g.Go(func() error {
			start, stop := s.box(v)
			raw, err := v.store.Read(gctx, start, stop, tick)
			if err != nil {
				return err
			}
			results[i] = s.toTimeMajor(v, raw, start, stop)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, v := range s.ds.vars {
		if err := b.AddVar(v.name, results[i]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// toTimeMajor reorders a box read in storage order into (t, x, y) order.
func (s *Selection) toTimeMajor(v variable, raw []float32, start, stop []int) []float32 {
	ext := [3]int{stop[0] - start[0], stop[1] - start[1], stop[2] - start[2]}
	var st [3]int
	st[2] = 1
	st[1] = ext[2]
	st[0] = ext[1] * ext[2]
	nt, nx, ny := s.T1-s.T0, s.X1-s.X0, s.Y1-s.Y0
	if v.t == 0 && v.x == 1 && v.y == 2 {
		return raw
	}

	out := make([]float32, nt*nx*ny)
	ts, xs, ys := st[v.t], st[v.x], st[v.y]
	o := 0
	for t := 0; t < nt; t++ {
		for xi := 0; xi < nx; xi++ {
			base := t*ts + xi*xs
			for yi := 0; yi < ny; yi++ {
				out[o] = raw[base+yi*ys]
				o++
			}
		}
	}
	return out
}

// CheckEmpty reports an empty-block condition when every value of the
// reference variable at the first time step is the block fill sentinel.
// A block with no cells is empty too.
func CheckEmpty(b *types.Block) error {
	empty := func() error {
		return types.NewAppError(types.ErrCodeEmptyBlock, "No data present in this chunk", nil)
	}
	if b.Len() == 0 {
		return empty()
	}
	ref, ok := b.Vars[types.ReferenceVariable]
	if !ok {
		return types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("block has no %s reference variable", types.ReferenceVariable),
			nil,
		)
	}
	plane := len(b.X) * len(b.Y)
	for _, v := range ref[:plane] {
		if !types.IsBlockFill(v) {
			return nil
		}
	}
	return empty()
}
