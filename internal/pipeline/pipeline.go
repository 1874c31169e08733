// Package pipeline runs the extraction stages end to end: assemble the
// variable stores, select and materialize a block, check it for data,
// normalize its calendar, convert units, align the CO2 series and emit one
// artifact per grid point.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"chessscape/internal/audit"
	"chessscape/internal/calendar"
	"chessscape/internal/co2"
	"chessscape/internal/dataset"
	"chessscape/internal/emitter"
	"chessscape/internal/types"
	"chessscape/internal/units"
)

// GridRequest is one grid extraction.
type GridRequest struct {
	Window types.SpatialWindow
	// Period limits the output days; nil means the whole series.
	Period *types.TemporalWindow
}

// PointRequest is one single-year extraction at the grid cell nearest to
// (X, Y).
type PointRequest struct {
	X    float64
	Y    float64
	Year int
}

// load assembles the stores and loads the CO2 series concurrently.
func load(ctx context.Context, rc *types.RunContext, src *Sources, stores []string) (*dataset.Dataset, *co2.Series, error) {
	var (
		ds     *dataset.Dataset
		series *co2.Series
	)
	g, gctx := errgroup.WithContext(types.WithLogger(ctx, rc.Log()))
	g.Go(func() error {
		var err error
		ds, err = dataset.Assemble(gctx, rc, src.Opener, stores)
		return err
	})
	g.Go(func() error {
		var err error
		series, err = co2.Load(gctx, src.CO2, src.CO2Key)
		if err == nil {
			rc.Log().Info("Loaded CO2 series", "key", src.CO2Key, "years", len(series.Years()))
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ds, series, nil
}

// prepare runs the stages between the raw block and emission: calendar
// normalization, the exact temporal window, CO2 alignment and unit
// conversion. The CO2 check runs before conversion so a missing year fails
// the run before any artifact exists.
func prepare(rc *types.RunContext, b *types.Block, period *types.TemporalWindow, series *co2.Series) (*types.Block, []float64, error) {
	log := rc.Log()

	log.Info("Converting to gregorian calendar", "from", b.Calendar)
	stats, err := calendar.Normalize(b)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Calendar normalized",
		"source_steps", stats.SourceSteps,
		"target_steps", stats.TargetSteps,
		"dropped", stats.Dropped,
		"inserted", stats.Inserted,
	)

	if b, err = calendar.Restrict(b, period); err != nil {
		return nil, nil, err
	}
	daily, err := series.Daily(b.Dates)
	if err != nil {
		return nil, nil, err
	}

	log.Info("Converting units")
	if err := units.Convert(b); err != nil {
		return nil, nil, err
	}
	return b, daily, nil
}

// RunGrid extracts every grid point of req.Window. A block whose reference
// variable holds no data ends the run with an empty-block condition before
// anything is written.
func RunGrid(ctx context.Context, rc *types.RunContext, src *Sources, req GridRequest) (*emitter.Summary, error) {
	log := rc.Log()
	start := time.Now()

	ds, series, err := load(ctx, rc, src, types.AllStores)
	if err != nil {
		return nil, err
	}
	sel, err := ds.Plan(req.Window, req.Period)
	if err != nil {
		return nil, err
	}

	log.Info("Extracting out chunk to RAM",
		"x_cells", sel.X1-sel.X0,
		"y_cells", sel.Y1-sel.Y0,
		"time_steps", sel.T1-sel.T0,
	)
	b, err := sel.Materialize(ctx, dataset.LogProgress(log, "Extracting chunk"))
	if err != nil {
		return nil, err
	}
	if err := dataset.CheckEmpty(b); err != nil {
		if types.IsEmptyBlock(err) {
			log.Info("No data present in this chunk, exiting...")
		}
		return nil, err
	}

	b, daily, err := prepare(rc, b, req.Period, series)
	if err != nil {
		return nil, err
	}
	summary, err := emitter.Grid(ctx, rc, b, daily)
	if err != nil {
		return nil, err
	}
	log.Info("Grid extraction finished", "duration", time.Since(start).String())
	return summary, nil
}

// RunPoint extracts one year at the grid cell nearest to (req.X, req.Y) and
// returns the artifact path.
func RunPoint(ctx context.Context, rc *types.RunContext, src *Sources, req PointRequest) (string, error) {
	log := rc.Log()
	period := &types.TemporalWindow{
		Start: time.Date(req.Year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(req.Year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}

	ds, series, err := load(ctx, rc, src, types.AllStores)
	if err != nil {
		return "", err
	}
	sel, err := ds.PlanPoint(req.X, req.Y, period)
	if err != nil {
		return "", err
	}
	attrs := []any{"x", req.X, "y", req.Y, "grid_x", ds.X[sel.X0], "grid_y", ds.Y[sel.Y0]}
	if lat, lon, ok := ds.LatLon(sel.X0, sel.Y0); ok {
		attrs = append(attrs, "lat", lat, "lon", lon)
	}
	log.Info("Selected nearest gridpoint", attrs...)

	b, err := sel.Materialize(ctx, dataset.LogProgress(log, "Extracting point"))
	if err != nil {
		return "", err
	}
	b, daily, err := prepare(rc, b, period, series)
	if err != nil {
		return "", err
	}
	return emitter.Point(rc, b, daily, req.X, req.Y, req.Year)
}

// RunAudit lists the grid points of w whose artifacts are missing.
func RunAudit(ctx context.Context, rc *types.RunContext, src *Sources, w types.SpatialWindow, period *types.TemporalWindow) (*audit.Report, error) {
	return audit.Run(types.WithLogger(ctx, rc.Log()), rc, src.Opener, w, period)
}
