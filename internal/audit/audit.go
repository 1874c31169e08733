// Package audit checks an output directory for the grid-point artifacts a
// window should have produced.
package audit

import (
	"context"
	"fmt"
	"path/filepath"

	"chessscape/internal/dataset"
	"chessscape/internal/emitter"
	"chessscape/internal/types"
)

// Coord is a grid point by its projected coordinates.
type Coord struct {
	X float64
	Y float64
}

func (c Coord) String() string {
	return emitter.FormatCoord(c.X) + "," + emitter.FormatCoord(c.Y)
}

// Report is the outcome of an audit. Missing is in ascending x, then
// ascending y.
type Report struct {
	Points  int
	NoData  int
	Present int
	Missing []Coord
	// FirstYear and LastYear are the year range in the expected names.
	FirstYear, LastYear int
}

// Run opens the reference variable only, reads its first time step over w
// and stats the expected artifact of every point with data. The artifact
// names cover the years of tw, or the whole series when tw is nil.
func Run(ctx context.Context, rc *types.RunContext, opener dataset.Opener, w types.SpatialWindow, tw *types.TemporalWindow) (*Report, error) {
	log := rc.Log()

	ds, err := dataset.Assemble(ctx, rc, opener, []string{types.StoreRsds})
	if err != nil {
		return nil, err
	}
	firstYear, lastYear := ds.Dates[0].Year, ds.Dates[len(ds.Dates)-1].Year
	from := "series"
	if tw != nil {
		firstYear, lastYear = tw.Start.Year(), tw.End.Year()
		from = "dates"
	}
	log.Info(fmt.Sprintf("Expecting artifacts named for %d-%d", firstYear, lastYear),
		"first_year", firstYear,
		"last_year", lastYear,
		"from", from,
	)

	log.Info("Extracting out first timestep to RAM")
	sel, err := ds.PlanTimestep(w, 0)
	if err != nil {
		return nil, err
	}
	b, err := sel.Materialize(ctx, dataset.LogProgress(log, "Reading first timestep"))
	if err != nil {
		return nil, err
	}

	r := &Report{Missing: []Coord{}, FirstYear: firstYear, LastYear: lastYear}
	for _, p := range b.Points() {
		r.Points++
		if !emitter.HasData(b, p) {
			log.Info("No data in this coord", "x", p.X, "y", p.Y)
			r.NoData++
			continue
		}
		path := filepath.Join(rc.OutputDir, emitter.GridFileName(rc.Label, firstYear, lastYear, rc.EnsembleMember, p.X, p.Y))
		log.Info("Checking for existence of " + path)
		ok, err := emitter.Exists(path)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalIO, fmt.Sprintf("failed to stat %s", path), err)
		}
		if ok {
			log.Info("File exists")
			r.Present++
			continue
		}
		log.Info("FILE MISSING")
		r.Missing = append(r.Missing, Coord{X: p.X, Y: p.Y})
	}

	log.Info("All missing coordinates: ", "missing", r.Missing, "count", len(r.Missing))
	return r, nil
}
