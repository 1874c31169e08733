// Package emitter turns a normalized, converted block into one delimited
// text artifact per grid point.
package emitter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"chessscape/internal/calendar"
	"chessscape/internal/types"
)

// Column headers of the two artifact layouts.
const (
	GridHeader  = "YEAR,DOY,RAD,MINTMP,MAXTMP,VP,WIND,RAIN,CO2"
	PointHeader = "DOY,RAD,MINTMP,MAXTMP,VP,WIND,RAIN,CO2"
)

// Variables a block must carry before it can be emitted.
var Required = []string{types.VarRsds, types.VarTasmin, types.VarTasmax, types.VarVP, types.VarSfcWind, types.VarPr}

// Summary counts what a grid emission did.
type Summary struct {
	Points   int
	Written  int
	Existing int
	NoData   int
	Files    []string
}

// FormatCoord renders a coordinate the way the published file names do:
// shortest round-trip digits, always with a fractional part (412500.0), and
// exponent notation outside [1e-4, 1e16).
func FormatCoord(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	if a := math.Abs(v); a != 0 && (a < 1e-4 || a >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// GridFileName names the artifact of one grid point over a year range.
func GridFileName(label string, firstYear, lastYear int, ensmem string, x, y float64) string {
	return fmt.Sprintf("%s_%d-%d_%s_%s_%s.csv", label, firstYear, lastYear, ensmem, FormatCoord(x), FormatCoord(y))
}

// PointFileName names a single-year point artifact.
func PointFileName(label string, x, y float64, ensmem string, year int) string {
	return fmt.Sprintf("%s_%s_%s_%s_%d.csv", label, FormatCoord(x), FormatCoord(y), ensmem, year)
}

// HasData applies the per-point presence test to the reference variable at
// the first time step.
func HasData(b *types.Block, p types.GridPoint) bool {
	if len(b.Dates) == 0 {
		return false
	}
	return !types.IsPointFill(b.At(types.ReferenceVariable, 0, p.XIndex, p.YIndex))
}

// Records builds the daily rows of one grid point. co2 holds one value per
// block date.
func Records(b *types.Block, p types.GridPoint, co2 []float64) []types.OutputRecord {
	out := make([]types.OutputRecord, len(b.Dates))
	for t, d := range b.Dates {
		year, doy := calendar.DayOfYear(d)
		at := func(name string) float64 { return float64(b.At(name, t, p.XIndex, p.YIndex)) }
		out[t] = types.OutputRecord{
			Year:   year,
			DOY:    doy,
			Rad:    at(types.VarRsds),
			MinTmp: at(types.VarTasmin),
			MaxTmp: at(types.VarTasmax),
			VP:     at(types.VarVP),
			Wind:   at(types.VarSfcWind),
			Rain:   at(types.VarPr),
			CO2:    co2[t],
		}
	}
	return out
}

// appendRow formats one record. withYear selects the grid layout.
func appendRow(buf []byte, r types.OutputRecord, withYear bool) []byte {
	if withYear {
		buf = fmt.Appendf(buf, "%04d,", r.Year)
	}
	buf = strconv.AppendInt(buf, int64(r.DOY), 10)
	for _, c := range []struct {
		v    float64
		prec int
	}{
		{r.Rad, 5},
		{r.MinTmp, 2},
		{r.MaxTmp, 2},
		{r.VP, 5},
		{r.Wind, 2},
		{r.Rain, 5},
		{r.CO2, 4},
	} {
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, c.v, 'f', c.prec, 64)
	}
	return append(buf, '\n')
}

// Encode writes a header line and one line per record.
func Encode(w io.Writer, records []types.OutputRecord, withYear bool) error {
	bw := bufio.NewWriter(w)
	header := PointHeader
	if withYear {
		header = GridHeader
	}
	if _, err := bw.WriteString(header + "\n"); err != nil {
		return err
	}
	var line []byte
	for _, r := range records {
		line = appendRow(line[:0], r, withYear)
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// writeAtomic writes through a temp file in the destination directory and
// renames it into place, so a reader never sees a partial artifact.
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Exists reports whether an artifact is already present.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func checkVariables(b *types.Block) error {
	for _, name := range Required {
		if _, ok := b.Vars[name]; !ok {
			return types.NewAppError(
				types.ErrCodeSchemaMismatch,
				fmt.Sprintf("block is missing variable %s", name),
				nil,
			)
		}
	}
	return nil
}

func ioError(path string, err error) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeInternalIO,
		fmt.Sprintf("failed to write %s", path),
		err,
		map[string]any{"path": path},
	)
}

// Grid writes one artifact per grid point of b that carries data, in
// ascending x then ascending y. Points run on rc.Workers goroutines; each
// point only touches its own file. Existing artifacts are left alone unless
// rc.Overwrite is set.
func Grid(ctx context.Context, rc *types.RunContext, b *types.Block, co2 []float64) (*Summary, error) {
	log := rc.Log()
	if err := checkVariables(b); err != nil {
		return nil, err
	}
	if len(b.Dates) == 0 {
		return nil, types.NewAppError(types.ErrCodeEmptyBlock, "block has no time steps", nil)
	}
	if len(co2) != len(b.Dates) {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("CO2 series has %d values for %d days", len(co2), len(b.Dates)),
			nil,
		)
	}
	if err := os.MkdirAll(rc.OutputDir, 0o755); err != nil {
		return nil, ioError(rc.OutputDir, err)
	}

	firstYear, _ := calendar.DayOfYear(b.Dates[0])
	lastYear, _ := calendar.DayOfYear(b.Dates[len(b.Dates)-1])
	points := b.Points()
	files := make([]string, len(points))
	var written, existing, noData atomic.Int64

	log.Info("Extracting out each gridpoint to csv", "points", len(points), "workers", rc.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(rc.Workers, 1))
	for i, p := range points {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if !HasData(b, p) {
				log.Info("No data in this coord", "x", p.X, "y", p.Y)
				noData.Add(1)
				return nil
			}
			path := filepath.Join(rc.OutputDir, GridFileName(rc.Label, firstYear, lastYear, rc.EnsembleMember, p.X, p.Y))
			if !rc.Overwrite {
				ok, err := Exists(path)
				if err != nil {
					return ioError(path, err)
				}
				if ok {
					log.Info("File exists, skipping", "path", path)
					existing.Add(1)
					files[i] = path
					return nil
				}
			}
			log.Debug("Saving", "path", path, "x", p.X, "y", p.Y)
			records := Records(b, p, co2)
			if err := writeAtomic(path, func(w io.Writer) error { return Encode(w, records, true) }); err != nil {
				return ioError(path, err)
			}
			written.Add(1)
			files[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Summary{
		Points:   len(points),
		Written:  int(written.Load()),
		Existing: int(existing.Load()),
		NoData:   int(noData.Load()),
	}
	for _, f := range files {
		if f != "" {
			s.Files = append(s.Files, f)
		}
	}
	log.Info("Gridpoint extraction complete",
		"points", s.Points,
		"written", s.Written,
		"existing", s.Existing,
		"no_data", s.NoData,
	)
	return s, nil
}

// Point writes the single-year artifact of a one-point block. x and y are
// the requested coordinates and name the file; year is the extracted year.
func Point(rc *types.RunContext, b *types.Block, co2 []float64, x, y float64, year int) (string, error) {
	if err := checkVariables(b); err != nil {
		return "", err
	}
	if len(b.X) != 1 || len(b.Y) != 1 {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("point block has %dx%d cells", len(b.X), len(b.Y)),
			nil,
		)
	}
	if len(co2) != len(b.Dates) {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("CO2 series has %d values for %d days", len(co2), len(b.Dates)),
			nil,
		)
	}
	p := b.Points()[0]
	if !HasData(b, p) {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeNoDataAtPoint,
			fmt.Sprintf("No data in this coord: %s,%s", FormatCoord(p.X), FormatCoord(p.Y)),
			nil,
			map[string]any{"x": p.X, "y": p.Y},
		)
	}
	if err := os.MkdirAll(rc.OutputDir, 0o755); err != nil {
		return "", ioError(rc.OutputDir, err)
	}
	path := filepath.Join(rc.OutputDir, PointFileName(rc.Label, x, y, rc.EnsembleMember, year))
	if !rc.Overwrite {
		ok, err := Exists(path)
		if err != nil {
			return "", ioError(path, err)
		}
		if ok {
			rc.Log().Info("File exists, skipping", "path", path)
			return path, nil
		}
	}
	records := Records(b, p, co2)
	if err := writeAtomic(path, func(w io.Writer) error { return Encode(w, records, false) }); err != nil {
		return "", ioError(path, err)
	}
	rc.Log().Info("Saved", "path", path, "grid_x", p.X, "grid_y", p.Y, "days", len(records))
	return path, nil
}
