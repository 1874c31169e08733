package types

import (
	"fmt"
	"math"
	"time"
)

// Fill sentinels. The source encodes "no data" with out-of-range values
// rather than a mask, and the two checks deliberately use different
// thresholds at different granularities:
//
//   - BlockFillSentinel is the exact placeholder written into ocean and
//     offshore cells; a block is empty when every reference value equals it.
//   - PointFillSentinel is the looser threshold for a single grid point; any
//     value at or below it is treated as a placeholder, including sentinels
//     that went through unit conversion.
//
// Neither is ever a legitimate physical value for any variable.
const (
	PointFillSentinel = -1e10
	BlockFillSentinel = -1e20
)

// IsBlockFill reports whether v is the block-level placeholder.
// NaN counts as a placeholder too (missing chunks decode to the array's
// fill value, which may be NaN).
func IsBlockFill(v float32) bool {
	return math.IsNaN(float64(v)) || v <= float32(BlockFillSentinel)
}

// IsPointFill reports whether v marks a grid point without data.
func IsPointFill(v float32) bool {
	return math.IsNaN(float64(v)) || float64(v) <= PointFillSentinel
}

// Store names of the per-variable array sources. Each names one store per
// ensemble member, following the `{variable}_{ensmem}_year100km` convention.
const (
	StoreTmax    = "tmax"
	StoreTmin    = "tmin"
	StoreRsds    = "rsds"
	StoreSfcWind = "sfcWind"
	StorePr      = "pr"
	StorePsurf   = "psurf"
	StoreHuss    = "huss"
)

// Data variable names as they appear inside the stores, plus the derived
// vapour pressure produced by unit conversion.
const (
	VarTasmax  = "tasmax"
	VarTasmin  = "tasmin"
	VarRsds    = "rsds"
	VarSfcWind = "sfcWind"
	VarPr      = "pr"
	VarPsurf   = "psurf"
	VarHuss    = "huss"
	VarVP      = "vp"
)

// ReferenceVariable is the variable whose values decide whether a block or a
// point carries data.
const ReferenceVariable = VarRsds

// StoreVariables maps each store name to the data variable it holds.
var StoreVariables = map[string]string{
	StoreTmax:    VarTasmax,
	StoreTmin:    VarTasmin,
	StoreRsds:    VarRsds,
	StoreSfcWind: VarSfcWind,
	StorePr:      VarPr,
	StorePsurf:   VarPsurf,
	StoreHuss:    VarHuss,
}

// AllStores lists the stores needed for a full extraction, in merge order.
var AllStores = []string{StoreTmax, StoreTmin, StoreRsds, StoreSfcWind, StorePr, StorePsurf, StoreHuss}

// KnownEnsembleMembers are the ensemble member codes published for the
// dataset.
var KnownEnsembleMembers = []string{"01", "04", "06", "15"}

// SpatialWindow is a bounding box in the dataset's projected coordinate
// system (metres). Selection is inclusive on both ends of each axis.
type SpatialWindow struct {
	XLL float64
	YLL float64
	XUR float64
	YUR float64
}

// Validate checks the corner ordering invariant.
func (w SpatialWindow) Validate() error {
	if math.IsNaN(w.XLL) || math.IsNaN(w.YLL) || math.IsNaN(w.XUR) || math.IsNaN(w.YUR) {
		return NewAppError(ErrCodeValidationInvalidWindow, "window corners must be numbers", nil)
	}
	if w.XUR < w.XLL || w.YUR < w.YLL {
		return NewAppErrorWithDetails(
			ErrCodeValidationInvalidWindow,
			fmt.Sprintf("upper-right corner (%g,%g) is below lower-left corner (%g,%g)", w.XUR, w.YUR, w.XLL, w.YLL),
			nil,
			map[string]any{"xllcorner": w.XLL, "yllcorner": w.YLL, "xurcorner": w.XUR, "yurcorner": w.YUR},
		)
	}
	return nil
}

// ContainsX reports whether x lies inside the window's x range.
func (w SpatialWindow) ContainsX(x float64) bool { return x >= w.XLL && x <= w.XUR }

// ContainsY reports whether y lies inside the window's y range.
func (w SpatialWindow) ContainsY(y float64) bool { return y >= w.YLL && y <= w.YUR }

// TemporalWindow is an inclusive calendar-date range on the Gregorian
// calendar. A nil *TemporalWindow means the whole series.
type TemporalWindow struct {
	Start time.Time
	End   time.Time
}

// DateLayout is the layout accepted for start and end dates.
const DateLayout = "2006-01-02"

// ParseTemporalWindow parses a pair of YYYY-MM-DD dates. Both empty means
// the whole series (nil window); exactly one empty is an error.
func ParseTemporalWindow(start, end string) (*TemporalWindow, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, NewAppError(ErrCodeValidationInvalidDate, "startdate and enddate must be given together", nil)
	}
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return nil, NewAppError(ErrCodeValidationInvalidDate, fmt.Sprintf("invalid startdate %q", start), err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return nil, NewAppError(ErrCodeValidationInvalidDate, fmt.Sprintf("invalid enddate %q", end), err)
	}
	if e.Before(s) {
		return nil, NewAppError(ErrCodeValidationInvalidDate, fmt.Sprintf("enddate %s is before startdate %s", end, start), nil)
	}
	return &TemporalWindow{Start: s, End: e}, nil
}

// Contains reports whether day falls inside the window.
func (w *TemporalWindow) Contains(day time.Time) bool {
	if w == nil {
		return true
	}
	return !day.Before(w.Start) && !day.After(w.End)
}

// Date is a calendar-agnostic (year, month, day) triple. On a 360-day
// calendar every month has 30 days, so values such as February 30 are valid.
type Date struct {
	Year  int
	Month int
	Day   int
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Before orders dates lexicographically by year, month, day.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// Gregorian returns the date as a UTC midnight time.Time and whether the date
// exists on the Gregorian calendar.
func (d Date) Gregorian() (time.Time, bool) {
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	ok := t.Year() == d.Year && int(t.Month()) == d.Month && t.Day() == d.Day
	return t, ok
}

// DateOf converts a Gregorian time to a Date.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// GridPoint is one (x,y) coordinate pair within a Block, with its indices.
type GridPoint struct {
	X      float64
	Y      float64
	XIndex int
	YIndex int
}

// OutputRecord is one day of output for one grid point.
type OutputRecord struct {
	Year   int
	DOY    int
	Rad    float64 // MJ m-2 day-1
	MinTmp float64 // degC
	MaxTmp float64 // degC
	VP     float64 // kPa
	Wind   float64 // m s-1
	Rain   float64 // mm day-1
	CO2    float64 // ppm
}
