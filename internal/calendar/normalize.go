package calendar

import (
	"fmt"
	"math"
	"time"

	"chessscape/internal/types"
)

// GregorianAxis returns the daily Gregorian axis covering dates, which are on
// cal. A first or last date that does not exist on the Gregorian calendar
// moves back to the last valid day of its month. When the series ends on the
// last day of a month, the axis runs to the end of the Gregorian month.
func GregorianAxis(dates []types.Date, cal string) []types.Date {
	if len(dates) == 0 {
		return nil
	}
	first := goBack(dates[0])
	lastSrc := dates[len(dates)-1]
	last := goBack(lastSrc)
	if lastSrc.Day == DaysInMonth(cal, lastSrc.Year, lastSrc.Month) {
		last.Day = DaysInMonth(types.CalendarGregorian, last.Year, last.Month)
	}

	start, _ := first.Gregorian()
	end, _ := last.Gregorian()
	if end.Before(start) {
		return nil
	}
	n := int(end.Sub(start).Hours()/24) + 1
	axis := make([]types.Date, n)
	for i := range axis {
		axis[i] = types.DateOf(start.AddDate(0, 0, i))
	}
	return axis
}

func goBack(d types.Date) types.Date {
	if n := DaysInMonth(types.CalendarGregorian, d.Year, d.Month); d.Day > n {
		d.Day = n
	}
	return d
}

// Stats describes what Normalize did to the time axis.
type Stats struct {
	SourceSteps int
	TargetSteps int
	// Dropped counts source dates with no Gregorian equivalent.
	Dropped int
	// Inserted counts Gregorian days with no source date.
	Inserted int
}

// Normalize re-indexes b onto the Gregorian calendar in place. Each source
// date keeps its month and day; source dates that do not exist on the
// Gregorian calendar are dropped, and Gregorian days without a source value
// are filled by linear interpolation along time. Gaps at either end are
// extrapolated linearly from the two nearest values. Source NaNs are filled
// the same way. Every variable is treated with the same policy.
//
// A grid point whose series has no defined value stays NaN.
func Normalize(b *types.Block) (Stats, error) {
	if !Supported(b.Calendar) {
		return Stats{}, types.NewAppError(
			types.ErrCodeUnsupportedFormat,
			fmt.Sprintf("calendar %q is not supported", b.Calendar),
			nil,
		)
	}
	stats := Stats{SourceSteps: len(b.Dates)}
	target := GregorianAxis(b.Dates, b.Calendar)
	stats.TargetSteps = len(target)

	pos := make(map[types.Date]int, len(target))
	for i, d := range target {
		pos[d] = i
	}
	// src[i] is the source step mapped onto target day i, or -1.
	src := make([]int, len(target))
	for i := range src {
		src[i] = -1
	}
	for t, d := range b.Dates {
		if _, ok := d.Gregorian(); !ok {
			stats.Dropped++
			continue
		}
		i, ok := pos[d]
		if !ok {
			stats.Dropped++
			continue
		}
		if src[i] >= 0 {
			return stats, types.NewAppError(
				types.ErrCodeSchemaMismatch,
				fmt.Sprintf("time axis repeats %s", d),
				nil,
			)
		}
		src[i] = t
	}
	for _, s := range src {
		if s < 0 {
			stats.Inserted++
		}
	}

	plane := len(b.X) * len(b.Y)
	series := make([]float64, len(target))
	for _, name := range b.VarNames() {
		vals := b.Vars[name]
		out := make([]float32, len(target)*plane)
		for p := 0; p < plane; p++ {
			for i, s := range src {
				if s < 0 {
					series[i] = math.NaN()
					continue
				}
				series[i] = float64(vals[s*plane+p])
			}
			FillGaps(series)
			for i, v := range series {
				out[i*plane+p] = float32(v)
			}
		}
		b.Vars[name] = out
	}

	b.Dates = target
	b.Calendar = types.CalendarGregorian
	return stats, nil
}

// FillGaps replaces NaNs in place by linear interpolation between the
// nearest defined neighbours. Leading and trailing NaNs are extrapolated
// from the two nearest defined values, or hold the value when only one is
// defined. A series with no defined value is left unchanged.
func FillGaps(s []float64) {
	var defined []int
	for i, v := range s {
		if !math.IsNaN(v) {
			defined = append(defined, i)
		}
	}
	switch len(defined) {
	case 0, len(s):
		return
	case 1:
		for i := range s {
			s[i] = s[defined[0]]
		}
		return
	}

	for j := 1; j < len(defined); j++ {
		a, b := defined[j-1], defined[j]
		if b-a > 1 {
			slope := (s[b] - s[a]) / float64(b-a)
			for k := a + 1; k < b; k++ {
				s[k] = s[a] + slope*float64(k-a)
			}
		}
	}

	first, second := defined[0], defined[1]
	slope := (s[second] - s[first]) / float64(second-first)
	for k := 0; k < first; k++ {
		s[k] = s[first] - slope*float64(first-k)
	}

	last, prev := defined[len(defined)-1], defined[len(defined)-2]
	slope = (s[last] - s[prev]) / float64(last-prev)
	for k := last + 1; k < len(s); k++ {
		s[k] = s[last] + slope*float64(k-last)
	}
}

// Restrict returns the part of a Gregorian block inside w. A nil window
// returns b unchanged. The window must lie inside the block's time axis.
func Restrict(b *types.Block, w *types.TemporalWindow) (*types.Block, error) {
	if w == nil {
		return b, nil
	}
	t0, t1 := -1, -1
	for i, d := range b.Dates {
		day, ok := d.Gregorian()
		if !ok || !w.Contains(day) {
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
			fmt.Sprintf("window %s..%s lies outside the series", w.Start.Format(types.DateLayout), w.End.Format(types.DateLayout)),
			nil,
		)
	}
	first, _ := b.Dates[t0].Gregorian()
	last, _ := b.Dates[t1-1].Gregorian()
	if !first.Equal(w.Start) || !last.Equal(w.End) {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidDate,
			fmt.Sprintf("window %s..%s extends past the series %s..%s",
				w.Start.Format(types.DateLayout), w.End.Format(types.DateLayout),
				b.Dates[0], b.Dates[len(b.Dates)-1]),
			nil,
		)
	}
	return b.SliceTime(t0, t1), nil
}

// DayOfYear returns the Gregorian year and day of year for d.
func DayOfYear(d types.Date) (year, doy int) {
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	return t.Year(), t.YearDay()
}
