package calendar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chessscape/internal/types"
)

func d(y, m, day int) types.Date { return types.Date{Year: y, Month: m, Day: day} }

// year360 returns the 360-day dates of the given years.
func year360(from, to int) []types.Date {
	var out []types.Date
	for y := from; y <= to; y++ {
		for m := 1; m <= 12; m++ {
			for day := 1; day <= 30; day++ {
				out = append(out, d(y, m, day))
			}
		}
	}
	return out
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		units  string
		cal    string
		want   []types.Date
	}{
		{
			name:   "360 day",
			values: []float64{0, 29, 30, 359, 360, 0.5, -1},
			units:  "days since 1970-01-01 00:00:00",
			cal:    types.Calendar360Day,
			want:   []types.Date{d(1970, 1, 1), d(1970, 1, 30), d(1970, 2, 1), d(1970, 12, 30), d(1971, 1, 1), d(1970, 1, 1), d(1969, 12, 30)},
		},
		{
			name:   "360 day hours with midday reference",
			values: []float64{0, 12, 24 * 30},
			units:  "hours since 1981-01-01 12:00:00",
			cal:    types.Calendar360Day,
			want:   []types.Date{d(1981, 1, 1), d(1981, 1, 2), d(1981, 2, 1)},
		},
		{
			name:   "gregorian",
			values: []float64{0, 24, 36, 24 * 60},
			units:  "hours since 2000-01-01",
			cal:    types.CalendarStandard,
			want:   []types.Date{d(2000, 1, 1), d(2000, 1, 2), d(2000, 1, 2), d(2000, 3, 1)},
		},
		{
			name:   "iso reference",
			values: []float64{1},
			units:  "days since 1970-01-01T00:00:00Z",
			cal:    types.CalendarProlepticGregorian,
			want:   []types.Date{d(1970, 1, 2)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.values, tt.units, tt.cal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]float64{0}, "days since 1970-01-01", "noleap")
	assert.True(t, types.HasCode(err, types.ErrCodeUnsupportedFormat))

	_, err = Decode([]float64{0}, "fortnights since 1970-01-01", types.Calendar360Day)
	assert.True(t, types.HasCode(err, types.ErrCodeUnsupportedFormat))

	_, err = Decode([]float64{0}, "days", types.Calendar360Day)
	assert.True(t, types.HasCode(err, types.ErrCodeUnsupportedFormat))

	_, err = Decode([]float64{math.NaN()}, "days since 1970-01-01", types.Calendar360Day)
	assert.True(t, types.IsSchemaMismatch(err))
}

func TestGregorianAxisFullRange(t *testing.T) {
	axis := GregorianAxis(year360(1981, 2079), types.Calendar360Day)
	require.Len(t, axis, 36159)
	assert.Equal(t, d(1981, 1, 1), axis[0])
	assert.Equal(t, d(2079, 12, 31), axis[len(axis)-1])
}

func TestGregorianAxisEnds(t *testing.T) {
	// A series ending mid-month stops on the same date.
	axis := GregorianAxis([]types.Date{d(2001, 1, 1), d(2001, 2, 15)}, types.Calendar360Day)
	assert.Equal(t, d(2001, 2, 15), axis[len(axis)-1])

	// February 30 moves back to the last day of February.
	axis = GregorianAxis([]types.Date{d(2001, 2, 30), d(2001, 3, 5)}, types.Calendar360Day)
	assert.Equal(t, d(2001, 2, 28), axis[0])

	assert.Nil(t, GregorianAxis(nil, types.Calendar360Day))
}

func blockOf(dates []types.Date, values func(t int) float32) *types.Block {
	b := types.NewBlock(types.Calendar360Day, dates, []float64{0}, []float64{0})
	vals := make([]float32, len(dates))
	for i := range vals {
		vals[i] = values(i)
	}
	b.Vars[types.VarRsds] = vals
	return b
}

func TestNormalizeLeapYear(t *testing.T) {
	b := blockOf(year360(2000, 2000), func(t int) float32 { return float32(t) })

	stats, err := Normalize(b)
	require.NoError(t, err)
	assert.Equal(t, Stats{SourceSteps: 360, TargetSteps: 366, Dropped: 1, Inserted: 7}, stats)
	assert.Equal(t, types.CalendarGregorian, b.Calendar)
	require.Len(t, b.Dates, 366)
	require.Len(t, b.Vars[types.VarRsds], 366)

	at := func(date types.Date) float32 {
		for i, x := range b.Dates {
			if x == date {
				return b.Vars[types.VarRsds][i]
			}
		}
		t.Fatalf("date %s not on axis", date)
		return 0
	}
	assert.Equal(t, float32(29), at(d(2000, 1, 30)))
	assert.Equal(t, float32(29.5), at(d(2000, 1, 31)))
	assert.Equal(t, float32(30), at(d(2000, 2, 1)))
	assert.Equal(t, float32(58), at(d(2000, 2, 29)))
	assert.Equal(t, float32(60), at(d(2000, 3, 1)))
	// Trailing gap extrapolated from December 29 and 30.
	assert.Equal(t, float32(360), at(d(2000, 12, 31)))

	for _, v := range b.Vars[types.VarRsds] {
		assert.False(t, math.IsNaN(float64(v)))
	}
}

func TestNormalizeNonLeapYear(t *testing.T) {
	b := blockOf(year360(2001, 2001), func(int) float32 { return 280 })
	stats, err := Normalize(b)
	require.NoError(t, err)
	assert.Equal(t, 365, stats.TargetSteps)
	assert.Equal(t, 2, stats.Dropped)
	for _, v := range b.Vars[types.VarRsds] {
		assert.Equal(t, float32(280), v)
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	dates := year360(1981, 1983)
	gen := func(t int) float32 { return float32(math.Sin(float64(t)/57.3)*100 + 250) }
	a := blockOf(dates, gen)
	b := blockOf(dates, gen)

	_, err := Normalize(a)
	require.NoError(t, err)
	_, err = Normalize(b)
	require.NoError(t, err)
	assert.Equal(t, a.Dates, b.Dates)
	assert.Equal(t, a.Vars, b.Vars)
}

func TestNormalizeFillsSourceNaN(t *testing.T) {
	b := blockOf(year360(2001, 2001), func(t int) float32 {
		if t == 10 {
			return float32(math.NaN())
		}
		return float32(t)
	})
	_, err := Normalize(b)
	require.NoError(t, err)
	assert.Equal(t, float32(10), b.Vars[types.VarRsds][10])
}

func TestNormalizeAllNaNPointStaysNaN(t *testing.T) {
	b := blockOf(year360(2001, 2001), func(int) float32 { return float32(math.NaN()) })
	_, err := Normalize(b)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(b.Vars[types.VarRsds][0])))
}

func TestNormalizeRejects(t *testing.T) {
	b := blockOf(year360(2001, 2001), func(int) float32 { return 0 })
	b.Calendar = "noleap"
	_, err := Normalize(b)
	assert.True(t, types.HasCode(err, types.ErrCodeUnsupportedFormat))

	b = blockOf([]types.Date{d(2001, 1, 1), d(2001, 1, 1)}, func(int) float32 { return 0 })
	_, err = Normalize(b)
	assert.True(t, types.IsSchemaMismatch(err))
}

func TestFillGaps(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"interior", []float64{1, nan, nan, 4}, []float64{1, 2, 3, 4}},
		{"head", []float64{nan, nan, 3, 4}, []float64{1, 2, 3, 4}},
		{"tail", []float64{1, 3, nan, nan}, []float64{1, 3, 5, 7}},
		{"edges use nearest pair", []float64{nan, 2, nan, 6, nan}, []float64{0, 2, 4, 6, 8}},
		{"single value holds", []float64{nan, 5, nan}, []float64{5, 5, 5}},
		{"complete", []float64{1, 2}, []float64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := append([]float64(nil), tt.in...)
			FillGaps(s)
			assert.InDeltaSlice(t, tt.want, s, 1e-12)
		})
	}

	empty := []float64{nan, nan}
	FillGaps(empty)
	assert.True(t, math.IsNaN(empty[0]))
}

func TestRestrict(t *testing.T) {
	b := blockOf(year360(2000, 2001), func(t int) float32 { return float32(t) })
	_, err := Normalize(b)
	require.NoError(t, err)

	w, err := types.ParseTemporalWindow("2001-01-01", "2001-12-31")
	require.NoError(t, err)
	out, err := Restrict(b, w)
	require.NoError(t, err)
	require.Len(t, out.Dates, 365)
	assert.Equal(t, d(2001, 1, 1), out.Dates[0])
	assert.Len(t, out.Vars[types.VarRsds], 365)

	same, err := Restrict(b, nil)
	require.NoError(t, err)
	assert.Same(t, b, same)

	w, err = types.ParseTemporalWindow("2001-06-01", "2002-01-31")
	require.NoError(t, err)
	_, err = Restrict(b, w)
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidDate))

	w, err = types.ParseTemporalWindow("2010-01-01", "2010-12-31")
	require.NoError(t, err)
	_, err = Restrict(b, w)
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidDate))
}

func TestDayOfYear(t *testing.T) {
	y, doy := DayOfYear(d(2000, 12, 31))
	assert.Equal(t, 2000, y)
	assert.Equal(t, 366, doy)
	_, doy = DayOfYear(d(2001, 3, 1))
	assert.Equal(t, 60, doy)
}
