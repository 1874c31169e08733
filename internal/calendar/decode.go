// Package calendar decodes CF time axes and moves blocks from the 360-day
// model calendar onto the Gregorian calendar.
package calendar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"chessscape/internal/types"
)

const secondsPerDay = 86400

var unitSeconds = map[string]float64{
	"days":    secondsPerDay,
	"day":     secondsPerDay,
	"d":       secondsPerDay,
	"hours":   3600,
	"hour":    3600,
	"h":       3600,
	"minutes": 60,
	"minute":  60,
	"seconds": 1,
	"second":  1,
	"s":       1,
}

// Supported reports whether dates on cal can be decoded and normalized.
func Supported(cal string) bool {
	return cal == types.Calendar360Day || types.IsGregorianCalendar(cal)
}

// Decode converts CF-encoded time values, such as "days since
// 1970-01-01 00:00:00" on a 360_day calendar, to calendar dates. Times within
// a day are truncated to that day.
func Decode(values []float64, units, cal string) ([]types.Date, error) {
	if !Supported(cal) {
		return nil, types.NewAppError(
			types.ErrCodeUnsupportedFormat,
			fmt.Sprintf("calendar %q is not supported", cal),
			nil,
		)
	}
	step, ref, refSeconds, err := parseUnits(units)
	if err != nil {
		return nil, err
	}

	dates := make([]types.Date, len(values))
	if cal == types.Calendar360Day {
		base := float64(dayNumber360(ref))*secondsPerDay + refSeconds
		for i, v := range values {
			if math.IsNaN(v) {
				return nil, types.NewAppError(types.ErrCodeSchemaMismatch, fmt.Sprintf("time value %d is NaN", i), nil)
			}
			day := int(math.Floor((base + v*step) / secondsPerDay))
			dates[i] = fromDayNumber360(day)
		}
		return dates, nil
	}

	origin := time.Date(ref.Year, time.Month(ref.Month), ref.Day, 0, 0, 0, 0, time.UTC)
	for i, v := range values {
		if math.IsNaN(v) {
			return nil, types.NewAppError(types.ErrCodeSchemaMismatch, fmt.Sprintf("time value %d is NaN", i), nil)
		}
		secs := refSeconds + v*step
		days := math.Floor(secs / secondsPerDay)
		dates[i] = types.DateOf(origin.AddDate(0, 0, int(days)))
	}
	return dates, nil
}

// parseUnits splits "<unit> since <date>[ <time>]" into the unit length in
// seconds, the reference date and the seconds into the reference day.
func parseUnits(units string) (step float64, ref types.Date, refSeconds float64, err error) {
	bad := func(reason string) error {
		return types.NewAppError(
			types.ErrCodeUnsupportedFormat,
			fmt.Sprintf("time units %q: %s", units, reason),
			nil,
		)
	}

	unit, since, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, ref, 0, bad("expected \"<unit> since <date>\"")
	}
	step, ok = unitSeconds[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, ref, 0, bad("unknown unit")
	}

	since = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(since), "Z"))
	datePart, clockPart, _ := strings.Cut(strings.Replace(since, "T", " ", 1), " ")
	fields := strings.Split(datePart, "-")
	if len(fields) != 3 {
		return 0, ref, 0, bad("malformed reference date")
	}
	var parts [3]int
	for i, f := range fields {
		if parts[i], err = strconv.Atoi(f); err != nil {
			return 0, ref, 0, bad("malformed reference date")
		}
	}
	ref = types.Date{Year: parts[0], Month: parts[1], Day: parts[2]}

	clockPart = strings.TrimSpace(clockPart)
	if clockPart != "" {
		// Drop a trailing UTC offset such as "+00:00" or "UTC".
		clockPart, _, _ = strings.Cut(clockPart, " ")
		clockPart, _, _ = strings.Cut(clockPart, "+")
		hms := strings.Split(clockPart, ":")
		mult := []float64{3600, 60, 1}
		for i, f := range hms {
			if i > 2 {
				return 0, ref, 0, bad("malformed reference time")
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return 0, ref, 0, bad("malformed reference time")
			}
			refSeconds += v * mult[i]
		}
	}
	return step, ref, refSeconds, nil
}

// dayNumber360 counts days from year 0 on the 360-day calendar.
func dayNumber360(d types.Date) int {
	return d.Year*360 + (d.Month-1)*30 + d.Day - 1
}

func fromDayNumber360(n int) types.Date {
	year := floorDiv(n, 360)
	rem := n - year*360
	return types.Date{Year: year, Month: rem/30 + 1, Day: rem%30 + 1}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// DaysInMonth returns the length of a month on cal.
func DaysInMonth(cal string, year, month int) int {
	if cal == types.Calendar360Day {
		return 30
	}
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
