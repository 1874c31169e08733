// Package co2 loads the yearly CO2 concentration series for an ensemble
// member and spreads it onto a daily time axis.
package co2

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"chessscape/internal/external"
	"chessscape/internal/types"
)

const yearColumn = "YEAR"

// Series is a year-indexed scalar series. It is immutable once loaded.
type Series struct {
	name   string
	column string
	values map[int]float64
}

// Parse reads a CSV with a YEAR column and one value column. Extra columns
// after the first value column are ignored.
func Parse(name string, r io.Reader) (*Series, error) {
	invalid := func(msg string, err error) error {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidSeries,
			fmt.Sprintf("%s: %s", name, msg),
			err,
			map[string]any{"series": name},
		)
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, invalid("empty file", nil)
	}
	if err != nil {
		return nil, invalid("malformed header", err)
	}
	yearIdx, valueIdx := -1, -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if strings.EqualFold(h, yearColumn) {
			yearIdx = i
		} else if valueIdx < 0 && h != "" {
			valueIdx = i
		}
	}
	if yearIdx < 0 || valueIdx < 0 {
		return nil, invalid(fmt.Sprintf("header %v needs a YEAR column and a value column", header), nil)
	}

	s := &Series{name: name, column: strings.TrimSpace(header[valueIdx]), values: make(map[int]float64)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalid("malformed row", err)
		}
		if len(rec) <= max(yearIdx, valueIdx) {
			line, _ := cr.FieldPos(0)
			return nil, invalid(fmt.Sprintf("line %d has %d fields", line, len(rec)), nil)
		}
		year, err := parseYear(rec[yearIdx])
		if err != nil {
			return nil, invalid(fmt.Sprintf("invalid year %q", rec[yearIdx]), err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[valueIdx]), 64)
		if err != nil {
			return nil, invalid(fmt.Sprintf("invalid value %q for year %d", rec[valueIdx], year), err)
		}
		if _, dup := s.values[year]; dup {
			return nil, invalid(fmt.Sprintf("year %d appears twice", year), nil)
		}
		s.values[year] = v
	}
	if len(s.values) == 0 {
		return nil, invalid("no rows", nil)
	}
	return s, nil
}

func parseYear(field string) (int, error) {
	field = strings.TrimSpace(field)
	if y, err := strconv.Atoi(field); err == nil {
		return y, nil
	}
	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("year %v is not a whole number", f)
	}
	return int(f), nil
}

// Load fetches key from store and parses it.
func Load(ctx context.Context, store external.ObjectStore, key string) (*Series, error) {
	raw, err := external.ReadAll(ctx, store, key)
	if err != nil {
		if errors.Is(err, external.ErrObjectNotFound) {
			return nil, types.NewAppError(
				types.ErrCodeSourceNotFound,
				fmt.Sprintf("CO2 series %s not found", key),
				err,
			)
		}
		return nil, err
	}
	return Parse(key, bytes.NewReader(raw))
}

// Name returns the source name of the series.
func (s *Series) Name() string { return s.name }

// Column returns the header of the value column.
func (s *Series) Column() string { return s.column }

// Value returns the value for a year.
func (s *Series) Value(year int) (float64, bool) {
	v, ok := s.values[year]
	return v, ok
}

// Years returns the covered years in ascending order.
func (s *Series) Years() []int {
	years := make([]int, 0, len(s.values))
	for y := range s.values {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Daily returns one value per date, each date carrying its year's value.
// Every year must be present; the error lists all missing years.
func (s *Series) Daily(dates []types.Date) ([]float64, error) {
	out := make([]float64, len(dates))
	var missing []int
	seen := make(map[int]bool)
	for i, d := range dates {
		v, ok := s.values[d.Year]
		if !ok {
			if !seen[d.Year] {
				seen[d.Year] = true
				missing = append(missing, d.Year)
			}
			continue
		}
		out[i] = v
	}
	if len(missing) > 0 {
		return nil, types.NewMissingYearError(s.name, missing)
	}
	return out, nil
}
