package dataset

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"chessscape/internal/calendar"
	"chessscape/internal/types"
)

// maxOpenConcurrency bounds how many stores are opened at once.
const maxOpenConcurrency = 4

// Dataset is the merge of all variable stores of one ensemble member. Every
// variable shares the same time, x and y axes.
type Dataset struct {
	Calendar string
	Dates    []types.Date
	X        []float64
	Y        []float64

	// Lat and Lon are auxiliary coordinates over LatLonDims, when present.
	Lat        []float64
	Lon        []float64
	LatLonDims []string

	vars []variable
}

// variable is one store with the position of time, x and y in its storage
// order.
type variable struct {
	name  string
	store VariableStore
	t     int
	x     int
	y     int
}

// axes is what every store must agree on.
type axes struct {
	time     []float64
	units    string
	calendar string
	x        []float64
	y        []float64
}

// Assemble opens every named store and merges them. A store that cannot be
// opened fails the whole assembly; stores whose axes disagree fail with a
// schema mismatch. lat and lon are carried as auxiliary coordinates.
func Assemble(ctx context.Context, rc *types.RunContext, opener Opener, stores []string) (*Dataset, error) {
	log := rc.Log()
	if len(stores) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "no variable stores requested", nil)
	}
	log.Info("Loading CHESS-SCAPE datasets", "stores", stores, "ensemble_member", rc.EnsembleMember)

	opened := make([]VariableStore, len(stores))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxOpenConcurrency)
	for i, name := range stores {
		g.Go(func() error {
			s, err := opener.Open(gctx, name)
			if err != nil {
				return err
			}
			opened[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var appErr *types.AppError
		if !errors.As(err, &appErr) && ctx.Err() == nil {
			return nil, types.NewAppError(types.ErrCodeSourceUnavailable, "failed to open variable stores", err)
		}
		return nil, err
	}

	ds := &Dataset{}
	var ref *axes
	seen := make(map[string]bool)
	for i, s := range opened {
		if seen[s.Name()] {
			return nil, types.NewAppError(
				types.ErrCodeValidationInvalidVariable,
				fmt.Sprintf("variable %s requested twice", s.Name()),
				nil,
			)
		}
		seen[s.Name()] = true

		v, err := layout(s)
		if err != nil {
			return nil, err
		}
		a, err := readAxes(ctx, s)
		if err != nil {
			return nil, err
		}
		if err := checkShape(s, v, a); err != nil {
			return nil, err
		}
		if ref == nil {
			ref = a
		} else if err := sameAxes(stores[i], ref, a); err != nil {
			return nil, err
		}
		ds.vars = append(ds.vars, v)

		if ds.Lat == nil {
			if err := ds.loadLatLon(ctx, s); err != nil {
				return nil, err
			}
		}
	}

	cal := ref.calendar
	if cal == "" {
		cal = types.CalendarStandard
	}
	dates, err := calendar.Decode(ref.time, ref.units, cal)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i-1].Before(dates[i]) {
			return nil, types.NewAppError(
				types.ErrCodeSchemaMismatch,
				fmt.Sprintf("time axis is not increasing at %s", dates[i]),
				nil,
			)
		}
	}
	for _, axis := range []struct {
		name string
		vals []float64
	}{{DimX, ref.x}, {DimY, ref.y}} {
		if !monotonic(axis.vals) {
			return nil, types.NewAppError(
				types.ErrCodeSchemaMismatch,
				fmt.Sprintf("%s coordinate is not strictly monotonic", axis.name),
				nil,
			)
		}
	}

	ds.Calendar = cal
	ds.Dates = dates
	ds.X = ref.x
	ds.Y = ref.y

	log.Info("Dataset assembled",
		"variables", ds.Variables(),
		"calendar", ds.Calendar,
		"time_steps", len(ds.Dates),
		"x", len(ds.X),
		"y", len(ds.Y),
		"first_date", ds.Dates[0].String(),
		"last_date", ds.Dates[len(ds.Dates)-1].String(),
	)
	return ds, nil
}

// layout locates time, x and y among the store's dimensions.
func layout(s VariableStore) (variable, error) {
	dims := s.Dimensions()
	v := variable{name: s.Name(), store: s, t: -1, x: -1, y: -1}
	for i, d := range dims {
		switch d {
		case DimTime:
			v.t = i
		case DimX:
			v.x = i
		case DimY:
			v.y = i
		}
	}
	if len(dims) != 3 || v.t < 0 || v.x < 0 || v.y < 0 {
		return v, types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("variable %s has dimensions %v, expected a permutation of (time, y, x)", s.Name(), dims),
			nil,
		)
	}
	return v, nil
}

func readAxes(ctx context.Context, s VariableStore) (*axes, error) {
	a := &axes{}
	var err error
	if a.time, err = s.Coordinate(ctx, DimTime); err != nil {
		return nil, err
	}
	if a.x, err = s.Coordinate(ctx, DimX); err != nil {
		return nil, err
	}
	if a.y, err = s.Coordinate(ctx, DimY); err != nil {
		return nil, err
	}
	if a.units, a.calendar, err = s.TimeEncoding(ctx); err != nil {
		return nil, err
	}
	if len(a.time) == 0 {
		return nil, types.NewAppError(types.ErrCodeSchemaMismatch, fmt.Sprintf("variable %s has an empty time axis", s.Name()), nil)
	}
	return a, nil
}

func checkShape(s VariableStore, v variable, a *axes) error {
	shape := s.Shape()
	if shape[v.t] != len(a.time) || shape[v.x] != len(a.x) || shape[v.y] != len(a.y) {
		return types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("variable %s has shape %v, coordinates are time=%d x=%d y=%d",
				s.Name(), shape, len(a.time), len(a.x), len(a.y)),
			nil,
		)
	}
	return nil
}

func sameAxes(store string, ref, a *axes) error {
	mismatch := func(axis string) error {
		return types.NewAppErrorWithDetails(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("store %s disagrees on the %s axis", store, axis),
			nil,
			map[string]any{"store": store, "axis": axis},
		)
	}
	switch {
	case !slices.Equal(ref.time, a.time):
		return mismatch(DimTime)
	case ref.units != a.units || ref.calendar != a.calendar:
		return mismatch(DimTime + " encoding")
	case !slices.Equal(ref.x, a.x):
		return mismatch(DimX)
	case !slices.Equal(ref.y, a.y):
		return mismatch(DimY)
	}
	return nil
}

func (ds *Dataset) loadLatLon(ctx context.Context, s VariableStore) error {
	lat, latDims, ok, err := s.Auxiliary(ctx, AuxLat)
	if err != nil || !ok {
		return err
	}
	lon, lonDims, ok, err := s.Auxiliary(ctx, AuxLon)
	if err != nil || !ok {
		return err
	}
	if !slices.Equal(latDims, lonDims) || len(lat) != len(lon) {
		return types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("lat %v and lon %v are on different dimensions", latDims, lonDims),
			nil,
		)
	}
	ds.Lat, ds.Lon, ds.LatLonDims = lat, lon, latDims
	return nil
}

func monotonic(vals []float64) bool {
	if len(vals) < 2 {
		return true
	}
	up := vals[1] > vals[0]
	for i := 1; i < len(vals); i++ {
		if (vals[i] > vals[i-1]) != up || vals[i] == vals[i-1] {
			return false
		}
	}
	return true
}

// Variables returns the data variable names in store order.
func (ds *Dataset) Variables() []string {
	names := make([]string, len(ds.vars))
	for i, v := range ds.vars {
		names[i] = v.name
	}
	return names
}

// LatLon returns the auxiliary latitude and longitude of grid cell
// (xi, yi), when the dataset carries them on (y, x) or (x, y).
func (ds *Dataset) LatLon(xi, yi int) (lat, lon float64, ok bool) {
	if ds.Lat == nil {
		return 0, 0, false
	}
	var i int
	switch {
	case slices.Equal(ds.LatLonDims, []string{DimY, DimX}):
		i = yi*len(ds.X) + xi
	case slices.Equal(ds.LatLonDims, []string{DimX, DimY}):
		i = xi*len(ds.Y) + yi
	default:
		return 0, 0, false
	}
	if i >= len(ds.Lat) {
		return 0, 0, false
	}
	return ds.Lat[i], ds.Lon[i], true
}
