// Package dataset assembles the per-variable stores of one ensemble member
// into a single (time, x, y) dataset and materializes sub-blocks of it.
//
// Reading is two-phase: Plan turns windows into index ranges without any
// I/O beyond the coordinates, and Selection.Materialize performs the reads
// and returns a concrete in-memory block.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"chessscape/internal/external"
	"chessscape/internal/netcdf"
	"chessscape/internal/types"
	"chessscape/internal/zarr"
)

// Dimension names shared by every store.
const (
	DimTime = "time"
	DimX    = "x"
	DimY    = "y"
)

// Auxiliary coordinate variables carried alongside the data.
const (
	AuxLat = "lat"
	AuxLon = "lon"
)

// VariableStore is one opened per-variable array source.
type VariableStore interface {
	// Name is the data variable held by the store.
	Name() string
	// Dimensions lists the data variable's dimensions in storage order.
	Dimensions() []string
	Shape() []int
	// Coordinate reads the values of a dimension coordinate.
	Coordinate(ctx context.Context, dim string) ([]float64, error)
	// TimeEncoding returns the CF units and calendar of the time coordinate.
	TimeEncoding(ctx context.Context) (units, calendar string, err error)
	// Auxiliary reads a non-dimension coordinate such as lat or lon. ok is
	// false when the store does not carry it.
	Auxiliary(ctx context.Context, name string) (values []float64, dims []string, ok bool, err error)
	// Tasks is the number of progress ticks Read reports for the box.
	Tasks(start, stop []int) int
	// Read returns the box [start, stop) in storage order, C-ordered.
	Read(ctx context.Context, start, stop []int, tick func()) ([]float32, error)
}

// Opener opens the store of one variable for the run's ensemble member.
type Opener interface {
	Open(ctx context.Context, store string) (VariableStore, error)
}

// variableFor maps a store name to the data variable inside it.
func variableFor(store string) (string, error) {
	v, ok := types.StoreVariables[store]
	if !ok {
		return "", types.NewAppError(
			types.ErrCodeValidationInvalidVariable,
			fmt.Sprintf("unknown variable store %q", store),
			nil,
		)
	}
	return v, nil
}

// ZarrOpener opens Zarr stores from an object store. Root maps a store name
// to the path of its Zarr group.
type ZarrOpener struct {
	Store   external.ObjectStore
	Root    func(store string) string
	Options zarr.Options
}

// Open implements Opener.
func (o ZarrOpener) Open(ctx context.Context, store string) (VariableStore, error) {
	name, err := variableFor(store)
	if err != nil {
		return nil, err
	}
	root := o.Root(store)
	group, err := zarr.OpenGroup(ctx, o.Store, root, o.Options)
	if err != nil {
		return nil, err
	}
	arr, err := group.Array(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(arr.Dimensions()) != len(arr.Shape()) {
		return nil, types.NewAppError(
			types.ErrCodeUnsupportedFormat,
			fmt.Sprintf("array %s has no dimension names", arr.Path()),
			nil,
		)
	}
	return &zarrVariable{name: name, group: group, array: arr}, nil
}

type zarrVariable struct {
	name  string
	group *zarr.Group
	array *zarr.Array
}

func (v *zarrVariable) Name() string                { return v.name }
func (v *zarrVariable) Dimensions() []string        { return v.array.Dimensions() }
func (v *zarrVariable) Shape() []int                { return v.array.Shape() }
func (v *zarrVariable) Tasks(start, stop []int) int { return v.array.ChunkCount(start, stop) }

func (v *zarrVariable) Coordinate(ctx context.Context, dim string) ([]float64, error) {
	arr, err := v.group.Array(ctx, dim)
	if err != nil {
		if types.HasCode(err, types.ErrCodeSourceNotFound) {
			return nil, types.NewAppError(
				types.ErrCodeSchemaMismatch,
				fmt.Sprintf("store for %s has no %s coordinate", v.name, dim),
				err,
			)
		}
		return nil, err
	}
	return arr.ReadAll(ctx)
}

func (v *zarrVariable) TimeEncoding(ctx context.Context) (string, string, error) {
	arr, err := v.group.Array(ctx, DimTime)
	if err != nil {
		return "", "", err
	}
	return arr.Metadata().AttrString("units"), arr.Metadata().AttrString("calendar"), nil
}

func (v *zarrVariable) Auxiliary(ctx context.Context, name string) ([]float64, []string, bool, error) {
	ok, err := v.group.HasArray(ctx, name)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	arr, err := v.group.Array(ctx, name)
	if err != nil {
		return nil, nil, false, err
	}
	vals, err := arr.ReadAll(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	return vals, arr.Dimensions(), true, nil
}

func (v *zarrVariable) Read(ctx context.Context, start, stop []int, tick func()) ([]float32, error) {
	return v.array.Read(ctx, start, stop, tick)
}

// NetCDFOpener opens stores laid out as Dir/<store>/*.nc.
type NetCDFOpener struct {
	Dir    string
	Batch  int
	Logger *slog.Logger
}

// Open implements Opener.
func (o NetCDFOpener) Open(ctx context.Context, store string) (VariableStore, error) {
	name, err := variableFor(store)
	if err != nil {
		return nil, err
	}
	v, err := netcdf.Open(ctx, filepath.Join(o.Dir, store), name, netcdf.Options{
		TimeDim: DimTime,
		Batch:   o.Batch,
		Logger:  o.Logger,
	})
	if err != nil {
		return nil, err
	}
	if o.Logger != nil {
		o.Logger.Debug("Opened NetCDF store", "store", store, "files", len(v.Files()))
	}
	return &netcdfVariable{v: v}, nil
}

type netcdfVariable struct {
	v *netcdf.Variable
}

func (n *netcdfVariable) Name() string                { return n.v.Name() }
func (n *netcdfVariable) Dimensions() []string        { return n.v.Dimensions() }
func (n *netcdfVariable) Shape() []int                { return n.v.Shape() }
func (n *netcdfVariable) Tasks(start, stop []int) int { return n.v.Tasks(start, stop) }

func (n *netcdfVariable) Coordinate(_ context.Context, dim string) ([]float64, error) {
	c, ok := n.v.Coordinate(dim)
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("files for %s have no %s coordinate", n.v.Name(), dim),
			nil,
		)
	}
	return c, nil
}

func (n *netcdfVariable) TimeEncoding(context.Context) (string, string, error) {
	units, cal := n.v.TimeEncoding()
	return units, cal, nil
}

func (n *netcdfVariable) Auxiliary(_ context.Context, name string) ([]float64, []string, bool, error) {
	return n.v.Auxiliary(name)
}

func (n *netcdfVariable) Read(ctx context.Context, start, stop []int, tick func()) ([]float32, error) {
	return n.v.Read(ctx, start, stop, tick)
}
