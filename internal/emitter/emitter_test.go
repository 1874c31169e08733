package emitter

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chessscape/internal/types"
)

// --- Test Helpers ---

var leapDays = []types.Date{
	{Year: 2000, Month: 2, Day: 28},
	{Year: 2000, Month: 2, Day: 29},
	{Year: 2000, Month: 3, Day: 1},
}

// testBlock builds a converted block over x (stored descending) and y. The
// cell at x=2000 has no data.
func testBlock(t *testing.T, dates []types.Date, x, y []float64) *types.Block {
	t.Helper()
	b := types.NewBlock(types.CalendarStandard, dates, x, y)
	for _, name := range Required {
		vals := make([]float32, b.Len())
		for ti := range dates {
			for xi := range x {
				for yi := range y {
					v := float32(ti) + float32(xi)*0.25 + float32(yi)*0.5
					if name == types.VarRsds && x[xi] == 2000 {
						v = -8.64e17
					}
					vals[b.Index(ti, xi, yi)] = v
				}
			}
		}
		require.NoError(t, b.AddVar(name, vals))
	}
	return b
}

func flatCO2(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func testRC(dir string) *types.RunContext {
	return &types.RunContext{EnsembleMember: "01", Label: "chess-scape", OutputDir: dir, Workers: 1}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
}

// --- Naming and formatting ---

func TestFormatCoord(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{412500, "412500.0"},
		{412500.5, "412500.5"},
		{0, "0.0"},
		{-1, "-1.0"},
		{0.0001, "0.0001"},
		{1.5e-5, "1.5e-05"},
		{1e16, "1e+16"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCoord(tt.in))
		})
	}
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "chess-scape_2000-2001_01_412500.0_1000.0.csv",
		GridFileName("chess-scape", 2000, 2001, "01", 412500, 1000))
	assert.Equal(t, "chess-scape_412345.5_300000.0_15_2023.csv",
		PointFileName("chess-scape", 412345.5, 300000, "15", 2023))
}

func TestEncode(t *testing.T) {
	rec := types.OutputRecord{
		Year: 2000, DOY: 59,
		Rad: 12.345678, MinTmp: -1.5, MaxTmp: 10.25,
		VP: 1.2, Wind: 3, Rain: 0, CO2: 410.5,
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []types.OutputRecord{rec}, true))
	assert.Equal(t, GridHeader+"\n2000,59,12.34568,-1.50,10.25,1.20000,3.00,0.00000,410.5000\n", buf.String())

	buf.Reset()
	rec.Year = 5
	require.NoError(t, Encode(&buf, []types.OutputRecord{rec, rec}, false))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, PointHeader, lines[0])
	assert.Equal(t, "59,12.34568,-1.50,10.25,1.20000,3.00,0.00000,410.5000", lines[1])

	buf.Reset()
	require.NoError(t, Encode(&buf, []types.OutputRecord{rec}, true))
	assert.True(t, strings.HasPrefix(strings.Split(buf.String(), "\n")[1], "0005,59,"))
}

func TestHasData(t *testing.T) {
	b := testBlock(t, leapDays, []float64{2000, 1000}, []float64{500})
	for _, p := range b.Points() {
		assert.Equal(t, p.X != 2000, HasData(b, p), "x=%v", p.X)
	}

	b.Vars[types.VarRsds][b.Index(0, 1, 0)] = float32(-1e10)
	assert.False(t, HasData(b, types.GridPoint{X: 1000, XIndex: 1}))
}

func TestRecords(t *testing.T) {
	b := testBlock(t, leapDays, []float64{2000, 1000}, []float64{500})
	p := types.GridPoint{X: 1000, Y: 500, XIndex: 1, YIndex: 0}
	recs := Records(b, p, []float64{400, 401, 402})
	require.Len(t, recs, 3)

	assert.Equal(t, []int{59, 60, 61}, []int{recs[0].DOY, recs[1].DOY, recs[2].DOY})
	assert.Equal(t, 2000, recs[2].Year)
	assert.Equal(t, 2.25, recs[2].Rad)
	assert.Equal(t, 401.0, recs[1].CO2)
}

// --- Grid ---

func TestGrid(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	b := testBlock(t, leapDays, []float64{2000, 1000}, []float64{500})

	s, err := Grid(context.Background(), testRC(dir), b, flatCO2(3, 410))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Points)
	assert.Equal(t, 1, s.Written)
	assert.Equal(t, 1, s.NoData)
	assert.Equal(t, 0, s.Existing)

	want := filepath.Join(dir, "chess-scape_2000-2000_01_1000.0_500.0.csv")
	assert.Equal(t, []string{want}, s.Files)

	lines := readLines(t, want)
	require.Len(t, lines, 4)
	assert.Equal(t, GridHeader, lines[0])
	assert.Equal(t, "2000,59,0.25000,0.25,0.25,0.25000,0.25,0.25000,410.0000", lines[1])
	assert.Equal(t, "2000,61,2.25000,2.25,2.25,2.25000,2.25,2.25000,410.0000", lines[3])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestGridYearRangeName(t *testing.T) {
	dir := t.TempDir()
	dates := []types.Date{{Year: 1999, Month: 12, Day: 31}, {Year: 2000, Month: 1, Day: 1}}
	b := testBlock(t, dates, []float64{412500}, []float64{1000})

	s, err := Grid(context.Background(), testRC(dir), b, flatCO2(2, 1))
	require.NoError(t, err)
	require.Len(t, s.Files, 1)
	assert.Equal(t, "chess-scape_1999-2000_01_412500.0_1000.0.csv", filepath.Base(s.Files[0]))

	lines := readLines(t, s.Files[0])
	assert.True(t, strings.HasPrefix(lines[1], "1999,365,"))
	assert.True(t, strings.HasPrefix(lines[2], "2000,1,"))
}

func TestGridSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	b := testBlock(t, leapDays, []float64{1000}, []float64{500})
	path := filepath.Join(dir, "chess-scape_2000-2000_01_1000.0_500.0.csv")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	s, err := Grid(context.Background(), testRC(dir), b, flatCO2(3, 410))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Existing)
	assert.Equal(t, 0, s.Written)
	assert.Equal(t, []string{"old"}, readLines(t, path))

	rc := testRC(dir)
	rc.Overwrite = true
	s, err = Grid(context.Background(), rc, b, flatCO2(3, 410))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Written)
	assert.Equal(t, GridHeader, readLines(t, path)[0])
}

func TestGridParallelMatchesSerial(t *testing.T) {
	x := []float64{5000, 4000, 2000, 3000, 1000}
	y := []float64{300, 100, 200, 400}
	b := testBlock(t, leapDays, x, y)
	co2 := []float64{400.1, 400.2, 400.3}

	serial := testRC(filepath.Join(t.TempDir(), "serial"))
	parallel := testRC(filepath.Join(t.TempDir(), "parallel"))
	parallel.Workers = 4

	s1, err := Grid(context.Background(), serial, b, co2)
	require.NoError(t, err)
	s2, err := Grid(context.Background(), parallel, b, co2)
	require.NoError(t, err)

	assert.Equal(t, 16, s1.Written)
	assert.Equal(t, 4, s1.NoData)
	require.Len(t, s2.Files, len(s1.Files))
	for i := range s1.Files {
		assert.Equal(t, filepath.Base(s1.Files[i]), filepath.Base(s2.Files[i]))
		a, err := os.ReadFile(s1.Files[i])
		require.NoError(t, err)
		c, err := os.ReadFile(s2.Files[i])
		require.NoError(t, err)
		assert.Equal(t, a, c)
	}

	// Files are listed in ascending x, then ascending y.
	assert.Equal(t, "chess-scape_2000-2000_01_1000.0_100.0.csv", filepath.Base(s1.Files[0]))
	assert.Equal(t, "chess-scape_2000-2000_01_1000.0_200.0.csv", filepath.Base(s1.Files[1]))
	assert.Equal(t, "chess-scape_2000-2000_01_5000.0_400.0.csv", filepath.Base(s1.Files[15]))
}

func TestGridRejects(t *testing.T) {
	dir := t.TempDir()

	b := testBlock(t, leapDays, []float64{1000}, []float64{500})
	delete(b.Vars, types.VarVP)
	_, err := Grid(context.Background(), testRC(dir), b, flatCO2(3, 1))
	assert.True(t, types.IsSchemaMismatch(err))

	b = testBlock(t, leapDays, []float64{1000}, []float64{500})
	_, err = Grid(context.Background(), testRC(dir), b, flatCO2(2, 1))
	assert.Equal(t, types.ErrCodeInternalUnexpected, types.CodeOf(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGridCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := testBlock(t, leapDays, []float64{1000}, []float64{500})
	_, err := Grid(ctx, testRC(t.TempDir()), b, flatCO2(3, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Point ---

func TestPoint(t *testing.T) {
	dir := t.TempDir()
	b := testBlock(t, leapDays, []float64{1000}, []float64{500})

	path, err := Point(testRC(dir), b, flatCO2(3, 415.25), 1012.5, 480, 2000)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chess-scape_1012.5_480.0_01_2000.csv"), path)

	lines := readLines(t, path)
	require.Len(t, lines, 4)
	assert.Equal(t, PointHeader, lines[0])
	assert.Equal(t, "59,0.00000,0.00,0.00,0.00000,0.00,0.00000,415.2500", lines[1])
}

func TestPointNoData(t *testing.T) {
	b := testBlock(t, leapDays, []float64{2000}, []float64{500})
	_, err := Point(testRC(t.TempDir()), b, flatCO2(3, 1), 2000, 500, 2000)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNoDataAtPoint, types.CodeOf(err))
}
