package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArray(t *testing.T, dir string, dims []string, shape []int, dtype string, attrs map[string]any, raw []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	meta, err := json.Marshal(map[string]any{
		"zarr_format": 2,
		"shape":       shape,
		"chunks":      shape,
		"dtype":       dtype,
		"order":       "C",
		"fill_value":  nil,
		"compressor":  nil,
		"filters":     nil,
	})
	require.NoError(t, err)
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrs["_ARRAY_DIMENSIONS"] = dims
	attrDoc, err := json.Marshal(attrs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".zarray"), meta, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".zattrs"), attrDoc, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, strings.Repeat("0.", len(shape)-1)+"0"), raw, 0o644))
}

func le64(vals ...float64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func le32(vals ...float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// writeRsds lays out a local copy of the rsds store of member 01: one time
// step over x {1000, 2000} and y {5000}, with x=2000 offshore.
func writeRsds(t *testing.T, root string) {
	t.Helper()
	store := filepath.Join(root, "ens01-year100kmchunk", "rsds_01_year100km.zarr")
	require.NoError(t, os.MkdirAll(store, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store, ".zgroup"), []byte(`{"zarr_format":2}`), 0o644))
	writeArray(t, filepath.Join(store, "time"), []string{"time"}, []int{1}, "<f8",
		map[string]any{"units": "days since 1981-01-01", "calendar": "360_day"}, le64(0))
	writeArray(t, filepath.Join(store, "x"), []string{"x"}, []int{2}, "<f8", nil, le64(1000, 2000))
	writeArray(t, filepath.Join(store, "y"), []string{"y"}, []int{1}, "<f8", nil, le64(5000))
	writeArray(t, filepath.Join(store, "rsds"), []string{"time", "y", "x"}, []int{1, 1, 2}, "<f4", nil, le32(120, -1e20))
}

func TestRunReportsMissing(t *testing.T) {
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("CO2_PATH", "")
	root := t.TempDir()
	writeRsds(t, root)
	out := t.TempDir()

	args := []string{
		"--ensmem=01", "--outpath=" + out,
		"--source=zarr", "--filepath=" + root,
		"--xllcorner=0", "--yllcorner=0", "--xurcorner=5000", "--yurcorner=9000",
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	logs := stdout.String()
	assert.Contains(t, logs, "chess-scape_1981-1981_01_1000.0_5000.0.csv")
	assert.Contains(t, logs, "FILE MISSING")
	assert.Contains(t, logs, "No data in this coord")

	require.NoError(t, os.WriteFile(filepath.Join(out, "chess-scape_1981-1981_01_1000.0_5000.0.csv"), nil, 0o644))
	stdout.Reset()
	code = run(context.Background(), args, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "File exists")
	assert.NotContains(t, stdout.String(), "FILE MISSING")
}

func TestRunSourceMissing(t *testing.T) {
	t.Setenv("CO2_PATH", "")
	args := []string{
		"--ensmem=01", "--outpath=" + t.TempDir(),
		"--source=zarr", "--filepath=" + t.TempDir(),
		"--xllcorner=0", "--yllcorner=0", "--xurcorner=5000", "--yurcorner=9000",
	}
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 4, run(context.Background(), args, &stdout, &stderr))
}

func TestRunUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no flags", nil},
		{"missing corner", []string{"--ensmem=01", "--outpath=out", "--xllcorner=0", "--yllcorner=0", "--xurcorner=1"}},
		{"inverted window", []string{"--ensmem=01", "--outpath=out", "--xllcorner=10", "--yllcorner=0", "--xurcorner=1", "--yurcorner=1"}},
		{"bad ensemble member", []string{"--ensmem=1", "--outpath=out", "--xllcorner=0", "--yllcorner=0", "--xurcorner=1", "--yurcorner=1"}},
		{"half a period", []string{"--ensmem=01", "--outpath=out", "--xllcorner=0", "--yllcorner=0", "--xurcorner=1", "--yurcorner=1", "--startdate=1981-01-01"}},
		{"unknown flag", []string{"--bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, 2, run(context.Background(), tt.args, &stdout, &stderr))
			assert.NotEmpty(t, stderr.String())
		})
	}
}
