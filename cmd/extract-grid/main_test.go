package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no flags", nil},
		{"missing ensemble member", []string{"--outpath=out", "--xllcorner=0", "--yllcorner=0", "--xurcorner=1", "--yurcorner=1"}},
		{"missing outpath", []string{"--ensmem=01", "--xllcorner=0", "--yllcorner=0", "--xurcorner=1", "--yurcorner=1"}},
		{"inverted window", []string{"--ensmem=01", "--outpath=out", "--xllcorner=0", "--yllcorner=5", "--xurcorner=1", "--yurcorner=1"}},
		{"bad date", []string{"--ensmem=01", "--outpath=out", "--xllcorner=0", "--yllcorner=0", "--xurcorner=1", "--yurcorner=1", "--startdate=1981-13-01", "--enddate=1982-01-01"}},
		{"reversed period", []string{"--ensmem=01", "--outpath=out", "--xllcorner=0", "--yllcorner=0", "--xurcorner=1", "--yurcorner=1", "--startdate=1982-01-01", "--enddate=1981-01-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, 2, run(context.Background(), tt.args, &stdout, &stderr))
			assert.NotEmpty(t, stderr.String())
		})
	}
}

func TestRunInvalidSourceMode(t *testing.T) {
	args := []string{
		"--ensmem=01", "--outpath=" + t.TempDir(), "--source=ftp",
		"--xllcorner=0", "--yllcorner=0", "--xurcorner=1", "--yurcorner=1",
	}
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), args, &stdout, &stderr))
}
