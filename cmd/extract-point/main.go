// Package main implements the extract-point CLI: it extracts a single year
// at the grid cell nearest to a projected (x, y) coordinate.
//
// Usage:
//
//	extract-point --ensmem=01 --outpath=out --x=412500 --y=300500 --year=2023
//
// Coordinates are in the dataset's projected system (metres).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"

	"chessscape/internal/cli"
	"chessscape/internal/pipeline"
	"chessscape/internal/types"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("extract-point", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var src cli.SourceFlags
	src.Register(fs)
	x := fs.Float64("x", math.NaN(), "Projected x in metres (required)")
	y := fs.Float64("y", math.NaN(), "Projected y in metres (required)")
	year := fs.Int("year", 0, "Year to extract (required)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: extract-point [flags]\n\n")
		fmt.Fprintf(stderr, "Extract one year at the grid point nearest to (x, y).\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return cli.ExitUsage
	}
	if err := cli.Required(fs, "x", "y", "year"); err != nil {
		fmt.Fprintf(stderr, "error: %v\n\n", err)
		fs.Usage()
		return cli.ExitUsage
	}
	if math.IsNaN(*x) || math.IsNaN(*y) || math.IsInf(*x, 0) || math.IsInf(*y, 0) {
		err := types.NewAppError(types.ErrCodeValidationInvalidWindow, "x and y must be finite numbers", nil)
		fmt.Fprintf(stderr, "error: %v\n", err)
		return cli.ExitCode(err)
	}

	env, err := cli.Setup("extract-point", &src, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return cli.ExitCode(err)
	}
	defer func() { _ = env.Close() }()

	sources, err := pipeline.NewSources(ctx, env.Config, env.RC.EnsembleMember, env.RC.Log())
	if err != nil {
		return cli.Report(env.RC, err)
	}
	_, err = pipeline.RunPoint(ctx, env.RC, sources, pipeline.PointRequest{X: *x, Y: *y, Year: *year})
	return cli.Report(env.RC, err)
}
