// Package main implements the checker CLI: it lists the land grid points of
// a window whose CSV is missing from an output directory.
//
// Usage:
//
//	checker --ensmem=01 --outpath=out --filepath=/data/chess \
//	    --xllcorner=400000 --yllcorner=300000 --xurcorner=499000 --yurcorner=399000
//
// Only the first time step of rsds is read. The expected file names cover
// the years of --startdate/--enddate, or the whole series when omitted.
// Missing files are reported in the log; the exit status is 0 either way.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"chessscape/internal/cli"
	"chessscape/internal/pipeline"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("checker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		src cli.SourceFlags
		win cli.WindowFlags
	)
	src.Register(fs)
	win.Register(fs)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: checker [flags]\n\n")
		fmt.Fprintf(stderr, "List grid points of a window with no output file.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return cli.ExitUsage
	}
	if err := cli.Required(fs, "xllcorner", "yllcorner", "xurcorner", "yurcorner"); err != nil {
		fmt.Fprintf(stderr, "error: %v\n\n", err)
		fs.Usage()
		return cli.ExitUsage
	}
	window, err := win.Window()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return cli.ExitCode(err)
	}
	period, err := win.Period()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return cli.ExitCode(err)
	}

	env, err := cli.Setup("checker", &src, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return cli.ExitCode(err)
	}
	defer func() { _ = env.Close() }()

	sources, err := pipeline.NewSources(ctx, env.Config, env.RC.EnsembleMember, env.RC.Log())
	if err != nil {
		return cli.Report(env.RC, err)
	}
	_, err = pipeline.RunAudit(ctx, env.RC, sources, window, period)
	return cli.Report(env.RC, err)
}
