// Package cli holds the flag handling and process wiring shared by the
// extraction tools in cmd/.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/google/uuid"

	"chessscape/internal/config"
	"chessscape/internal/logging"
	"chessscape/internal/types"
)

// Exit statuses not derived from an error code.
const (
	ExitOK        = 0
	ExitUsage     = 2
	ExitCancelled = 130
)

// SourceFlags are the flags every tool takes.
type SourceFlags struct {
	EnsMem    string
	OutPath   string
	S3        bool
	Source    string
	FilePath  string
	Workers   int
	Overwrite bool
}

// Register adds the source flags to fs.
func (f *SourceFlags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.EnsMem, "ensmem", "", "Ensemble member code, e.g. 01, 04, 06 or 15 (required)")
	fs.StringVar(&f.OutPath, "outpath", "", "Output directory, created if absent (required)")
	fs.BoolVar(&f.S3, "s3", false, "Read the stores from the remote object store")
	fs.StringVar(&f.Source, "source", "", "Source mode: s3, zarr or netcdf (overrides SOURCE_MODE)")
	fs.StringVar(&f.FilePath, "filepath", "", "Local source directory; implies --source=netcdf unless --source is given")
	fs.IntVar(&f.Workers, "workers", 0, "Grid points written concurrently (overrides EMIT_WORKERS)")
	fs.BoolVar(&f.Overwrite, "overwrite", false, "Rewrite artifacts that already exist")
}

// WindowFlags are the corners of a spatial window and an optional period.
type WindowFlags struct {
	XLL, YLL, XUR, YUR float64
	StartDate          string
	EndDate            string
}

// Register adds the window flags to fs.
func (w *WindowFlags) Register(fs *flag.FlagSet) {
	fs.Float64Var(&w.XLL, "xllcorner", 0, "Lower-left x in metres (required)")
	fs.Float64Var(&w.YLL, "yllcorner", 0, "Lower-left y in metres (required)")
	fs.Float64Var(&w.XUR, "xurcorner", 0, "Upper-right x in metres (required)")
	fs.Float64Var(&w.YUR, "yurcorner", 0, "Upper-right y in metres (required)")
	fs.StringVar(&w.StartDate, "startdate", "", "First output day, YYYY-MM-DD")
	fs.StringVar(&w.EndDate, "enddate", "", "Last output day, YYYY-MM-DD")
}

// Window returns the validated spatial window.
func (w *WindowFlags) Window() (types.SpatialWindow, error) {
	sw := types.SpatialWindow{XLL: w.XLL, YLL: w.YLL, XUR: w.XUR, YUR: w.YUR}
	return sw, sw.Validate()
}

// Period returns the temporal window, nil when no dates were given.
func (w *WindowFlags) Period() (*types.TemporalWindow, error) {
	return types.ParseTemporalWindow(w.StartDate, w.EndDate)
}

// Required reports the first of names that was not set on fs.
func Required(fs *flag.FlagSet, names ...string) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, name := range names {
		if !set[name] {
			return types.NewAppError(types.ErrCodeValidationMissingField, fmt.Sprintf("--%s is required", name), nil)
		}
	}
	return nil
}

// Env is the wired state of one tool invocation.
type Env struct {
	Config *config.Config
	RC     *types.RunContext
	close  func() error
}

// Close flushes the log file sink.
func (e *Env) Close() error { return e.close() }

// Setup loads the configuration, applies the flag overrides, validates the
// result and builds the run's logger and context.
func Setup(tool string, f *SourceFlags, stdout io.Writer) (*Env, error) {
	if err := validateEnsMem(f.EnsMem); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.OutPath) == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "--outpath is required", nil)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, f)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger, closeFn := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Stdout: stdout,
	})
	runID := uuid.NewString()
	logger = logger.With("run_id", runID, "tool", tool, "ensemble_member", f.EnsMem)
	if !slices.Contains(types.KnownEnsembleMembers, f.EnsMem) {
		logger.Warn("Ensemble member is not one of the published members", "known", types.KnownEnsembleMembers)
	}
	if cfg.Build.Dev() {
		logger.Debug("Running a development build")
	}
	logger.Info("Starting",
		"build", cfg.Build,
		"source_mode", cfg.Source.Mode,
		"output_dir", f.OutPath,
	)

	return &Env{
		Config: cfg,
		RC: &types.RunContext{
			RunID:          runID,
			Logger:         logger,
			EnsembleMember: f.EnsMem,
			Label:          cfg.Extract.Label,
			OutputDir:      f.OutPath,
			Workers:        cfg.Extract.Workers,
			Overwrite:      f.Overwrite,
		},
		close: closeFn,
	}, nil
}

func applyOverrides(cfg *config.Config, f *SourceFlags) {
	switch {
	case f.Source != "":
		cfg.Source.Mode = f.Source
	case f.S3:
		cfg.Source.Mode = config.SourceS3
	case f.FilePath != "":
		cfg.Source.Mode = config.SourceNetCDF
	}
	if f.FilePath != "" {
		cfg.Source.Path = f.FilePath
	}
	if f.Workers > 0 {
		cfg.Extract.Workers = f.Workers
	}
}

func validateEnsMem(code string) error {
	if code == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "--ensmem is required", nil)
	}
	if len(code) != 2 || code[0] < '0' || code[0] > '9' || code[1] < '0' || code[1] > '9' {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidEnsMem,
			fmt.Sprintf("ensemble member %q must be a two-digit code", code),
			nil,
			map[string]any{"ensmem": code},
		)
	}
	return nil
}

// ExitCode maps the outcome of a run to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return ExitUsage
	}
	return types.CodeOf(err).ExitCode()
}

// Report logs the outcome of a run and returns its exit status. Conditions
// are logged at info level.
func Report(rc *types.RunContext, err error) int {
	code := ExitCode(err)
	switch {
	case err == nil:
		rc.Log().Info("Finished")
	case types.CodeOf(err).IsCondition():
		rc.Log().Info("Finished without output", "reason", err.Error(), "exit_code", code)
	default:
		rc.Log().Error("Run failed", "error", err, "code", string(types.CodeOf(err)), "exit_code", code)
	}
	return code
}
