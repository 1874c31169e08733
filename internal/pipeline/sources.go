package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"chessscape/internal/config"
	"chessscape/internal/dataset"
	"chessscape/internal/external"
	"chessscape/internal/types"
	"chessscape/internal/zarr"
)

// Sources are the inputs of one run: the variable stores of an ensemble
// member and the object holding its CO2 series.
type Sources struct {
	Opener dataset.Opener
	CO2    external.ObjectStore
	CO2Key string
}

// NewSources wires the configured source mode for ensmem. Nothing is read
// until the pipeline runs.
func NewSources(ctx context.Context, cfg *config.Config, ensmem string, logger *slog.Logger) (*Sources, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opener, err := newOpener(ctx, cfg.Source, ensmem, logger)
	if err != nil {
		return nil, err
	}
	src := &Sources{Opener: opener}

	if cfg.CO2.Path != "" {
		src.CO2 = external.NewDirStore(filepath.Dir(cfg.CO2.Path))
		src.CO2Key = filepath.Base(cfg.CO2.Path)
		return src, nil
	}
	client, err := external.NewAnonymousS3Client(ctx, cfg.CO2.EndpointURL, cfg.Source.Region)
	if err != nil {
		return nil, err
	}
	src.CO2 = external.NewS3Store(client, cfg.CO2.Bucket, breakerSettings(cfg.Source, "co2"), logger)
	src.CO2Key = cfg.CO2.Key(ensmem)
	return src, nil
}

func breakerSettings(c config.SourceConfig, name string) external.BreakerSettings {
	return external.BreakerSettings{Name: name, Failures: c.BreakerFailures, Cooldown: c.BreakerCooldown}
}

func newOpener(ctx context.Context, c config.SourceConfig, ensmem string, logger *slog.Logger) (dataset.Opener, error) {
	switch c.Mode {
	case config.SourceNetCDF:
		return dataset.NetCDFOpener{Dir: c.Path, Logger: logger}, nil

	case config.SourceZarr, config.SourceS3:
		var base external.ObjectStore
		if c.Mode == config.SourceZarr {
			base = external.Prefixed(external.NewDirStore(c.Path), c.Bucket(ensmem))
		} else {
			client, err := external.NewAnonymousS3Client(ctx, c.EndpointURL, c.Region)
			if err != nil {
				return nil, err
			}
			bucket := c.Bucket(ensmem)
			logger.Info("Using remote object store", "endpoint", c.EndpointURL, "bucket", bucket)
			base = external.NewS3Store(client, bucket, breakerSettings(c, bucket), logger)
		}

		store, err := external.NewCachedStore(base, c.ObjectCacheSize, c.ObjectCacheMaxBytes)
		if err != nil {
			return nil, err
		}
		return dataset.ZarrOpener{
			Store:   store,
			Root:    func(store string) string { return c.Store(ensmem, store) },
			Options: zarr.Options{Concurrency: c.ReadConcurrency},
		}, nil

	default:
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidSource,
			fmt.Sprintf("unknown source mode %q", c.Mode),
			nil,
		)
	}
}
