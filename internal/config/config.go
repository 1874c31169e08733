// Package config defines the configuration structure for the CHESS-SCAPE
// extraction tools. Configuration is loaded once at process start and is
// immutable thereafter; per-run values (ensemble member, window, output
// directory) come from command-line flags and override the environment.
//
// Values are resolved via a priority chain:
//
//	Command-line flag (Highest) -> OS Environment -> Dotenv File -> Default (Lowest)
//
// Any invalid value causes the tool to exit before touching the data source.
package config

import (
	"strings"
	"time"
)

// Source modes.
const (
	SourceS3     = "s3"
	SourceZarr   = "zarr"
	SourceNetCDF = "netcdf"
)

// Config is the top-level configuration struct.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
	// LogFile, when set, mirrors log output to a size-rotated file.
	LogFile string `envconfig:"LOG_FILE"`

	Source  SourceConfig
	CO2     CO2Config
	Extract ExtractConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// SourceConfig locates the per-variable array stores.
type SourceConfig struct {
	Mode string `envconfig:"SOURCE_MODE" default:"s3" validate:"required,oneof=s3 zarr netcdf"`
	// Path is the local root for zarr and netcdf modes.
	Path string `envconfig:"SOURCE_PATH" validate:"required_unless=Mode s3"`

	EndpointURL string `envconfig:"CHESS_ENDPOINT_URL" default:"https://chess-scape-o.s3-ext.jc.rl.ac.uk" validate:"omitempty,url"`
	Region      string `envconfig:"CHESS_REGION" default:"us-east-1"`
	// BucketTemplate and StoreTemplate expand {ensmem} and {variable}.
	BucketTemplate string `envconfig:"CHESS_BUCKET_TEMPLATE" default:"ens{ensmem}-year100kmchunk" validate:"required"`
	StoreTemplate  string `envconfig:"CHESS_STORE_TEMPLATE" default:"{variable}_{ensmem}_year100km.zarr" validate:"required"`

	ReadConcurrency int `envconfig:"READ_CONCURRENCY" default:"16" validate:"min=1,max=256"`
	// ObjectCacheSize bounds the number of objects kept in memory per run;
	// ObjectCacheMaxBytes keeps large objects (data chunks) out of it.
	ObjectCacheSize     int `envconfig:"OBJECT_CACHE_SIZE" default:"256" validate:"min=0"`
	ObjectCacheMaxBytes int `envconfig:"OBJECT_CACHE_MAX_BYTES" default:"1048576" validate:"min=0"`
	// BreakerFailures is the number of consecutive fetch failures after which
	// the store stops issuing requests.
	BreakerFailures uint32        `envconfig:"BREAKER_FAILURES" default:"5" validate:"min=1"`
	BreakerCooldown time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
}

// CO2Config locates the yearly CO2 concentration series.
type CO2Config struct {
	EndpointURL string `envconfig:"CO2_ENDPOINT_URL" default:"https://fdri-o.s3-ext.jc.rl.ac.uk" validate:"omitempty,url"`
	Bucket      string `envconfig:"CO2_BUCKET" default:"chess-scape-co2files"`
	KeyTemplate string `envconfig:"CO2_KEY_TEMPLATE" default:"CHESS-SCAPE_RCP85_{ensmem}.csv" validate:"required"`
	// Path, when set, reads the series from a local file instead of S3.
	Path string `envconfig:"CO2_PATH"`
}

// ExtractConfig holds output settings.
type ExtractConfig struct {
	Label   string `envconfig:"OUTPUT_LABEL" default:"chess-scape" validate:"required,excludesall=/\\"`
	Workers int    `envconfig:"EMIT_WORKERS" default:"1" validate:"min=1,max=64"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Bucket expands the bucket template for an ensemble member.
func (c SourceConfig) Bucket(ensmem string) string {
	return expand(c.BucketTemplate, ensmem, "")
}

// Store expands the store template for an ensemble member and variable.
func (c SourceConfig) Store(ensmem, variable string) string {
	return expand(c.StoreTemplate, ensmem, variable)
}

// Key expands the CO2 object key for an ensemble member.
func (c CO2Config) Key(ensmem string) string {
	return expand(c.KeyTemplate, ensmem, "")
}

func expand(template, ensmem, variable string) string {
	return strings.NewReplacer("{ensmem}", ensmem, "{variable}", variable).Replace(template)
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
