package config

import "log/slog"

// Set by the release build of extract-grid, extract-point and checker so
// every run logs which binary produced its artifacts:
//
//	go build -ldflags "-X chessscape/internal/config.version=$(git describe --tags) \
//	    -X chessscape/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X chessscape/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/...
//
// A plain go build or go run leaves the dev values.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the metadata the running binary was built with.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// Dev reports whether the binary was built without release metadata.
func (b BuildInfo) Dev() bool { return b.Version == "dev" }

// LogValue groups the build metadata under one log attribute.
func (b BuildInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", b.Version),
		slog.String("commit", b.Commit),
		slog.String("built", b.BuildTime),
	)
}
