package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBuildInfoDefaults(t *testing.T) {
	info := NewBuildInfo()
	assert.Equal(t, BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"}, info)
}

func TestNewBuildInfoFollowsLinkerVariables(t *testing.T) {
	saved := version
	t.Cleanup(func() { version = saved })

	version = "1.4.0"
	assert.Equal(t, "1.4.0", NewBuildInfo().Version)
}

func TestBuildInfoLogValue(t *testing.T) {
	info := BuildInfo{Version: "1.4.0", Commit: "abc1234", BuildTime: "2026-01-02T03:04:05Z"}
	assert.False(t, info.Dev())
	assert.True(t, NewBuildInfo().Dev())

	attrs := info.LogValue().Group()
	assert.Len(t, attrs, 3)
	assert.Equal(t, "version", attrs[0].Key)
	assert.Equal(t, "1.4.0", attrs[0].Value.String())
	assert.Equal(t, "abc1234", attrs[1].Value.String())
	assert.Equal(t, "2026-01-02T03:04:05Z", attrs[2].Value.String())
}
