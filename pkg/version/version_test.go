package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString_IncludesBuildInfo(t *testing.T) {
	// Given: build variables as set by ldflags
	Version, Commit, Date = "1.2.3", "abc1234", "2026-01-02T00:00:00Z"
	t.Cleanup(func() { Version, Commit, Date = "dev", "unknown", "unknown" })

	// When
	s := String()

	// Then
	assert.Equal(t, "amanrag 1.2.3 (commit: abc1234, built: 2026-01-02T00:00:00Z, go: "+runtime.Version()+")", s)
	assert.Equal(t, "1.2.3", Short())
	assert.Equal(t, "amanrag/1.2.3", Product())
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.NotEmpty(t, info.GoVersion)
}
