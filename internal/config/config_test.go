package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(fs, "")
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.SnapshotInterval)
	assert.Equal(t, 5, cfg.SnapshotDepth)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Nil(t, cfg.CancelSweepLimit)
}

func TestLoad_FlagOverridesDefault(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--snapshot-depth=10", "--log-level=debug"}))

	cfg, err := Load(fs, "")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.SnapshotDepth)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_RejectsBadLogLevel(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level=verbose"}))

	_, err := Load(fs, "")
	assert.Error(t, err)
}

func TestLoad_ParsesCancelSweepLimit(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--cancel-sweep-limit=2017-01-03T09:00:30Z"}))

	cfg, err := Load(fs, "")
	require.NoError(t, err)

	require.NotNil(t, cfg.CancelSweepLimit)
	assert.Equal(t, 2017, cfg.CancelSweepLimit.Year())
}
