package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/shieldserve/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "shieldserve")
	assert.Contains(t, out, "--stop")
	assert.Contains(t, out, "--skip-auth")
	assert.NotContains(t, out, "Run the watchdog", "watch is an internal command")
}

func TestWatchRequiresDir(t *testing.T) {
	_, err := execute(t, "watch")
	assert.Error(t, err)
}

func TestStopWithoutSession(t *testing.T) {
	out, err := execute(t, "--stop", "--data-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestStatusWithoutSession(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "status", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
	assert.Contains(t, out, dir)
}

func TestBindFlags_OnlyExplicitFlagsOverride(t *testing.T) {
	t.Setenv("SHIELDSERVE_INTERVAL", "7s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("port", config.DefaultPort, "")
	fs.Duration("interval", config.DefaultInterval, "")
	fs.Bool("skip-auth", false, "")
	require.NoError(t, fs.Parse([]string{"--port", "9443", "--skip-auth"}))

	v := config.NewViper()
	require.NoError(t, bindFlags(v, fs))
	cfg, err := config.Decode(v)
	require.NoError(t, err)

	assert.Equal(t, 9443, cfg.Port)
	assert.True(t, cfg.SkipAuth)
	assert.Equal(t, 7*time.Second, cfg.Interval, "unset flag does not mask the environment")
}

func TestBindFlags_Interval(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Duration("interval", config.DefaultInterval, "")
	require.NoError(t, fs.Parse([]string{"--interval", "250ms"}))

	v := config.NewViper()
	require.NoError(t, bindFlags(v, fs))
	cfg, err := config.Decode(v)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
}

func TestRootFlags_ReachConfig(t *testing.T) {
	dir := t.TempDir()
	root := buildRoot()
	require.NoError(t, root.ParseFlags([]string{"--port", "9443", "--interval", "3s", "--skip-auth", "--data-dir", dir}))

	cfg, err := loadConfig(root, &GlobalFlags{})
	require.NoError(t, err)
	assert.Equal(t, 9443, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.Interval)
	assert.True(t, cfg.SkipAuth)
	assert.Equal(t, dir, cfg.DataDir)
}
