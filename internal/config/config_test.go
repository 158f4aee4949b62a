package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "shieldserve.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, c.Port)
	assert.Equal(t, DefaultServicePort, c.ServicePort)
	assert.Equal(t, DefaultInterval, c.Interval)
	assert.Equal(t, DefaultSettleDelay, c.SettleDelay)
	assert.Equal(t, DefaultStopTimeout, c.StopTimeout)
	assert.Equal(t, "code-server", c.Service.Bin)
	assert.Equal(t, "caddy", c.Proxy.Bin)
	assert.Contains(t, c.Proxy.Args, "${PROXY_CONFIG}")
	assert.True(t, c.Metrics.Enabled)
	assert.True(t, c.History.Enabled)
	assert.Equal(t, 10, c.Log.MaxSizeMB)
	assert.Empty(t, c.ConfigFile)
}

func TestLoadConfig_File(t *testing.T) {
	p := writeConfig(t, `
port = 9443
service_port = 9080
interval = "750ms"
stop_timeout = 2

[proxy]
bin = "/opt/caddy/bin/caddy"
install = "echo install"

[log]
max_backups = 9
compress = true

[history]
enabled = false
`)
	c, err := LoadConfig(p)
	require.NoError(t, err)

	assert.Equal(t, 9443, c.Port)
	assert.Equal(t, 9080, c.ServicePort)
	assert.Equal(t, 750*time.Millisecond, c.Interval)
	assert.Equal(t, 2*time.Second, c.StopTimeout)
	assert.Equal(t, "/opt/caddy/bin/caddy", c.Proxy.Bin)
	assert.Equal(t, "echo install", c.Proxy.Install)
	assert.Equal(t, "code-server", c.Service.Bin, "unset keys keep defaults")
	assert.Equal(t, 9, c.Log.MaxBackups)
	assert.True(t, c.Log.Compress)
	assert.False(t, c.History.Enabled)
	assert.Equal(t, p, c.ConfigFile)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	p := writeConfig(t, "port = 9443\n")
	t.Setenv("SHIELDSERVE_PORT", "10443")
	t.Setenv("SHIELDSERVE_INTERVAL", "3")
	t.Setenv("SHIELDSERVE_SERVICE_BIN", "/usr/local/bin/code-server")

	c, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, 10443, c.Port)
	assert.Equal(t, 3*time.Second, c.Interval)
	assert.Equal(t, "/usr/local/bin/code-server", c.Service.Bin)
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)
	v.Set("port", 7443)
	v.Set("skip_auth", true)

	c, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, 7443, c.Port)
	assert.True(t, c.SkipAuth)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	cases := map[string]string{
		"bad port":       "port = 70000\n",
		"same ports":     "port = 8080\n",
		"zero interval":  "interval = \"0s\"\n",
		"bad duration":   "interval = \"soon\"\n",
		"negative wait":  "settle_delay = \"-1s\"\n",
		"empty proxy":    "[proxy]\nbin = \" \"\n",
		"malformed toml": "port = = 1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolveDataDir_Override(t *testing.T) {
	want := filepath.Join(t.TempDir(), "data")
	got, err := ResolveDataDir(context.Background(), want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	fi, err := os.Stat(got)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	assert.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
}

func TestResolveDataDir_OutsideRepository(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("HOME", home)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	got, err := ResolveDataDir(context.Background(), "")
	require.NoError(t, err)
	if top := gitTopLevel(context.Background()); top != "" {
		assert.Equal(t, filepath.Join(top, ProjectDirName), got)
		return
	}
	base, err := os.UserConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, UserDirName), got)
}
