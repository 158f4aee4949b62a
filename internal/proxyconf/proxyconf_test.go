package proxyconf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(port int) Params {
	return Params{ExternalPort: port, ServicePort: 8080, CertPath: "/data/certs/cert.pem", KeyPath: "/data/certs/key.pem"}
}

func TestRender(t *testing.T) {
	b, err := Render(params(8443))
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "https://:8443 {")
	assert.Contains(t, out, `tls "/data/certs/cert.pem" "/data/certs/key.pem"`)
	assert.Contains(t, out, "reverse_proxy 127.0.0.1:8080")
	assert.Contains(t, out, "admin off")
}

func TestRender_Invalid(t *testing.T) {
	for name, p := range map[string]Params{
		"zero port":    {ServicePort: 8080, CertPath: "c", KeyPath: "k"},
		"same port":    {ExternalPort: 8080, ServicePort: 8080, CertPath: "c", KeyPath: "k"},
		"missing cert": {ExternalPort: 8443, ServicePort: 8080},
		"port range":   {ExternalPort: 70000, ServicePort: 8080, CertPath: "c", KeyPath: "k"},
	} {
		_, err := Render(p)
		assert.Error(t, err, name)
	}
}

func TestWrite_RegeneratesForNewPort(t *testing.T) {
	dir := t.TempDir()

	path, err := Write(dir, params(8443))
	require.NoError(t, err)
	assert.Equal(t, Path(dir), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), ":8443")

	_, err = Write(dir, params(9443))
	require.NoError(t, err)
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), ":9443")
	assert.NotContains(t, string(b), ":8443")

	require.NoError(t, Remove(dir))
	require.NoError(t, Remove(dir))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
