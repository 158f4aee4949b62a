package tls

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsure_GeneratesOnceAndReuses(t *testing.T) {
	dir := t.TempDir()
	hosts := Hosts{
		DNSNames: []string{"localhost", "devbox"},
		IPs:      []net.IP{net.IPv4(127, 0, 0, 1), net.IPv4(192, 168, 1, 20)},
	}

	p, created, err := Ensure(dir, hosts)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, p.Exists())

	cert, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "devbox", cert.Subject.CommonName)
	assert.ElementsMatch(t, []string{"localhost", "devbox"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 2)
	assert.True(t, cert.IPAddresses[1].Equal(net.IPv4(192, 168, 1, 20)))
	assert.True(t, cert.NotAfter.After(time.Now().Add(365*24*time.Hour)))
	require.NoError(t, cert.VerifyHostname("devbox"))

	keyInfo, err := os.Stat(p.KeyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), keyInfo.Mode().Perm())

	before, err := os.ReadFile(p.CertPath)
	require.NoError(t, err)
	p2, created, err := Ensure(dir, Hosts{DNSNames: []string{"localhost", "other"}})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p, p2)
	after, err := os.ReadFile(p.CertPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "existing pair must be reused")
}

func TestEnsure_RegeneratesWhenKeyMissing(t *testing.T) {
	dir := t.TempDir()
	p, _, err := Ensure(dir, DetectHosts())
	require.NoError(t, err)
	require.NoError(t, os.Remove(p.KeyPath))

	_, created, err := Ensure(dir, DetectHosts())
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDetectHosts(t *testing.T) {
	h := DetectHosts()
	require.NotEmpty(t, h.DNSNames)
	assert.Equal(t, "localhost", h.DNSNames[0])
	assert.Contains(t, h.IPStrings(), "127.0.0.1")
	assert.NotContains(t, h.Addresses(), "127.0.0.1")
	assert.Contains(t, h.Addresses(), "localhost")
	if ip := LANAddress(); ip != nil {
		assert.True(t, ip.IsPrivate())
	}
}

func TestHosts_CommonName(t *testing.T) {
	assert.Equal(t, "localhost", Hosts{DNSNames: []string{"localhost"}}.CommonName())
	assert.Equal(t, "box", Hosts{DNSNames: []string{"localhost", "box"}}.CommonName())
}
