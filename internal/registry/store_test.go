//go:build !windows

package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/shieldserve/internal/process"
)

func TestRecord_RoundTripAndAccessors(t *testing.T) {
	r := Record{ServicePID: 10, ProxyPID: 20, MonitorPID: 30}
	assert.Equal(t, "10 20 30", r.String())

	got, err := ParseRecord("10 20 30\n")
	require.NoError(t, err)
	assert.Equal(t, r, got)

	assert.Equal(t, 20, r.PID(process.RoleProxy))
	r2 := r.WithPID(process.RoleService, 11)
	assert.Equal(t, 11, r2.ServicePID)
	assert.Equal(t, 10, r.ServicePID, "WithPID must not mutate the receiver")
	assert.Equal(t, 30, r2.MonitorPID)
}

func TestParseRecord_Invalid(t *testing.T) {
	for _, in := range []string{"", "1 2", "1 2 3 4", "a b c", "1 -2 3", "0 1 2"} {
		_, err := ParseRecord(in)
		assert.ErrorIs(t, err, ErrInvalidRecord, "input %q", in)
	}
}

func TestStore_RecordLifecycle(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.Read()
	require.ErrorIs(t, err, ErrNoRecord)
	assert.Equal(t, Absent, s.State())

	rec := Record{ServicePID: 101, ProxyPID: 102, MonitorPID: 103}
	require.NoError(t, s.Write(rec))
	b, err := os.ReadFile(s.RecordPath())
	require.NoError(t, err)
	assert.Equal(t, "101 102 103\n", string(b))

	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, Active, s.State())

	require.NoError(t, s.Remove())
	require.NoError(t, s.Remove(), "removing twice is not an error")
	assert.Equal(t, Absent, s.State())

	// No temp files are left behind by atomic writes.
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".server.pid.")
	}
}

func TestStore_SentinelOverridesRecord(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested"))
	require.NoError(t, s.Write(Record{ServicePID: 1, ProxyPID: 2, MonitorPID: 3}))

	require.False(t, s.StopRequested())
	require.NoError(t, s.RequestStop())
	assert.True(t, s.StopRequested())
	assert.Equal(t, StopRequested, s.State())

	require.NoError(t, s.ClearStop())
	require.NoError(t, s.ClearStop())
	assert.Equal(t, Active, s.State())
}

func TestStore_Manifest(t *testing.T) {
	s := New(t.TempDir())
	m := Manifest{
		SessionID: "abc",
		Interval:  5 * time.Second,
		Service:   process.Spec{Role: process.RoleService, Path: "/usr/bin/code-server", Args: []string{"--bind-addr", "127.0.0.1:8080"}},
		Proxy:     process.Spec{Role: process.RoleProxy, Path: "/usr/bin/caddy", Args: []string{"run"}},
	}
	m.SetStart(process.RoleService, 1700000000)
	require.NoError(t, s.WriteManifest(m))

	got, err := s.ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, m.SessionID, got.SessionID)
	assert.Equal(t, int64(1700000000), got.StartOf(process.RoleService))
	assert.Zero(t, got.StartOf(process.RoleProxy))

	shared := got
	got.SetStart(process.RoleProxy, 1700000005)
	assert.Zero(t, shared.StartOf(process.RoleProxy), "SetStart does not alias copies")
	assert.Equal(t, m.Service, got.Service)
	spec, ok := got.Spec(process.RoleProxy)
	assert.True(t, ok)
	assert.Equal(t, m.Proxy, spec)
	_, ok = got.Spec(process.RoleMonitor)
	assert.False(t, ok)

	fi, err := os.Stat(s.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	require.NoError(t, s.RemoveManifest())
	_, err = s.ReadManifest()
	assert.Error(t, err)
}

func TestStore_LockIsExclusive(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	first, err := s.Lock(ctx)
	require.NoError(t, err)

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		second, err := s.Lock(ctx)
		if err != nil {
			return
		}
		acquired.Store(true)
		second.Unlock()
	}()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, acquired.Load(), "second lock acquired while first is held")
	first.Unlock()
	first.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock never acquired")
	}
	assert.True(t, acquired.Load())
}

func TestStore_LockHonorsContext(t *testing.T) {
	s := New(t.TempDir())
	held, err := s.Lock(context.Background())
	require.NoError(t, err)
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
