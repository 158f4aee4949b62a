package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_CountsAndFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	r := New(path)

	r.Tick()
	r.Tick()
	r.Relaunched("service")
	r.RelaunchFailed("proxy")
	r.Observe("service", os.Getpid(), true)
	r.Observe("proxy", 0, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.relaunches.WithLabelValues("service")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.relaunchFailures.WithLabelValues("proxy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.up.WithLabelValues("service")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.up.WithLabelValues("proxy")))
	assert.Greater(t, testutil.ToFloat64(r.rss.WithLabelValues("service")), 0.0)

	require.NoError(t, r.Flush())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "shieldserve_watchdog_ticks_total 2")
	assert.Contains(t, out, `shieldserve_watchdog_relaunches_total{role="service"} 1`)
	assert.Contains(t, out, `shieldserve_process_up{role="proxy"} 0`)
}

func TestRecorder_NilAndPathless(t *testing.T) {
	var r *Recorder
	r.Tick()
	r.Relaunched("service")
	r.RelaunchFailed("service")
	r.Observe("service", 1, true)
	assert.NoError(t, r.Flush())
	assert.NotNil(t, r.Gatherer())

	assert.NoError(t, New("").Flush())
}
