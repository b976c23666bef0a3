package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/fastvm/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "history", "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func frameAt(ts time.Time, cpu float64, vmIDs ...string) models.MetricsFrame {
	f := models.MetricsFrame{
		Type: FrameType,
		Host: models.MetricSample{Timestamp: ts, Scope: models.HostScope, CPUPercent: cpu},
		VMs:  map[string]models.MetricSample{},
	}
	for _, id := range vmIDs {
		f.VMs[id] = models.MetricSample{Timestamp: ts, Scope: id, CPUPercent: cpu}
	}
	return f
}

func TestStoreRange(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Ping())
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.Append(frameAt(base, 1, "a")))
	require.NoError(t, s.Append(frameAt(base.Add(time.Minute), 2, "a", "b")))
	require.NoError(t, s.Append(frameAt(base.Add(2*time.Minute), 3, "b")))

	all, err := s.Range(base.Add(-time.Second), "")
	require.NoError(t, err)
	require.Len(t, all.Host, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{all.Host[0].CPUPercent, all.Host[1].CPUPercent, all.Host[2].CPUPercent})
	assert.Len(t, all.VMs["a"], 2)
	assert.Len(t, all.VMs["b"], 2)

	recent, err := s.Range(base.Add(30*time.Second), "b")
	require.NoError(t, err)
	assert.Len(t, recent.Host, 2)
	assert.Len(t, recent.VMs, 1)
	assert.Len(t, recent.VMs["b"], 2)

	none, err := s.Range(base, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none.VMs)
}

func TestStoreCleanup(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Append(frameAt(now.Add(-48*time.Hour), 1, "old")))
	require.NoError(t, s.Append(frameAt(now.Add(-time.Hour), 2, "new")))

	n, err := s.Cleanup(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	h, err := s.Range(now.Add(-72*time.Hour), "")
	require.NoError(t, err)
	require.Len(t, h.Host, 1)
	assert.Equal(t, 2.0, h.Host[0].CPUPercent)
	assert.NotContains(t, h.VMs, "old")
	assert.Contains(t, h.VMs, "new")

	require.NoError(t, s.DeleteVM("new"))
	require.NoError(t, s.DeleteVM("new"))
	h, err = s.Range(now.Add(-72*time.Hour), "")
	require.NoError(t, err)
	assert.Empty(t, h.VMs)
}
