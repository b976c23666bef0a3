package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/fastvm/models"
)

func gauge(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestCollectorExposesLatestFrame(t *testing.T) {
	stopped := &models.VM{ID: "s", Name: "idle", Status: models.StatusStopped}
	vms := &fakeVMs{vms: []*models.VM{runningVM("a")}}
	catalog := &fakeVMs{vms: []*models.VM{runningVM("a"), stopped}}

	p := New(newFakeSource(), vms, NewHub(3), nil, Options{})
	c := NewCollector(p, catalog, func() int { return 2 })

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	// nothing sampled yet: only engine gauges
	assert.Zero(t, testutil.CollectAndCount(c, "fastvm_host_cpu_percent"))
	assert.Equal(t, 2.0, gauge(t, reg, "fastvm_console_sessions", nil))

	_, err := p.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, gauge(t, reg, "fastvm_host_cpu_percent", nil))
	assert.Equal(t, 512.0, gauge(t, reg, "fastvm_vm_memory_used_mb", map[string]string{"vm_id": "a", "name": "vm-a"}))
	assert.Equal(t, 1.0, gauge(t, reg, "fastvm_vms", map[string]string{"status": "running"}))
	assert.Equal(t, 1.0, gauge(t, reg, "fastvm_vms", map[string]string{"status": "stopped"}))
	assert.Equal(t, 0.0, gauge(t, reg, "fastvm_telemetry_subscribers", nil))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "fastvm_vm_cpu_percent"))
}
