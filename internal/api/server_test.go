package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/fastvm/internal/console"
	"evalgo.org/fastvm/internal/engine"
	"evalgo.org/fastvm/internal/engine/enginetest"
	"evalgo.org/fastvm/internal/integrity"
	"evalgo.org/fastvm/models"
)

type testAPI struct {
	srv *httptest.Server
	eng *engine.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := enginetest.Config(t, 48330)
	cfg.Security.RateLimit = 0

	eng, err := engine.New(cfg, engine.Deps{
		Launcher: enginetest.NewLauncher(),
		Host:     enginetest.Host{},
		Images:   enginetest.Images{},
		Source:   enginetest.Source{},
	})
	require.NoError(t, err)
	eng.Start(context.Background())

	srv := httptest.NewServer(New(cfg, eng))
	t.Cleanup(func() {
		srv.Close()
		assert.NoError(t, eng.Close(context.Background()))
	})
	return &testAPI{srv: srv, eng: eng}
}

// do sends a JSON request and decodes the response into out when out is
// not nil.
func (a *testAPI) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) createVM(t *testing.T, name string) *models.VM {
	t.Helper()
	var vm models.VM
	code := a.do(t, http.MethodPost, "/api/v1/vms", map[string]interface{}{
		"name":     name,
		"networks": []map[string]interface{}{{"type": "nat"}},
	}, &vm)
	require.Equal(t, http.StatusCreated, code)
	return &vm
}

func (a *testAPI) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(a.srv.URL, "http") + path
}

func TestVMLifecycle(t *testing.T) {
	a := newTestAPI(t)

	vm := a.createVM(t, "web")
	assert.Equal(t, models.StatusStopped, vm.Status)
	assert.Equal(t, 2048, vm.MemoryMB)

	var got models.VM
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/vms/"+vm.ID, nil, &got))
	assert.Equal(t, vm.ID, got.ID)

	var running models.VM
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/vms/"+vm.ID+"/start", nil, &running))
	assert.Equal(t, models.StatusRunning, running.Status)
	require.NotNil(t, running.Runtime)

	var apiErr APIError
	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, "/api/v1/vms/"+vm.ID+"/start", nil, &apiErr))
	assert.Equal(t, "conflict", apiErr.Kind)

	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodDelete, "/api/v1/vms/"+vm.ID, nil, nil))

	var list VMsResponse
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/vms?status=running", nil, &list))
	assert.Equal(t, 1, list.Total)

	var stopped models.VM
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/vms/"+vm.ID+"/stop", nil, &stopped))
	assert.Equal(t, models.StatusStopped, stopped.Status)
	assert.Nil(t, stopped.Runtime)

	list = VMsResponse{}
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/vms?status=running", nil, &list))
	assert.Equal(t, 0, list.Total)
	assert.NotNil(t, list.VMs)

	var msg MessageResponse
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, "/api/v1/vms/"+vm.ID, nil, &msg))
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/v1/vms/"+vm.ID, nil, nil))
}

func TestCreateVMValidation(t *testing.T) {
	a := newTestAPI(t)

	var apiErr APIError
	code := a.do(t, http.MethodPost, "/api/v1/vms", map[string]interface{}{
		"name":   "",
		"memory": 64,
	}, &apiErr)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", apiErr.Kind)
	assert.Contains(t, apiErr.FieldError, "name")
	assert.Contains(t, apiErr.FieldError, "memory")

	a.createVM(t, "dup")
	apiErr = APIError{}
	code = a.do(t, http.MethodPost, "/api/v1/vms", map[string]interface{}{"name": "dup"}, &apiErr)
	assert.Equal(t, http.StatusConflict, code)
}

func TestVMNotFound(t *testing.T) {
	a := newTestAPI(t)

	var apiErr APIError
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/api/v1/vms/missing-id/start", nil, &apiErr))
	assert.Equal(t, "not_found", apiErr.Kind)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/api/v1/vms/missing-id/snapshots/x/restore", nil, nil))
}

func TestVolumeRoutes(t *testing.T) {
	a := newTestAPI(t)
	vm := a.createVM(t, "db")

	var vol models.Volume
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/v1/volumes", map[string]interface{}{
		"name":    "data",
		"size_gb": 10,
	}, &vol))
	assert.Equal(t, models.FormatQcow2, vol.Format)

	var attached models.VM
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/vms/"+vm.ID+"/volumes/"+vol.ID, nil, &attached))
	assert.Contains(t, attached.Volumes, vol.ID)

	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodDelete, "/api/v1/volumes/"+vol.ID, nil, nil))

	var volumes VolumesResponse
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/volumes", nil, &volumes))
	assert.Equal(t, 1, volumes.Total)

	// reclaiming volumes deletes the attached volume with the VM
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, "/api/v1/vms/"+vm.ID+"?reclaim_volumes=true", nil, nil))
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/v1/volumes/"+vol.ID, nil, nil))
}

func TestSnapshotRoutes(t *testing.T) {
	a := newTestAPI(t)
	vm := a.createVM(t, "snap")

	var snap models.Snapshot
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/v1/vms/"+vm.ID+"/snapshots", map[string]interface{}{
		"name": "base",
	}, &snap))

	var snaps SnapshotsResponse
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/vms/"+vm.ID+"/snapshots", nil, &snaps))
	assert.Equal(t, 1, snaps.Count)

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/vms/"+vm.ID+"/snapshots/"+snap.ID+"/restore", nil, nil))
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, "/api/v1/vms/"+vm.ID+"/snapshots/"+snap.ID, nil, nil))
}

func TestConsoleWebSocket(t *testing.T) {
	a := newTestAPI(t)
	vm := a.createVM(t, "desk")

	// a stopped VM is refused before the upgrade
	d := websocket.Dialer{Subprotocols: []string{console.Subprotocol}}
	_, resp, err := d.Dial(a.wsURL(engine.ConsolePath(vm.ID)), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/vms/"+vm.ID+"/start", nil, nil))

	var info engine.ConsoleInfo
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/vms/"+vm.ID+"/console", nil, &info))
	assert.Equal(t, engine.ConsolePath(vm.ID), info.Path)

	ws, resp, err := d.Dial(a.wsURL(info.Path), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer ws.Close()
	assert.Equal(t, console.Subprotocol, ws.Subprotocol())

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, enginetest.Greeting, string(data))

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("ping")))
	_, data, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(data))

	var disc DisconnectResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/vms/"+vm.ID+"/console/disconnect", nil, &disc))
	assert.Equal(t, 1, disc.Disconnected)

	_, _, err = ws.ReadMessage()
	assert.Error(t, err)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodDelete, "/api/v1/console/sessions/no-such-session", nil, nil))
}

func TestMetricsWebSocket(t *testing.T) {
	a := newTestAPI(t)

	ws, resp, err := websocket.DefaultDialer.Dial(a.wsURL("/ws/metrics"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer ws.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool {
		body := a.scrape(t)
		return strings.Contains(body, "fastvm_telemetry_subscribers 1")
	}, 2*time.Second, 20*time.Millisecond)
}

func (a *testAPI) scrape(t *testing.T) string {
	t.Helper()
	resp, err := http.Get(a.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestSwaggerDocs(t *testing.T) {
	a := newTestAPI(t)

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/docs/index.html", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	page, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(page), "swagger")

	var doc struct {
		Info  map[string]interface{}            `json:"info"`
		Paths map[string]map[string]interface{} `json:"paths"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/docs/doc.json", nil, &doc))
	assert.Equal(t, "fastvm API", doc.Info["title"])
	assert.Contains(t, doc.Paths, "/api/v1/vms")
	assert.Contains(t, doc.Paths["/api/v1/vms/{id}"], "delete")
	assert.Contains(t, doc.Paths, "/ws/console/{id}")
	assert.Contains(t, doc.Paths, "/api/v1/integrity/repair")
}

func TestPrometheusEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.createVM(t, "one")

	body := a.scrape(t)
	assert.Contains(t, body, `fastvm_vms{status="stopped"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestHealthAndHost(t *testing.T) {
	a := newTestAPI(t)

	var health map[string]interface{}
	code := a.do(t, http.MethodGet, "/health", nil, &health)
	// /dev/kvm may be missing on the test host
	assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, code)
	assert.Equal(t, "fastvm", health["service"])
	assert.Contains(t, health, "checks")

	var bridges InterfacesResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/host/bridges", nil, &bridges))
	require.Equal(t, 1, bridges.Count)
	assert.Equal(t, "br0", bridges.Interfaces[0].Name)

	var ifaces InterfacesResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/host/interfaces", nil, &ifaces))
	require.Equal(t, 1, ifaces.Count)
	assert.Equal(t, "eth0", ifaces.Interfaces[0].Name)
}

func TestSystemMetrics(t *testing.T) {
	a := newTestAPI(t)

	var snap models.HostSnapshot
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/system/metrics", nil, &snap))
	assert.Equal(t, 4, snap.CPUCount)

	var history models.MetricsHistory
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/metrics/history", nil, &history))

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/api/v1/metrics/history/extended?hours=-1", nil, nil))
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/metrics/history/extended?hours=48", nil, nil))
}

func TestIntegrityRoutes(t *testing.T) {
	a := newTestAPI(t)
	a.createVM(t, "clean")

	var report integrity.ScanReport
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/integrity/scan", nil, &report))
	assert.Equal(t, 0, report.Summary.TotalIssues)
	assert.Equal(t, 1, report.ResourcesScanned)

	var repair IntegrityRepairResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/integrity/repair?dry_run=true", nil, &repair))
	require.NotNil(t, repair.Repair)
	assert.True(t, repair.Repair.DryRun)
	assert.Empty(t, repair.Repair.Removed)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/v1/integrity/repair?dry_run=maybe", nil, nil))

	var jobs MaintenanceJobsResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/v1/maintenance/jobs", nil, &jobs))
	require.Equal(t, 1, jobs.Count)
	assert.Equal(t, "integrity-scan", jobs.Jobs[0].Name)
}
