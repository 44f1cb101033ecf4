package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordScanCycle(t *testing.T) {
	m := NewMetrics("test")

	m.RecordScanCycle(false, 120*time.Microsecond)
	m.RecordScanCycle(true, 80*time.Microsecond)
	m.RecordWatchdogTrip()

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.ScanCycles)
	assert.Equal(t, int64(1), snap.ScanFaultedCycles)
	assert.Equal(t, int64(1), snap.WatchdogTrips)
}

func TestRecordDeployment(t *testing.T) {
	m := NewMetrics("test")

	m.IncrementActiveDeploys()
	m.RecordDeployment("staging", true, 3*time.Second)
	m.DecrementActiveDeploys()
	m.RecordDeployment("production", false, time.Second)
	m.RecordRollback()

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.DeploysTotal)
	assert.Equal(t, int64(1), snap.DeploysSuccessful)
	assert.Equal(t, int64(1), snap.DeploysFailed)
	assert.Equal(t, int64(1), snap.DeploysRolledBack)
	assert.Equal(t, int64(0), snap.ActiveDeploys)
	assert.Equal(t, int64(1), snap.DeploysByEnv["staging"])
	assert.Equal(t, int64(1), snap.DeploysByEnv["production"])
	assert.Equal(t, int64(0), snap.DeploysByEnv["dev"])
}

func TestRecordDeployment_UnknownEnvironment(t *testing.T) {
	m := NewMetrics("test")

	m.RecordDeployment("qa", true, time.Second)
	m.RecordDeployment("qa", true, time.Second)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.DeploysByEnv["qa"])
}

func TestFaultAndEventMetrics(t *testing.T) {
	m := NewMetrics("test")

	m.RecordFaultInjected("VALUE_DRIFT")
	m.RecordFaultInjected("VALUE_DRIFT")
	m.RecordFaultInjected("LOCK_VALUE")
	m.SetActiveFaults(2)
	m.SetSubscribers(3)
	m.RecordEventPublished()
	m.RecordEventDropped()

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.FaultsInjected["VALUE_DRIFT"])
	assert.Equal(t, int64(1), snap.FaultsInjected["LOCK_VALUE"])
	assert.Equal(t, int64(2), snap.FaultsActive)
	assert.Equal(t, int64(3), snap.Subscribers)
	assert.Equal(t, int64(1), snap.EventsPublished)
	assert.Equal(t, int64(1), snap.EventsDropped)
}

func TestHandler_PrometheusFormat(t *testing.T) {
	m := NewMetrics("1.2.3")
	m.RecordScanCycle(false, 100*time.Microsecond)
	m.RecordDeployment("staging", true, time.Second)
	m.RecordFaultInjected("FORCE_IO_ERROR")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Equal(t, "text/plain; version=0.0.4; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, out, `pandaura_info{version="1.2.3"} 1`)
	assert.Contains(t, out, "pandaura_scan_cycles_total 1")
	assert.Contains(t, out, `pandaura_deployments_by_environment_total{environment="staging"} 1`)
	assert.Contains(t, out, `pandaura_faults_injected_total{kind="FORCE_IO_ERROR"} 1`)
	assert.Contains(t, out, "# TYPE pandaura_scan_duration_microseconds summary")
	assert.Contains(t, out, "pandaura_uptime_seconds")
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	m := NewMetrics("test")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordScanCycle(j%10 == 0, 50*time.Microsecond)
				m.RecordFaultInjected("VALUE_DRIFT")
				m.RecordDeployment("dev", true, time.Millisecond)
				m.RecordEventPublished()
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(800), snap.ScanCycles)
	assert.Equal(t, int64(800), snap.FaultsInjected["VALUE_DRIFT"])
	assert.Equal(t, int64(800), snap.DeploysByEnv["dev"])
	assert.Equal(t, int64(800), snap.EventsPublished)
}

func TestGlobalMetrics(t *testing.T) {
	m1 := Global()
	m2 := Global()
	assert.Same(t, m1, m2)
}
