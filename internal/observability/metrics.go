// Package observability provides metrics collection for Pandaura.
package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects runtime and deployment metrics.
// Handler exposes them in Prometheus text format.
type Metrics struct {
	mu sync.RWMutex

	// Scan engine
	scanCyclesTotal  atomic.Int64
	scanFaultsTotal  atomic.Int64
	watchdogTrips    atomic.Int64
	scanLatencyCount atomic.Int64
	scanLatencySum   atomic.Int64

	// Deployments
	deploysTotal       atomic.Int64
	deploysSuccessful  atomic.Int64
	deploysFailed      atomic.Int64
	deploysRolledBack  atomic.Int64
	activeDeploys      atomic.Int64
	deployLatencyCount atomic.Int64
	deployLatencySum   atomic.Int64
	deploysByEnv       map[string]*atomic.Int64

	// Fault injection
	faultsInjected map[string]*atomic.Int64
	faultsActive   atomic.Int64

	// Event stream
	subscribers     atomic.Int64
	eventsPublished atomic.Int64
	eventsDropped   atomic.Int64

	version   string
	startTime time.Time
}

// knownEnvironments and knownFaultKinds pre-initialize the labeled counters,
// avoiding lock contention on the hot path.
var (
	knownEnvironments = []string{"dev", "staging", "production"}
	knownFaultKinds   = []string{"VALUE_DRIFT", "LOCK_VALUE", "FORCE_IO_ERROR"}
)

// NewMetrics creates a new Metrics instance.
func NewMetrics(version string) *Metrics {
	deploysByEnv := make(map[string]*atomic.Int64, len(knownEnvironments))
	for _, env := range knownEnvironments {
		deploysByEnv[env] = &atomic.Int64{}
	}
	faultsInjected := make(map[string]*atomic.Int64, len(knownFaultKinds))
	for _, kind := range knownFaultKinds {
		faultsInjected[kind] = &atomic.Int64{}
	}

	return &Metrics{
		deploysByEnv:   deploysByEnv,
		faultsInjected: faultsInjected,
		version:        version,
		startTime:      time.Now(),
	}
}

// RecordScanCycle records one engine cycle.
func (m *Metrics) RecordScanCycle(faulted bool, duration time.Duration) {
	m.scanCyclesTotal.Add(1)
	if faulted {
		m.scanFaultsTotal.Add(1)
	}
	m.scanLatencyCount.Add(1)
	m.scanLatencySum.Add(duration.Microseconds())
}

// RecordWatchdogTrip records a cycle that exceeded the watchdog budget.
func (m *Metrics) RecordWatchdogTrip() {
	m.watchdogTrips.Add(1)
}

// RecordDeployment records a finished deployment rollout.
func (m *Metrics) RecordDeployment(environment string, success bool, duration time.Duration) {
	m.deploysTotal.Add(1)
	if success {
		m.deploysSuccessful.Add(1)
	} else {
		m.deploysFailed.Add(1)
	}
	m.deployLatencyCount.Add(1)
	m.deployLatencySum.Add(duration.Milliseconds())
	m.labeled(&m.deploysByEnv, environment).Add(1)
}

// RecordRollback records a rollback, automatic or manual.
func (m *Metrics) RecordRollback() {
	m.deploysRolledBack.Add(1)
}

// IncrementActiveDeploys marks a rollout as started.
func (m *Metrics) IncrementActiveDeploys() {
	m.activeDeploys.Add(1)
}

// DecrementActiveDeploys marks a rollout as finished.
func (m *Metrics) DecrementActiveDeploys() {
	m.activeDeploys.Add(-1)
}

// RecordFaultInjected records one fault injection by kind.
func (m *Metrics) RecordFaultInjected(kind string) {
	m.labeled(&m.faultsInjected, kind).Add(1)
}

// SetActiveFaults sets the current active fault count.
func (m *Metrics) SetActiveFaults(count int64) {
	m.faultsActive.Store(count)
}

// SetSubscribers sets the current event stream subscriber count.
func (m *Metrics) SetSubscribers(count int64) {
	m.subscribers.Store(count)
}

// RecordEventPublished records one event delivered to the stream.
func (m *Metrics) RecordEventPublished() {
	m.eventsPublished.Add(1)
}

// RecordEventDropped records an event lost to a saturated stream.
func (m *Metrics) RecordEventDropped() {
	m.eventsDropped.Add(1)
}

// labeled returns the counter for a label, initializing unknown labels under
// the write lock. Known labels never contend.
func (m *Metrics) labeled(set *map[string]*atomic.Int64, label string) *atomic.Int64 {
	m.mu.RLock()
	counter := (*set)[label]
	m.mu.RUnlock()
	if counter != nil {
		return counter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if (*set)[label] == nil {
		(*set)[label] = &atomic.Int64{}
	}
	return (*set)[label]
}

// Handler returns an HTTP handler serving Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(m.render()))
	})
}

func (m *Metrics) render() string {
	var sb strings.Builder

	sb.WriteString("# HELP pandaura_info Build information\n")
	sb.WriteString("# TYPE pandaura_info gauge\n")
	sb.WriteString(fmt.Sprintf("pandaura_info{version=%q} 1\n\n", m.version))

	uptime := time.Since(m.startTime).Seconds()
	sb.WriteString("# HELP pandaura_uptime_seconds Uptime in seconds\n")
	sb.WriteString("# TYPE pandaura_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("pandaura_uptime_seconds %.2f\n\n", uptime))

	sb.WriteString("# HELP pandaura_scan_cycles_total Total scan cycles executed\n")
	sb.WriteString("# TYPE pandaura_scan_cycles_total counter\n")
	sb.WriteString(fmt.Sprintf("pandaura_scan_cycles_total %d\n\n", m.scanCyclesTotal.Load()))

	sb.WriteString("# HELP pandaura_scan_faulted_cycles_total Cycles that ended with a runtime error\n")
	sb.WriteString("# TYPE pandaura_scan_faulted_cycles_total counter\n")
	sb.WriteString(fmt.Sprintf("pandaura_scan_faulted_cycles_total %d\n\n", m.scanFaultsTotal.Load()))

	sb.WriteString("# HELP pandaura_watchdog_trips_total Cycles that exceeded the watchdog budget\n")
	sb.WriteString("# TYPE pandaura_watchdog_trips_total counter\n")
	sb.WriteString(fmt.Sprintf("pandaura_watchdog_trips_total %d\n\n", m.watchdogTrips.Load()))

	sb.WriteString("# HELP pandaura_scan_duration_microseconds Scan cycle compute duration\n")
	sb.WriteString("# TYPE pandaura_scan_duration_microseconds summary\n")
	sb.WriteString(fmt.Sprintf("pandaura_scan_duration_microseconds_count %d\n", m.scanLatencyCount.Load()))
	sb.WriteString(fmt.Sprintf("pandaura_scan_duration_microseconds_sum %d\n\n", m.scanLatencySum.Load()))

	sb.WriteString("# HELP pandaura_deployments_total Total deployments attempted\n")
	sb.WriteString("# TYPE pandaura_deployments_total counter\n")
	sb.WriteString(fmt.Sprintf("pandaura_deployments_total %d\n\n", m.deploysTotal.Load()))

	sb.WriteString("# HELP pandaura_deployments_successful_total Successful deployments\n")
	sb.WriteString("# TYPE pandaura_deployments_successful_total counter\n")
	sb.WriteString(fmt.Sprintf("pandaura_deployments_successful_total %d\n\n", m.deploysSuccessful.Load()))

	sb.WriteString("# HELP pandaura_deployments_failed_total Failed deployments\n")
	sb.WriteString("# TYPE pandaura_deployments_failed_total counter\n")
	sb.WriteString(fmt.Sprintf("pandaura_deployments_failed_total %d\n\n", m.deploysFailed.Load()))

	sb.WriteString("# HELP pandaura_deployments_rolled_back_total Deployments rolled back\n")
	sb.WriteString("# TYPE pandaura_deployments_rolled_back_total counter\n")
	sb.WriteString(fmt.Sprintf("pandaura_deployments_rolled_back_total %d\n\n", m.deploysRolledBack.Load()))

	sb.WriteString("# HELP pandaura_active_deployments Deployments currently rolling out\n")
	sb.WriteString("# TYPE pandaura_active_deployments gauge\n")
	sb.WriteString(fmt.Sprintf("pandaura_active_deployments %d\n\n", m.activeDeploys.Load()))

	sb.WriteString("# HELP pandaura_deployment_duration_milliseconds Deployment rollout duration\n")
	sb.WriteString("# TYPE pandaura_deployment_duration_milliseconds summary\n")
	sb.WriteString(fmt.Sprintf("pandaura_deployment_duration_milliseconds_count %d\n", m.deployLatencyCount.Load()))
	sb.WriteString(fmt.Sprintf("pandaura_deployment_duration_milliseconds_sum %d\n\n", m.deployLatencySum.Load()))

	sb.WriteString("# HELP pandaura_deployments_by_environment_total Deployments by environment\n")
	sb.WriteString("# TYPE pandaura_deployments_by_environment_total counter\n")
	m.writeLabeled(&sb, "pandaura_deployments_by_environment_total", "environment", m.deploysByEnv)
	sb.WriteString("\n")

	sb.WriteString("# HELP pandaura_faults_injected_total Fault injections by kind\n")
	sb.WriteString("# TYPE pandaura_faults_injected_total counter\n")
	m.writeLabeled(&sb, "pandaura_faults_injected_total", "kind", m.faultsInjected)
	sb.WriteString("\n")

	sb.WriteString("# HELP pandaura_faults_active Currently active injected faults\n")
	sb.WriteString("# TYPE pandaura_faults_active gauge\n")
	sb.WriteString(fmt.Sprintf("pandaura_faults_active %d\n\n", m.faultsActive.Load()))

	sb.WriteString("# HELP pandaura_event_subscribers Connected event stream subscribers\n")
	sb.WriteString("# TYPE pandaura_event_subscribers gauge\n")
	sb.WriteString(fmt.Sprintf("pandaura_event_subscribers %d\n\n", m.subscribers.Load()))

	sb.WriteString("# HELP pandaura_events_published_total Events delivered to the stream\n")
	sb.WriteString("# TYPE pandaura_events_published_total counter\n")
	sb.WriteString(fmt.Sprintf("pandaura_events_published_total %d\n\n", m.eventsPublished.Load()))

	sb.WriteString("# HELP pandaura_events_dropped_total Events lost to a saturated stream\n")
	sb.WriteString("# TYPE pandaura_events_dropped_total counter\n")
	sb.WriteString(fmt.Sprintf("pandaura_events_dropped_total %d\n", m.eventsDropped.Load()))

	return sb.String()
}

func (m *Metrics) writeLabeled(sb *strings.Builder, name, label string, set map[string]*atomic.Int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("%s{%s=%q} %d\n", name, label, k, set[k].Load()))
	}
}

// Snapshot returns a point-in-time view of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deploysByEnv := make(map[string]int64, len(m.deploysByEnv))
	for env, count := range m.deploysByEnv {
		deploysByEnv[env] = count.Load()
	}
	faultsInjected := make(map[string]int64, len(m.faultsInjected))
	for kind, count := range m.faultsInjected {
		faultsInjected[kind] = count.Load()
	}

	return MetricsSnapshot{
		ScanCycles:        m.scanCyclesTotal.Load(),
		ScanFaultedCycles: m.scanFaultsTotal.Load(),
		WatchdogTrips:     m.watchdogTrips.Load(),
		DeploysTotal:      m.deploysTotal.Load(),
		DeploysSuccessful: m.deploysSuccessful.Load(),
		DeploysFailed:     m.deploysFailed.Load(),
		DeploysRolledBack: m.deploysRolledBack.Load(),
		ActiveDeploys:     m.activeDeploys.Load(),
		DeploysByEnv:      deploysByEnv,
		FaultsInjected:    faultsInjected,
		FaultsActive:      m.faultsActive.Load(),
		Subscribers:       m.subscribers.Load(),
		EventsPublished:   m.eventsPublished.Load(),
		EventsDropped:     m.eventsDropped.Load(),
		Uptime:            time.Since(m.startTime),
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	ScanCycles        int64
	ScanFaultedCycles int64
	WatchdogTrips     int64
	DeploysTotal      int64
	DeploysSuccessful int64
	DeploysFailed     int64
	DeploysRolledBack int64
	ActiveDeploys     int64
	DeploysByEnv      map[string]int64
	FaultsInjected    map[string]int64
	FaultsActive      int64
	Subscribers       int64
	EventsPublished   int64
	EventsDropped     int64
	Uptime            time.Duration
}

// Global metrics instance with separate sync.Once for initialization control.
var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
	initOnce          sync.Once
	initialized       bool
)

// Global returns the global metrics instance. If InitGlobal has not been
// called, it initializes with an "unknown" version.
func Global() *Metrics {
	globalMetricsOnce.Do(func() {
		if !initialized {
			globalMetrics = NewMetrics("unknown")
		}
	})
	return globalMetrics
}

// InitGlobal initializes the global metrics instance with version info.
// Call early in startup, before any calls to Global.
func InitGlobal(version string) *Metrics {
	initOnce.Do(func() {
		initialized = true
		globalMetrics = NewMetrics(version)
	})
	globalMetricsOnce.Do(func() {})
	return globalMetrics
}
