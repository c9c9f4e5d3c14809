package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

// histograms keep the most recent samples only
const maxHistSamples = 1000

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		counters: map[string]map[string]int64{},
		gauges:   map[string]map[string]float64{},
		hist:     map[string]map[string][]float64{},
	}
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += int64(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	samples := append(m[k], value)
	if len(samples) > maxHistSamples {
		samples = samples[len(samples)-maxHistSamples:]
	}
	m[k] = samples
}

// RecordDuration records a duration metric
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// CounterValue returns a single counter series, 0 when absent
func CounterValue(name string, labels map[string]string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.counters[name][canonLabels(labels)]
}

// CounterTotal sums every series of a counter
func CounterTotal(name string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

// Reset clears all metrics. Used by tests.
func Reset() {
	fresh := newRegistry()
	reg.mu.Lock()
	reg.counters, reg.gauges, reg.hist = fresh.counters, fresh.gauges, fresh.hist
	reg.mu.Unlock()
}

// Basic JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus represents overall process health
type HealthStatus struct {
	Status    string         `json:"status"`    // "healthy", "degraded", "failed"
	Timestamp string         `json:"timestamp"` // ISO 8601
	Uptime    string         `json:"uptime"`
	Version   string         `json:"version"`
	Metrics   HealthMetrics  `json:"metrics"`
	Details   map[string]any `json:"details"`
}

// HealthMetrics holds the headline numbers of the data layer and alerting
type HealthMetrics struct {
	UpstreamRequests  int64   `json:"upstream_requests"`
	UpstreamErrorRate float64 `json:"upstream_error_rate"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	SyntheticServed   int64   `json:"synthetic_served"`
	AlertsSent        int64   `json:"alerts_sent"`
	AlertsFailed      int64   `json:"alerts_failed"`
	RequestP95Ms      int64   `json:"request_p95_ms"`
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// Version returns the build version
func Version() string {
	return version
}

// Uptime returns time since process start
func Uptime() time.Duration {
	return time.Since(startTime)
}

// Health computes the current health report
func Health() HealthStatus {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return HealthStatus{
		Status:    overallStatus(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Version:   version,
		Metrics:   healthMetrics(),
		Details:   healthDetails(),
	}
}

// HealthHandler serves Health() with 200/206/503 depending on status
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := Health()
		statusCode := http.StatusOK
		switch health.Status {
		case "degraded":
			statusCode = http.StatusPartialContent
		case "failed":
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

// overallStatus: failed when every real provider is disabled, degraded when any is.
// Caller holds reg.mu.
func overallStatus() string {
	enabled := reg.gauges["provider_enabled"]
	if len(enabled) == 0 {
		return "healthy"
	}
	up := 0
	for _, v := range enabled {
		if v == 1 {
			up++
		}
	}
	switch {
	case up == 0:
		return "failed"
	case up < len(enabled):
		return "degraded"
	default:
		return "healthy"
	}
}

func sumCounter(name string) int64 {
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

func healthMetrics() HealthMetrics {
	m := HealthMetrics{}

	m.UpstreamRequests = sumCounter("provider_requests_total")
	if m.UpstreamRequests > 0 {
		var failures int64
		for labels, v := range reg.counters["provider_requests_total"] {
			if !strings.Contains(labels, "result=ok") {
				failures += v
			}
		}
		m.UpstreamErrorRate = float64(failures) / float64(m.UpstreamRequests)
	}

	hits := sumCounter("provider_cache_hits_total")
	misses := sumCounter("provider_cache_misses_total")
	if hits+misses > 0 {
		m.CacheHitRate = float64(hits) / float64(hits+misses)
	}

	for labels, v := range reg.counters["resolver_source_total"] {
		if strings.Contains(labels, "source=synthetic") {
			m.SyntheticServed += v
		}
	}

	m.AlertsSent = sumCounter("alerts_sent_total")
	m.AlertsFailed = sumCounter("alerts_failed_total")

	var all []float64
	for _, samples := range reg.hist["provider_request_ms"] {
		all = append(all, samples...)
	}
	if len(all) > 0 {
		sort.Float64s(all)
		idx := int(float64(len(all)) * 0.95)
		if idx >= len(all) {
			idx = len(all) - 1
		}
		m.RequestP95Ms = int64(all[idx])
	}

	return m
}

func healthDetails() map[string]any {
	details := map[string]any{}
	providers := map[string]bool{}
	for labels, v := range reg.gauges["provider_enabled"] {
		providers[strings.TrimPrefix(labels, "provider=")] = v == 1
	}
	details["providers"] = providers
	if sizes, ok := reg.gauges["provider_cache_size"]; ok {
		details["cache_size"] = sizes[""]
	}
	return details
}
