package adapters

import (
	"sort"
	"sync"
	"time"

	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// ProviderStatus represents the health state of a data provider
type ProviderStatus string

const (
	ProviderStatusHealthy  ProviderStatus = "healthy"
	ProviderStatusDegraded ProviderStatus = "degraded"
	ProviderStatusDisabled ProviderStatus = "disabled"
)

type providerHealth struct {
	name               string
	enabled            bool
	forbiddenCount     int
	forbiddenThreshold int
	consecutiveErrors  int
	lastRequest        time.Time
	lastSuccess        time.Time
	lastError          string
	disabledAt         time.Time
	successCount       int64
	errorCount         int64
}

func (p *providerHealth) status() ProviderStatus {
	switch {
	case !p.enabled:
		return ProviderStatusDisabled
	case p.consecutiveErrors > 0 || p.forbiddenCount > 0:
		return ProviderStatusDegraded
	default:
		return ProviderStatusHealthy
	}
}

// ProviderSnapshot is a read-only view of one provider's health
type ProviderSnapshot struct {
	Name              string         `json:"name"`
	Status            ProviderStatus `json:"status"`
	Enabled           bool           `json:"enabled"`
	ForbiddenCount    int            `json:"forbidden_count"`
	ConsecutiveErrors int            `json:"consecutive_errors"`
	LastRequest       time.Time      `json:"last_request"`
	LastSuccess       time.Time      `json:"last_success"`
	LastError         string         `json:"last_error,omitempty"`
	DisabledAt        time.Time      `json:"disabled_at"`
	SuccessCount      int64          `json:"success_count"`
	ErrorCount        int64          `json:"error_count"`
}

// ProviderHealthState is the circuit-breaker state shared by the Transport (writer)
// and the Resolver (reader). Once disabled, a provider stays disabled until Reset.
type ProviderHealthState struct {
	mu        sync.RWMutex
	providers map[string]*providerHealth
}

// NewProviderHealthState creates an empty state
func NewProviderHealthState() *ProviderHealthState {
	return &ProviderHealthState{providers: make(map[string]*providerHealth)}
}

// Register adds a provider with its forbidden threshold. Re-registering keeps counters.
func (h *ProviderHealthState) Register(name string, forbiddenThreshold int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.providers[name]; ok {
		p.forbiddenThreshold = forbiddenThreshold
		return
	}
	h.providers[name] = &providerHealth{name: name, enabled: true, forbiddenThreshold: forbiddenThreshold}
	observ.SetGauge("provider_enabled", 1, map[string]string{"provider": name})
}

func (h *ProviderHealthState) get(name string) *providerHealth {
	p, ok := h.providers[name]
	if !ok {
		p = &providerHealth{name: name, enabled: true}
		h.providers[name] = p
	}
	return p
}

// Enabled reports whether the resolver may attempt this provider
func (h *ProviderHealthState) Enabled(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.providers[name]
	return !ok || p.enabled
}

// RecordRequest stamps the time of an outbound attempt
func (h *ProviderHealthState) RecordRequest(name string, at time.Time) {
	h.mu.Lock()
	h.get(name).lastRequest = at
	h.mu.Unlock()
}

// LastRequest returns the time of the last outbound attempt
func (h *ProviderHealthState) LastRequest(name string) time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if p, ok := h.providers[name]; ok {
		return p.lastRequest
	}
	return time.Time{}
}

// RecordSuccess resets the forbidden counter after a 2xx
func (h *ProviderHealthState) RecordSuccess(name string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.get(name)
	p.forbiddenCount = 0
	p.consecutiveErrors = 0
	p.lastSuccess = at
	p.successCount++
}

// RecordError notes a non-forbidden failure. It never disables the provider.
func (h *ProviderHealthState) RecordError(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.get(name)
	p.consecutiveErrors++
	p.errorCount++
	if err != nil {
		p.lastError = err.Error()
	}
}

// RecordForbidden counts a 403 and disables the provider at the threshold.
// Returns true only on the call that flipped the provider off.
func (h *ProviderHealthState) RecordForbidden(name string, at time.Time) bool {
	h.mu.Lock()
	p := h.get(name)
	p.forbiddenCount++
	p.errorCount++
	p.lastError = "forbidden"
	tripped := p.enabled && p.forbiddenThreshold > 0 && p.forbiddenCount >= p.forbiddenThreshold
	if tripped {
		p.enabled = false
		p.disabledAt = at
	}
	count, threshold := p.forbiddenCount, p.forbiddenThreshold
	h.mu.Unlock()

	if tripped {
		observ.SetGauge("provider_enabled", 0, map[string]string{"provider": name})
		observ.IncCounter("provider_disabled_total", map[string]string{"provider": name})
		observ.Log("provider_disabled", map[string]any{
			"provider":        name,
			"forbidden_count": count,
			"threshold":       threshold,
		})
	}
	return tripped
}

// Disable turns a provider off for the rest of the process
func (h *ProviderHealthState) Disable(name, reason string) {
	h.mu.Lock()
	p := h.get(name)
	wasEnabled := p.enabled
	p.enabled = false
	p.disabledAt = time.Now()
	p.lastError = reason
	h.mu.Unlock()

	if wasEnabled {
		observ.SetGauge("provider_enabled", 0, map[string]string{"provider": name})
		observ.Log("provider_disabled", map[string]any{"provider": name, "reason": reason})
	}
}

// Reset re-enables every provider and clears counters
func (h *ProviderHealthState) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, p := range h.providers {
		h.providers[name] = &providerHealth{name: name, enabled: true, forbiddenThreshold: p.forbiddenThreshold}
		observ.SetGauge("provider_enabled", 1, map[string]string{"provider": name})
	}
}

// Snapshot returns all providers sorted by name
func (h *ProviderHealthState) Snapshot() []ProviderSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ProviderSnapshot, 0, len(h.providers))
	for _, p := range h.providers {
		out = append(out, ProviderSnapshot{
			Name:              p.name,
			Status:            p.status(),
			Enabled:           p.enabled,
			ForbiddenCount:    p.forbiddenCount,
			ConsecutiveErrors: p.consecutiveErrors,
			LastRequest:       p.lastRequest,
			LastSuccess:       p.lastSuccess,
			LastError:         p.lastError,
			DisabledAt:        p.disabledAt,
			SuccessCount:      p.successCount,
			ErrorCount:        p.errorCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
