package adapters

import (
	"sort"
	"sync"
	"time"

	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// ProviderBudget tracks requests against one provider's daily cap
type ProviderBudget struct {
	Provider      string    `json:"provider"`
	RequestsToday int64     `json:"requests_today"`
	DailyCap      int64     `json:"daily_cap"` // 0 = unlimited
	LastRequest   time.Time `json:"last_request"`
	LastWarning   time.Time `json:"last_warning"`
}

// Remaining returns how many requests are left today, or -1 when uncapped
func (b ProviderBudget) Remaining() int64 {
	if b.DailyCap <= 0 {
		return -1
	}
	if left := b.DailyCap - b.RequestsToday; left > 0 {
		return left
	}
	return 0
}

// RequestBudget enforces per-provider daily request caps. Counters reset at the next
// UTC midnight.
type RequestBudget struct {
	mu               sync.Mutex
	providers        map[string]*ProviderBudget
	warningThreshold float64
	resetTime        time.Time
	now              func() time.Time
}

// NewRequestBudget creates an empty budget
func NewRequestBudget(now func() time.Time) *RequestBudget {
	if now == nil {
		now = time.Now
	}
	return &RequestBudget{
		providers:        make(map[string]*ProviderBudget),
		warningThreshold: 0.8,
		resetTime:        nextMidnightUTC(now()),
		now:              now,
	}
}

// Register sets a provider's cap, keeping today's count
func (rb *RequestBudget) Register(provider string, dailyCap int64) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if b, ok := rb.providers[provider]; ok {
		b.DailyCap = dailyCap
		return
	}
	rb.providers[provider] = &ProviderBudget{Provider: provider, DailyCap: dailyCap}
}

// Take consumes one request. It returns false when the cap is already reached.
func (rb *RequestBudget) Take(provider string) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	now := rb.now()
	if !now.Before(rb.resetTime) {
		rb.resetLocked(now)
	}

	b, ok := rb.providers[provider]
	if !ok {
		b = &ProviderBudget{Provider: provider}
		rb.providers[provider] = b
	}
	if b.DailyCap > 0 && b.RequestsToday >= b.DailyCap {
		observ.IncCounter("provider_budget_exhausted_total", map[string]string{"provider": provider})
		return false
	}
	b.RequestsToday++
	b.LastRequest = now
	observ.SetGauge("provider_requests_today", float64(b.RequestsToday), map[string]string{"provider": provider})

	if b.DailyCap > 0 && float64(b.RequestsToday) >= float64(b.DailyCap)*rb.warningThreshold &&
		now.Sub(b.LastWarning) > time.Hour {
		b.LastWarning = now
		observ.Log("provider_budget_warning", map[string]any{
			"provider":       provider,
			"requests_today": b.RequestsToday,
			"daily_cap":      b.DailyCap,
		})
	}
	return true
}

func (rb *RequestBudget) resetLocked(now time.Time) {
	for _, b := range rb.providers {
		b.RequestsToday = 0
		b.LastWarning = time.Time{}
	}
	rb.resetTime = nextMidnightUTC(now)
	observ.Log("provider_budget_reset", map[string]any{"next_reset": rb.resetTime.Format(time.RFC3339)})
}

// Snapshot returns per-provider usage sorted by name
func (rb *RequestBudget) Snapshot() []ProviderBudget {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]ProviderBudget, 0, len(rb.providers))
	for _, b := range rb.providers {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
