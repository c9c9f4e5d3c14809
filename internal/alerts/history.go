package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/stock-alerts/internal/dedup"
)

// SentAlert is one delivered notification
type SentAlert struct {
	ID     string     `json:"id"`
	Kind   dedup.Kind `json:"kind"`
	Symbol string     `json:"symbol"`
	Key    string     `json:"key"`
	Text   string     `json:"text"`
	SentAt time.Time  `json:"sent_at"`
}

// History keeps the most recent alerts in memory for the dashboard and /status
type History struct {
	mu    sync.RWMutex
	limit int
	items []SentAlert
}

// NewHistory creates a ring of at most limit alerts
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 100
	}
	return &History{limit: limit}
}

// Record stores an alert and returns it with a fresh id
func (h *History) Record(kind dedup.Kind, symbol, key, text string, at time.Time) SentAlert {
	a := SentAlert{
		ID:     uuid.New().String(),
		Kind:   kind,
		Symbol: symbol,
		Key:    key,
		Text:   text,
		SentAt: at,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, a)
	if over := len(h.items) - h.limit; over > 0 {
		h.items = append([]SentAlert(nil), h.items[over:]...)
	}
	return a
}

// Recent returns up to n alerts, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []SentAlert {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.items) {
		n = len(h.items)
	}
	out := make([]SentAlert, 0, n)
	for i := len(h.items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.items[i])
	}
	return out
}

// Len returns the number of retained alerts
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}
