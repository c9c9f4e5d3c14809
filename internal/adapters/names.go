package adapters

import (
	"sync"
)

// NameCache maps symbols to friendly company names. Batch quote calls fill it as a
// side effect so single lookups can skip a profile request.
type NameCache struct {
	mu    sync.RWMutex
	names map[string]string
	dirty bool
}

// NewNameCache creates an empty cache
func NewNameCache() *NameCache {
	return &NameCache{names: make(map[string]string)}
}

// Get returns the cached name for symbol
func (n *NameCache) Get(symbol string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	name, ok := n.names[NormalizeSymbol(symbol)]
	return name, ok
}

// Set stores one name. Empty names and names equal to the symbol are ignored.
func (n *NameCache) Set(symbol, name string) {
	symbol = NormalizeSymbol(symbol)
	if name == "" || name == symbol {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.names[symbol] != name {
		n.names[symbol] = name
		n.dirty = true
	}
}

// MergeQuotes copies names discovered in a batch response
func (n *NameCache) MergeQuotes(quotes map[string]*Quote) {
	for sym, q := range quotes {
		if q != nil {
			n.Set(sym, q.Name)
		}
	}
}

// Remove forgets a symbol
func (n *NameCache) Remove(symbol string) {
	symbol = NormalizeSymbol(symbol)
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.names[symbol]; ok {
		delete(n.names, symbol)
		n.dirty = true
	}
}

// All returns a copy of the mapping
func (n *NameCache) All() map[string]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]string, len(n.names))
	for k, v := range n.names {
		out[k] = v
	}
	return out
}

func (n *NameCache) replace(names map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names = make(map[string]string, len(names))
	for k, v := range names {
		n.names[NormalizeSymbol(k)] = v
	}
	n.dirty = false
}

// takeDirty returns a snapshot if anything changed since the last call
func (n *NameCache) takeDirty() (map[string]string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.dirty {
		return nil, false
	}
	n.dirty = false
	out := make(map[string]string, len(n.names))
	for k, v := range n.names {
		out[k] = v
	}
	return out, true
}

func (n *NameCache) markDirty() {
	n.mu.Lock()
	n.dirty = true
	n.mu.Unlock()
}
