// Package watchlist persists the monitored symbols as a plain text file, one symbol
// per line with # comments.
package watchlist

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
	"github.com/Rajchodisetti/stock-alerts/internal/fsutil"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

var (
	ErrExists   = errors.New("symbol already in watchlist")
	ErrNotFound = errors.New("symbol not in watchlist")
)

// Store is the watchlist collaborator used by the alert evaluators and commands
type Store interface {
	List() ([]string, error)
	Add(symbol string) error
	Remove(symbol string) error
}

// FileStore re-reads the file on every call, so edits made by another process
// are picked up, and rewrites it on every change. When the file is missing or
// holds no symbols the defaults are served.
type FileStore struct {
	mu       sync.Mutex
	path     string
	defaults []string
	// last load outcome, so repeated reads only log when it changes
	state string
}

// NewFileStore creates a store for path. Nothing is read until first use.
func NewFileStore(path string, defaults []string) *FileStore {
	return &FileStore{path: path, defaults: normalizeAll(defaults)}
}

func normalizeAll(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = adapters.NormalizeSymbol(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (f *FileStore) loadLocked() []string {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.report("defaults", "watchlist_defaults", map[string]any{"path": f.path, "symbols": f.defaults})
		return append([]string(nil), f.defaults...)
	}
	if err != nil {
		observ.Log("watchlist_read_error", map[string]any{"path": f.path, "error": err.Error()})
		return append([]string(nil), f.defaults...)
	}

	var parsed []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parsed = append(parsed, line)
	}
	parsed = normalizeAll(parsed)
	if len(parsed) == 0 {
		f.report("empty", "watchlist_empty", map[string]any{"path": f.path})
		return append([]string(nil), f.defaults...)
	}
	f.report(fmt.Sprintf("loaded:%d", len(parsed)), "watchlist_loaded", map[string]any{"path": f.path, "count": len(parsed)})
	return parsed
}

func (f *FileStore) report(state, event string, fields map[string]any) {
	if state == f.state {
		return
	}
	f.state = state
	observ.Log(event, fields)
}

func (f *FileStore) saveLocked(symbols []string) error {
	var b strings.Builder
	b.WriteString("# Stock symbols to monitor\n")
	b.WriteString("# One symbol per line, comments start with #\n")
	for _, s := range symbols {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	if err := fsutil.WriteFileAtomic(f.path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to save watchlist: %w", err)
	}
	return nil
}

// List returns the symbols in file order
func (f *FileStore) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked(), nil
}

// Contains reports whether symbol is watched
func (f *FileStore) Contains(symbol string) bool {
	symbol = adapters.NormalizeSymbol(symbol)
	list, _ := f.List()
	for _, s := range list {
		if s == symbol {
			return true
		}
	}
	return false
}

// Add appends a validated symbol
func (f *FileStore) Add(symbol string) error {
	symbol = adapters.NormalizeSymbol(symbol)
	if err := adapters.ValidateSymbol(symbol); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.loadLocked()
	for _, s := range current {
		if s == symbol {
			return ErrExists
		}
	}
	next := append(current, symbol)
	if err := f.saveLocked(next); err != nil {
		return err
	}
	observ.Log("watchlist_added", map[string]any{"symbol": symbol, "count": len(next)})
	return nil
}

// Remove deletes symbol from the list
func (f *FileStore) Remove(symbol string) error {
	symbol = adapters.NormalizeSymbol(symbol)

	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.loadLocked()
	next := make([]string, 0, len(current))
	for _, s := range current {
		if s != symbol {
			next = append(next, s)
		}
	}
	if len(next) == len(current) {
		return ErrNotFound
	}
	if err := f.saveLocked(next); err != nil {
		return err
	}
	observ.Log("watchlist_removed", map[string]any{"symbol": symbol, "count": len(next)})
	return nil
}
