package dedup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Rajchodisetti/stock-alerts/internal/fsutil"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// kindLog serializes access to one kind's file within the process
type kindLog struct {
	mu sync.Mutex
}

// FileLog keeps one JSON array per kind at <dir>/<kind>.json. Every call re-reads
// the file so keys written by other processes sharing the directory are honored,
// and every mutation rewrites it whole.
type FileLog struct {
	dir  string
	logs map[Kind]*kindLog
}

// NewFileLog creates the directory if needed
func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dedup dir: %w", err)
	}
	logs := make(map[Kind]*kindLog, len(Kinds))
	for _, k := range Kinds {
		logs[k] = &kindLog{}
	}
	return &FileLog{dir: dir, logs: logs}, nil
}

func (f *FileLog) path(kind Kind) string {
	return filepath.Join(f.dir, string(kind)+".json")
}

func (f *FileLog) log(kind Kind) (*kindLog, error) {
	l, ok := f.logs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown dedup kind %q", kind)
	}
	return l, nil
}

// load must be called with the kind's mutex held. It returns the keys in file
// order without duplicates. A corrupt file is logged and treated as empty so
// alerts keep flowing.
func (f *FileLog) load(kind Kind) ([]string, map[string]struct{}) {
	set := make(map[string]struct{})
	var raw []string
	if _, err := fsutil.ReadJSON(f.path(kind), &raw); err != nil {
		observ.Log("dedup_load_error", map[string]any{"kind": string(kind), "error": err.Error()})
		return nil, set
	}
	var keys []string
	for _, k := range raw {
		if _, dup := set[k]; dup {
			continue
		}
		set[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, set
}

func (f *FileLog) save(kind Kind, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	if err := fsutil.WriteJSONAtomic(f.path(kind), keys); err != nil {
		observ.IncCounter("dedup_write_errors_total", map[string]string{"kind": string(kind)})
		return err
	}
	return nil
}

func (f *FileLog) Has(kind Kind, key string) (bool, error) {
	l, err := f.log(kind)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, set := f.load(kind)
	_, ok := set[key]
	return ok, nil
}

func (f *FileLog) Add(kind Kind, key string) error {
	l, err := f.log(kind)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	keys, set := f.load(kind)
	if _, ok := set[key]; ok {
		return nil
	}
	if err := f.save(kind, append(keys, key)); err != nil {
		return err
	}
	observ.IncCounter("dedup_keys_added_total", map[string]string{"kind": string(kind)})
	return nil
}

func (f *FileLog) Keys(kind Kind) ([]string, error) {
	l, err := f.log(kind)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	keys, _ := f.load(kind)
	return keys, nil
}

func (f *FileLog) PurgeSymbol(symbol string) (int, error) {
	removed := 0
	for _, kind := range Kinds {
		n, err := f.purgeKind(kind, symbol)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	if removed > 0 {
		observ.Log("dedup_symbol_purged", map[string]any{"symbol": symbol, "removed": removed})
	}
	return removed, nil
}

func (f *FileLog) purgeKind(kind Kind, symbol string) (int, error) {
	l := f.logs[kind]
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, _ := f.load(kind)
	kept := make([]string, 0, len(keys))
	for _, k := range keys {
		if !KeyBelongsTo(k, symbol) {
			kept = append(kept, k)
		}
	}
	n := len(keys) - len(kept)
	if n == 0 {
		return 0, nil
	}
	if err := f.save(kind, kept); err != nil {
		return 0, err
	}
	return n, nil
}

// Close is a no-op; every mutation is already on disk
func (f *FileLog) Close() error { return nil }
