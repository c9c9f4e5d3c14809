package adapters

import (
	"fmt"
	"sync"
	"time"

	"github.com/Rajchodisetti/stock-alerts/internal/fsutil"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// nameState is the on-disk shape of the company name cache
type nameState struct {
	Version     int               `json:"version"`
	LastUpdated string            `json:"last_updated"`
	Names       map[string]string `json:"names"`
}

// StatePersistenceManager saves the name cache to disk periodically and on Stop
type StatePersistenceManager struct {
	filePath     string
	names        *NameCache
	saveInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewStatePersistenceManager creates a manager for names backed by filePath
func NewStatePersistenceManager(filePath string, names *NameCache, saveInterval time.Duration) *StatePersistenceManager {
	if saveInterval <= 0 {
		saveInterval = time.Minute
	}
	return &StatePersistenceManager{
		filePath:     filePath,
		names:        names,
		saveInterval: saveInterval,
		stopCh:       make(chan struct{}),
	}
}

// Load replaces the cache contents with the persisted names. A missing file is fine.
func (spm *StatePersistenceManager) Load() error {
	var state nameState
	found, err := fsutil.ReadJSON(spm.filePath, &state)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	spm.names.replace(state.Names)
	observ.Log("name_cache_loaded", map[string]any{
		"file_path": spm.filePath,
		"names":     len(state.Names),
	})
	return nil
}

// Flush writes the cache if it changed since the last write
func (spm *StatePersistenceManager) Flush() error {
	names, dirty := spm.names.takeDirty()
	if !dirty {
		return nil
	}
	state := nameState{
		Version:     1,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Names:       names,
	}
	if err := fsutil.WriteJSONAtomic(spm.filePath, state); err != nil {
		spm.names.markDirty()
		return fmt.Errorf("save name cache: %w", err)
	}
	return nil
}

// Start begins periodic persistence
func (spm *StatePersistenceManager) Start() {
	spm.wg.Add(1)
	go spm.persistenceLoop()
}

// Stop ends the loop and performs a final save
func (spm *StatePersistenceManager) Stop() error {
	spm.stopOnce.Do(func() { close(spm.stopCh) })
	spm.wg.Wait()
	return spm.Flush()
}

func (spm *StatePersistenceManager) persistenceLoop() {
	defer spm.wg.Done()

	ticker := time.NewTicker(spm.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := spm.Flush(); err != nil {
				observ.Log("name_cache_save_error", map[string]any{"error": err.Error()})
			}
		case <-spm.stopCh:
			return
		}
	}
}
