// Package usage aggregates model token usage and request counts, optionally
// persisting them as JSON next to the task database.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"taskpilot/internal/logging"
)

// FileName is the usage file written beside the database.
const FileName = "usage.json"

// Tracker manages token usage recording and persistence. The zero path keeps
// everything in memory.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	dirty    bool
	now      func() time.Time
}

// NewTracker creates a tracker persisted at filePath, loading any existing data.
// A corrupt file is logged and replaced on the next Save.
func NewTracker(filePath string) (*Tracker, error) {
	t := &Tracker{
		filePath: filePath,
		data:     UsageData{Version: "1", Aggregate: emptyStats()},
		now:      func() time.Time { return time.Now().UTC() },
	}
	if filePath == "" {
		return t, nil
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}
	if err := t.Load(); err != nil {
		logging.StoreWarn("ignoring unreadable usage file %s: %v", filePath, err)
		t.data.Aggregate = emptyStats()
	}
	return t, nil
}

// NewMemoryTracker creates a tracker that never touches disk.
func NewMemoryTracker() *Tracker {
	t, _ := NewTracker("")
	return t
}

func emptyStats() AggregatedStats {
	return AggregatedStats{
		ByProvider: make(map[string]TokenCounts),
		ByModel:    make(map[string]TokenCounts),
		ByDay:      make(map[string]TokenCounts),
	}
}

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var loaded UsageData
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	// Ensure maps are initialized if file was empty/partial
	if loaded.Aggregate.ByProvider == nil {
		loaded.Aggregate.ByProvider = make(map[string]TokenCounts)
	}
	if loaded.Aggregate.ByModel == nil {
		loaded.Aggregate.ByModel = make(map[string]TokenCounts)
	}
	if loaded.Aggregate.ByDay == nil {
		loaded.Aggregate.ByDay = make(map[string]TokenCounts)
	}
	t.data = loaded
	return nil
}

// Save writes the usage data to disk if anything changed since the last save.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filePath == "" || !t.dirty {
		return nil
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(t.filePath, data, 0644); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// TrackCall records the tokens of one model call.
func (t *Tracker) TrackCall(provider, model string, input, output int) {
	if provider == "" {
		provider = "unknown"
	}
	if model == "" {
		model = "unknown"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	agg := &t.data.Aggregate
	agg.ModelCalls++
	agg.Total.Add(input, output)
	addToMap(agg.ByProvider, provider, input, output)
	addToMap(agg.ByModel, model, input, output)
	addToMap(agg.ByDay, t.now().Format("2006-01-02"), input, output)
	t.dirty = true
}

// TrackRequest records one finished conversation.
func (t *Tracker) TrackRequest(exhausted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.Aggregate.Requests++
	if exhausted {
		t.data.Aggregate.Exhausted++
	}
	t.dirty = true
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByDay = copyTokenCountsMap(stats.ByDay)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}
