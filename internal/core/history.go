package core

import (
	"context"
	"sync"
	"time"
)

// RunRecord is the persisted summary of a finished run.
type RunRecord struct {
	ID          string      `json:"id"`
	Source      SourceKind  `json:"source"`
	SourceName  string      `json:"sourceName"`
	MappingName string      `json:"mappingName"`
	Encoding    Encoding    `json:"encoding,omitempty"`
	CounterMode CounterMode `json:"counterMode"`
	ClientIP    string      `json:"clientIp,omitempty"`
	Total       int         `json:"total"`
	Succeeded   int         `json:"succeeded"`
	Failed      int         `json:"failed"`
	Cancelled   bool        `json:"cancelled"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"startedAt"`
	FinishedAt  time.Time   `json:"finishedAt"`
}

// Duration returns how long the run took.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SuccessRate returns the percentage of images that produced an output.
func (r RunRecord) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Succeeded) * 100 / float64(r.Total)
}

// RunStore persists run summaries.
type RunStore interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	// ListRuns returns the newest runs first, at most limit of them.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// DefaultHistorySize is the number of runs kept by MemoryStore.
const DefaultHistorySize = 200

// MemoryStore keeps the most recent runs in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	records []RunRecord // oldest first
}

// NewMemoryStore keeps at most max records (DefaultHistorySize if max <= 0).
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &MemoryStore{max: max}
}

func (m *MemoryStore) RecordRun(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)
	if over := len(m.records) - m.max; over > 0 {
		m.records = append([]RunRecord(nil), m.records[over:]...)
	}
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]RunRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

// PruneRuns drops records that started before the cutoff.
func (m *MemoryStore) PruneRuns(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	for _, rec := range m.records {
		if !rec.StartedAt.Before(before) {
			kept = append(kept, rec)
		}
	}
	pruned := int64(len(m.records) - len(kept))
	m.records = kept
	return pruned, nil
}
