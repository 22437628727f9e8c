package dispatch

import (
	"context"
	"sync"
	"time"

	"mortgage-rate-alerts/internal/storage"
)

// MemoryCooldownLog is an in-process cooldown log used by the simulate
// command and by tests; it is not safe across processes.
type MemoryCooldownLog struct {
	mu      sync.Mutex
	entries map[cooldownKey]time.Time
}

type cooldownKey struct {
	clientID  int64
	alertKind string
}

// NewMemoryCooldownLog constructs an empty in-memory log.
func NewMemoryCooldownLog() *MemoryCooldownLog {
	return &MemoryCooldownLog{entries: make(map[cooldownKey]time.Time)}
}

// LastAlertAt returns the latest recorded send, or nil.
func (m *MemoryCooldownLog) LastAlertAt(_ context.Context, clientID int64, alertKind string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sentAt, ok := m.entries[cooldownKey{clientID: clientID, alertKind: alertKind}]
	if !ok {
		return nil, nil
	}
	return &sentAt, nil
}

// RecordAlert stores the latest send for a (client, kind) pair.
func (m *MemoryCooldownLog) RecordAlert(_ context.Context, record storage.AlertCooldownRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cooldownKey{clientID: record.ClientID, alertKind: record.AlertKind}
	if existing, ok := m.entries[key]; !ok || record.SentAt.After(existing) {
		m.entries[key] = record.SentAt
	}
	return nil
}

var _ storage.CooldownLog = (*MemoryCooldownLog)(nil)
