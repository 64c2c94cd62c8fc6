package flagstore

import (
	"sync"
	"time"

	"pairbot/internal/models"
)

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	record *models.SetupRecord

	// Transitions records every state change, newest last.
	Transitions []models.FlagTransition
}

// NewMemoryStore creates an empty in-memory flag store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// IsActive reports whether the in-memory record is active.
func (s *MemoryStore) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record != nil && s.record.Active
}

// Record returns a copy of the current record.
func (s *MemoryStore) Record() (*models.SetupRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil, false
	}
	cp := *s.record
	cp.Metadata = copyMeta(s.record.Metadata)
	return &cp, true
}

// MarkActive sets an active record.
func (s *MemoryStore) MarkActive(spreadID string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	openedAt := time.Now()
	if s.record != nil && s.record.Active && s.record.SpreadID == spreadID {
		openedAt = s.record.OpenedAt
	}
	s.record = &models.SetupRecord{
		Active:   true,
		SpreadID: spreadID,
		OpenedAt: openedAt,
		Metadata: copyMeta(metadata),
	}
	s.Transitions = append(s.Transitions, transition("activate", spreadID, ""))
	return nil
}

// MarkInactive clears the record.
func (s *MemoryStore) MarkInactive(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spreadID := ""
	if s.record != nil {
		spreadID = s.record.SpreadID
	}
	s.record = &models.SetupRecord{Active: false, SpreadID: spreadID}
	s.Transitions = append(s.Transitions, transition("deactivate", spreadID, reason))
	return nil
}

// Check always succeeds: there is no persisted record to corrupt.
func (s *MemoryStore) Check() error {
	return nil
}

// Clear force-resets the record.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spreadID := ""
	if s.record != nil {
		spreadID = s.record.SpreadID
	}
	s.record = &models.SetupRecord{Active: false}
	s.Transitions = append(s.Transitions, transition("clear", spreadID, "manual reset"))
	return nil
}
