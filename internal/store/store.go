// Package store provides data persistence interfaces and implementations.
package store

import (
	"time"

	"pairbot/internal/models"
)

// HistoryStore records closed setups and flag transitions for audit.
type HistoryStore interface {
	// RecordTransition appends one flag state change to the audit trail.
	RecordTransition(t models.FlagTransition) error

	// SaveClosedSetup records one finished setup.
	SaveClosedSetup(entry *models.SetupHistoryEntry) error

	// GetHistory returns closed setups matching the filter, newest first.
	GetHistory(filter HistoryFilter) ([]models.SetupHistoryEntry, error)

	// GetTransitions returns flag transitions, newest first.
	GetTransitions(limit int) ([]models.FlagTransition, error)

	// Lifecycle
	Close() error
}

// HistoryFilter represents filters for querying setup history.
type HistoryFilter struct {
	SpreadID  string
	Outcome   string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
