// Package flagstore persists the setup flag: a single record saying whether
// a paired position is believed open. The flag is the source of truth across
// restarts; recovery reconciles it against live broker state.
package flagstore

import (
	"time"

	"pairbot/internal/models"
)

// Store is the setup flag contract. Implementations must serialize all
// writes internally: the monitor's remediation path and the recovery
// coordinator may both transition the flag.
type Store interface {
	// IsActive reads the persisted state. A missing or unreadable record
	// reads as inactive (no known setup).
	IsActive() bool

	// MarkActive records that a setup is open. Idempotent; overwrites any
	// prior record. The record must be durable before MarkActive returns,
	// so a crash between the two legs never leaves an open leg unflagged.
	MarkActive(spreadID string, metadata map[string]string) error

	// MarkInactive clears the record, logging the reason for audit.
	// Idempotent.
	MarkInactive(reason string) error

	// Clear force-resets the record, bypassing any preconditions. Used for
	// manual recovery after an ALERTED_AWAITING_USER outcome.
	Clear() error

	// Record returns the current record and whether one exists.
	Record() (*models.SetupRecord, bool)

	// Check reports whether the persisted record is readable. A missing
	// record is fine; a present but unparseable one returns
	// errors.ErrFlagUnreadable. Reads fail safe to inactive either way,
	// so this exists to let the CLI surface the difference.
	Check() error
}

// Auditor receives flag transitions for durable audit logging. The file
// store calls it after each successful transition; audit failures are
// logged, never propagated.
type Auditor interface {
	RecordTransition(t models.FlagTransition) error
}

func transition(action, spreadID, reason string) models.FlagTransition {
	return models.FlagTransition{
		SpreadID:  spreadID,
		Action:    action,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}
