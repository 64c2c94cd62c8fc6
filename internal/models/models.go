// Package models contains the core data types shared across the application.
package models

import "time"

// PositionSide represents the direction of a broker position.
type PositionSide string

const (
	SideBuy  PositionSide = "BUY"
	SideSell PositionSide = "SELL"
)

// Position represents one open position as reported by the broker.
type Position struct {
	Ticket int64        `json:"ticket"`
	Symbol string       `json:"symbol"`
	Volume float64      `json:"volume"`
	Side   PositionSide `json:"side"`
}

// SetupRecord is the persisted setup flag: whether a paired position is
// believed open, and enough metadata to find its legs again.
type SetupRecord struct {
	Active   bool              `json:"active"`
	SpreadID string            `json:"spread_id"`
	OpenedAt time.Time         `json:"opened_at"`
	Metadata map[string]string `json:"metadata"`
}

// TrackedStatus represents the monitoring state of a registered position.
type TrackedStatus string

const (
	StatusRegistered     TrackedStatus = "REGISTERED"
	StatusConfirmedOpen  TrackedStatus = "CONFIRMED_OPEN"
	StatusManuallyClosed TrackedStatus = "MANUALLY_CLOSED"
)

// TrackedPosition is the monitor's in-memory record for one registered
// broker position.
type TrackedPosition struct {
	Ticket         int64
	Symbol         string
	ExpectedVolume float64
	ExpectedSide   PositionSide
	Status         TrackedStatus
	MissedPolls    int
	LastSeen       time.Time
}

// SetupHistoryEntry is one closed setup as recorded in the history store.
type SetupHistoryEntry struct {
	ID       int64
	SpreadID string
	OpenedAt time.Time
	ClosedAt time.Time
	Outcome  string
	Reason   string
	Metadata map[string]string
}

// FlagTransition is one audited flag store state change.
type FlagTransition struct {
	ID        int64
	SpreadID  string
	Action    string // "activate", "deactivate", "clear"
	Reason    string
	Timestamp time.Time
}
