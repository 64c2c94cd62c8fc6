package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairbot/internal/models"
)

func newTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(spreadID, outcome string, closedAt time.Time) *models.SetupHistoryEntry {
	return &models.SetupHistoryEntry{
		SpreadID: spreadID,
		OpenedAt: closedAt.Add(-time.Hour),
		ClosedAt: closedAt,
		Outcome:  outcome,
		Reason:   "test",
		Metadata: map[string]string{"side": "LONG"},
	}
}

func TestSaveAndGetHistory(t *testing.T) {
	s := newTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.SaveClosedSetup(entry("spread_001", "partial", now.Add(-2*time.Hour))))
	require.NoError(t, s.SaveClosedSetup(entry("spread_002", "none-offline", now.Add(-time.Hour))))
	require.NoError(t, s.SaveClosedSetup(entry("spread_003", "partial", now)))

	all, err := s.GetHistory(HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Newest first.
	assert.Equal(t, "spread_003", all[0].SpreadID)
	assert.Equal(t, "spread_001", all[2].SpreadID)

	// Metadata survives the round trip.
	assert.Equal(t, "LONG", all[0].Metadata["side"])
}

func TestGetHistoryFilters(t *testing.T) {
	s := newTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.SaveClosedSetup(entry("spread_001", "partial", now.Add(-2*time.Hour))))
	require.NoError(t, s.SaveClosedSetup(entry("spread_002", "none-offline", now.Add(-time.Hour))))
	require.NoError(t, s.SaveClosedSetup(entry("spread_003", "partial", now)))

	bySpread, err := s.GetHistory(HistoryFilter{SpreadID: "spread_002"})
	require.NoError(t, err)
	require.Len(t, bySpread, 1)
	assert.Equal(t, "none-offline", bySpread[0].Outcome)

	byOutcome, err := s.GetHistory(HistoryFilter{Outcome: "partial"})
	require.NoError(t, err)
	assert.Len(t, byOutcome, 2)

	limited, err := s.GetHistory(HistoryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "spread_003", limited[0].SpreadID)

	since, err := s.GetHistory(HistoryFilter{StartDate: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestRecordAndGetTransitions(t *testing.T) {
	s := newTestDB(t)

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.RecordTransition(models.FlagTransition{
		SpreadID: "spread_001", Action: "activate", Timestamp: base,
	}))
	require.NoError(t, s.RecordTransition(models.FlagTransition{
		SpreadID: "spread_001", Action: "deactivate", Reason: "both legs closed", Timestamp: base.Add(time.Minute),
	}))

	transitions, err := s.GetTransitions(0)
	require.NoError(t, err)
	require.Len(t, transitions, 2)

	// Newest first.
	assert.Equal(t, "deactivate", transitions[0].Action)
	assert.Equal(t, "both legs closed", transitions[0].Reason)
	assert.Equal(t, "activate", transitions[1].Action)

	limited, err := s.GetTransitions(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetHistoryEmptyDatabase(t *testing.T) {
	s := newTestDB(t)

	all, err := s.GetHistory(HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}
