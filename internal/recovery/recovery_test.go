package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairbot/internal/broker"
	pberrors "pairbot/internal/errors"
	"pairbot/internal/flagstore"
	"pairbot/internal/models"
	"pairbot/internal/monitor"
	"pairbot/internal/notify"
	"pairbot/internal/store"
)

var pairSymbols = []string{"XAUUSD", "XAGUSD"}

// fakeHistory records SaveClosedSetup calls.
type fakeHistory struct {
	saved       []models.SetupHistoryEntry
	transitions []models.FlagTransition
}

func (f *fakeHistory) RecordTransition(t models.FlagTransition) error {
	f.transitions = append(f.transitions, t)
	return nil
}

func (f *fakeHistory) SaveClosedSetup(entry *models.SetupHistoryEntry) error {
	f.saved = append(f.saved, *entry)
	return nil
}

func (f *fakeHistory) GetHistory(filter store.HistoryFilter) ([]models.SetupHistoryEntry, error) {
	return f.saved, nil
}

func (f *fakeHistory) GetTransitions(limit int) ([]models.FlagTransition, error) {
	return f.transitions, nil
}

func (f *fakeHistory) Close() error { return nil }

type fixture struct {
	paper    *broker.PaperConnector
	flags    *flagstore.MemoryStore
	monitor  *monitor.Monitor
	recorder *notify.Recorder
	history  *fakeHistory
	coord    *Coordinator
}

func newFixture(t *testing.T, policy NonePolicy) *fixture {
	t.Helper()

	paper := broker.NewPaperConnector()
	require.NoError(t, paper.Connect(context.Background()))

	flags := flagstore.NewMemoryStore()
	recorder := notify.NewRecorder()
	history := &fakeHistory{}
	closer := broker.NewCloser(paper, zerolog.Nop())

	mon := monitor.New(monitor.Config{
		CheckInterval:       time.Second,
		MissedPollThreshold: 2,
		Symbols:             pairSymbols,
	}, paper, closer, flags, recorder, zerolog.Nop())

	coord := New(Config{
		Symbols:         pairSymbols,
		NonePolicy:      policy,
		CloseMaxRetries: 3,
		CloseBackoff:    time.Millisecond,
		SessionCutoff:   time.Minute,
	}, paper, closer, flags, mon, recorder, history, zerolog.Nop())

	return &fixture{paper: paper, flags: flags, monitor: mon, recorder: recorder, history: history, coord: coord}
}

// activateSpread marks a spread active with leg tickets 100 and 101.
func activateSpread(t *testing.T, f *fixture, spreadID string) {
	t.Helper()
	require.NoError(t, f.flags.MarkActive(spreadID, map[string]string{
		"primary_ticket":   "100",
		"secondary_ticket": "101",
		"side":             "LONG",
	}))
}

func TestRunWithInactiveFlagIsFreshStart(t *testing.T) {
	f := newFixture(t, PolicyConnectionAge)

	res, err := f.coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFreshStart, res.State)
	assert.Empty(t, f.monitor.MonitoredTickets())
	assert.Empty(t, f.recorder.Alerts())
}

func TestRunResumesWhenAllLegsPresent(t *testing.T) {
	f := newFixture(t, PolicyConnectionAge)
	activateSpread(t, f, "spread_A")
	f.paper.AddPosition(models.Position{Ticket: 100, Symbol: "XAUUSD", Volume: 0.02, Side: models.SideBuy})
	f.paper.AddPosition(models.Position{Ticket: 101, Symbol: "XAGUSD", Volume: 1.0, Side: models.SideSell})

	res, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAllPresent, res.Outcome)
	assert.Equal(t, StateResumed, res.State)
	assert.Equal(t, "spread_A", res.SpreadID)
	assert.ElementsMatch(t, []int64{100, 101}, res.Registered)

	assert.True(t, f.flags.IsActive(), "flag stays active on resume")
	assert.Equal(t, []int64{100, 101}, f.monitor.MonitoredTickets())
	assert.Empty(t, f.recorder.Alerts(), "resume is not an alert condition")
}

func TestRunClosesSurvivingLegOnPartial(t *testing.T) {
	f := newFixture(t, PolicyConnectionAge)
	activateSpread(t, f, "spread_B")
	// Only the silver leg survived the crash.
	f.paper.AddPosition(models.Position{Ticket: 101, Symbol: "XAGUSD", Volume: 1.0, Side: models.SideSell})

	res, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, StateClosedClean, res.State)
	assert.Equal(t, []int64{101}, res.Closed)
	assert.Empty(t, res.Registered)

	assert.False(t, f.flags.IsActive(), "flag clears once the remainder is closed")
	assert.Empty(t, f.monitor.MonitoredTickets())

	live, err := f.paper.GetOpenPositions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, live, "surviving leg should be closed at the broker")

	require.Len(t, f.history.saved, 1)
	assert.Equal(t, "spread_B", f.history.saved[0].SpreadID)
	assert.Equal(t, string(OutcomePartial), f.history.saved[0].Outcome)
}

func TestRunClearsStaleFlagSilently(t *testing.T) {
	f := newFixture(t, PolicyConnectionAge)
	activateSpread(t, f, "spread_C")
	// Fresh session, zero positions, no sighting of the tickets: the flag
	// is left over from a prior crash.

	res, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoneOffline, res.Outcome)
	assert.Equal(t, StateClosedClean, res.State)
	assert.False(t, f.flags.IsActive())
	assert.Empty(t, f.monitor.MonitoredTickets())
	assert.Empty(t, f.recorder.Alerts(), "stale flag clears without an alert")

	require.Len(t, f.history.saved, 1)
	assert.Equal(t, string(OutcomeNoneOffline), f.history.saved[0].Outcome)
}

func TestRunAlertsWhenConfirmedPositionsDisappear(t *testing.T) {
	f := newFixture(t, PolicySessionConfirmed)
	activateSpread(t, f, "spread_D")
	// This session saw the legs live before they vanished.
	f.paper.MarkConfirmed(100)
	f.paper.MarkConfirmed(101)

	res, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoneOnline, res.Outcome)
	assert.Equal(t, StateAlertedAwaitingUser, res.State)
	assert.True(t, f.flags.IsActive(), "flag stays active until the operator acknowledges")
	assert.Empty(t, f.monitor.MonitoredTickets())

	alerts := f.recorder.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, notify.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "spread_D", alerts[0].Fields["spread_id"])

	assert.Empty(t, f.history.saved, "awaiting-user is not a closed setup")
}

func TestRunEscalatesWhenPartialCloseExhausts(t *testing.T) {
	f := newFixture(t, PolicyConnectionAge)
	activateSpread(t, f, "spread_E")
	f.paper.AddPosition(models.Position{Ticket: 101, Symbol: "XAGUSD", Volume: 1.0, Side: models.SideSell})
	f.paper.FailCloses(101, 1000)

	res, err := f.coord.Run(context.Background())
	require.NoError(t, err, "close exhaustion is a result, not an error")

	assert.Equal(t, OutcomeCloseFailed, res.Outcome)
	assert.Equal(t, StateAlertedAwaitingUser, res.State)
	assert.Equal(t, []int64{101}, res.Registered, "unclosable leg stays monitored")
	assert.Empty(t, res.Closed)

	assert.True(t, f.flags.IsActive(), "flag stays active while the leg is open")
	assert.Equal(t, []int64{101}, f.monitor.MonitoredTickets())

	alerts := f.recorder.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, notify.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, int64(101), alerts[0].Fields["ticket"])
}

func TestRunLeavesFlagUntouchedOnBrokerError(t *testing.T) {
	f := newFixture(t, PolicyConnectionAge)
	activateSpread(t, f, "spread_F")
	f.paper.SetQueryError(pberrors.NewBrokerError("positions", "bridge down", nil))

	_, err := f.coord.Run(context.Background())
	require.Error(t, err)

	assert.True(t, f.flags.IsActive(), "flag must survive an unclassifiable startup")
	assert.Empty(t, f.monitor.MonitoredTickets())
}

func TestRunFallsBackToSymbolCoverageWithoutTicketMetadata(t *testing.T) {
	f := newFixture(t, PolicyConnectionAge)
	// Record written before ticket metadata existed.
	require.NoError(t, f.flags.MarkActive("spread_G", map[string]string{"side": "SHORT"}))
	f.paper.AddPosition(models.Position{Ticket: 500, Symbol: "XAUUSD", Volume: 0.02, Side: models.SideSell})
	f.paper.AddPosition(models.Position{Ticket: 501, Symbol: "XAGUSD", Volume: 1.0, Side: models.SideBuy})

	res, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAllPresent, res.Outcome)
	assert.Equal(t, StateResumed, res.State)
	assert.ElementsMatch(t, []int64{500, 501}, res.Registered)
}

func TestRunClosesLoneLegWithoutTicketMetadata(t *testing.T) {
	f := newFixture(t, PolicyConnectionAge)
	require.NoError(t, f.flags.MarkActive("spread_H", nil))
	f.paper.AddPosition(models.Position{Ticket: 600, Symbol: "XAUUSD", Volume: 0.02, Side: models.SideBuy})

	res, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, StateClosedClean, res.State)
	assert.Equal(t, []int64{600}, res.Closed)
	assert.False(t, f.flags.IsActive())
}

func TestEscalationRepeatsUntilFlagCleared(t *testing.T) {
	f := newFixture(t, PolicySessionConfirmed)
	activateSpread(t, f, "spread_J")
	f.paper.MarkConfirmed(100)

	res, err := f.coord.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateAlertedAwaitingUser, res.State)
	f.recorder.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		f.coord.EscalateUntilCleared(ctx, res, 10*time.Millisecond)
		close(done)
	}()

	// With the flag still active, reminders keep coming.
	require.Eventually(t, func() bool {
		return len(f.recorder.Alerts()) >= 2
	}, time.Second, 5*time.Millisecond)
	for _, a := range f.recorder.Alerts() {
		assert.Equal(t, notify.SeverityWarning, a.Severity)
	}

	// Operator acknowledges: the loop stops on its own.
	require.NoError(t, f.flags.Clear())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("escalation did not stop after the flag was cleared")
	}
}

func TestEscalationIsNoopForResolvedStates(t *testing.T) {
	f := newFixture(t, PolicyConnectionAge)

	// Must return immediately, even with an unreachable interval.
	f.coord.EscalateUntilCleared(context.Background(), Result{State: StateFreshStart}, time.Hour)
	f.coord.EscalateUntilCleared(context.Background(), Result{State: StateResumed}, time.Hour)
	assert.Empty(t, f.recorder.Alerts())
}

func TestSessionConfirmedPolicyIgnoresConnectionAge(t *testing.T) {
	f := newFixture(t, PolicySessionConfirmed)
	activateSpread(t, f, "spread_I")
	// No per-ticket sighting this session: even an old connection reads
	// as a stale flag under this policy.

	res, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoneOffline, res.Outcome)
	assert.False(t, f.flags.IsActive())
	assert.Empty(t, f.recorder.Alerts())
}
