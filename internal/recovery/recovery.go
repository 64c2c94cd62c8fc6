// Package recovery reconciles the persisted setup flag against live broker
// state at startup. It runs exactly once, before the position monitor
// starts, so the monitor never races a half-recovered state.
package recovery

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"pairbot/internal/broker"
	"pairbot/internal/flagstore"
	"pairbot/internal/logging"
	"pairbot/internal/models"
	"pairbot/internal/monitor"
	"pairbot/internal/notify"
	"pairbot/internal/store"
)

// Outcome classifies the flag/broker discrepancy found at startup.
type Outcome string

const (
	OutcomeAllPresent  Outcome = "all-present"
	OutcomePartial     Outcome = "partial"
	OutcomeNoneOffline Outcome = "none-offline"
	OutcomeNoneOnline  Outcome = "none-online"
	OutcomeCloseFailed Outcome = "close-failed"
)

// State is the terminal state of a recovery pass.
type State string

const (
	StateFreshStart          State = "FRESH_START"
	StateResumed             State = "RESUMED"
	StateClosedClean         State = "CLOSED_CLEAN"
	StateAlertedAwaitingUser State = "ALERTED_AWAITING_USER"
)

// NonePolicy selects how "flag active but zero positions" is classified.
type NonePolicy string

const (
	// PolicyConnectionAge treats a session established this run with no
	// sighting of the tickets as a stale flag (silent clear). The broker
	// reconnects on every launch, so connection age is the evidence we
	// actually have.
	PolicyConnectionAge NonePolicy = "connection-age"

	// PolicySessionConfirmed keys purely off whether the session ever
	// reported the tickets live.
	PolicySessionConfirmed NonePolicy = "session-confirmed"
)

// Config holds recovery configuration.
type Config struct {
	Symbols         []string
	NonePolicy      NonePolicy
	CloseMaxRetries int
	CloseBackoff    time.Duration

	// SessionCutoff: with PolicyConnectionAge, a session older than this
	// at recovery time counts as pre-existing, so an empty position list
	// is an unexplained disappearance rather than a restart gap.
	SessionCutoff time.Duration
}

// Result is the outcome of one recovery pass.
type Result struct {
	Outcome  Outcome
	State    State
	SpreadID string

	// Registered lists tickets re-registered with the monitor.
	Registered []int64

	// Closed lists tickets closed during partial recovery.
	Closed []int64
}

// Coordinator drives startup reconciliation.
type Coordinator struct {
	cfg       Config
	connector broker.Connector
	closer    *broker.Closer
	flags     flagstore.Store
	monitor   *monitor.Monitor
	notifier  notify.Notifier
	history   store.HistoryStore // optional
	logger    zerolog.Logger
}

// New creates a coordinator. The history store may be nil.
func New(cfg Config, connector broker.Connector, closer *broker.Closer, flags flagstore.Store, mon *monitor.Monitor, notifier notify.Notifier, history store.HistoryStore, logger zerolog.Logger) *Coordinator {
	if cfg.NonePolicy == "" {
		cfg.NonePolicy = PolicyConnectionAge
	}
	if cfg.CloseMaxRetries < 1 {
		cfg.CloseMaxRetries = 3
	}
	if cfg.CloseBackoff <= 0 {
		cfg.CloseBackoff = 2 * time.Second
	}
	if cfg.SessionCutoff <= 0 {
		cfg.SessionCutoff = time.Minute
	}
	return &Coordinator{
		cfg:       cfg,
		connector: connector,
		closer:    closer,
		flags:     flags,
		monitor:   mon,
		notifier:  notifier,
		history:   history,
		logger:    logging.WithComponent(logger, "recovery"),
	}
}

// Run executes one recovery pass. After it returns, either the flag is
// active and the monitor holds at least one registration for the spread,
// or the flag is inactive and the monitor holds none. The exception is
// the ALERTED_AWAITING_USER state, which is bounded by operator action.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	rec, ok := c.flags.Record()
	if !ok || !rec.Active {
		c.logger.Info().Msg("No active setup flag, fresh start")
		return Result{State: StateFreshStart}, nil
	}

	log := logging.WithSpread(c.logger, rec.SpreadID)
	log.Info().Msg("Active setup flag found, reconciling against broker")

	positions, err := c.connector.GetOpenPositions(ctx, c.cfg.Symbols)
	if err != nil {
		// Recovery cannot classify without a snapshot. Leave the flag
		// untouched and surface the error: the caller decides whether to
		// retry startup.
		log.Error().Err(err).Msg("Broker query failed during recovery")
		return Result{SpreadID: rec.SpreadID}, err
	}

	expected := expectedTickets(rec)

	if len(expected) > 0 {
		found, missing := partition(expected, positions)
		switch {
		case len(missing) == 0:
			return c.resumeAll(rec, keep(positions, found), log)
		case len(found) > 0:
			return c.closePartial(ctx, rec, positions, found, log)
		default:
			return c.handleNone(ctx, rec, expected, log)
		}
	}

	// No stored tickets: fall back to symbol coverage. A record that
	// predates ticket metadata still names the spread's symbols.
	switch {
	case coversSymbols(positions, c.cfg.Symbols):
		return c.resumeAll(rec, positions, log)
	case len(positions) > 0:
		return c.closePartial(ctx, rec, positions, tickets(positions), log)
	default:
		return c.handleNone(ctx, rec, nil, log)
	}
}

// resumeAll re-registers every leg and leaves the flag active.
func (c *Coordinator) resumeAll(rec *models.SetupRecord, positions []models.Position, log zerolog.Logger) (Result, error) {
	res := Result{Outcome: OutcomeAllPresent, State: StateResumed, SpreadID: rec.SpreadID}

	for _, p := range positions {
		if err := c.monitor.RegisterPosition(p.Ticket, p.Symbol, p.Volume, p.Side); err != nil {
			return res, err
		}
		res.Registered = append(res.Registered, p.Ticket)
	}

	log.Info().Ints64("tickets", res.Registered).Msg("All legs present, resuming monitoring")
	return res, nil
}

// closePartial closes the surviving legs: a one-legged exposure is never
// left open silently.
func (c *Coordinator) closePartial(ctx context.Context, rec *models.SetupRecord, positions []models.Position, found []int64, log zerolog.Logger) (Result, error) {
	res := Result{Outcome: OutcomePartial, SpreadID: rec.SpreadID}

	log.Warn().Ints64("surviving_tickets", found).Msg("Partial setup found, closing remainder")

	byTicket := make(map[int64]models.Position, len(positions))
	for _, p := range positions {
		byTicket[p.Ticket] = p
	}

	for _, ticket := range found {
		pos := byTicket[ticket]
		result := c.closer.AttemptClose(ctx, ticket, pos.Symbol, c.cfg.CloseMaxRetries, c.cfg.CloseBackoff)
		if !result.Success {
			// Keep the leg tracked and the flag active; escalate.
			if err := c.monitor.RegisterPosition(pos.Ticket, pos.Symbol, pos.Volume, pos.Side); err != nil {
				log.Error().Err(err).Int64("ticket", ticket).Msg("Failed to register surviving leg")
			} else {
				res.Registered = append(res.Registered, ticket)
			}

			res.Outcome = OutcomeCloseFailed
			res.State = StateAlertedAwaitingUser
			c.notifier.Notify(ctx, notify.Alert{
				Severity: notify.SeverityCritical,
				Title:    "Recovery close failed",
				Message:  "Could not close the surviving leg of a partial setup. The leg remains monitored; close it manually or re-run recovery.",
				Fields: map[string]interface{}{
					"spread_id": rec.SpreadID,
					"ticket":    ticket,
					"symbol":    pos.Symbol,
					"attempts":  result.Attempts,
					"error":     result.Err.Error(),
				},
			})
			log.Error().Int64("ticket", ticket).Msg("Partial recovery close exhausted, awaiting user")
			return res, nil
		}
		res.Closed = append(res.Closed, ticket)
	}

	if err := c.flags.MarkInactive("partial recovery closed remainder"); err != nil {
		return res, err
	}
	c.recordHistory(rec, string(OutcomePartial), "partial recovery closed remainder")

	res.State = StateClosedClean
	log.Info().Ints64("closed_tickets", res.Closed).Msg("Partial setup closed clean")
	return res, nil
}

// handleNone classifies a zero-position snapshot as a stale flag or an
// unexplained disappearance, per the configured policy.
func (c *Coordinator) handleNone(ctx context.Context, rec *models.SetupRecord, expected []int64, log zerolog.Logger) (Result, error) {
	res := Result{SpreadID: rec.SpreadID}

	if c.evidenceOfLife(expected) {
		// The session had reported these positions live: them vanishing is
		// not a restart gap. Alert and keep the flag until the operator
		// acknowledges (pairbot flag clear).
		res.Outcome = OutcomeNoneOnline
		res.State = StateAlertedAwaitingUser
		c.notifier.Notify(ctx, notify.Alert{
			Severity: notify.SeverityCritical,
			Title:    "Positions disappeared",
			Message:  "The broker session previously confirmed these positions live; now none are found. Investigate, then clear the flag manually.",
			Fields: map[string]interface{}{
				"spread_id": rec.SpreadID,
				"expected":  expected,
			},
		})
		log.Error().Ints64("expected_tickets", expected).Msg("Positions disappeared within a live session, awaiting user")
		return res, nil
	}

	// Stale flag from a prior crash: clear silently.
	res.Outcome = OutcomeNoneOffline
	res.State = StateClosedClean
	if err := c.flags.MarkInactive("no positions found at startup"); err != nil {
		return res, err
	}
	c.recordHistory(rec, string(OutcomeNoneOffline), "no positions found at startup")
	log.Info().Msg("Stale flag from prior run, cleared")
	return res, nil
}

// EscalateUntilCleared re-alerts while the flag stays active after an
// awaiting-user outcome. One alert per interval until the operator clears
// the flag or ctx is cancelled; the flag is never auto-cleared. No-op for
// any other state.
func (c *Coordinator) EscalateUntilCleared(ctx context.Context, res Result, interval time.Duration) {
	if res.State != StateAlertedAwaitingUser {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	log := logging.WithSpread(c.logger, res.SpreadID)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !c.flags.IsActive() {
			log.Info().Msg("Flag cleared by operator, escalation stopped")
			return
		}

		log.Warn().Str("outcome", string(res.Outcome)).Msg("Setup still awaiting operator action")
		c.notifier.Notify(ctx, notify.Alert{
			Severity: notify.SeverityWarning,
			Title:    "Setup still awaiting action",
			Message:  "No operator response yet; the flag remains active and the setup is unresolved. Investigate, then run 'pairbot flag clear'.",
			Fields: map[string]interface{}{
				"spread_id": res.SpreadID,
				"outcome":   string(res.Outcome),
			},
		})
		timer.Reset(interval)
	}
}

// evidenceOfLife reports whether we have session evidence the positions
// should still exist.
func (c *Coordinator) evidenceOfLife(expected []int64) bool {
	for _, t := range expected {
		if c.connector.SessionConfirmed(t) {
			return true
		}
	}
	if c.cfg.NonePolicy == PolicySessionConfirmed {
		return false
	}
	// connection-age policy: an old session that stops reporting the
	// positions is suspicious even without a per-ticket sighting.
	since := c.connector.ConnectedSince()
	return !since.IsZero() && time.Since(since) > c.cfg.SessionCutoff
}

func (c *Coordinator) recordHistory(rec *models.SetupRecord, outcome, reason string) {
	if c.history == nil {
		return
	}
	entry := &models.SetupHistoryEntry{
		SpreadID: rec.SpreadID,
		OpenedAt: rec.OpenedAt,
		ClosedAt: time.Now(),
		Outcome:  outcome,
		Reason:   reason,
		Metadata: rec.Metadata,
	}
	if err := c.history.SaveClosedSetup(entry); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record setup history")
	}
}

// expectedTickets extracts the stored leg tickets from the flag metadata.
// Records written before ticket metadata existed return an empty list; the
// classifier then falls back to symbol matching.
func expectedTickets(rec *models.SetupRecord) []int64 {
	var out []int64
	for _, key := range []string{"primary_ticket", "secondary_ticket"} {
		if v, ok := rec.Metadata[key]; ok {
			if t, err := strconv.ParseInt(v, 10, 64); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// keep filters positions down to the given tickets.
func keep(positions []models.Position, wanted []int64) []models.Position {
	want := make(map[int64]bool, len(wanted))
	for _, t := range wanted {
		want[t] = true
	}
	var out []models.Position
	for _, p := range positions {
		if want[p.Ticket] {
			out = append(out, p)
		}
	}
	return out
}

// tickets lists the ticket of every position.
func tickets(positions []models.Position) []int64 {
	out := make([]int64, 0, len(positions))
	for _, p := range positions {
		out = append(out, p.Ticket)
	}
	return out
}

// coversSymbols reports whether the snapshot has at least one position on
// every expected symbol.
func coversSymbols(positions []models.Position, symbols []string) bool {
	if len(positions) == 0 || len(symbols) == 0 {
		return false
	}
	have := make(map[string]bool, len(positions))
	for _, p := range positions {
		have[p.Symbol] = true
	}
	for _, s := range symbols {
		if !have[s] {
			return false
		}
	}
	return true
}

// partition splits expected tickets into found and missing against the
// live snapshot. With no stored tickets, every live position on the
// spread's symbols counts as found.
func partition(expected []int64, positions []models.Position) (found, missing []int64) {
	live := make(map[int64]bool, len(positions))
	for _, p := range positions {
		live[p.Ticket] = true
	}

	if len(expected) == 0 {
		for _, p := range positions {
			found = append(found, p.Ticket)
		}
		return found, nil
	}

	for _, t := range expected {
		if live[t] {
			found = append(found, t)
		} else {
			missing = append(missing, t)
		}
	}
	return found, missing
}
