// Package monitor watches registered broker positions for unexpected
// closure. One background goroutine polls the broker at a fixed interval;
// polls are synchronous and never overlap, so a slow broker call throttles
// the effective polling rate instead of stacking queries.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pairbot/internal/broker"
	"pairbot/internal/errors"
	"pairbot/internal/flagstore"
	"pairbot/internal/logging"
	"pairbot/internal/models"
	"pairbot/internal/notify"
)

// Config holds monitor configuration.
type Config struct {
	// CheckInterval is the delay between the end of one poll and the
	// start of the next.
	CheckInterval time.Duration

	// MissedPollThreshold is how many consecutive polls a ticket must be
	// absent from before it is declared manually closed.
	MissedPollThreshold int

	// Symbols restricts broker queries to the pair's legs.
	Symbols []string

	// CloseMaxRetries and CloseBackoff parameterize sibling remediation.
	CloseMaxRetries int
	CloseBackoff    time.Duration
}

// Monitor polls broker state and detects manual closes.
type Monitor struct {
	cfg       Config
	connector broker.Connector
	closer    *broker.Closer
	flags     flagstore.Store
	notifier  notify.Notifier
	logger    zerolog.Logger

	// OnManualClose, if set, is invoked once per detected ticket after
	// remediation completes. Optional hook for the trading loop.
	OnManualClose func(ticket int64)

	mu      sync.Mutex
	tracked map[int64]*models.TrackedPosition
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a monitor. Defaults: 5s interval, threshold 2.
func New(cfg Config, connector broker.Connector, closer *broker.Closer, flags flagstore.Store, notifier notify.Notifier, logger zerolog.Logger) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.MissedPollThreshold < 1 {
		cfg.MissedPollThreshold = 2
	}
	if cfg.CloseMaxRetries < 1 {
		cfg.CloseMaxRetries = 3
	}
	if cfg.CloseBackoff <= 0 {
		cfg.CloseBackoff = 2 * time.Second
	}
	return &Monitor{
		cfg:       cfg,
		connector: connector,
		closer:    closer,
		flags:     flags,
		notifier:  notifier,
		logger:    logging.WithComponent(logger, "monitor"),
		tracked:   make(map[int64]*models.TrackedPosition),
	}
}

// Start launches the polling loop. Calling Start on a running monitor is
// a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)

	go m.loop(ctx)
	m.logger.Info().
		Dur("check_interval", m.cfg.CheckInterval).
		Int("missed_poll_threshold", m.cfg.MissedPollThreshold).
		Msg("Position monitor started")
}

// Stop halts the polling loop and joins it: when Stop returns, no further
// poll will run. Safe to call from any goroutine, idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		// Join an in-flight shutdown so every Stop caller gets the same
		// guarantee: no poll runs after Stop returns.
		m.wg.Wait()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info().Msg("Position monitor stopped")
}

// loop runs one poll, then sleeps CheckInterval, until cancelled. The
// timer is armed only after the poll returns, so polls cannot overlap.
func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	timer := time.NewTimer(m.cfg.CheckInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		m.poll(ctx)

		timer.Reset(m.cfg.CheckInterval)
	}
}

// RegisterPosition adds a ticket to tracking. Registering an identical
// record again is a no-op; conflicting parameters are a programmer error.
func (m *Monitor) RegisterPosition(ticket int64, symbol string, volume float64, side models.PositionSide) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.tracked[ticket]; ok {
		if existing.Symbol == symbol && existing.ExpectedVolume == volume && existing.ExpectedSide == side {
			return nil
		}
		return errors.NewDuplicateRegistrationError(ticket, symbol)
	}

	m.tracked[ticket] = &models.TrackedPosition{
		Ticket:         ticket,
		Symbol:         symbol,
		ExpectedVolume: volume,
		ExpectedSide:   side,
		Status:         models.StatusRegistered,
	}
	m.logger.Info().
		Int64("ticket", ticket).
		Str("symbol", symbol).
		Float64("volume", volume).
		Msg("Position registered")
	return nil
}

// UnregisterPosition removes a ticket from tracking. Unregistering an
// absent ticket is a silent no-op: races between monitor-detected closes
// and caller-initiated closes are expected.
func (m *Monitor) UnregisterPosition(ticket int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tracked[ticket]; !ok {
		return
	}
	delete(m.tracked, ticket)
	m.logger.Info().Int64("ticket", ticket).Msg("Position unregistered")
}

// MonitoredTickets returns the registered tickets, sorted.
func (m *Monitor) MonitoredTickets() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	tickets := make([]int64, 0, len(m.tracked))
	for t := range m.tracked {
		tickets = append(tickets, t)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })
	return tickets
}

// Tracked returns a snapshot of all tracking records.
func (m *Monitor) Tracked() []models.TrackedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.TrackedPosition, 0, len(m.tracked))
	for _, tp := range m.tracked {
		out = append(out, *tp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// ClearAll drops every tracking record.
func (m *Monitor) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.tracked)
	m.tracked = make(map[int64]*models.TrackedPosition)
	if n > 0 {
		m.logger.Info().Int("count", n).Msg("All tracked positions cleared")
	}
}

// Poll runs one reconciliation pass against the broker. Exposed so tests
// and the recovery coordinator can drive polls deterministically; the
// background loop calls it on its own schedule.
func (m *Monitor) Poll(ctx context.Context) {
	m.poll(ctx)
}

func (m *Monitor) poll(ctx context.Context) {
	positions, err := m.connector.GetOpenPositions(ctx, m.cfg.Symbols)
	if err != nil {
		// No evidence of absence: a failed query must not count toward
		// the missed-poll threshold.
		m.logger.Warn().Err(err).Msg("Broker query failed, skipping poll")
		return
	}

	live := make(map[int64]bool, len(positions))
	for _, p := range positions {
		live[p.Ticket] = true
	}

	now := time.Now()
	var detected []int64

	m.mu.Lock()
	for ticket, tp := range m.tracked {
		if tp.Status == models.StatusManuallyClosed {
			continue
		}
		if live[ticket] {
			tp.Status = models.StatusConfirmedOpen
			tp.MissedPolls = 0
			tp.LastSeen = now
			continue
		}
		tp.MissedPolls++
		if tp.MissedPolls >= m.cfg.MissedPollThreshold {
			tp.Status = models.StatusManuallyClosed
			detected = append(detected, ticket)
		}
	}
	m.mu.Unlock()

	for _, ticket := range detected {
		m.handleManualClose(ctx, ticket)
	}
}

// handleManualClose runs once per ticket: the transition to
// StatusManuallyClosed gates re-entry, so duplicate alerts are impossible.
func (m *Monitor) handleManualClose(ctx context.Context, ticket int64) {
	m.mu.Lock()
	closed := m.tracked[ticket]
	var siblings []*models.TrackedPosition
	for t, tp := range m.tracked {
		if t != ticket && tp.Status != models.StatusManuallyClosed {
			siblings = append(siblings, tp)
		}
	}
	m.mu.Unlock()

	if closed == nil {
		return
	}

	log := logging.WithTicket(m.logger, ticket)
	log.Warn().
		Str("symbol", closed.Symbol).
		Int("missed_polls", closed.MissedPolls).
		Msg("Manual close detected")

	m.notifier.Notify(ctx, notify.Alert{
		Severity: notify.SeverityCritical,
		Title:    "Manual close detected",
		Message:  "A monitored position disappeared without a close from this system.",
		Fields: map[string]interface{}{
			"ticket": ticket,
			"symbol": closed.Symbol,
		},
	})

	if len(siblings) == 0 {
		// Every leg is gone: nothing left to hedge, clear the flag.
		m.mu.Lock()
		for t, tp := range m.tracked {
			if tp.Status == models.StatusManuallyClosed {
				delete(m.tracked, t)
			}
		}
		m.mu.Unlock()

		if err := m.flags.MarkInactive("all legs manually closed"); err != nil {
			log.Error().Err(err).Msg("Failed to clear flag after manual close")
		}
		m.invokeCallback(ticket)
		return
	}

	// One leg survived: close it rather than carry a naked exposure.
	allClosed := true
	for _, sib := range siblings {
		result := m.closer.AttemptClose(ctx, sib.Ticket, sib.Symbol, m.cfg.CloseMaxRetries, m.cfg.CloseBackoff)
		if result.Success {
			m.UnregisterPosition(sib.Ticket)
			continue
		}
		allClosed = false
		m.notifier.Notify(ctx, notify.Alert{
			Severity: notify.SeverityCritical,
			Title:    "Failed to close unhedged leg",
			Message:  "Sibling close attempts exhausted; the leg remains monitored. Close it manually.",
			Fields: map[string]interface{}{
				"ticket":   sib.Ticket,
				"symbol":   sib.Symbol,
				"attempts": result.Attempts,
				"error":    result.Err.Error(),
			},
		})
	}

	if allClosed {
		m.UnregisterPosition(ticket)
		if err := m.flags.MarkInactive("manual close detected, sibling closed"); err != nil {
			log.Error().Err(err).Msg("Failed to clear flag after sibling close")
		}
	}
	// On failure the flag stays active and the sibling stays registered:
	// an unhedged leg must never go unmonitored.

	m.invokeCallback(ticket)
}

func (m *Monitor) invokeCallback(ticket int64) {
	if m.OnManualClose != nil {
		m.OnManualClose(ticket)
	}
}
