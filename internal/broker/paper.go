package broker

import (
	"context"
	"sync"
	"time"

	"pairbot/internal/errors"
	"pairbot/internal/models"
)

// PaperConnector implements Connector against an in-memory position set.
// Used for paper mode and tests. Failures are scriptable per ticket.
type PaperConnector struct {
	mu        sync.Mutex
	connected bool
	since     time.Time
	positions map[int64]models.Position
	session   *sessionTracker

	// closeFailures maps ticket -> remaining number of close attempts
	// that should fail before one succeeds.
	closeFailures map[int64]int

	// queryErr, when set, is returned by every GetOpenPositions call.
	queryErr error
}

// NewPaperConnector creates an empty paper connector.
func NewPaperConnector() *PaperConnector {
	return &PaperConnector{
		positions:     make(map[int64]models.Position),
		session:       newSessionTracker(),
		closeFailures: make(map[int64]int),
	}
}

// Connect starts a simulated session.
func (p *PaperConnector) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	p.since = time.Now()
	p.session.reset()
	return nil
}

// Disconnect ends the simulated session.
func (p *PaperConnector) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.since = time.Time{}
	return nil
}

// IsConnected reports whether a session is established.
func (p *PaperConnector) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// ConnectedSince returns the simulated session start time.
func (p *PaperConnector) ConnectedSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.since
}

// SessionConfirmed reports whether this session ever saw the ticket live.
func (p *PaperConnector) SessionConfirmed(ticket int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.confirmed(ticket)
}

// GetOpenPositions returns the simulated positions matching symbols.
func (p *PaperConnector) GetOpenPositions(ctx context.Context, symbols []string) ([]models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil, errors.ErrNotConnected
	}
	if p.queryErr != nil {
		return nil, p.queryErr
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	var out []models.Position
	for _, pos := range p.positions {
		if len(want) == 0 || want[pos.Symbol] {
			out = append(out, pos)
		}
	}
	p.session.observe(out)
	return out, nil
}

// ClosePosition removes the position, honoring scripted failures.
func (p *PaperConnector) ClosePosition(ctx context.Context, ticket int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return errors.ErrNotConnected
	}
	if n := p.closeFailures[ticket]; n > 0 {
		p.closeFailures[ticket] = n - 1
		return errors.NewBrokerError("close", "simulated close failure", nil)
	}
	if _, ok := p.positions[ticket]; !ok {
		return errors.NewBrokerError("close", "position not found", nil)
	}
	delete(p.positions, ticket)
	return nil
}

// AddPosition seeds a simulated open position.
func (p *PaperConnector) AddPosition(pos models.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[pos.Ticket] = pos
}

// RemovePosition simulates an external (manual) close: the position
// disappears without a close request from this system.
func (p *PaperConnector) RemovePosition(ticket int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, ticket)
}

// FailCloses scripts the next n close attempts for a ticket to fail.
func (p *PaperConnector) FailCloses(ticket int64, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeFailures[ticket] = n
}

// SetQueryError makes every subsequent position query fail with err.
// Pass nil to restore normal behavior.
func (p *PaperConnector) SetQueryError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queryErr = err
}

// MarkConfirmed records a ticket as confirmed live this session without a
// query, for reconstructing session evidence in tests.
func (p *PaperConnector) MarkConfirmed(ticket int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session.seen[ticket] = true
}
