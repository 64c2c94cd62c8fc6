package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pairbot/internal/errors"
	"pairbot/internal/models"
)

// BridgeConfig holds configuration for the MT5 terminal bridge client.
type BridgeConfig struct {
	BaseURL      string
	QueryTimeout time.Duration
	CloseTimeout time.Duration

	// BreakerThreshold and BreakerCooldown parameterize the circuit
	// breaker guarding bridge requests. Zero values take defaults.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// BridgeConnector talks JSON-over-HTTP to a local MT5 terminal bridge.
// The bridge exposes GET /positions and POST /close against the running
// terminal; each call is a fresh snapshot.
type BridgeConnector struct {
	cfg     BridgeConfig
	client  *http.Client
	breaker *breaker

	mu        sync.Mutex
	connected bool
	since     time.Time
	session   *sessionTracker
}

// NewBridgeConnector creates a connector for the given bridge.
func NewBridgeConnector(cfg BridgeConfig) *BridgeConnector {
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 15 * time.Second
	}
	return &BridgeConnector{
		cfg:     cfg,
		client:  &http.Client{},
		breaker: newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		session: newSessionTracker(),
	}
}

// Connect verifies the bridge is reachable and starts a session.
func (b *BridgeConnector) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/ping", nil)
	if err != nil {
		return errors.NewBrokerError("connect", "building request", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return errors.NewBrokerError("connect", "bridge unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.NewBrokerError("connect", fmt.Sprintf("bridge returned %d", resp.StatusCode), nil)
	}

	b.mu.Lock()
	b.connected = true
	b.since = time.Now()
	b.session.reset()
	b.mu.Unlock()
	b.breaker.reset()
	return nil
}

// Disconnect ends the session.
func (b *BridgeConnector) Disconnect() error {
	b.mu.Lock()
	b.connected = false
	b.since = time.Time{}
	b.mu.Unlock()
	return nil
}

// IsConnected reports whether a session is established.
func (b *BridgeConnector) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// ConnectedSince returns the session start time.
func (b *BridgeConnector) ConnectedSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.since
}

// SessionConfirmed reports whether this session ever saw the ticket live.
func (b *BridgeConnector) SessionConfirmed(ticket int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.confirmed(ticket)
}

// bridgePosition is the bridge's wire shape for one position.
type bridgePosition struct {
	Ticket int64   `json:"ticket"`
	Symbol string  `json:"symbol"`
	Volume float64 `json:"volume"`
	Type   string  `json:"type"` // "buy" or "sell"
}

// GetOpenPositions fetches the live positions for the given symbols.
func (b *BridgeConnector) GetOpenPositions(ctx context.Context, symbols []string) ([]models.Position, error) {
	if !b.IsConnected() {
		return nil, errors.ErrNotConnected
	}
	if err := b.breaker.allow(); err != nil {
		return nil, err
	}
	positions, err := b.getOpenPositions(ctx, symbols)
	b.breaker.record(err)
	return positions, err
}

func (b *BridgeConnector) getOpenPositions(ctx context.Context, symbols []string) ([]models.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel()

	u := b.cfg.BaseURL + "/positions"
	if len(symbols) > 0 {
		u += "?symbols=" + url.QueryEscape(strings.Join(symbols, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.NewBrokerError("positions", "building request", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.NewBrokerError("positions", "query failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewBrokerError("positions", fmt.Sprintf("bridge returned %d", resp.StatusCode), nil)
	}

	var raw []bridgePosition
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.NewBrokerError("positions", "decoding response", err)
	}

	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		side := models.SideBuy
		if strings.EqualFold(p.Type, "sell") {
			side = models.SideSell
		}
		positions = append(positions, models.Position{
			Ticket: p.Ticket,
			Symbol: p.Symbol,
			Volume: p.Volume,
			Side:   side,
		})
	}

	b.mu.Lock()
	b.session.observe(positions)
	b.mu.Unlock()

	return positions, nil
}

// ClosePosition issues a close request for one ticket. A non-2xx reply or
// a timed-out request is an error; the caller's retry policy decides what
// to do with it.
func (b *BridgeConnector) ClosePosition(ctx context.Context, ticket int64) error {
	if !b.IsConnected() {
		return errors.ErrNotConnected
	}
	if err := b.breaker.allow(); err != nil {
		return err
	}
	err := b.closePosition(ctx, ticket)
	b.breaker.record(err)
	return err
}

func (b *BridgeConnector) closePosition(ctx context.Context, ticket int64) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.CloseTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]int64{"ticket": ticket})
	if err != nil {
		return errors.NewBrokerError("close", "encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/close", bytes.NewReader(body))
	if err != nil {
		return errors.NewBrokerError("close", "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.NewBrokerError("close", "close request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var reply struct {
			Retcode int    `json:"retcode"`
			Comment string `json:"comment"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&reply)
		return errors.NewBrokerError("close",
			fmt.Sprintf("bridge returned %d (retcode=%d %s)", resp.StatusCode, reply.Retcode, reply.Comment), nil)
	}
	return nil
}
