// Package wsource implements a reference ports.ExchangeSource: a
// WebSocket-fed bar/trade subscription plus a rate-limited, circuit-broken
// REST backfill client. Grounded on the teacher's exchange adapters
// (internal/data/exchanges/kraken/adapter.go, .../binance/adapter.go):
// dial-then-read-pump-goroutine for streaming, http.Client + JSON decode
// for REST, venue-normalized symbol/interval mapping.
package wsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/ports"
)

// WireBar is the upstream wire shape for both WS bar messages and REST
// backfill responses (spec.md §6: "{open_time_ms, open, high, low, close,
// volume, closed}").
type WireBar struct {
	Instrument string  `json:"instrument"`
	OpenTimeMs int64   `json:"open_time_ms"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	Closed     bool    `json:"closed"`
}

// WireTrade is the upstream wire shape for trade messages (spec.md §6).
type WireTrade struct {
	Instrument  string  `json:"instrument"`
	TimestampMs int64   `json:"timestamp_ms"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
}

func (w WireBar) toModel() model.Bar {
	return model.Bar{
		Instrument: w.Instrument, Timeframe: model.TF1m, OpenTimeMs: w.OpenTimeMs,
		Open: w.Open, High: w.High, Low: w.Low, Close: w.Close, Volume: w.Volume, Closed: w.Closed,
	}
}

func (w WireTrade) toModel() model.Trade {
	return model.Trade{Instrument: w.Instrument, TimestampMs: w.TimestampMs, Price: w.Price, Quantity: w.Quantity}
}

// Config holds the adapter's connection tunables.
type Config struct {
	WSURL          string
	RESTBaseURL    string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	// BackfillRPS bounds REST backfill request throughput (spec §4.G
	// BACKFILL phase paces fetch_bars calls).
	BackfillRPS float64
}

// DefaultConfig returns conservative dial/request timeouts.
func DefaultConfig() Config {
	return Config{DialTimeout: 10 * time.Second, RequestTimeout: 10 * time.Second, BackfillRPS: 5}
}

// Source is the reference ports.ExchangeSource implementation.
type Source struct {
	cfg    Config
	log    zerolog.Logger
	dialer *websocket.Dialer
	http   *http.Client
	cb     *gobreaker.CircuitBreaker
	lim    *rate.Limiter

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Source. cfg zero-values fall back to DefaultConfig's timeouts.
func New(cfg Config, log zerolog.Logger) *Source {
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.BackfillRPS <= 0 {
		cfg.BackfillRPS = def.BackfillRPS
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.DialTimeout

	cbSettings := gobreaker.Settings{
		Name:    "wsource-rest",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Source{
		cfg:    cfg,
		log:    log.With().Str("component", "wsource").Logger(),
		dialer: &dialer,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
		lim:    rate.NewLimiter(rate.Limit(cfg.BackfillRPS), 1),
	}
}

// SubscribeBars1m dials the WS endpoint (if not already connected), sends a
// bar-subscription message per instrument, and starts a read-pump goroutine
// that decodes incoming WireBar frames and invokes handler for closed bars.
func (s *Source) SubscribeBars1m(ctx context.Context, instruments []string, handler ports.BarHandler) error {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return err
	}
	for _, inst := range instruments {
		sub := map[string]any{"op": "subscribe", "channel": "bars_1m", "instrument": inst}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("%w: subscribe bars for %s: %v", model.ErrTransientPort, inst, err)
		}
	}
	go s.readPumpBars(ctx, conn, handler)
	return nil
}

// SubscribeTrades mirrors SubscribeBars1m for the trade channel.
func (s *Source) SubscribeTrades(ctx context.Context, instruments []string, handler ports.TradeHandler) error {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return err
	}
	for _, inst := range instruments {
		sub := map[string]any{"op": "subscribe", "channel": "trades", "instrument": inst}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("%w: subscribe trades for %s: %v", model.ErrTransientPort, inst, err)
		}
	}
	go s.readPumpTrades(ctx, conn, handler)
	return nil
}

func (s *Source) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", model.ErrTransientPort, s.cfg.WSURL, err)
	}
	s.conn = conn
	return conn, nil
}

func (s *Source) readPumpBars(ctx context.Context, conn *websocket.Conn, handler ports.BarHandler) {
	for {
		var wire WireBar
		if err := conn.ReadJSON(&wire); err != nil {
			s.log.Error().Err(err).Msg("wsource: bar read pump terminated")
			return
		}
		if !wire.Closed {
			continue
		}
		if err := handler(ctx, wire.toModel()); err != nil {
			s.log.Error().Err(err).Str("instrument", wire.Instrument).Msg("wsource: bar handler error")
		}
	}
}

func (s *Source) readPumpTrades(ctx context.Context, conn *websocket.Conn, handler ports.TradeHandler) {
	for {
		var wire WireTrade
		if err := conn.ReadJSON(&wire); err != nil {
			s.log.Error().Err(err).Msg("wsource: trade read pump terminated")
			return
		}
		if err := handler(ctx, wire.toModel()); err != nil {
			s.log.Error().Err(err).Str("instrument", wire.Instrument).Msg("wsource: trade handler error")
		}
	}
}

// FetchBars backfills 1-minute bars for [from, to] via REST, paced by the
// configured rate limiter and wrapped in a circuit breaker so a struggling
// upstream trips open rather than compounding retries during BACKFILL.
func (s *Source) FetchBars(ctx context.Context, instrument string, from, to int64) ([]model.Bar, error) {
	if err := s.lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter wait: %v", model.ErrTransientPort, err)
	}

	result, err := s.cb.Execute(func() (any, error) {
		url := fmt.Sprintf("%s/bars?instrument=%s&from=%d&to=%d", s.cfg.RESTBaseURL, instrument, from, to)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("backfill REST error: status %d", resp.StatusCode)
		}
		var wires []WireBar
		if err := json.NewDecoder(resp.Body).Decode(&wires); err != nil {
			return nil, err
		}
		bars := make([]model.Bar, 0, len(wires))
		for _, w := range wires {
			bars = append(bars, w.toModel())
		}
		return bars, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch bars for %s: %v", model.ErrTransientPort, instrument, err)
	}
	return result.([]model.Bar), nil
}

var _ ports.ExchangeSource = (*Source)(nil)
