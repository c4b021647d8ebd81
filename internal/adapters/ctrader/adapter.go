// Package ctrader implements domain.PlatformAdapter over cTrader's Open API
// WebSocket stream. Unlike the MT5 HTTP-polling adapter, this one runs a
// background reader that keeps a cached snapshot fresh; Snapshot() itself
// never blocks on the network.
package ctrader

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/propcompliance/internal/domain"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay = 2 * time.Second
	maxReconnectDelay  = time.Minute

	// cacheStaleThreshold governs when a cached snapshot is too old to
	// trust; Snapshot returns an error rather than silently serving data
	// that predates a connection drop.
	cacheStaleThreshold = 2 * time.Minute
)

// Config configures one cTrader Adapter instance.
type Config struct {
	WSURL     string // e.g. wss://live.ctraderapi.com:5036
	AccountID string
	CTIDLogin int64
	AuthToken string
}

// Adapter is a streaming domain.PlatformAdapter for one cTrader account.
type Adapter struct {
	cfg Config
	log zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool
	stopped    bool
	stopChan   chan struct{}

	cacheMu      sync.RWMutex
	cached       domain.AccountSnapshot
	cachedLeverage float64
	lastUpdate   time.Time
	serverOffset time.Duration
	offsetKnown  bool
}

// New builds a cTrader Adapter. It does not connect until Connect is called.
func New(cfg Config, log zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:      cfg,
		log:      log.With().Str("adapter", "ctrader").Str("account_id", cfg.AccountID).Logger(),
		stopChan: make(chan struct{}),
	}
}

// Connect dials the WebSocket, authenticates, subscribes to account-level
// updates, and starts the background read loop.
func (a *Adapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, a.cfg.WSURL, nil)
	if err != nil {
		return domain.TransientIO{Platform: domain.PlatformCTrader, Op: "dial", Err: err}
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	a.conn = conn
	a.connCtx = connCtx
	a.cancelFunc = connCancel
	a.connected = true

	if err := a.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		a.conn = nil
		a.connCtx = nil
		a.cancelFunc = nil
		a.connected = false
		return fmt.Errorf("ctrader: subscribe: %w", err)
	}

	go a.readLoop(connCtx)

	a.log.Info().Msg("ctrader adapter connected")
	return nil
}

// Disconnect tears down the WebSocket and stops the background reader.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil
	}
	a.stopped = true
	close(a.stopChan)

	if a.conn == nil {
		return nil
	}
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	err := a.conn.Close(websocket.StatusNormalClosure, "")
	a.conn = nil
	a.connCtx = nil
	a.connected = false
	if err != nil {
		return fmt.Errorf("ctrader: disconnect: %w", err)
	}
	return nil
}

type subscribeRequest struct {
	PayloadType string `json:"payloadType"`
	CtidTraderAccountID int64 `json:"ctidTraderAccountId"`
	AccessToken string `json:"accessToken"`
}

func (a *Adapter) subscribe(ctx context.Context) error {
	req := subscribeRequest{
		PayloadType:          "ProtoOASubscribeSpotsReq",
		CtidTraderAccountID:  a.cfg.CTIDLogin,
		AccessToken:          a.cfg.AuthToken,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("ctrader: marshal subscribe: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	return a.conn.Write(writeCtx, websocket.MessageText, data)
}

// accountUpdate is the shape of the account-state push messages this
// adapter cares about; cTrader's real Open API wire format carries many
// more payload types, but the monitor only consumes account-level state.
type accountUpdate struct {
	Balance          float64          `json:"balance"`
	Equity           float64          `json:"equity"`
	MarginUsed       float64          `json:"marginUsed"`
	MarginFree       float64          `json:"marginFree"`
	Currency         string           `json:"currency"`
	Leverage         float64          `json:"leverage"`
	ServerTimeUnix   int64            `json:"serverTimeUnix"`
	Positions        []positionUpdate `json:"positions"`
}

type positionUpdate struct {
	ID             string   `json:"id"`
	Symbol         string   `json:"symbol"`
	Side           string   `json:"side"`
	VolumeLots     float64  `json:"volumeLots"`
	OpenPrice      float64  `json:"openPrice"`
	CurrentPrice   float64  `json:"currentPrice"`
	StopLoss       *float64 `json:"stopLoss"`
	TakeProfit     *float64 `json:"takeProfit"`
	UnrealizedPL   float64  `json:"unrealizedPl"`
	Commission     float64  `json:"commission"`
	Swap           float64  `json:"swap"`
	OpenTimeUnix   int64    `json:"openTimeUnix"`
	ContractSize   *float64 `json:"contractSize"`
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer func() {
		a.mu.Lock()
		stopped := a.stopped
		a.mu.Unlock()
		if !stopped {
			go a.reconnectLoop()
		}
	}()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus != websocket.StatusNormalClosure && closeStatus != websocket.StatusGoingAway && ctx.Err() == nil {
				a.log.Error().Err(err).Msg("unexpected ctrader websocket read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := a.handleMessage(message); err != nil {
			a.log.Error().Err(err).Msg("failed to handle ctrader message")
		}
	}
}

func (a *Adapter) handleMessage(message []byte) error {
	var update accountUpdate
	if err := json.Unmarshal(message, &update); err != nil {
		return fmt.Errorf("ctrader: parse account update: %w", err)
	}

	serverTime := time.Unix(update.ServerTimeUnix, 0).UTC()

	positions := make([]domain.Position, 0, len(update.Positions))
	for _, p := range update.Positions {
		side := domain.SideLong
		if p.Side == "sell" || p.Side == "short" {
			side = domain.SideShort
		}
		positions = append(positions, domain.Position{
			ID:              p.ID,
			Symbol:          p.Symbol,
			Side:            side,
			VolumeLots:      p.VolumeLots,
			OpenPrice:       p.OpenPrice,
			CurrentPrice:    p.CurrentPrice,
			StopLossPrice:   p.StopLoss,
			TakeProfitPrice: p.TakeProfit,
			UnrealizedPL:    p.UnrealizedPL,
			Commission:      p.Commission,
			Swap:            p.Swap,
			OpenTime:        time.Unix(p.OpenTimeUnix, 0).UTC(),
			ContractSize:    p.ContractSize,
		})
	}

	snap := domain.AccountSnapshot{
		AccountID:        a.cfg.AccountID,
		Platform:         domain.PlatformCTrader,
		Currency:         update.Currency,
		Balance:          update.Balance,
		Equity:           update.Equity,
		MarginUsed:       update.MarginUsed,
		MarginFree:       update.MarginFree,
		MarginLevelPct:   marginLevelPct(update.Equity, update.MarginUsed),
		Positions:        positions,
		ObservedAtServer: serverTime,
		ObservedAtWall:   time.Now().UTC(),
	}

	a.cacheMu.Lock()
	a.cached = snap
	a.cachedLeverage = update.Leverage
	a.lastUpdate = time.Now()
	if !a.offsetKnown {
		a.serverOffset = serverTime.Sub(time.Now().UTC())
		a.offsetKnown = true
	}
	a.cacheMu.Unlock()

	return nil
}

func (a *Adapter) reconnectLoop() {
	attempt := 0
	for {
		select {
		case <-a.stopChan:
			return
		default:
		}

		attempt++
		delay := backoff(attempt)

		select {
		case <-time.After(delay):
		case <-a.stopChan:
			return
		}

		if err := a.Connect(); err != nil {
			a.log.Warn().Err(err).Int("attempt", attempt).Msg("ctrader reconnect failed")
			continue
		}
		a.log.Info().Int("attempt", attempt).Msg("ctrader reconnected")
		return
	}
}

func backoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

func marginLevelPct(equity, marginUsed float64) float64 {
	if marginUsed <= 0 {
		return math.Inf(1)
	}
	return 100 * equity / marginUsed
}

// ServerTime implements domain.PlatformAdapter using the cached offset
// established by the first account update received over the stream.
func (a *Adapter) ServerTime() (time.Time, error) {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	if !a.offsetKnown {
		return time.Time{}, fmt.Errorf("ctrader: server time not yet known (no update received)")
	}
	return time.Now().UTC().Add(a.serverOffset), nil
}

// Snapshot implements domain.PlatformAdapter by serving the cached state;
// it never itself touches the network.
func (a *Adapter) Snapshot() (domain.AccountSnapshot, error) {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()

	if a.lastUpdate.IsZero() {
		return domain.AccountSnapshot{}, fmt.Errorf("ctrader: no account update received yet")
	}
	if time.Since(a.lastUpdate) > cacheStaleThreshold {
		return domain.AccountSnapshot{}, fmt.Errorf("ctrader: cached snapshot is stale (last update %s ago)", time.Since(a.lastUpdate))
	}
	return a.cached, nil
}

// Leverage implements domain.PlatformAdapter from the most recent cached
// account update.
func (a *Adapter) Leverage() (*float64, error) {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	if a.lastUpdate.IsZero() {
		return nil, fmt.Errorf("ctrader: no account update received yet")
	}
	if a.cachedLeverage <= 0 {
		return nil, nil
	}
	lev := a.cachedLeverage
	return &lev, nil
}
