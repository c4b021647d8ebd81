// Package mt5 implements domain.PlatformAdapter over an MT5 bridge service
// reached via HTTP, polled on demand by the monitor loop. MT5 itself is not
// network-native; real deployments sit a small bridge process next to the
// terminal (or use a gRPC gateway such as MetaRPC) that this client talks
// to in a simple request/response style.
package mt5

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/propcompliance/internal/domain"
)

// Adapter is an HTTP-polling domain.PlatformAdapter for one MT5 account.
type Adapter struct {
	baseURL   string
	accountID string
	login     uint64
	client    *http.Client
	log       zerolog.Logger

	serverOffset time.Duration
	offsetKnown  bool
}

// Config configures one MT5 Adapter instance.
type Config struct {
	BaseURL   string // bridge service base URL, e.g. http://localhost:9101
	AccountID string
	Login     uint64
	Timeout   time.Duration
}

// New builds an MT5 Adapter. It does not connect until Connect is called.
func New(cfg Config, log zerolog.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		baseURL:   cfg.BaseURL,
		accountID: cfg.AccountID,
		login:     cfg.Login,
		client:    &http.Client{Timeout: timeout},
		log:       log.With().Str("adapter", "mt5").Str("account_id", cfg.AccountID).Logger(),
	}
}

type bridgeResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

func (a *Adapter) get(endpoint string) (*bridgeResponse, error) {
	req, err := http.NewRequest(http.MethodGet, a.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("mt5: build request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mt5: request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mt5: read response: %w", err)
	}

	var out bridgeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("mt5: decode response: %w", err)
	}
	if !out.Success {
		msg := "unknown bridge error"
		if out.Error != nil {
			msg = *out.Error
		}
		return nil, fmt.Errorf("mt5: bridge error: %s", msg)
	}
	return &out, nil
}

type accountSummary struct {
	Balance        float64 `json:"balance"`
	Equity         float64 `json:"equity"`
	MarginUsed     float64 `json:"margin_used"`
	MarginFree     float64 `json:"margin_free"`
	Currency       string  `json:"currency"`
	Leverage       float64 `json:"leverage"`
	ServerTimeUnix int64   `json:"server_time_unix"`
}

type bridgePosition struct {
	Ticket       string   `json:"ticket"`
	Symbol       string   `json:"symbol"`
	Side         string   `json:"side"`
	VolumeLots   float64  `json:"volume_lots"`
	OpenPrice    float64  `json:"open_price"`
	CurrentPrice float64  `json:"current_price"`
	StopLoss     *float64 `json:"stop_loss"`
	TakeProfit   *float64 `json:"take_profit"`
	Profit       float64  `json:"profit"`
	Commission   float64  `json:"commission"`
	Swap         float64  `json:"swap"`
	OpenTimeUnix int64    `json:"open_time_unix"`
	ContractSize *float64 `json:"contract_size"`
}

// Connect verifies the bridge is reachable and the account is authenticated.
func (a *Adapter) Connect() error {
	resp, err := a.get(fmt.Sprintf("/api/mt5/%d/ping", a.login))
	if err != nil {
		return fmt.Errorf("mt5: connect: %w", err)
	}
	var ok struct {
		Connected bool `json:"connected"`
	}
	if err := json.Unmarshal(resp.Data, &ok); err != nil {
		return fmt.Errorf("mt5: connect: parse ping: %w", err)
	}
	if !ok.Connected {
		return domain.AuthError{Platform: domain.PlatformMT5, Message: fmt.Sprintf("bridge reports account %d not connected", a.login)}
	}
	a.log.Info().Msg("mt5 adapter connected")
	return nil
}

// Disconnect is a no-op for the HTTP-polling adapter: there is no persistent
// session to tear down between requests.
func (a *Adapter) Disconnect() error {
	return nil
}

func (a *Adapter) fetchSummary() (accountSummary, error) {
	resp, err := a.get(fmt.Sprintf("/api/mt5/%d/account-summary", a.login))
	if err != nil {
		return accountSummary{}, err
	}
	var sum accountSummary
	if err := json.Unmarshal(resp.Data, &sum); err != nil {
		return accountSummary{}, fmt.Errorf("mt5: parse account summary: %w", err)
	}
	return sum, nil
}

// ServerTime implements domain.PlatformAdapter. The broker's UTC offset is
// taken from an account-summary call (ServerTime's own first call, and
// refreshed by every Snapshot) and cached — once it is known, ServerTime
// does not round-trip to the bridge again.
func (a *Adapter) ServerTime() (time.Time, error) {
	if a.offsetKnown {
		return time.Now().UTC().Add(a.serverOffset), nil
	}

	sum, err := a.fetchSummary()
	if err != nil {
		return time.Time{}, fmt.Errorf("mt5: server time: %w", err)
	}
	serverTime := time.Unix(sum.ServerTimeUnix, 0).UTC()
	a.serverOffset = serverTime.Sub(time.Now().UTC())
	a.offsetKnown = true
	return serverTime, nil
}

// Snapshot implements domain.PlatformAdapter.
func (a *Adapter) Snapshot() (domain.AccountSnapshot, error) {
	sum, err := a.fetchSummary()
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("mt5: snapshot: %w", err)
	}

	resp, err := a.get(fmt.Sprintf("/api/mt5/%d/opened-orders", a.login))
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("mt5: snapshot: %w", err)
	}
	var raw struct {
		Positions []bridgePosition `json:"positions"`
	}
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("mt5: parse opened orders: %w", err)
	}

	serverTime := time.Unix(sum.ServerTimeUnix, 0).UTC()
	a.serverOffset = serverTime.Sub(time.Now().UTC())
	a.offsetKnown = true

	marginLevel := marginLevelPct(sum.Equity, sum.MarginUsed)

	positions := make([]domain.Position, 0, len(raw.Positions))
	for _, p := range raw.Positions {
		side := domain.SideLong
		if p.Side == "sell" || p.Side == "short" {
			side = domain.SideShort
		}
		positions = append(positions, domain.Position{
			ID:              p.Ticket,
			Symbol:          p.Symbol,
			Side:            side,
			VolumeLots:      p.VolumeLots,
			OpenPrice:       p.OpenPrice,
			CurrentPrice:    p.CurrentPrice,
			StopLossPrice:   p.StopLoss,
			TakeProfitPrice: p.TakeProfit,
			UnrealizedPL:    p.Profit,
			Commission:      p.Commission,
			Swap:            p.Swap,
			OpenTime:        time.Unix(p.OpenTimeUnix, 0).UTC(),
			ContractSize:    p.ContractSize,
		})
	}

	return domain.AccountSnapshot{
		AccountID:        a.accountID,
		Platform:         domain.PlatformMT5,
		Currency:         sum.Currency,
		Balance:          sum.Balance,
		Equity:           sum.Equity,
		MarginUsed:       sum.MarginUsed,
		MarginFree:       sum.MarginFree,
		MarginLevelPct:   marginLevel,
		Positions:        positions,
		ObservedAtServer: serverTime,
		ObservedAtWall:   time.Now().UTC(),
	}, nil
}

// Leverage implements domain.PlatformAdapter.
func (a *Adapter) Leverage() (*float64, error) {
	sum, err := a.fetchSummary()
	if err != nil {
		return nil, fmt.Errorf("mt5: leverage: %w", err)
	}
	if sum.Leverage <= 0 {
		return nil, nil
	}
	lev := sum.Leverage
	return &lev, nil
}

func marginLevelPct(equity, marginUsed float64) float64 {
	if marginUsed <= 0 {
		return math.Inf(1)
	}
	return 100 * equity / marginUsed
}
