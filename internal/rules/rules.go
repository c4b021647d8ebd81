// Package rules defines the compliance rule set a prop firm publishes for a
// funded account, plus the compile-time preset registry and program
// taxonomy used to resolve one for a given firm/program.
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Rules fully describes one firm/program's compliance contract. It is
// immutable once resolved for an account.
type Rules struct {
	Name      string `json:"name"`
	ProgramID string `json:"program_id,omitempty"`

	MaxDailyDrawdownPct float64 `json:"max_daily_drawdown_pct"`
	MaxTotalDrawdownPct float64 `json:"max_total_drawdown_pct"`

	MaxRiskPerTradePct float64 `json:"max_risk_per_trade_pct"`
	MaxOpenLots        float64 `json:"max_open_lots"`
	MaxPositions       int     `json:"max_positions"`

	MarginWarnLevelPct     float64 `json:"margin_warn_level_pct"`
	MarginCriticalLevelPct float64 `json:"margin_critical_level_pct"`

	TradingDaysOnly bool     `json:"trading_days_only"`
	RequireStopLoss bool     `json:"require_stop_loss"`
	MaxLeverage     *float64 `json:"max_leverage,omitempty"`

	WarnBufferPct float64 `json:"warn_buffer_pct"`
}

// Defaults applied by New / after decoding.
const (
	DefaultMarginWarnLevelPct     = 100.0
	DefaultMarginCriticalLevelPct = 50.0
	DefaultWarnBufferPct          = 0.8
)

// applyDefaults fills in the zero-value defaults. Called after
// construction and after JSON decoding so a caller supplying a partial
// custom Rules value still gets sane margin/warn-buffer behavior.
func (r *Rules) applyDefaults() {
	if r.MarginWarnLevelPct == 0 {
		r.MarginWarnLevelPct = DefaultMarginWarnLevelPct
	}
	if r.MarginCriticalLevelPct == 0 {
		r.MarginCriticalLevelPct = DefaultMarginCriticalLevelPct
	}
	if r.WarnBufferPct == 0 {
		r.WarnBufferPct = DefaultWarnBufferPct
	}
}

// Validate enforces that all *_pct fields are non-negative and
// warn_buffer_pct <= 1.0.
func (r Rules) Validate() error {
	if r.MaxDailyDrawdownPct < 0 || r.MaxTotalDrawdownPct < 0 ||
		r.MaxRiskPerTradePct < 0 || r.MaxOpenLots < 0 ||
		r.MarginWarnLevelPct < 0 || r.MarginCriticalLevelPct < 0 {
		return fmt.Errorf("rules: percentage/limit fields must be non-negative")
	}
	if r.WarnBufferPct <= 0 || r.WarnBufferPct > 1.0 {
		return fmt.Errorf("rules: warn_buffer_pct must be in (0, 1], got %v", r.WarnBufferPct)
	}
	if r.MaxPositions < 0 {
		return fmt.Errorf("rules: max_positions must be non-negative")
	}
	if r.MaxLeverage != nil && *r.MaxLeverage < 0 {
		return fmt.Errorf("rules: max_leverage must be non-negative")
	}
	return nil
}

// New builds a Rules value with defaults applied and validates it.
func New(r Rules) (Rules, error) {
	r.applyDefaults()
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// UnmarshalJSON rejects unknown fields so a round-trip through JSON is
// identity-preserving, and
// applies defaults to a fresh decode.
func (r *Rules) UnmarshalJSON(data []byte) error {
	type alias Rules
	aux := alias{}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&aux); err != nil {
		return fmt.Errorf("rules: decode: %w", err)
	}

	*r = Rules(aux)
	r.applyDefaults()
	return nil
}

// NormalizeFirmName is the case-insensitive, trim-and-collapse normalization
// the preset registry and aliasing use for matching a firm name.
func NormalizeFirmName(firm string) string {
	fields := strings.Fields(strings.ToLower(firm))
	return strings.Join(fields, " ")
}
