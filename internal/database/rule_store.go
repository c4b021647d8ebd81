package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/propcompliance/internal/rules"
)

// RuleStore implements resolver.RuleStore and the review API's soft-rule
// lookup against the rules/soft_rules tables.
type RuleStore struct {
	db *DB
}

// NewRuleStore wraps an open DB as a rule store.
func NewRuleStore(db *DB) *RuleStore {
	return &RuleStore{db: db}
}

// LookupRules implements resolver.RuleStore: exact (firm, program_id) match
// only — alias resolution to a canonical program_id, where it happens at
// all, is done upstream of this call (the review API maps aliases through
// the program taxonomy; the resolver passes program_id through unchanged).
func (s *RuleStore) LookupRules(firm, programID string) (rules.Rules, bool, error) {
	row := s.db.QueryRow(`
		SELECT name, max_daily_drawdown_pct, max_total_drawdown_pct,
		       max_risk_per_trade_pct, max_open_lots, max_positions,
		       margin_warn_level_pct, margin_critical_level_pct,
		       trading_days_only, require_stop_loss, max_leverage, warn_buffer_pct
		FROM rules WHERE firm = ? AND program_id = ?`, firm, programID)

	var r rules.Rules
	var maxLeverage sql.NullFloat64
	var tradingDaysOnly, requireStopLoss int

	err := row.Scan(&r.Name, &r.MaxDailyDrawdownPct, &r.MaxTotalDrawdownPct,
		&r.MaxRiskPerTradePct, &r.MaxOpenLots, &r.MaxPositions,
		&r.MarginWarnLevelPct, &r.MarginCriticalLevelPct,
		&tradingDaysOnly, &requireStopLoss, &maxLeverage, &r.WarnBufferPct)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.Rules{}, false, nil
	}
	if err != nil {
		return rules.Rules{}, false, fmt.Errorf("rule store: lookup rules: %w", err)
	}

	r.ProgramID = programID
	r.TradingDaysOnly = tradingDaysOnly != 0
	r.RequireStopLoss = requireStopLoss != 0
	if maxLeverage.Valid {
		v := maxLeverage.Float64
		r.MaxLeverage = &v
	}

	resolved, err := rules.New(r)
	if err != nil {
		return rules.Rules{}, false, fmt.Errorf("rule store: stored rules failed validation: %w", err)
	}
	return resolved, true, nil
}

// SoftRules returns the advisory strings stored for (firm, program_id), for
// the review API's include_soft_rules=true response.
func (s *RuleStore) SoftRules(firm, programID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT advisory FROM soft_rules WHERE firm = ? AND program_id = ?`, firm, programID)
	if err != nil {
		return nil, fmt.Errorf("rule store: soft rules: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var advisory string
		if err := rows.Scan(&advisory); err != nil {
			return nil, fmt.Errorf("rule store: soft rules scan: %w", err)
		}
		out = append(out, advisory)
	}
	return out, rows.Err()
}

// UpsertRules writes or replaces the stored Rules for (firm, program_id). It
// is operator tooling, not used by the monitor or review read paths.
func (s *RuleStore) UpsertRules(firm string, r rules.Rules) error {
	var maxLeverage interface{}
	if r.MaxLeverage != nil {
		maxLeverage = *r.MaxLeverage
	}

	_, err := s.db.Exec(`
		INSERT INTO firms(name) VALUES (?) ON CONFLICT(name) DO NOTHING`, firm)
	if err != nil {
		return fmt.Errorf("rule store: upsert firm: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO rules (firm, program_id, name, max_daily_drawdown_pct, max_total_drawdown_pct,
			max_risk_per_trade_pct, max_open_lots, max_positions,
			margin_warn_level_pct, margin_critical_level_pct,
			trading_days_only, require_stop_loss, max_leverage, warn_buffer_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(firm, program_id) DO UPDATE SET
			name = excluded.name,
			max_daily_drawdown_pct = excluded.max_daily_drawdown_pct,
			max_total_drawdown_pct = excluded.max_total_drawdown_pct,
			max_risk_per_trade_pct = excluded.max_risk_per_trade_pct,
			max_open_lots = excluded.max_open_lots,
			max_positions = excluded.max_positions,
			margin_warn_level_pct = excluded.margin_warn_level_pct,
			margin_critical_level_pct = excluded.margin_critical_level_pct,
			trading_days_only = excluded.trading_days_only,
			require_stop_loss = excluded.require_stop_loss,
			max_leverage = excluded.max_leverage,
			warn_buffer_pct = excluded.warn_buffer_pct,
			updated_at = excluded.updated_at`,
		firm, r.ProgramID, r.Name, r.MaxDailyDrawdownPct, r.MaxTotalDrawdownPct,
		r.MaxRiskPerTradePct, r.MaxOpenLots, r.MaxPositions,
		r.MarginWarnLevelPct, r.MarginCriticalLevelPct,
		boolToInt(r.TradingDaysOnly), boolToInt(r.RequireStopLoss), maxLeverage, r.WarnBufferPct,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("rule store: upsert rules: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
