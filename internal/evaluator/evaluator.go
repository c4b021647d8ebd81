// Package evaluator implements the pure compliance rule evaluation over a
// resolved Rules set and an account snapshot. It performs no I/O and reads
// no clock: every timestamp used comes from the snapshot.
package evaluator

import (
	"math"
	"time"

	"github.com/aristath/propcompliance/internal/domain"
	"github.com/aristath/propcompliance/internal/rules"
)

// BreachCode identifies which rule a breach came from.
type BreachCode string

const (
	CodeDailyDrawdown  BreachCode = "DAILY_DD"
	CodeTotalDrawdown  BreachCode = "TOTAL_DD"
	CodeRiskPerTrade   BreachCode = "RISK_PER_TRADE"
	CodeMaxLots        BreachCode = "MAX_LOTS"
	CodeMaxPositions   BreachCode = "MAX_POSITIONS"
	CodeMarginLevel    BreachCode = "MARGIN_LEVEL"
	CodeMissingStopLoss BreachCode = "MISSING_STOP_LOSS"
	CodeLeverage       BreachCode = "LEVERAGE"
)

// Level is breach severity.
type Level string

const (
	LevelWarn Level = "WARN"
	LevelHard Level = "HARD"
)

// RuleBreach is one evaluator finding.
type RuleBreach struct {
	Code       BreachCode `json:"code"`
	Level      Level      `json:"level"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	AccountID  string     `json:"account_id"`
	ObservedAt time.Time  `json:"observed_at"`
}

// Input bundles everything Evaluate needs. StartingBalance is the account's
// original funded balance, used as the denominator for total drawdown —
// distinct from the snapshot's day-start anchor, which resets every broker
// day. Leverage comes from the adapter rather than the snapshot because not
// every platform/account exposes it.
type Input struct {
	Rules           rules.Rules
	Snapshot        domain.AccountSnapshot
	StartingBalance float64
	Leverage        *float64
}

// Evaluate runs every applicable check over (rules, snapshot) and returns
// the full breach list in a stable, deterministic order. It is a
// pure function: identical inputs always yield identical outputs, and it
// performs no I/O and reads no clock.
func Evaluate(in Input) []RuleBreach {
	var breaches []RuleBreach

	breaches = append(breaches, dailyDrawdown(in)...)
	breaches = append(breaches, totalDrawdown(in)...)
	breaches = append(breaches, riskPerTrade(in)...)
	breaches = append(breaches, maxOpenLots(in)...)
	breaches = append(breaches, maxPositions(in)...)
	breaches = append(breaches, marginLevel(in)...)
	breaches = append(breaches, missingStopLoss(in)...)
	breaches = append(breaches, leverage(in)...)

	return breaches
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func breach(in Input, code BreachCode, level Level, msg string, value, threshold float64) RuleBreach {
	return RuleBreach{
		Code:       code,
		Level:      level,
		Message:    msg,
		Value:      value,
		Threshold:  threshold,
		AccountID:  in.Snapshot.AccountID,
		ObservedAt: in.Snapshot.ObservedAtServer,
	}
}

// drawdownPct computes the "whichever is worse" loss-against-anchor
// percentage shared by the daily and total drawdown checks: the larger of
// (anchor-equity) and (anchor-balance), floored at zero.
func drawdownPct(anchor, balance, equity float64) float64 {
	if anchor <= 0 {
		return 0
	}
	lossByEquity := anchor - equity
	if lossByEquity < 0 {
		lossByEquity = 0
	}
	lossByBalance := anchor - balance
	if lossByBalance < 0 {
		lossByBalance = 0
	}
	loss := lossByEquity
	if lossByBalance > loss {
		loss = lossByBalance
	}
	return 100 * loss / anchor
}

// evalLevel applies the shared HARD-at-limit / WARN-inside-buffer decision
// used by every percentage-threshold check.
func evalLevel(in Input, code BreachCode, msg string, pct, limit, warnBuffer float64) []RuleBreach {
	if limit <= 0 {
		return nil
	}
	if pct >= limit {
		return []RuleBreach{breach(in, code, LevelHard, msg, pct, limit)}
	}
	warnThreshold := warnBuffer * limit
	if pct >= warnThreshold {
		return []RuleBreach{breach(in, code, LevelWarn, msg, pct, limit)}
	}
	return nil
}

// dailyDrawdown is measured against the broker-day
// start anchor, skipped entirely on non-trading days when trading_days_only
// is set.
func dailyDrawdown(in Input) []RuleBreach {
	if in.Rules.TradingDaysOnly && isWeekend(in.Snapshot.ObservedAtServer) {
		return nil
	}
	anchor := in.Snapshot.DayStartAnchor()
	if anchor <= 0 {
		return nil
	}
	pct := drawdownPct(anchor, in.Snapshot.Balance, in.Snapshot.Equity)
	return evalLevel(in, CodeDailyDrawdown, "daily drawdown limit breached", pct, in.Rules.MaxDailyDrawdownPct, in.Rules.WarnBufferPct)
}

// totalDrawdown is measured against the account's
// original funded balance, never reset.
func totalDrawdown(in Input) []RuleBreach {
	if in.StartingBalance <= 0 {
		return nil
	}
	pct := drawdownPct(in.StartingBalance, in.Snapshot.Balance, in.Snapshot.Equity)
	return evalLevel(in, CodeTotalDrawdown, "total drawdown limit breached", pct, in.Rules.MaxTotalDrawdownPct, in.Rules.WarnBufferPct)
}

// riskPerTrade checks that each open position's notional risk
// (approximated as its current notional value, since true per-trade risk
// requires a stop-loss distance not every adapter can supply) must not
// exceed max_risk_per_trade_pct of equity. Positions whose notional cannot
// be computed can't be compared against the threshold at all; rather than
// silently skipping them, one advisory WARN is emitted per snapshot noting
// the gap, distinct from the real threshold breaches below.
func riskPerTrade(in Input) []RuleBreach {
	if in.Rules.MaxRiskPerTradePct <= 0 || in.Snapshot.Equity <= 0 {
		return nil
	}
	var out []RuleBreach
	unknownNotional := false
	for _, pos := range in.Snapshot.Positions {
		notional, ok := pos.Notional()
		if !ok {
			unknownNotional = true
			continue
		}
		pct := 100 * notional / in.Snapshot.Equity
		if pct >= in.Rules.MaxRiskPerTradePct {
			out = append(out, breach(in, CodeRiskPerTrade, LevelHard,
				"position "+pos.Symbol+" exceeds per-trade risk limit", pct, in.Rules.MaxRiskPerTradePct))
		} else if pct >= in.Rules.WarnBufferPct*in.Rules.MaxRiskPerTradePct {
			out = append(out, breach(in, CodeRiskPerTrade, LevelWarn,
				"position "+pos.Symbol+" approaching per-trade risk limit", pct, in.Rules.MaxRiskPerTradePct))
		}
	}
	if unknownNotional {
		out = append(out, breach(in, CodeRiskPerTrade, LevelWarn,
			"unable to compute notional for one or more positions; per-trade risk not fully checked", 0, 0))
	}
	return out
}

// maxOpenLots sums the absolute lot volume across all
// open positions.
func maxOpenLots(in Input) []RuleBreach {
	if in.Rules.MaxOpenLots <= 0 {
		return nil
	}
	var total float64
	for _, pos := range in.Snapshot.Positions {
		vol := pos.VolumeLots
		if vol < 0 {
			vol = -vol
		}
		total += vol
	}
	return evalLevel(in, CodeMaxLots, "open lot total exceeds limit", total, in.Rules.MaxOpenLots, in.Rules.WarnBufferPct)
}

// maxPositions counts open positions. This check is HARD-only: there is no
// meaningful "approaching the position-count limit" warning zone, so no
// WARN is ever emitted for it.
func maxPositions(in Input) []RuleBreach {
	if in.Rules.MaxPositions <= 0 {
		return nil
	}
	count := len(in.Snapshot.Positions)
	if count > in.Rules.MaxPositions {
		return []RuleBreach{breach(in, CodeMaxPositions, LevelHard,
			"open position count exceeds limit", float64(count), float64(in.Rules.MaxPositions))}
	}
	return nil
}

// marginLevel checks margin level. Lower margin level is worse, so the
// comparison direction is inverted relative to every other check: HARD when
// at or below the critical level, WARN when at or below the warn level.
func marginLevel(in Input) []RuleBreach {
	level := in.Snapshot.MarginLevelPct
	if math.IsInf(level, 1) || in.Snapshot.MarginUsed <= 0 {
		return nil
	}
	if level <= in.Rules.MarginCriticalLevelPct {
		return []RuleBreach{breach(in, CodeMarginLevel, LevelHard,
			"margin level at or below critical threshold", level, in.Rules.MarginCriticalLevelPct)}
	}
	if level <= in.Rules.MarginWarnLevelPct {
		return []RuleBreach{breach(in, CodeMarginLevel, LevelWarn,
			"margin level at or below warning threshold", level, in.Rules.MarginWarnLevelPct)}
	}
	return nil
}

// missingStopLoss checks that, when require_stop_loss is set, every open
// position carries a stop-loss price. One WARN per offending position — a
// missing stop is an advisory finding, not a hard breach.
func missingStopLoss(in Input) []RuleBreach {
	if !in.Rules.RequireStopLoss {
		return nil
	}
	var out []RuleBreach
	for _, pos := range in.Snapshot.Positions {
		if pos.StopLossPrice == nil {
			out = append(out, breach(in, CodeMissingStopLoss, LevelWarn,
				"position "+pos.Symbol+" has no stop loss", 0, 0))
		}
	}
	return out
}

// leverage checks account leverage. If the adapter could not discover the
// account's leverage, the check is silently skipped (a data gap, not a
// breach) rather than warned — leverage is account configuration, not a
// live risk signal, so "unknown" carries no urgency.
func leverage(in Input) []RuleBreach {
	if in.Rules.MaxLeverage == nil || in.Leverage == nil {
		return nil
	}
	if *in.Leverage > *in.Rules.MaxLeverage {
		return []RuleBreach{breach(in, CodeLeverage, LevelHard,
			"account leverage exceeds firm maximum", *in.Leverage, *in.Rules.MaxLeverage)}
	}
	return nil
}
