package evaluator

import (
	"math"
	"testing"
	"time"

	"github.com/aristath/propcompliance/internal/domain"
	"github.com/aristath/propcompliance/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseRules(t *testing.T) rules.Rules {
	t.Helper()
	r, err := rules.New(rules.Rules{
		Name:                   "test",
		MaxDailyDrawdownPct:    5.0,
		MaxTotalDrawdownPct:    10.0,
		MaxRiskPerTradePct:     2.0,
		MaxOpenLots:            10,
		MaxPositions:           5,
		MarginWarnLevelPct:     100,
		MarginCriticalLevelPct: 50,
		WarnBufferPct:          0.8,
	})
	require.NoError(t, err)
	return r
}

func baseSnapshot() domain.AccountSnapshot {
	return domain.AccountSnapshot{
		AccountID:        "acct-1",
		Balance:          10000,
		Equity:           10000,
		MarginUsed:       0,
		MarginFree:       10000,
		MarginLevelPct:   math.Inf(1),
		DayStartBalance:  10000,
		DayStartEquity:   10000,
		ObservedAtServer: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC), // Thursday
	}
}

func TestEvaluate_CleanSnapshotProducesNoBreaches(t *testing.T) {
	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: baseSnapshot(), StartingBalance: 10000})
	assert.Empty(t, breaches)
}

func TestDailyDrawdown_FloatingLossDominates(t *testing.T) {
	snap := baseSnapshot()
	snap.Equity = 9400 // 6% floating loss against 10000 anchor
	snap.Balance = 10000

	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: snap, StartingBalance: 10000})

	require.Len(t, breaches, 1)
	assert.Equal(t, CodeDailyDrawdown, breaches[0].Code)
	assert.Equal(t, LevelHard, breaches[0].Level)
	assert.InDelta(t, 6.0, breaches[0].Value, 0.001)
}

func TestDailyDrawdown_RealizedLossDominates(t *testing.T) {
	snap := baseSnapshot()
	snap.Balance = 9400 // realized loss booked to balance
	snap.Equity = 9900  // open profit partially offsets it, but balance is worse

	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: snap, StartingBalance: 10000})

	require.Len(t, breaches, 1)
	assert.Equal(t, CodeDailyDrawdown, breaches[0].Code)
	assert.InDelta(t, 6.0, breaches[0].Value, 0.001)
}

func TestDailyDrawdown_CombinedLossesUseWorseOfTheTwo(t *testing.T) {
	snap := baseSnapshot()
	snap.Balance = 9800 // 2% loss by balance
	snap.Equity = 9300  // 7% loss by equity -- this one governs

	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: snap, StartingBalance: 10000})

	require.Len(t, breaches, 1)
	assert.InDelta(t, 7.0, breaches[0].Value, 0.001)
}

func TestDailyDrawdown_AnchorUsesHigherOfBalanceAndEquity(t *testing.T) {
	snap := baseSnapshot()
	snap.DayStartBalance = 10000
	snap.DayStartEquity = 10500 // intraday profit before the anchor was taken
	snap.Equity = 9975          // 5% loss against the higher anchor (10500), not the lower one

	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: snap, StartingBalance: 10000})

	require.Len(t, breaches, 1)
	assert.Equal(t, LevelHard, breaches[0].Level)
}

func TestDailyDrawdown_WarningZoneBelowHardLimit(t *testing.T) {
	snap := baseSnapshot()
	snap.Equity = 9580 // 4.2% loss: >= 0.8*5 = 4.0 warn threshold, below 5.0 hard limit

	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: snap, StartingBalance: 10000})

	require.Len(t, breaches, 1)
	assert.Equal(t, LevelWarn, breaches[0].Level)
}

func TestDailyDrawdown_SkippedOnWeekendWhenTradingDaysOnly(t *testing.T) {
	r := baseRules(t)
	r.TradingDaysOnly = true

	snap := baseSnapshot()
	snap.Equity = 9400 // 6% daily loss would otherwise be a hard breach; 6% total stays below the 8% total warn line
	snap.ObservedAtServer = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) // Saturday

	breaches := Evaluate(Input{Rules: r, Snapshot: snap, StartingBalance: 10000})
	assert.Empty(t, breaches)
}

func TestTotalDrawdown_MeasuredAgainstStartingBalanceNotAnchor(t *testing.T) {
	snap := baseSnapshot()
	snap.DayStartBalance = 9000 // anchor reset lower after a prior losing day
	snap.DayStartEquity = 9000
	snap.Balance = 8900
	snap.Equity = 8900 // 11% down from the 10000 starting balance

	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: snap, StartingBalance: 10000})

	var total, daily bool
	for _, b := range breaches {
		if b.Code == CodeTotalDrawdown {
			total = true
			assert.Equal(t, LevelHard, b.Level)
		}
		if b.Code == CodeDailyDrawdown {
			daily = true
		}
	}
	assert.True(t, total, "expected a total drawdown breach")
	assert.False(t, daily, "1.1%% intraday move should not breach the daily limit")
}

func TestRiskPerTrade_WarnsOnceForUnknownContractSize(t *testing.T) {
	snap := baseSnapshot()
	snap.Positions = []domain.Position{
		{Symbol: "XAUUSD", VolumeLots: 1, CurrentPrice: 2000, ContractSize: nil},
	}
	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: snap, StartingBalance: 10000})
	require.Len(t, breaches, 1)
	assert.Equal(t, CodeRiskPerTrade, breaches[0].Code)
	assert.Equal(t, LevelWarn, breaches[0].Level)
}

func TestRiskPerTrade_FlagsOversizedPosition(t *testing.T) {
	contractSize := 100.0
	snap := baseSnapshot()
	snap.Positions = []domain.Position{
		{Symbol: "XAUUSD", VolumeLots: 2, CurrentPrice: 2000, ContractSize: &contractSize},
	}
	// notional = 2 * 100 * 2000 = 400000, equity = 10000 -> 4000% way past 2%
	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: snap, StartingBalance: 10000})

	require.NotEmpty(t, breaches)
	assert.Equal(t, CodeRiskPerTrade, breaches[0].Code)
	assert.Equal(t, LevelHard, breaches[0].Level)
}

func TestMaxPositions_HardOnlyNoWarnZone(t *testing.T) {
	r := baseRules(t)
	r.MaxPositions = 2
	r.MaxRiskPerTradePct = 0 // positions carry no contract size; keep the advisory per-trade WARN out of this test

	snap := baseSnapshot()
	snap.Positions = []domain.Position{
		{Symbol: "EURUSD", VolumeLots: 0.1},
		{Symbol: "GBPUSD", VolumeLots: 0.1},
	}
	assert.Empty(t, Evaluate(Input{Rules: r, Snapshot: snap, StartingBalance: 10000}))

	snap.Positions = append(snap.Positions, domain.Position{Symbol: "USDJPY", VolumeLots: 0.1})
	breaches := Evaluate(Input{Rules: r, Snapshot: snap, StartingBalance: 10000})
	require.Len(t, breaches, 1)
	assert.Equal(t, CodeMaxPositions, breaches[0].Code)
	assert.Equal(t, LevelHard, breaches[0].Level)
}

func TestMarginLevel_HardAtOrBelowCritical(t *testing.T) {
	snap := baseSnapshot()
	snap.MarginUsed = 5000
	snap.MarginLevelPct = 50 // exactly at critical

	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: snap, StartingBalance: 10000})
	require.Len(t, breaches, 1)
	assert.Equal(t, CodeMarginLevel, breaches[0].Code)
	assert.Equal(t, LevelHard, breaches[0].Level)
}

func TestMarginLevel_SkippedWhenNoMarginUsed(t *testing.T) {
	snap := baseSnapshot() // MarginUsed 0, MarginLevelPct +Inf
	breaches := Evaluate(Input{Rules: baseRules(t), Snapshot: snap, StartingBalance: 10000})
	assert.Empty(t, breaches)
}

func TestMissingStopLoss_FlagsEveryUnprotectedPosition(t *testing.T) {
	r := baseRules(t)
	r.RequireStopLoss = true
	r.MaxRiskPerTradePct = 0 // positions carry no contract size; keep the advisory per-trade WARN out of this test
	sl := 1900.0

	snap := baseSnapshot()
	snap.Positions = []domain.Position{
		{Symbol: "XAUUSD", VolumeLots: 0.1, StopLossPrice: &sl},
		{Symbol: "EURUSD", VolumeLots: 0.1, StopLossPrice: nil},
	}

	breaches := Evaluate(Input{Rules: r, Snapshot: snap, StartingBalance: 10000})
	require.Len(t, breaches, 1)
	assert.Equal(t, CodeMissingStopLoss, breaches[0].Code)
	assert.Equal(t, LevelWarn, breaches[0].Level)
	assert.Contains(t, breaches[0].Message, "EURUSD")
}

func TestLeverage_SkippedWhenAdapterCannotReportIt(t *testing.T) {
	maxLev := 100.0
	r := baseRules(t)
	r.MaxLeverage = &maxLev

	breaches := Evaluate(Input{Rules: r, Snapshot: baseSnapshot(), StartingBalance: 10000, Leverage: nil})
	assert.Empty(t, breaches)
}

func TestLeverage_FlagsExcessLeverage(t *testing.T) {
	maxLev := 100.0
	actualLev := 200.0
	r := baseRules(t)
	r.MaxLeverage = &maxLev

	breaches := Evaluate(Input{Rules: r, Snapshot: baseSnapshot(), StartingBalance: 10000, Leverage: &actualLev})
	require.Len(t, breaches, 1)
	assert.Equal(t, CodeLeverage, breaches[0].Code)
	assert.Equal(t, LevelHard, breaches[0].Level)
}

func TestEvaluate_IsDeterministic(t *testing.T) {
	in := Input{Rules: baseRules(t), Snapshot: baseSnapshot(), StartingBalance: 10000}
	in.Snapshot.Equity = 9400

	first := Evaluate(in)
	second := Evaluate(in)
	assert.Equal(t, first, second)
}
