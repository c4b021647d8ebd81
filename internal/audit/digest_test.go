package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/propcompliance/internal/evaluator"
)

func TestCollector_RecordIgnoresEmptyBreaches(t *testing.T) {
	c := NewCollector()
	c.Record("acct-1", "2026-07-30", nil)

	assert.Empty(t, c.PendingAccounts())
}

func TestCollector_RecordAccumulatesAcrossCalls(t *testing.T) {
	c := NewCollector()
	c.Record("acct-1", "2026-07-30", []evaluator.RuleBreach{{Code: evaluator.CodeDailyDrawdown}})
	c.Record("acct-1", "2026-07-30", []evaluator.RuleBreach{{Code: evaluator.CodeMarginLevel}})

	digest, ok := c.Drain("acct-1", "2026-07-30")
	require.True(t, ok)
	assert.Len(t, digest.Breaches, 2)
}

func TestCollector_DrainClearsEntryAndIsIdempotent(t *testing.T) {
	c := NewCollector()
	c.Record("acct-1", "2026-07-30", []evaluator.RuleBreach{{Code: evaluator.CodeDailyDrawdown}})

	_, ok := c.Drain("acct-1", "2026-07-30")
	require.True(t, ok)

	_, ok = c.Drain("acct-1", "2026-07-30")
	assert.False(t, ok, "a drained day must not be returned again")
	assert.Empty(t, c.PendingAccounts())
}

func TestCollector_PendingDatesReflectsMultipleDays(t *testing.T) {
	c := NewCollector()
	c.Record("acct-1", "2026-07-29", []evaluator.RuleBreach{{Code: evaluator.CodeDailyDrawdown}})
	c.Record("acct-1", "2026-07-30", []evaluator.RuleBreach{{Code: evaluator.CodeMaxLots}})

	dates := c.PendingDates("acct-1")
	assert.ElementsMatch(t, []string{"2026-07-29", "2026-07-30"}, dates)
}

func TestCollector_PendingDatesEmptyForUnknownAccount(t *testing.T) {
	c := NewCollector()
	assert.Empty(t, c.PendingDates("nope"))
}
