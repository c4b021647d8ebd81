package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/propcompliance/internal/rules"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRuleStore_UpsertThenLookupRoundTrips(t *testing.T) {
	db := openTestDB(t)
	store := NewRuleStore(db)

	leverage := 30.0
	r, err := rules.New(rules.Rules{
		Name:                   "FTMO Challenge",
		ProgramID:              "challenge",
		MaxDailyDrawdownPct:    5,
		MaxTotalDrawdownPct:    10,
		MaxRiskPerTradePct:     2,
		MaxOpenLots:            10,
		MaxPositions:           5,
		TradingDaysOnly:        true,
		RequireStopLoss:        true,
		MaxLeverage:            &leverage,
	})
	require.NoError(t, err)

	require.NoError(t, store.UpsertRules("ftmo", r))

	got, found, err := store.LookupRules("ftmo", "challenge")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "FTMO Challenge", got.Name)
	assert.Equal(t, 5.0, got.MaxDailyDrawdownPct)
	assert.True(t, got.TradingDaysOnly)
	assert.True(t, got.RequireStopLoss)
	require.NotNil(t, got.MaxLeverage)
	assert.Equal(t, 30.0, *got.MaxLeverage)
}

func TestRuleStore_LookupMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	store := NewRuleStore(db)

	_, found, err := store.LookupRules("unknown-firm", "unknown-program")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRuleStore_SoftRulesReturnsStoredAdvisories(t *testing.T) {
	db := openTestDB(t)
	store := NewRuleStore(db)

	_, err := db.Exec(`INSERT INTO firms(name) VALUES ('ftmo')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO soft_rules (firm, program_id, advisory) VALUES (?, ?, ?), (?, ?, ?)`,
		"ftmo", "challenge", "avoid holding positions over weekend",
		"ftmo", "challenge", "consider reducing size near news events")
	require.NoError(t, err)

	advisories, err := store.SoftRules("ftmo", "challenge")
	require.NoError(t, err)
	assert.Len(t, advisories, 2)
	assert.Contains(t, advisories, "avoid holding positions over weekend")
}

func TestRuleStore_SoftRulesEmptyWhenNoneStored(t *testing.T) {
	db := openTestDB(t)
	store := NewRuleStore(db)

	advisories, err := store.SoftRules("ftmo", "challenge")
	require.NoError(t, err)
	assert.Empty(t, advisories)
}
