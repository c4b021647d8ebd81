package anchor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_FirstObservationSetsAnchor(t *testing.T) {
	tr := New(nil)
	t1 := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	bal, eq, ev := tr.Update("acct-1", t1, 10000, 10050)

	assert.Equal(t, 10000.0, bal)
	assert.Equal(t, 10050.0, eq)
	require.NotNil(t, ev)
	assert.Empty(t, ev.PreviousDate)
	assert.Equal(t, "2026-07-30", ev.CurrentDate)
}

func TestTracker_SameDayDoesNotReset(t *testing.T) {
	tr := New(nil)
	t1 := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC)

	tr.Update("acct-1", t1, 10000, 10000)
	bal, eq, ev := tr.Update("acct-1", t2, 9500, 9600) // balance/equity moved intraday

	assert.Equal(t, 10000.0, bal, "anchor must not move within the same broker day")
	assert.Equal(t, 10000.0, eq)
	assert.Nil(t, ev, "no reset event on a same-day update")
}

func TestTracker_BrokerMidnightRolloverResetsAnchor(t *testing.T) {
	tr := New(nil)
	day1 := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)

	tr.Update("acct-1", day1, 10000, 9800)
	bal, eq, ev := tr.Update("acct-1", day2, 9800, 9850)

	assert.Equal(t, 9800.0, bal, "rollover anchors to the new day's opening values")
	assert.Equal(t, 9850.0, eq)
	require.NotNil(t, ev)
	assert.Equal(t, "2026-07-30", ev.PreviousDate)
	assert.Equal(t, "2026-07-31", ev.CurrentDate)
}

func TestTracker_OutOfOrderSnapshotDoesNotRollAnchorBackward(t *testing.T) {
	tr := New(nil)
	day1 := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	lateArrival := time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC) // dated before the tracked current_date

	tr.Update("acct-1", day1, 10000, 9800)
	tr.Update("acct-1", day2, 9800, 9850)

	var anomaly *struct{ tracked, observed string }
	tr.OnOutOfOrder(func(accountID, trackedDate, observedDate string) {
		anomaly = &struct{ tracked, observed string }{trackedDate, observedDate}
	})

	bal, eq, ev := tr.Update("acct-1", lateArrival, 9999, 9999)

	assert.Equal(t, 9800.0, bal, "an out-of-order snapshot must not clobber the current anchor")
	assert.Equal(t, 9850.0, eq)
	assert.Nil(t, ev, "no reset event for an out-of-order snapshot")
	require.NotNil(t, anomaly, "an out-of-order snapshot must be reported")
	assert.Equal(t, "2026-07-31", anomaly.tracked)
	assert.Equal(t, "2026-07-30", anomaly.observed)

	snap, ok := tr.Current("acct-1")
	require.True(t, ok)
	assert.Equal(t, "2026-07-31", snap.CurrentDate, "current_date must remain monotonic non-decreasing")
}

func TestTracker_CurrentReflectsLastAnchorWithoutMutating(t *testing.T) {
	tr := New(nil)
	t1 := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	tr.Update("acct-1", t1, 10000, 10000)

	s, ok := tr.Current("acct-1")
	require.True(t, ok)
	assert.Equal(t, 10000.0, s.DayStartBalance)

	_, unknown := tr.Current("acct-nope")
	assert.False(t, unknown)
}

func TestTracker_PruneStaleRemovesOldEntriesOnly(t *testing.T) {
	tr := New(nil)
	old := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	tr.Update("acct-old", old, 10000, 10000)
	tr.Update("acct-recent", recent, 10000, 10000)

	cutoff := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	pruned := tr.PruneStale(cutoff)

	assert.Equal(t, 1, pruned)
	_, stillThere := tr.Current("acct-recent")
	assert.True(t, stillThere)
	_, gone := tr.Current("acct-old")
	assert.False(t, gone)
}

func TestFileStore_RoundTripsAndSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchors.msgpack")
	store := NewFileStore(path)

	tr := New(store)
	t1 := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	tr.Update("acct-1", t1, 10000, 10000)

	// Simulate a process restart: a fresh tracker over the same file.
	restarted := New(NewFileStore(path))
	bal, eq, ev := restarted.Update("acct-1", t1.Add(time.Hour), 9900, 9950)

	assert.Equal(t, 10000.0, bal, "restarted tracker should recover the persisted anchor, not re-anchor")
	assert.Equal(t, 10000.0, eq)
	assert.Nil(t, ev, "loading a persisted same-day anchor is not a reset")
}

func TestFileStore_LoadOnMissingFileIsNotFound(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "does-not-exist.msgpack"))
	_, found, err := store.Load("acct-1")
	require.NoError(t, err)
	assert.False(t, found)
}
