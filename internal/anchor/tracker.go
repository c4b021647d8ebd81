// Package anchor tracks each account's broker-day start balance and equity,
// the reference point every drawdown check measures against.
package anchor

import (
	"sync"
	"time"
)

// Snapshot is the anchor state for one account at one instant.
type Snapshot struct {
	AccountID       string
	CurrentDate     string // broker-local date, YYYY-MM-DD
	DayStartBalance float64
	DayStartEquity  float64
	UpdatedAt       time.Time
}

// Event is emitted whenever the tracker resets an account's anchor, either
// on first observation or on a broker-day rollover.
type Event struct {
	AccountID       string
	PreviousDate    string // empty on first observation
	CurrentDate     string
	DayStartBalance float64
	DayStartEquity  float64
	ObservedAt      time.Time
}

// Store persists anchor state across process restarts. A nil Store is a
// valid, fully functional in-memory-only tracker (persistence is
// an optional extension, not a required dependency).
type Store interface {
	Load(accountID string) (Snapshot, bool, error)
	Save(Snapshot) error
}

// Tracker maintains the day-start anchor for every account it has observed.
// It is safe for concurrent use: one supervisor may run many monitors, each
// calling Update for its own account concurrently.
type Tracker struct {
	mu           sync.Mutex
	state        map[string]Snapshot
	store        Store
	onOutOfOrder func(accountID, trackedDate, observedDate string)
}

// New builds a Tracker. store may be nil.
func New(store Store) *Tracker {
	return &Tracker{
		state: make(map[string]Snapshot),
		store: store,
	}
}

// OnOutOfOrder installs a callback invoked whenever Update observes a
// server date earlier than the account's tracked current_date, so the
// caller can log the anomaly without the tracker itself taking a logging
// dependency.
func (t *Tracker) OnOutOfOrder(fn func(accountID, trackedDate, observedDate string)) {
	t.onOutOfOrder = fn
}

// brokerDate formats the broker-local instant into the date key the anchor
// rolls over on. Using the adapter-reported server time (rather than our
// own wall clock) means rollover happens exactly at broker-local midnight
// regardless of what timezone the monitor process itself runs in.
func brokerDate(serverTime time.Time) string {
	return serverTime.Format("2006-01-02")
}

// Update folds a fresh (balance, equity) observation into the tracker for
// accountID, resetting the anchor on first observation or broker-day
// rollover, and returns the anchor values to stamp onto the snapshot headed
// to the evaluator. The second return value is the reset event, non-nil
// only when a reset actually occurred this call.
func (t *Tracker) Update(accountID string, serverTime time.Time, balance, equity float64) (dayStartBalance, dayStartEquity float64, event *Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := brokerDate(serverTime)

	cur, ok := t.state[accountID]
	if !ok && t.store != nil {
		if loaded, found, err := t.store.Load(accountID); err == nil && found {
			cur = loaded
			ok = true
		}
	}

	if !ok || today > cur.CurrentDate {
		previous := ""
		if ok {
			previous = cur.CurrentDate
		}
		cur = Snapshot{
			AccountID:       accountID,
			CurrentDate:     today,
			DayStartBalance: balance,
			DayStartEquity:  equity,
			UpdatedAt:       serverTime,
		}
		t.state[accountID] = cur
		if t.store != nil {
			_ = t.store.Save(cur) // best-effort; a persistence failure never blocks monitoring
		}
		event = &Event{
			AccountID:       accountID,
			PreviousDate:    previous,
			CurrentDate:     today,
			DayStartBalance: balance,
			DayStartEquity:  equity,
			ObservedAt:      serverTime,
		}
		return cur.DayStartBalance, cur.DayStartEquity, event
	}

	if today < cur.CurrentDate {
		// An out-of-order (earlier-dated) snapshot never rolls the anchor
		// back: current_date is monotonic non-decreasing per account. The
		// snapshot is still evaluated, against the existing anchor.
		if t.onOutOfOrder != nil {
			t.onOutOfOrder(accountID, cur.CurrentDate, today)
		}
	}

	return cur.DayStartBalance, cur.DayStartEquity, nil
}

// Current returns the last known anchor for accountID without updating it.
func (t *Tracker) Current(accountID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.state[accountID]
	return s, ok
}

// PruneStale drops in-memory anchors last updated before cutoff, keeping the
// tracker's memory bounded when accounts are removed from configuration
// without a process restart. A pruned account's anchor is not lost if a
// durable Store is configured: the next Update for it reloads from Store
// exactly as it would on first observation after a restart.
func (t *Tracker) PruneStale(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	pruned := 0
	for id, snap := range t.state {
		if snap.UpdatedAt.Before(cutoff) {
			delete(t.state, id)
			pruned++
		}
	}
	return pruned
}
