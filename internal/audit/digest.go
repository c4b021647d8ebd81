// Package audit collects each account's daily breach history and, when
// configured, archives it to S3-compatible storage at end of broker day
// (SPEC_FULL.md's supplemented "daily breach-digest archival" feature). It
// is an operational convenience, not part of the compliance decision path:
// nothing in internal/evaluator or internal/monitor depends on it.
package audit

import (
	"sync"
	"time"

	"github.com/aristath/propcompliance/internal/evaluator"
)

// Digest is one account's breach history for one broker-local day.
type Digest struct {
	AccountLabel string                 `json:"account_label"`
	Date         string                 `json:"date"`
	Breaches     []evaluator.RuleBreach `json:"breaches"`
	GeneratedAt  time.Time              `json:"generated_at"`
}

// Collector accumulates breaches per account per broker-local day in
// memory. It holds no durable state of its own — durability, if wanted, is
// the uploaded digest itself.
type Collector struct {
	mu      sync.Mutex
	entries map[string]map[string][]evaluator.RuleBreach // accountLabel -> date -> breaches
}

// NewCollector builds an empty Collector.
func NewCollector() *Collector {
	return &Collector{entries: make(map[string]map[string][]evaluator.RuleBreach)}
}

// Record appends breaches (if any) for accountLabel under date's bucket.
// Empty-breach ticks are not recorded — a digest with no entries for an
// account simply means a clean day.
func (c *Collector) Record(accountLabel, date string, breaches []evaluator.RuleBreach) {
	if len(breaches) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byDate, ok := c.entries[accountLabel]
	if !ok {
		byDate = make(map[string][]evaluator.RuleBreach)
		c.entries[accountLabel] = byDate
	}
	byDate[date] = append(byDate[date], breaches...)
}

// Drain removes and returns the accumulated digest for (accountLabel, date),
// or ok=false if nothing was recorded for that day.
func (c *Collector) Drain(accountLabel, date string) (Digest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byDate, ok := c.entries[accountLabel]
	if !ok {
		return Digest{}, false
	}
	breaches, ok := byDate[date]
	if !ok {
		return Digest{}, false
	}
	delete(byDate, date)
	if len(byDate) == 0 {
		delete(c.entries, accountLabel)
	}

	return Digest{
		AccountLabel: accountLabel,
		Date:         date,
		Breaches:     breaches,
		GeneratedAt:  time.Now().UTC(),
	}, true
}

// PendingAccounts returns the account labels with at least one undrained
// day of accumulated breaches, for the end-of-day job to iterate over.
func (c *Collector) PendingAccounts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.entries))
	for label := range c.entries {
		out = append(out, label)
	}
	return out
}

// PendingDates returns the dates with accumulated breaches for accountLabel.
func (c *Collector) PendingDates(accountLabel string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	byDate, ok := c.entries[accountLabel]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(byDate))
	for date := range byDate {
		out = append(out, date)
	}
	return out
}
