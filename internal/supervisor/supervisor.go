// Package supervisor owns the set of per-account monitor loops: it starts
// them, isolates one account's failure from the rest, and exposes a
// read-only status view.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/propcompliance/internal/evaluator"
	"github.com/aristath/propcompliance/internal/monitor"
	"github.com/aristath/propcompliance/internal/notifier"
)

// AccountStatus is the read-only view of one monitored account.
type AccountStatus struct {
	Label             string
	State             monitor.State
	LastSnapshotAt    time.Time
	LastBreachCount   int
	LastBreachSummary string
	LastError         string
}

type accountHandle struct {
	mon *monitor.Monitor

	mu     sync.RWMutex
	status AccountStatus
}

func (h *accountHandle) snapshot() AccountStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.status
	s.State = h.mon.State()
	return s
}

func (h *accountHandle) recordTick(breaches []evaluator.RuleBreach) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.LastSnapshotAt = time.Now().UTC()
	h.status.LastBreachCount = len(breaches)
	h.status.LastBreachSummary = summarize(breaches)
}

func summarize(breaches []evaluator.RuleBreach) string {
	if len(breaches) == 0 {
		return ""
	}
	worst := breaches[0]
	for _, b := range breaches {
		if b.Level == evaluator.LevelHard {
			worst = b
			break
		}
	}
	return string(worst.Level) + ": " + worst.Message
}

// Supervisor runs one Monitor per configured account and isolates their
// failures from one another: a panic or a give-up in one account's goroutine
// never stops the others.
type Supervisor struct {
	log         zerolog.Logger
	accounts    []*accountHandle
	gracePeriod time.Duration
}

// Account pairs a Monitor with the label its status view is kept under.
// Breach reporting is wired separately, through NewAccountBreachHandler.
type Account struct {
	Label   string
	Monitor *monitor.Monitor
}

// New builds a Supervisor. gracePeriod bounds how long Run waits for
// monitors to stop after ctx is cancelled before returning anyway.
func New(log zerolog.Logger, accounts []Account, gracePeriod time.Duration) *Supervisor {
	if gracePeriod <= 0 {
		gracePeriod = 5 * time.Second
	}
	s := &Supervisor{
		log:         log.With().Str("component", "supervisor").Logger(),
		gracePeriod: gracePeriod,
	}
	for _, a := range accounts {
		s.accounts = append(s.accounts, &accountHandle{
			mon:    a.Monitor,
			status: AccountStatus{Label: a.Label, State: monitor.StateConnecting},
		})
	}
	return s
}

// Run starts every account's monitor loop and blocks until ctx is cancelled
// and every monitor has stopped, or gracePeriod elapses first. One account
// failing to start or giving up does not stop the others; each failure is
// logged and that account's status reflects its terminal state.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, h := range s.accounts {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Interface("panic", r).Str("account", h.status.Label).Msg("monitor goroutine panicked")
				}
			}()
			if err := h.mon.Run(ctx); err != nil {
				h.mu.Lock()
				h.status.LastError = err.Error()
				h.mu.Unlock()
				s.log.Error().Err(err).Str("account", h.status.Label).Msg("monitor gave up")
			}
		}()
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.gracePeriod):
		s.log.Warn().Dur("grace_period", s.gracePeriod).Msg("grace period elapsed before all monitors stopped")
	}
	return nil
}

// Status returns a point-in-time view of every managed account.
func (s *Supervisor) Status() []AccountStatus {
	out := make([]AccountStatus, 0, len(s.accounts))
	for _, h := range s.accounts {
		out = append(out, h.snapshot())
	}
	return out
}

// recordTickFor records one tick into the status view of the account with
// this label; NewAccountBreachHandler calls it.
func (s *Supervisor) recordTickFor(label string, breaches []evaluator.RuleBreach) {
	for _, h := range s.accounts {
		if h.status.Label == label {
			h.recordTick(breaches)
			return
		}
	}
}

// NewAccountBreachHandler builds the monitor.BreachHandler for one account:
// it records the tick into this Supervisor's status view and forwards
// breaches to engine (which may be nil to disable notification).
func (s *Supervisor) NewAccountBreachHandler(label string, engine *notifier.Engine) monitor.BreachHandler {
	return func(accountLabel string, breaches []evaluator.RuleBreach) {
		s.recordTickFor(label, breaches)
		if engine != nil {
			engine.Dispatch(accountLabel, breaches)
		}
	}
}
