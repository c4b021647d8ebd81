// Package monitor runs the per-account polling loop: connect, observe,
// evaluate, dispatch breaches, reconnect on failure with backoff. Each
// account gets its own Monitor running in its own goroutine, supervised by
// internal/supervisor.
package monitor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/propcompliance/internal/anchor"
	"github.com/aristath/propcompliance/internal/domain"
	"github.com/aristath/propcompliance/internal/evaluator"
	"github.com/aristath/propcompliance/internal/rules"
)

// State is a Monitor's current lifecycle phase.
type State string

const (
	StateConnecting   State = "CONNECTING"
	StateObserving    State = "OBSERVING"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
	StateStopped      State = "STOPPED"
)

// Backoff parameters for reconnection, full jitter (AWS architecture blog
// formula: sleep = random_between(0, min(cap, base*2^attempt))).
const (
	backoffBase   = 1 * time.Second
	backoffFactor = 2.0
	backoffCap    = 60 * time.Second

	// maxConsecutiveFailures before a Monitor gives up and transitions to
	// FAILED rather than continuing to retry forever.
	maxConsecutiveFailures = 20
)

// FullJitterBackoff returns a randomized delay for reconnect attempt n
// (1-indexed), per the full-jitter strategy: a uniformly random duration
// between zero and min(cap, base*factor^(attempt-1)).
func FullJitterBackoff(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(backoffBase) * pow(backoffFactor, attempt-1)
	if exp > float64(backoffCap) {
		exp = float64(backoffCap)
	}
	if exp <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(exp)) + 1)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// BreachHandler receives the breaches found on one evaluation cycle. It is
// called synchronously from the monitor's own goroutine; implementations
// that need to fan out further (internal/notifier) must not block for long.
type BreachHandler func(accountLabel string, breaches []evaluator.RuleBreach)

// Config configures one Monitor.
type Config struct {
	AccountLabel    string // human-facing identifier, e.g. "ftmo-challenge-01"
	AccountID       string
	Adapter         domain.PlatformAdapter
	Rules           rules.Rules
	Anchor          *anchor.Tracker
	StartingBalance float64
	CheckInterval   time.Duration
	OnBreaches      BreachHandler

	// MaxConsecutiveFailures overrides the default failure budget before
	// the monitor gives up and transitions to FAILED. Zero uses the
	// package default.
	MaxConsecutiveFailures int
}

// Monitor runs the observe/evaluate loop for one account.
type Monitor struct {
	cfg Config
	log zerolog.Logger
	rng *rand.Rand

	state              State
	consecutiveFailures int
}

// New builds a Monitor. seed lets tests make backoff deterministic; pass 0
// in production to seed from the current time.
func New(cfg Config, log zerolog.Logger, seed int64) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = maxConsecutiveFailures
	}
	return &Monitor{
		cfg:   cfg,
		log:   log.With().Str("component", "monitor").Str("account", cfg.AccountLabel).Logger(),
		rng:   rand.New(rand.NewSource(seed)),
		state: StateConnecting,
	}
}

// State returns the monitor's current lifecycle phase.
func (m *Monitor) State() State {
	return m.state
}

// Run drives the monitor loop until ctx is cancelled. It returns nil on a
// clean stop (ctx cancellation), leaving the state STOPPED, and a non-nil
// error when the monitor gives up, either after exhausting its failure
// budget or on an AuthError, leaving the state FAILED.
func (m *Monitor) Run(ctx context.Context) error {
	defer func() {
		if m.state != StateFailed {
			m.state = StateStopped
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		m.state = StateConnecting
		if err := m.cfg.Adapter.Connect(); err != nil {
			if m.handleFailure(ctx, "connect", err) {
				return ctxOrFailure(ctx)
			}
			continue
		}

		m.state = StateObserving
		m.consecutiveFailures = 0
		if stop := m.observeLoop(ctx); stop {
			return ctxOrFailure(ctx)
		}
	}
}

func ctxOrFailure(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	return errMaxFailuresExceeded
}

// observeLoop polls on cfg.CheckInterval until the adapter errors or ctx is
// cancelled. Returns true when the monitor should give up entirely (either
// ctx cancelled or failure budget exhausted).
func (m *Monitor) observeLoop(ctx context.Context) bool {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	// Evaluate immediately on entering OBSERVING rather than waiting a
	// full interval for the first read.
	if err := m.tick(); err != nil {
		if m.handleFailure(ctx, "observe", err) {
			return true
		}
		m.state = StateReconnecting
		return false
	}

	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
			if err := m.tick(); err != nil {
				if m.handleFailure(ctx, "observe", err) {
					return true
				}
				m.state = StateReconnecting
				return false
			}
		}
	}
}

func (m *Monitor) tick() error {
	// correlationID ties this tick's log lines together across the
	// snapshot, anchor update, and breach dispatch, for tracing one cycle
	// through logs without coupling the evaluator's pure output to it.
	correlationID := uuid.NewString()

	snap, err := m.cfg.Adapter.Snapshot()
	if err != nil {
		m.log.Debug().Str("correlation_id", correlationID).Err(err).Msg("snapshot fetch failed")
		return err
	}

	if m.cfg.Anchor != nil {
		dsb, dse, _ := m.cfg.Anchor.Update(m.cfg.AccountID, snap.ObservedAtServer, snap.Balance, snap.Equity)
		snap.DayStartBalance = dsb
		snap.DayStartEquity = dse
	}

	lev, _ := m.cfg.Adapter.Leverage() // a leverage-lookup failure degrades to "unknown", not a tick failure

	breaches := evaluator.Evaluate(evaluator.Input{
		Rules:           m.cfg.Rules,
		Snapshot:        snap,
		StartingBalance: m.cfg.StartingBalance,
		Leverage:        lev,
	})

	if len(breaches) > 0 {
		m.log.Debug().Str("correlation_id", correlationID).Int("breach_count", len(breaches)).Msg("tick produced breaches")
	}

	if m.cfg.OnBreaches != nil {
		m.cfg.OnBreaches(m.cfg.AccountLabel, breaches)
	}
	return nil
}

// handleFailure records a failure, sleeps the full-jitter backoff delay
// (unless ctx is cancelled first), and reports whether the monitor should
// give up entirely. An AuthError never clears on retry, so it bypasses the
// backoff and failure budget entirely and sends the monitor straight to
// FAILED.
func (m *Monitor) handleFailure(ctx context.Context, stage string, err error) bool {
	var authErr domain.AuthError
	if errors.As(err, &authErr) {
		m.state = StateFailed
		m.log.Error().Str("stage", stage).Err(err).Msg("monitor received an authentication failure, giving up")
		return true
	}

	m.consecutiveFailures++
	m.state = StateReconnecting

	logEvt := m.log.Warn().Int("attempt", m.consecutiveFailures).Str("stage", stage)
	if err != nil {
		logEvt = logEvt.Err(err)
	}
	logEvt.Msg("monitor cycle failed, backing off")

	if m.consecutiveFailures >= m.cfg.MaxConsecutiveFailures {
		m.state = StateFailed
		m.log.Error().Int("attempts", m.consecutiveFailures).Msg("monitor exceeded maximum consecutive failures, giving up")
		return true
	}

	delay := FullJitterBackoff(m.consecutiveFailures, m.rng)
	select {
	case <-time.After(delay):
		return false
	case <-ctx.Done():
		return true
	}
}

type backoffExceededError struct{}

func (backoffExceededError) Error() string {
	return "monitor: exceeded maximum consecutive failures"
}

var errMaxFailuresExceeded = backoffExceededError{}
