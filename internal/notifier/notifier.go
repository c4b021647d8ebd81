// Package notifier fans breach dispatches out to one or more sinks without
// letting a slow sink stall the monitor that produced them.
package notifier

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aristath/propcompliance/internal/evaluator"
)

// dispatch is one unit of work queued to a sink.
type dispatch struct {
	accountLabel string
	breaches     []evaluator.RuleBreach
}

// Sink receives breach dispatches. Registered sinks are a fixed, read-only
// set assembled once at startup.
type Sink func(accountLabel string, breaches []evaluator.RuleBreach)

// Engine fans out Dispatch calls to every registered sink, each served by
// its own bounded buffered channel with a drop-oldest overflow policy so a
// stuck sink never backs up the evaluator loop that calls Dispatch.
type Engine struct {
	log       zerolog.Logger
	queues    []*sinkQueue
	closeOnce sync.Once
}

type sinkQueue struct {
	name    string
	ch      chan dispatch
	dropped int64
}

const defaultQueueDepth = 64

// New builds an Engine with the given sinks, each named for logging. The
// sink set is fixed for the lifetime of the Engine.
func New(log zerolog.Logger, sinks map[string]Sink) *Engine {
	e := &Engine{log: log.With().Str("component", "notifier").Logger()}
	for name, sink := range sinks {
		q := &sinkQueue{name: name, ch: make(chan dispatch, defaultQueueDepth)}
		e.queues = append(e.queues, q)
		go e.drain(q, sink)
	}
	return e
}

func (e *Engine) drain(q *sinkQueue, sink Sink) {
	for d := range q.ch {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error().Str("sink", q.name).Interface("panic", r).Msg("notifier sink panicked, dropping dispatch")
				}
			}()
			sink(d.accountLabel, d.breaches)
		}()
	}
}

// Dispatch fans breaches out to every sink. An empty slice
// is a no-op: no sink is ever invoked. A full sink queue drops the oldest
// queued dispatch for that sink, not the newest, so the most recent
// compliance state always eventually reaches the sink.
func (e *Engine) Dispatch(accountLabel string, breaches []evaluator.RuleBreach) {
	if len(breaches) == 0 {
		return
	}
	d := dispatch{accountLabel: accountLabel, breaches: breaches}

	for _, q := range e.queues {
		select {
		case q.ch <- d:
		default:
			// Queue is full: drop the oldest entry to make room, then
			// enqueue the new one. A sink that is merely slow (not dead)
			// recovers by seeing the freshest state rather than a backlog
			// of stale ones.
			select {
			case <-q.ch:
				atomic.AddInt64(&q.dropped, 1)
				e.log.Warn().Str("sink", q.name).Str("account", accountLabel).Msg("notifier sink queue full, dropped oldest dispatch")
			default:
			}
			select {
			case q.ch <- d:
			default:
				// Another producer raced us for the freed slot; count this
				// dispatch as dropped rather than blocking the caller.
				atomic.AddInt64(&q.dropped, 1)
			}
		}
	}
}

// Dropped returns the total number of dispatches dropped for sink name due
// to queue overflow, for status reporting.
func (e *Engine) Dropped(name string) int64 {
	for _, q := range e.queues {
		if q.name == name {
			return atomic.LoadInt64(&q.dropped)
		}
	}
	return 0
}

// Close stops accepting new sink goroutines' input. It does not drain
// pending dispatches; callers shutting down should rely on the process
// exiting rather than waiting on this, since sinks (e.g. a terminal writer)
// have no meaningful "finish" state.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		for _, q := range e.queues {
			close(q.ch)
		}
	})
}
