// Package resolver implements the three-tier rule resolution strategy: a
// database lookup by firm/program, then the compile-time preset registry,
// then an explicit inline Rules value supplied by the caller. Each tier's
// failure is soft — it falls through to the next tier — except a total
// miss across all three, which is a hard error.
package resolver

import (
	"errors"
	"fmt"

	"github.com/aristath/propcompliance/internal/rules"
)

// Source identifies which tier produced a resolved Rules value.
type Source string

const (
	SourceInline   Source = "inline"
	SourceDatabase Source = "database"
	SourcePreset   Source = "preset"
)

// RuleStore is the database-backed lookup tier. Implementations must return
// found=false (not an error) when the firm/program simply has no stored
// rules — an error return means the lookup itself failed and should be
// treated as a tier miss, not trusted as "not found".
type RuleStore interface {
	LookupRules(firm, programID string) (rules.Rules, bool, error)
}

// ErrRuleSourceUnavailable is returned when no tier could resolve rules for
// the given firm/program: no inline override, no database row, and no
// compile-time preset.
var ErrRuleSourceUnavailable = errors.New("resolver: no rule source available for this firm/program")

// Resolver ties the three tiers together.
type Resolver struct {
	store    RuleStore // may be nil: database tier is then always skipped
	presets  *rules.Registry
	onTierErr func(tier Source, err error) // optional, for logging a soft fallback
}

// New builds a Resolver. store may be nil to disable the database tier
// entirely (e.g. running without a configured rule store); presets must
// not be nil.
func New(store RuleStore, presets *rules.Registry) *Resolver {
	return &Resolver{store: store, presets: presets}
}

// OnTierError installs a callback invoked whenever a tier is skipped due to
// an error (as opposed to a clean "not found"), so the caller can log it
// without the resolver itself taking a logging dependency.
func (r *Resolver) OnTierError(fn func(tier Source, err error)) {
	r.onTierErr = fn
}

func (r *Resolver) reportTierErr(tier Source, err error) {
	if r.onTierErr != nil && err != nil {
		r.onTierErr(tier, err)
	}
}

// Resolve applies the three tiers in order: database, then preset, then
// inline. inline is only consulted once the database and preset tiers have
// both missed — it is the caller-supplied fallback, not an override.
func (r *Resolver) Resolve(firm, programID string, inline *rules.Rules) (rules.Rules, Source, error) {
	if r.store != nil && programID != "" {
		found, ok, err := r.store.LookupRules(firm, programID)
		if err != nil {
			r.reportTierErr(SourceDatabase, err)
		} else if ok {
			return found, SourceDatabase, nil
		}
	}

	if r.presets != nil {
		if found, ok := r.presets.Lookup(firm); ok {
			return found, SourcePreset, nil
		}
	}

	if inline != nil {
		built, err := rules.New(*inline)
		if err != nil {
			return rules.Rules{}, "", fmt.Errorf("resolver: inline rules invalid: %w", err)
		}
		return built, SourceInline, nil
	}

	return rules.Rules{}, "", fmt.Errorf("%w: firm=%q program=%q", ErrRuleSourceUnavailable, firm, programID)
}
