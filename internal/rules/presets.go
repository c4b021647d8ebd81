package rules

// Registry is the compile-time preset registry for well-known firms,
// assembled once at process init and passed explicitly to the resolver
// rather than read from global state. Keys are normalized firm names;
// aliases resolve to the same normalized key.
type Registry struct {
	presets map[string]Rules
	aliases map[string]string
}

// NewRegistry builds the registry from the compiled-in preset table below.
func NewRegistry() *Registry {
	reg := &Registry{
		presets: make(map[string]Rules, len(defaultPresets)),
		aliases: make(map[string]string, len(defaultAliases)),
	}
	for firm, r := range defaultPresets {
		built, err := New(r)
		if err != nil {
			// A malformed compiled-in preset is a programmer error, not a
			// runtime condition; fail loudly rather than silently skip it.
			panic("rules: invalid preset for " + firm + ": " + err.Error())
		}
		reg.presets[NormalizeFirmName(firm)] = built
	}
	for alias, firm := range defaultAliases {
		reg.aliases[NormalizeFirmName(alias)] = NormalizeFirmName(firm)
	}
	return reg
}

// Lookup finds a preset by firm name (or alias), case-insensitively.
func (r *Registry) Lookup(firm string) (Rules, bool) {
	key := NormalizeFirmName(firm)
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	rules, ok := r.presets[key]
	return rules, ok
}

func floatPtr(f float64) *float64 { return &f }

// defaultPresets holds a handful of representative firm presets: a
// compile-time map of firm name to Rules, keyed by normalized name once
// NewRegistry builds the registry. Real deployments
// extend this table; it is never read from a file.
var defaultPresets = map[string]Rules{
	"FundedNext": {
		Name:                   "FundedNext Standard",
		MaxDailyDrawdownPct:    5.0,
		MaxTotalDrawdownPct:    10.0,
		MaxRiskPerTradePct:     2.0,
		MaxOpenLots:            20,
		MaxPositions:           10,
		MarginWarnLevelPct:     DefaultMarginWarnLevelPct,
		MarginCriticalLevelPct: DefaultMarginCriticalLevelPct,
		TradingDaysOnly:        true,
		RequireStopLoss:        false,
		WarnBufferPct:          0.8,
	},
	"FTMO": {
		Name:                   "FTMO Normal",
		MaxDailyDrawdownPct:    5.0,
		MaxTotalDrawdownPct:    10.0,
		MaxRiskPerTradePct:     2.0,
		MaxOpenLots:            40,
		MaxPositions:           20,
		MarginWarnLevelPct:     DefaultMarginWarnLevelPct,
		MarginCriticalLevelPct: DefaultMarginCriticalLevelPct,
		TradingDaysOnly:        false,
		RequireStopLoss:        false,
		MaxLeverage:            floatPtr(100),
		WarnBufferPct:          0.8,
	},
	"The5ers": {
		Name:                   "The5ers Bootcamp",
		MaxDailyDrawdownPct:    4.0,
		MaxTotalDrawdownPct:    8.0,
		MaxRiskPerTradePct:     1.5,
		MaxOpenLots:            15,
		MaxPositions:           8,
		MarginWarnLevelPct:     DefaultMarginWarnLevelPct,
		MarginCriticalLevelPct: DefaultMarginCriticalLevelPct,
		TradingDaysOnly:        true,
		RequireStopLoss:        true,
		WarnBufferPct:          0.75,
	},
	"MyForexFunds": {
		Name:                   "MyForexFunds Rapid",
		MaxDailyDrawdownPct:    5.0,
		MaxTotalDrawdownPct:    12.0,
		MaxRiskPerTradePct:     3.0,
		MaxOpenLots:            30,
		MaxPositions:           15,
		MarginWarnLevelPct:     DefaultMarginWarnLevelPct,
		MarginCriticalLevelPct: DefaultMarginCriticalLevelPct,
		TradingDaysOnly:        false,
		RequireStopLoss:        false,
		WarnBufferPct:          0.8,
	},
}

// defaultAliases maps externally observed firm-name spellings to the
// canonical preset key.
var defaultAliases = map[string]string{
	"fundednext capital": "FundedNext",
	"ftmo trading":        "FTMO",
	"the 5ers":            "The5ers",
	"my forex funds":      "MyForexFunds",
	"mff":                 "MyForexFunds",
}
