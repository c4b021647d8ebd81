// Command propcompliance is the prop-firm compliance monitor's single
// binary: it runs the per-account monitoring supervisor, the stateless
// compliance-review HTTP API, or a one-shot rule lookup, depending on the
// subcommand given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/propcompliance/internal/adapters/ctrader"
	"github.com/aristath/propcompliance/internal/adapters/mt5"
	"github.com/aristath/propcompliance/internal/anchor"
	"github.com/aristath/propcompliance/internal/audit"
	"github.com/aristath/propcompliance/internal/config"
	"github.com/aristath/propcompliance/internal/database"
	"github.com/aristath/propcompliance/internal/domain"
	"github.com/aristath/propcompliance/internal/evaluator"
	"github.com/aristath/propcompliance/internal/monitor"
	"github.com/aristath/propcompliance/internal/notifier"
	"github.com/aristath/propcompliance/internal/resolver"
	"github.com/aristath/propcompliance/internal/rules"
	"github.com/aristath/propcompliance/internal/scheduler"
	"github.com/aristath/propcompliance/internal/server"
	"github.com/aristath/propcompliance/internal/supervisor"
	"github.com/aristath/propcompliance/pkg/logger"
)

// Exit codes: 0 for clean shutdown, 1 for a configuration error, 2 for an
// unrecoverable runtime error.
const (
	exitClean        = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: propcompliance <monitor|review|rules> [flags]")
		os.Exit(exitConfigError)
	}

	switch os.Args[1] {
	case "monitor":
		os.Exit(runMonitor(os.Args[2:]))
	case "review":
		os.Exit(runReview(os.Args[2:]))
	case "rules":
		args := os.Args[2:]
		if len(args) > 0 && args[0] == "show" {
			args = args[1:]
		}
		os.Exit(runRulesShow(args))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(exitConfigError)
	}
}

// openRuleStore builds the database-backed resolver tier. It is shared by
// every subcommand that resolves rules at all.
func openRuleStore(cfg *config.Config) (*database.DB, *database.RuleStore, error) {
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, database.NewRuleStore(db), nil
}

func buildResolver(store resolver.RuleStore, log zerolog.Logger) *resolver.Resolver {
	res := resolver.New(store, rules.NewRegistry())
	res.OnTierError(func(tier resolver.Source, err error) {
		log.Warn().Str("tier", string(tier)).Err(err).Msg("resolver tier skipped due to error")
	})
	return res
}

// buildAdapter constructs the platform adapter named by acct.Platform.
func buildAdapter(acct config.AccountConfig, log zerolog.Logger) (domain.PlatformAdapter, error) {
	switch acct.Platform {
	case domain.PlatformMT5:
		return mt5.New(mt5.Config{
			BaseURL:   acct.MT5.BaseURL,
			AccountID: acct.AccountID,
			Login:     acct.MT5.Login,
		}, log), nil
	case domain.PlatformCTrader:
		return ctrader.New(ctrader.Config{
			WSURL:     acct.CTrader.WSURL,
			AccountID: acct.AccountID,
			CTIDLogin: acct.CTrader.CTIDLogin,
			AuthToken: acct.CTrader.AuthToken,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown platform %q for account %q", acct.Platform, acct.Label)
	}
}

// deferredHandler lets a Monitor be constructed with a breach handler that
// is only known once the Supervisor wrapping it exists: the Monitor holds a
// call to this box's Dispatch, and buildSupervisor points the box at the
// real handler after the Supervisor is built.
type deferredHandler struct {
	mu      sync.Mutex
	handler monitor.BreachHandler
}

func (d *deferredHandler) Dispatch(accountLabel string, breaches []evaluator.RuleBreach) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h(accountLabel, breaches)
	}
}

func (d *deferredHandler) set(h monitor.BreachHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// buildSupervisor resolves each account's rules, builds its adapter and
// monitor, and wires its breach handler to record supervisor status, fan
// out to the notifier, and (when audit archival is enabled) accumulate
// into the daily digest collector.
func buildSupervisor(
	accounts []config.AccountConfig,
	cfg *config.Config,
	log zerolog.Logger,
	res *resolver.Resolver,
	tracker *anchor.Tracker,
	engine *notifier.Engine,
	collector *audit.Collector,
) (*supervisor.Supervisor, error) {
	var handles []supervisor.Account
	var boxes []*deferredHandler

	for _, acct := range accounts {
		if !acct.Enabled {
			log.Info().Str("account", acct.Label).Msg("account disabled, skipping")
			continue
		}

		resolved, source, err := res.Resolve(acct.Firm, acct.ProgramID, acct.InlineRules)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", acct.Label, err)
		}
		log.Info().Str("account", acct.Label).Str("source", string(source)).Msg("resolved compliance rules")

		adapter, err := buildAdapter(acct, log)
		if err != nil {
			return nil, err
		}

		checkInterval := time.Duration(acct.CheckIntervalSeconds) * time.Second
		box := &deferredHandler{}

		mon := monitor.New(monitor.Config{
			AccountLabel:    acct.Label,
			AccountID:       acct.AccountID,
			Adapter:         adapter,
			Rules:           resolved,
			Anchor:          tracker,
			StartingBalance: acct.StartingBalance,
			CheckInterval:   checkInterval,
			OnBreaches:      box.Dispatch,
		}, log, 0)

		handles = append(handles, supervisor.Account{Label: acct.Label, Monitor: mon})
		boxes = append(boxes, box)
	}

	sup := supervisor.New(log, handles, time.Duration(cfg.GracePeriodSeconds)*time.Second)

	for i, h := range handles {
		label := h.Label
		base := sup.NewAccountBreachHandler(label, engine)
		boxes[i].set(func(accountLabel string, breaches []evaluator.RuleBreach) {
			base(accountLabel, breaches)
			if collector != nil && len(breaches) > 0 {
				// Bucket by the broker-local date of the observation.
				collector.Record(accountLabel, breaches[0].ObservedAt.Format("2006-01-02"), breaches)
			}
		})
	}

	return sup, nil
}

// ---- monitor ----

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	accountsFile := fs.String("config", "", "path to JSON account-config file")
	_ = fs.Parse(args)

	log := logger.New(logger.Config{Level: "info", Pretty: true})

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("configuration error")
		return exitConfigError
	}

	var accounts []config.AccountConfig
	if *accountsFile != "" {
		accounts, err = config.LoadAccounts(*accountsFile)
		if err != nil {
			log.Error().Err(err).Msg("failed to load accounts file")
			return exitConfigError
		}
	} else if acct, ok := config.SingleAccountFromEnv(); ok {
		if err := acct.Validate(); err != nil {
			log.Error().Err(err).Msg("configuration error")
			return exitConfigError
		}
		accounts = []config.AccountConfig{acct}
	} else {
		log.Error().Msg("no accounts configured: pass -config FILE or set ACCOUNT_ID")
		return exitConfigError
	}

	db, store, err := openRuleStore(cfg)
	if err != nil {
		log.Error().Err(err).Msg("configuration error")
		return exitConfigError
	}
	defer db.Close()

	res := buildResolver(store, log)

	var anchorStore anchor.Store
	if cfg.AnchorStatePath != "" {
		anchorStore = anchor.NewFileStore(cfg.AnchorStatePath)
	}
	tracker := anchor.New(anchorStore)
	tracker.OnOutOfOrder(func(accountID, trackedDate, observedDate string) {
		log.Warn().Str("account_id", accountID).Str("tracked_date", trackedDate).Str("observed_date", observedDate).
			Msg("anchor observed an out-of-order snapshot date, evaluating against existing anchor")
	})

	collector := audit.NewCollector()
	uploader, err := audit.NewUploader(context.Background(), cfg.Audit, log)
	if err != nil {
		log.Error().Err(err).Msg("configuration error")
		return exitConfigError
	}

	engine := notifier.New(log, map[string]notifier.Sink{
		"terminal": notifier.TerminalSink(os.Stdout),
	})
	defer engine.Close()

	sup, err := buildSupervisor(accounts, cfg, log, res, tracker, engine, collector)
	if err != nil {
		log.Error().Err(err).Msg("failed to build supervisor")
		return exitConfigError
	}

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := sched.AddJob("@every 1m", scheduler.NewStatusLogJob(sup, log)); err != nil {
		log.Error().Err(err).Msg("failed to register status-log job")
		return exitConfigError
	}
	if err := sched.AddJob("@every 1h", scheduler.NewAnchorGCJob(tracker, 48*time.Hour)); err != nil {
		log.Error().Err(err).Msg("failed to register anchor-gc job")
		return exitConfigError
	}
	if err := sched.AddJob("0 0 0 * * *", scheduler.NewAuditDigestJob(collector, uploader, log)); err != nil {
		log.Error().Err(err).Msg("failed to register audit-digest job")
		return exitConfigError
	}

	softRules := func(firm, programID string) ([]string, error) {
		return store.SoftRules(firm, programID)
	}

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		DevMode:   cfg.DevMode,
		Resolver:  res,
		SoftRules: softRules,
		Taxonomy:  rules.DefaultTaxonomies,
		Sup:       sup,
	})

	ctx, cancel := context.WithCancel(context.Background())

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	supervisorErr := make(chan error, 1)
	go func() { supervisorErr <- sup.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
			return exitRuntimeError
		}
	}

	cancel()
	<-supervisorErr

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server did not shut down cleanly")
		return exitRuntimeError
	}

	log.Info().Msg("clean shutdown")
	return exitClean
}

// ---- review ----

func runReview(args []string) int {
	fs := flag.NewFlagSet("review", flag.ExitOnError)
	_ = fs.Parse(args)

	log := logger.New(logger.Config{Level: "info", Pretty: true})

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("configuration error")
		return exitConfigError
	}

	db, store, err := openRuleStore(cfg)
	if err != nil {
		log.Error().Err(err).Msg("configuration error")
		return exitConfigError
	}
	defer db.Close()

	res := buildResolver(store, log)

	softRules := func(firm, programID string) ([]string, error) {
		return store.SoftRules(firm, programID)
	}

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		DevMode:   cfg.DevMode,
		Resolver:  res,
		SoftRules: softRules,
		Taxonomy:  rules.DefaultTaxonomies,
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			return exitRuntimeError
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server did not shut down cleanly")
		return exitRuntimeError
	}
	return exitClean
}

// ---- rules show ----

func runRulesShow(args []string) int {
	fs := flag.NewFlagSet("rules", flag.ExitOnError)
	firm := fs.String("firm", "", "firm name")
	program := fs.String("program", "", "program id")
	asJSON := fs.Bool("json", false, "print as JSON")
	_ = fs.Parse(args)

	if *firm == "" {
		fmt.Fprintln(os.Stderr, "rules show: -firm is required")
		return exitConfigError
	}

	log := logger.New(logger.Config{Level: "error", Pretty: true})

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfigError
	}

	db, store, err := openRuleStore(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfigError
	}
	defer db.Close()

	res := buildResolver(store, log)

	resolved, source, err := res.Resolve(*firm, *program, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve failed:", err)
		return exitRuntimeError
	}

	if *asJSON {
		out := struct {
			Rules  rules.Rules     `json:"rules"`
			Source resolver.Source `json:"source_tag"`
		}{Rules: resolved, Source: source}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return exitClean
	}

	fmt.Printf("firm:                    %s\n", *firm)
	fmt.Printf("program:                 %s\n", *program)
	fmt.Printf("source:                  %s\n", source)
	fmt.Printf("name:                    %s\n", resolved.Name)
	fmt.Printf("max_daily_drawdown_pct:  %.2f\n", resolved.MaxDailyDrawdownPct)
	fmt.Printf("max_total_drawdown_pct:  %.2f\n", resolved.MaxTotalDrawdownPct)
	fmt.Printf("max_risk_per_trade_pct:  %.2f\n", resolved.MaxRiskPerTradePct)
	fmt.Printf("max_open_lots:           %.2f\n", resolved.MaxOpenLots)
	fmt.Printf("max_positions:           %d\n", resolved.MaxPositions)
	fmt.Printf("margin_warn_level_pct:   %.2f\n", resolved.MarginWarnLevelPct)
	fmt.Printf("margin_critical_pct:     %.2f\n", resolved.MarginCriticalLevelPct)
	fmt.Printf("trading_days_only:       %t\n", resolved.TradingDaysOnly)
	fmt.Printf("require_stop_loss:       %t\n", resolved.RequireStopLoss)
	if resolved.MaxLeverage != nil {
		fmt.Printf("max_leverage:            %.2f\n", *resolved.MaxLeverage)
	}
	return exitClean
}
