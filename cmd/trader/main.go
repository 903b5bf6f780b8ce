package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"proptrader/internal/account"
	"proptrader/internal/engine"
	"proptrader/internal/gateway/gatewayobs"
	"proptrader/internal/gateway/mtbridge"
	"proptrader/internal/gateway/mtrader"
	"proptrader/internal/gateway/sim"
	"proptrader/internal/interfaces"
	"proptrader/internal/journal"
	"proptrader/internal/logger"
	"proptrader/internal/market"
	"proptrader/internal/news"
	"proptrader/internal/pattern"
	"proptrader/internal/risk"
	"proptrader/internal/store"
	"proptrader/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()
	must(logger.Init())
	must(trace.Init())

	configPath := os.Getenv("TRADER_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := store.LoadConfig(configPath)
	must(err)

	ctx := context.Background()

	jrnl, err := journal.New(cfg.Journal.Dir)
	must(err)

	adapter := market.NewAdapter()
	detector := pattern.NewDetector(detectorConfig(cfg), pattern.NewStore())

	var newsSvc *news.Service
	if cfg.News.Enabled {
		newsSvc = news.NewService(news.ServiceConfig{
			CalendarURL:     cfg.News.CalendarURL,
			RefreshInterval: time.Duration(cfg.News.RefreshHours) * time.Hour,
			ScraperTimeout:  30 * time.Second,
			Enabled:         true,
		})
		if err := newsSvc.Refresh(ctx); err != nil {
			logger.Warn(ctx, "Initial news refresh failed", "error", err)
		}
	}

	accounts := account.NewManager(time.Duration(cfg.HeartbeatSeconds) * time.Second)
	for _, entry := range cfg.Accounts {
		if !entry.Enabled {
			continue
		}
		accounts.Add(accountConfig(entry), gatewayobs.Wrap(buildGateway(cfg, entry)))
	}

	var provider interfaces.NewsProvider
	if newsSvc != nil {
		provider = newsSvc
	}
	riskEngine := risk.NewEngine(accounts, adapter, provider, cfg.Risk.MaxRiskPct)

	eng := engine.New(cfg, accounts, adapter, detector, riskEngine, jrnl, newsSvc)

	if cfg.Mode == "DRY_RUN" {
		logger.Info(ctx, "Running in DRY_RUN mode, orders go to the simulated venue")
	}

	results, err := eng.Start(ctx)
	if err != nil {
		for id, ok := range results {
			logger.Warn(ctx, "Account connect result", "account", id, "connected", ok)
		}
		log.Fatal(err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	logger.Info(ctx, "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng.Stop(shutdownCtx)
	_ = jrnl.Close()
	_ = trace.Shutdown(shutdownCtx)
	_ = logger.Shutdown(shutdownCtx)
}

// buildGateway picks the execution venue for one account. DRY_RUN forces the
// simulator regardless of platform.
func buildGateway(cfg *store.Config, entry store.AccountEntry) interfaces.Gateway {
	if cfg.Mode == "DRY_RUN" || entry.Platform == "SIM" || entry.Platform == "" {
		return sim.New(10000)
	}

	login := os.Getenv(entry.LoginEnv)
	password := os.Getenv(entry.PasswordEnv)

	switch entry.Platform {
	case "MT5_BRIDGE":
		return mtbridge.New(mtbridge.Config{
			ServerURL:    entry.Server,
			AuthKey:      password,
			StreamQuotes: true,
		})
	default:
		return mtrader.New(mtrader.Config{
			BaseURL:  entry.Server,
			Email:    login,
			Password: password,
		})
	}
}

func accountConfig(entry store.AccountEntry) account.Config {
	cfg := account.Config{
		AccountID: entry.ID,
		Firm:      account.FirmType(entry.Firm),
		Enabled:   entry.Enabled,
		Symbols:   entry.Symbols,
	}
	if entry.Rules != nil {
		r := entry.Rules
		cfg.CustomRules = &account.Rules{
			Firm:               account.FirmType(entry.Firm),
			DailyLossLimitPct:  r.DailyLossLimitPct,
			MaxTrailingDDPct:   r.MaxTrailingDDPct,
			MaxTotalDDPct:      r.MaxTotalDDPct,
			MaxPositions:       r.MaxPositions,
			LotPer10K:          r.LotPer10K,
			ContractPer10K:     r.ContractPer10K,
			UseTrailingDD:      r.UseTrailingDD,
			WeekendHolding:     r.WeekendHolding,
			NewsLockoutMinutes: r.NewsLockoutMinutes,
			MaxLotSize:         r.MaxLotSize,
			MinLotSize:         r.MinLotSize,
			FridayCloseUTC:     r.FridayCloseUTC,
		}
	}
	return cfg
}

func detectorConfig(cfg *store.Config) pattern.Config {
	dc := pattern.DefaultConfig()
	d := cfg.Detector
	if d.MinWedgeCandles > 0 {
		dc.MinWedgeCandles = d.MinWedgeCandles
	}
	if d.MaxWedgeCandles > 0 {
		dc.MaxWedgeCandles = d.MaxWedgeCandles
	}
	if d.MinTouches > 0 {
		dc.MinTouches = d.MinTouches
	}
	if d.TouchTolerance > 0 {
		dc.TouchTolerance = d.TouchTolerance
	}
	if d.ConvergenceRatio > 0 {
		dc.ConvergenceRatio = d.ConvergenceRatio
	}
	if d.BreakoutThreshold > 0 {
		dc.BreakoutThreshold = d.BreakoutThreshold
	}
	if d.WickRatio > 0 {
		dc.WickExhaustionRatio = d.WickRatio
	}
	return dc
}
