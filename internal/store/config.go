package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AccountEntry is one prop firm account in the config file.
// Credentials are env var names, never literal secrets.
type AccountEntry struct {
	ID      string   `yaml:"id"`
	Firm    string   `yaml:"firm"`
	Enabled bool     `yaml:"enabled"`
	Symbols []string `yaml:"symbols"`
	// Platform selects the execution gateway: MATCHTRADER, MT5_BRIDGE, or SIM.
	// DRY_RUN mode forces SIM regardless.
	Platform    string `yaml:"platform"`
	Server      string `yaml:"server"`
	LoginEnv    string `yaml:"login_env"`
	PasswordEnv string `yaml:"password_env"`
	Rules       *struct {
		DailyLossLimitPct  float64 `yaml:"daily_loss_limit_pct"`
		MaxTrailingDDPct   float64 `yaml:"max_trailing_dd_pct"`
		MaxTotalDDPct      float64 `yaml:"max_total_dd_pct"`
		MaxPositions       int     `yaml:"max_positions"`
		LotPer10K          float64 `yaml:"lot_per_10k"`
		ContractPer10K     float64 `yaml:"contract_per_10k"`
		UseTrailingDD      bool    `yaml:"use_trailing_dd"`
		WeekendHolding     bool    `yaml:"weekend_holding"`
		NewsLockoutMinutes int     `yaml:"news_lockout_minutes"`
		MaxLotSize         float64 `yaml:"max_lot_size"`
		MinLotSize         float64 `yaml:"min_lot_size"`
		FridayCloseUTC     int     `yaml:"friday_close_utc"`
	} `yaml:"rules"`
}

type Config struct {
	Mode             string `yaml:"mode"` // DRY_RUN or LIVE
	Timeframe        string `yaml:"timeframe"`
	CandleCount      int    `yaml:"candle_count"`
	ScanSeconds      int    `yaml:"scan_seconds"`
	ManageSeconds    int    `yaml:"manage_seconds"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds"`

	Accounts []AccountEntry `yaml:"accounts"`

	Risk struct {
		MaxRiskPct           float64 `yaml:"max_risk_pct"`
		BreakevenTriggerPips float64 `yaml:"breakeven_trigger_pips"`
		BreakevenLockPips    float64 `yaml:"breakeven_lock_pips"`
		TrailingStartPips    float64 `yaml:"trailing_start_pips"`
		TrailingStepPips     float64 `yaml:"trailing_step_pips"`
		StaleTradeMinutes    int     `yaml:"stale_trade_minutes"`
		StaleExitEnabled     bool    `yaml:"stale_exit_enabled"`
	} `yaml:"risk"`

	Detector struct {
		MinWedgeCandles   int     `yaml:"min_wedge_candles"`
		MaxWedgeCandles   int     `yaml:"max_wedge_candles"`
		MinTouches        int     `yaml:"min_touches"`
		TouchTolerance    float64 `yaml:"touch_tolerance"`
		ConvergenceRatio  float64 `yaml:"convergence_ratio"`
		BreakoutThreshold float64 `yaml:"breakout_threshold"`
		WickRatio         float64 `yaml:"wick_ratio"`
	} `yaml:"detector"`

	News struct {
		Enabled      bool   `yaml:"enabled"`
		CalendarURL  string `yaml:"calendar_url"`
		RefreshHours int    `yaml:"refresh_hours"`
	} `yaml:"news"`

	Journal struct {
		Dir string `yaml:"dir"`
	} `yaml:"journal"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if len(c.Accounts) == 0 {
		return errors.New("accounts cannot be empty")
	}
	seen := make(map[string]bool)
	for _, a := range c.Accounts {
		if a.ID == "" {
			return errors.New("account id cannot be empty")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account id '%s'", a.ID)
		}
		seen[a.ID] = true
		if a.Enabled && len(a.Symbols) == 0 {
			return fmt.Errorf("account '%s' is enabled but has no symbols", a.ID)
		}
		switch a.Platform {
		case "", "SIM", "MATCHTRADER", "MT5_BRIDGE":
		default:
			return fmt.Errorf("account '%s' has invalid platform '%s': must be 'MATCHTRADER', 'MT5_BRIDGE', or 'SIM'", a.ID, a.Platform)
		}
	}
	if c.Risk.MaxRiskPct <= 0 || c.Risk.MaxRiskPct > 100 {
		return fmt.Errorf("risk.max_risk_pct must be between 0-100, got %.2f", c.Risk.MaxRiskPct)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Timeframe == "" {
		c.Timeframe = "M5"
	}
	if c.CandleCount == 0 {
		c.CandleCount = 100
	}
	if c.ScanSeconds == 0 {
		c.ScanSeconds = 120
	}
	if c.ManageSeconds == 0 {
		c.ManageSeconds = 5
	}
	if c.HeartbeatSeconds == 0 {
		c.HeartbeatSeconds = 5
	}
	if c.Risk.MaxRiskPct == 0 {
		c.Risk.MaxRiskPct = 2.0
	}
	if c.Risk.BreakevenTriggerPips == 0 {
		c.Risk.BreakevenTriggerPips = 6.0
	}
	if c.Risk.BreakevenLockPips == 0 {
		c.Risk.BreakevenLockPips = 1.0
	}
	if c.Risk.TrailingStartPips == 0 {
		c.Risk.TrailingStartPips = 12.0
	}
	if c.Risk.TrailingStepPips == 0 {
		c.Risk.TrailingStepPips = 5.0
	}
	if c.Risk.StaleTradeMinutes == 0 {
		c.Risk.StaleTradeMinutes = 60
	}
	if c.News.RefreshHours == 0 {
		c.News.RefreshHours = 4
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
