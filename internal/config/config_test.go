package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validEngine() EngineConfig {
	return EngineConfig{
		TargetInstruments:        []string{"BTC", "ETH"},
		MaxPositionSizeUSD:       10000,
		MaxTotalExposureUSD:      50000,
		RebalanceThresholdPct:    2,
		MinFundingRateAPY:        5,
		MaxLeverage:              3,
		RebalanceCooldownMinutes: 15,
		EmergencyExitLossPct:     5,
	}
}

func TestEngineDefaults(t *testing.T) {
	cfg := &Config{Engine: validEngine()}
	applyDefaults(cfg)
	if cfg.Engine.SpotVenue != "BINANCE" || cfg.Engine.PerpVenue != "DYDX" {
		t.Fatalf("unexpected default venues %q/%q", cfg.Engine.SpotVenue, cfg.Engine.PerpVenue)
	}
	if cfg.Engine.MaxPriceAge <= 0 {
		t.Fatalf("expected max price age default, got %v", cfg.Engine.MaxPriceAge)
	}
	if cfg.Engine.EvaluationInterval <= 0 {
		t.Fatalf("expected evaluation interval default, got %v", cfg.Engine.EvaluationInterval)
	}
	if cfg.Engine.RebalanceCostBps == nil || cfg.Engine.RebalanceCostBpsValue() != 10 {
		t.Fatalf("expected rebalance cost default 10, got %v", cfg.Engine.RebalanceCostBpsValue())
	}
	if cfg.Orders.PollAttempts <= 0 || cfg.Orders.PollInterval <= 0 {
		t.Fatalf("expected order polling defaults, got %+v", cfg.Orders)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestMetricsDefaults(t *testing.T) {
	cfg := &Config{Engine: validEngine()}
	applyDefaults(cfg)
	if !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled default")
	}
	if cfg.Metrics.Address != "127.0.0.1:9001" {
		t.Fatalf("expected metrics address default, got %q", cfg.Metrics.Address)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics path default, got %q", cfg.Metrics.Path)
	}
}

func TestRebalanceThresholdRange(t *testing.T) {
	for _, threshold := range []float64{0, -1, 100, 150} {
		eng := validEngine()
		eng.RebalanceThresholdPct = threshold
		ApplyEngineDefaults(&eng)
		err := eng.Validate()
		if err == nil {
			t.Fatalf("expected threshold %v to be rejected", threshold)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("expected ErrConfiguration, got %v", err)
		}
	}
	for _, threshold := range []float64{0.01, 50, 99.99} {
		eng := validEngine()
		eng.RebalanceThresholdPct = threshold
		ApplyEngineDefaults(&eng)
		if err := eng.Validate(); err != nil {
			t.Fatalf("expected threshold %v to be accepted, got %v", threshold, err)
		}
	}
}

func TestValidateRejectsNonPositiveThresholds(t *testing.T) {
	mutators := map[string]func(*EngineConfig){
		"max_position_size_usd":      func(e *EngineConfig) { e.MaxPositionSizeUSD = 0 },
		"max_total_exposure_usd":     func(e *EngineConfig) { e.MaxTotalExposureUSD = -1 },
		"min_funding_rate_apy":       func(e *EngineConfig) { e.MinFundingRateAPY = 0 },
		"max_leverage":               func(e *EngineConfig) { e.MaxLeverage = 0 },
		"rebalance_cooldown_minutes": func(e *EngineConfig) { e.RebalanceCooldownMinutes = 0 },
		"emergency_exit_loss_pct":    func(e *EngineConfig) { e.EmergencyExitLossPct = -5 },
	}
	for name, mutate := range mutators {
		eng := validEngine()
		mutate(&eng)
		ApplyEngineDefaults(&eng)
		if err := eng.Validate(); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestValidateRequiresInstruments(t *testing.T) {
	eng := validEngine()
	eng.TargetInstruments = nil
	ApplyEngineDefaults(&eng)
	if err := eng.Validate(); err == nil {
		t.Fatalf("expected error for missing instruments")
	}
	eng.TargetInstruments = []string{"BTC", "BTC"}
	if err := eng.Validate(); err == nil {
		t.Fatalf("expected error for duplicate instruments")
	}
}

func TestSymbolsFor(t *testing.T) {
	eng := validEngine()
	eng.SpotSymbolTemplate = "{asset}/USDC"
	eng.Symbols = map[string]SymbolConfig{"ETH": {Spot: "@151"}}
	spot, perp := eng.SymbolsFor("BTC")
	if spot != "BTC/USDC" || perp != "BTC" {
		t.Fatalf("unexpected BTC symbols %q/%q", spot, perp)
	}
	spot, perp = eng.SymbolsFor("ETH")
	if spot != "@151" || perp != "ETH" {
		t.Fatalf("unexpected ETH symbols %q/%q", spot, perp)
	}
}

func TestPeriodsPerDay(t *testing.T) {
	eng := validEngine()
	eng.FundingPeriodsPerDay = map[string]float64{"HYPERLIQUID": 24}
	if got := eng.PeriodsPerDay("HYPERLIQUID"); got != 24 {
		t.Fatalf("expected 24, got %v", got)
	}
	if got := eng.PeriodsPerDay("DYDX"); got != 3 {
		t.Fatalf("expected default 3, got %v", got)
	}
}

func TestRebalanceCooldownDuration(t *testing.T) {
	eng := validEngine()
	if got := eng.RebalanceCooldown(); got != 15*time.Minute {
		t.Fatalf("expected 15m, got %v", got)
	}
}

func TestVenueDefaultsHyperliquid(t *testing.T) {
	cfg := &Config{
		Engine: validEngine(),
		Venues: []VenueConfig{{Name: "HL", Kind: "Hyperliquid", RESTURL: "http://example.com", PrivateKey: "0xabc"}},
	}
	cfg.Engine.SpotVenue = "HL"
	cfg.Engine.PerpVenue = "HL"
	applyDefaults(cfg)
	v := cfg.Venues[0]
	if v.Kind != VenueKindHyperliquid {
		t.Fatalf("expected normalized kind, got %q", v.Kind)
	}
	if v.WSURL != "ws://example.com/ws" {
		t.Fatalf("expected derived ws url, got %q", v.WSURL)
	}
	if v.FundingPeriodsPerDay != 24 {
		t.Fatalf("expected hourly funding default, got %v", v.FundingPeriodsPerDay)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestHyperliquidCredentialsFromEnv(t *testing.T) {
	t.Setenv("HL_PRIVATE_KEY", "0xkey")
	t.Setenv("HL_WALLET_ADDRESS", "0xwallet")
	cfg := &Config{
		Engine: validEngine(),
		Venues: []VenueConfig{
			{Name: "HL", Kind: "hyperliquid", RESTURL: "https://api.hyperliquid-testnet.xyz"},
			{Name: "PAPER", Kind: "paper"},
		},
	}
	cfg.Engine.SpotVenue = "PAPER"
	cfg.Engine.PerpVenue = "HL"
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	hl := cfg.Venues[0]
	if hl.PrivateKey != "0xkey" || hl.AccountAddress != "0xwallet" {
		t.Fatalf("expected env credentials, got %+v", hl)
	}
	if hl.Mainnet() {
		t.Fatalf("testnet url should not sign for mainnet")
	}
	if cfg.Venues[1].PrivateKey != "" {
		t.Fatalf("paper venue should not receive credentials")
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRequiresHyperliquidKey(t *testing.T) {
	t.Setenv("HL_PRIVATE_KEY", "")
	cfg := &Config{
		Engine: validEngine(),
		Venues: []VenueConfig{{Name: "HL", Kind: "hyperliquid"}},
	}
	cfg.Engine.SpotVenue = "HL"
	cfg.Engine.PerpVenue = "HL"
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidateRejectsUnknownEngineVenue(t *testing.T) {
	cfg := &Config{
		Engine: validEngine(),
		Venues: []VenueConfig{{Name: "PAPER", Kind: "paper"}},
	}
	cfg.Engine.SpotVenue = "PAPER"
	cfg.Engine.PerpVenue = "MISSING"
	applyDefaults(cfg)
	if err := validate(cfg); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidateRejectsUnknownPriceFeed(t *testing.T) {
	cfg := &Config{
		Engine: validEngine(),
		Venues: []VenueConfig{{Name: "PAPER", Kind: "paper", PriceFeed: "NOPE"}},
	}
	cfg.Engine.SpotVenue = "PAPER"
	cfg.Engine.PerpVenue = "PAPER"
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown price feed")
	}
}

func TestValidateRejectsTelegramEnabledWithoutConfig(t *testing.T) {
	t.Setenv("HL_TELEGRAM_TOKEN", "")
	t.Setenv("HL_TELEGRAM_CHAT_ID", "")
	cfg := &Config{Telegram: TelegramConfig{Enabled: true}, Engine: validEngine()}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing telegram token/chat_id")
	}
}

func TestTelegramEnvOverridesConfig(t *testing.T) {
	t.Setenv("HL_TELEGRAM_TOKEN", "env-token")
	t.Setenv("HL_TELEGRAM_CHAT_ID", "123")
	cfg := &Config{
		Telegram: TelegramConfig{Enabled: true, Token: "config-token", ChatID: "999"},
		Engine:   validEngine(),
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.ChatID != "123" {
		t.Fatalf("expected env overrides, got %+v", cfg.Telegram)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config with env overrides, got %v", err)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  target_instruments: [BTC]
  max_position_size_usd: 1000
  max_total_exposure_usd: 5000
  rebalance_threshold_pct: 2
  min_funding_rate_apy: 5
  max_leverage: 2
  rebalance_cooldown_minutes: 15
  emergency_exit_loss_pct: 5
  spot_venue: PAPER
  perp_venue: PAPER
venues:
  - name: PAPER
    kind: paper
orders:
  poll_interval: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Orders.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected poll interval 250ms, got %v", cfg.Orders.PollInterval)
	}
	if cfg.Engine.TargetInstruments[0] != "BTC" {
		t.Fatalf("unexpected instruments %v", cfg.Engine.TargetInstruments)
	}
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  target_instruments: [BTC]
  max_position_size_usd: 1000
  max_total_exposure_usd: 5000
  rebalance_threshold_pct: 100
  min_funding_rate_apy: 5
  max_leverage: 2
  rebalance_cooldown_minutes: 15
  emergency_exit_loss_pct: 5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadKeepsZeroRebalanceCost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  target_instruments: [BTC]
  max_position_size_usd: 1000
  max_total_exposure_usd: 5000
  rebalance_threshold_pct: 2
  min_funding_rate_apy: 5
  max_leverage: 2
  rebalance_cooldown_minutes: 15
  emergency_exit_loss_pct: 5
  rebalance_cost_bps: 0
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Engine.RebalanceCostBps == nil || cfg.Engine.RebalanceCostBpsValue() != 0 {
		t.Fatalf("expected explicit zero rebalance cost to survive defaults, got %v", cfg.Engine.RebalanceCostBpsValue())
	}
}

func TestValidateRejectsNegativeRebalanceCost(t *testing.T) {
	cfg := &Config{Engine: validEngine()}
	applyDefaults(cfg)
	bps := -1.0
	cfg.Engine.RebalanceCostBps = &bps
	if err := validate(cfg); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
