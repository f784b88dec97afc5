package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration wraps every validation failure so callers can tell a bad
// config apart from an I/O error.
var ErrConfiguration = errors.New("configuration error")

const (
	VenueKindHyperliquid = "hyperliquid"
	VenueKindPaper       = "paper"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Venues    []VenueConfig   `yaml:"venues"`
	Engine    EngineConfig    `yaml:"engine"`
	Orders    OrderConfig     `yaml:"orders"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type VenueConfig struct {
	Name                 string        `yaml:"name"`
	Kind                 string        `yaml:"kind"`
	RESTURL              string        `yaml:"rest_url"`
	WSURL                string        `yaml:"ws_url"`
	Timeout              time.Duration `yaml:"timeout"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	FundingPollInterval  time.Duration `yaml:"funding_poll_interval"`
	PriceFeed            string        `yaml:"price_feed"`
	RequestsPerSecond    float64       `yaml:"requests_per_second"`
	BreakerFailures      uint32        `yaml:"breaker_failures"`
	BreakerTimeout       time.Duration `yaml:"breaker_timeout"`
	SlippageBps          float64       `yaml:"slippage_bps"`
	FeeBps               float64       `yaml:"fee_bps"`
	FundingPeriodsPerDay float64       `yaml:"funding_periods_per_day"`
	// Hyperliquid credentials; the env overrides fill them when empty.
	PrivateKey     string `yaml:"private_key"`
	AccountAddress string `yaml:"account_address"`
	VaultAddress   string `yaml:"vault_address"`
}

// Mainnet reports whether a Hyperliquid venue signs for mainnet.
func (v VenueConfig) Mainnet() bool {
	return !strings.Contains(strings.ToLower(v.RESTURL), "testnet")
}

type SymbolConfig struct {
	Spot string `yaml:"spot"`
	Perp string `yaml:"perp"`
}

// EngineConfig is the rebalancing engine's recognized option set.
type EngineConfig struct {
	TargetInstruments        []string `yaml:"target_instruments"`
	MaxPositionSizeUSD       float64  `yaml:"max_position_size_usd"`
	MaxTotalExposureUSD      float64  `yaml:"max_total_exposure_usd"`
	RebalanceThresholdPct    float64  `yaml:"rebalance_threshold_pct"`
	MinFundingRateAPY        float64  `yaml:"min_funding_rate_apy"`
	MaxLeverage              float64  `yaml:"max_leverage"`
	RebalanceCooldownMinutes float64  `yaml:"rebalance_cooldown_minutes"`
	EmergencyExitLossPct     float64  `yaml:"emergency_exit_loss_pct"`
	SpotVenue                string   `yaml:"spot_venue"`
	PerpVenue                string   `yaml:"perp_venue"`

	Symbols              map[string]SymbolConfig `yaml:"symbols"`
	SpotSymbolTemplate   string                  `yaml:"spot_symbol_template"`
	PerpSymbolTemplate   string                  `yaml:"perp_symbol_template"`
	FundingPeriodsPerDay map[string]float64      `yaml:"funding_periods_per_day"`
	MaxPriceAge          time.Duration           `yaml:"max_price_age"`
	EvaluationInterval   time.Duration           `yaml:"evaluation_interval"`
	RebalanceCostBps     *float64                `yaml:"rebalance_cost_bps"`
}

type OrderConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	PollAttempts  int           `yaml:"poll_attempts"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
}

const (
	defaultPeriodsPerDay = 3
	assetPlaceholder     = "{asset}"
)

func (e EngineConfig) RebalanceCooldown() time.Duration {
	return time.Duration(e.RebalanceCooldownMinutes * float64(time.Minute))
}

// PeriodsPerDay returns the funding periods per day for a venue, falling back
// to 8-hour funding.
func (e EngineConfig) PeriodsPerDay(venue string) float64 {
	if n, ok := e.FundingPeriodsPerDay[venue]; ok && n > 0 {
		return n
	}
	return defaultPeriodsPerDay
}

// SymbolsFor resolves the spot and perp symbols traded for an instrument.
func (e EngineConfig) SymbolsFor(instrument string) (string, string) {
	sym := e.Symbols[instrument]
	spot := sym.Spot
	if spot == "" {
		spot = expandTemplate(e.SpotSymbolTemplate, instrument)
	}
	perp := sym.Perp
	if perp == "" {
		perp = expandTemplate(e.PerpSymbolTemplate, instrument)
	}
	return spot, perp
}

func expandTemplate(tmpl, instrument string) string {
	if tmpl == "" {
		return instrument
	}
	return strings.ReplaceAll(tmpl, assetPlaceholder, instrument)
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/carry-engine.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	for i := range cfg.Venues {
		applyVenueDefaults(&cfg.Venues[i])
	}
	ApplyEngineDefaults(&cfg.Engine)
	if cfg.Orders.PollInterval == 0 {
		cfg.Orders.PollInterval = 500 * time.Millisecond
	}
	if cfg.Orders.PollAttempts == 0 {
		cfg.Orders.PollAttempts = 20
	}
	if cfg.Orders.SubmitTimeout == 0 {
		cfg.Orders.SubmitTimeout = 10 * time.Second
	}
}

const defaultRebalanceCostBps = 10.0

// RebalanceCostBpsValue is the configured cost estimate; an unset value uses
// the default and an explicit 0 disables the estimate.
func (e EngineConfig) RebalanceCostBpsValue() float64 {
	if e.RebalanceCostBps == nil {
		return defaultRebalanceCostBps
	}
	return *e.RebalanceCostBps
}

// ApplyEngineDefaults fills the optional engine settings. The thresholds are
// left alone: a missing threshold is a configuration error.
func ApplyEngineDefaults(e *EngineConfig) {
	if e.SpotVenue == "" {
		e.SpotVenue = "BINANCE"
	}
	if e.PerpVenue == "" {
		e.PerpVenue = "DYDX"
	}
	if e.MaxPriceAge == 0 {
		e.MaxPriceAge = time.Minute
	}
	if e.EvaluationInterval == 0 {
		e.EvaluationInterval = 5 * time.Second
	}
	if e.RebalanceCostBps == nil {
		bps := defaultRebalanceCostBps
		e.RebalanceCostBps = &bps
	}
}

func applyVenueDefaults(v *VenueConfig) {
	v.Kind = strings.ToLower(strings.TrimSpace(v.Kind))
	if v.Kind == "" {
		v.Kind = VenueKindPaper
	}
	if v.Kind == VenueKindHyperliquid {
		if v.RESTURL == "" {
			v.RESTURL = "https://api.hyperliquid.xyz"
		}
		if v.WSURL == "" {
			v.WSURL = deriveWSURL(v.RESTURL)
		}
		if v.FundingPeriodsPerDay == 0 {
			v.FundingPeriodsPerDay = 24
		}
	}
	if v.Timeout == 0 {
		v.Timeout = 10 * time.Second
	}
	if v.ReconnectDelay == 0 {
		v.ReconnectDelay = 3 * time.Second
	}
	if v.PingInterval == 0 {
		v.PingInterval = 50 * time.Second
	}
	if v.FundingPollInterval == 0 {
		v.FundingPollInterval = time.Minute
	}
	if v.RequestsPerSecond == 0 {
		v.RequestsPerSecond = 10
	}
	if v.BreakerFailures == 0 {
		v.BreakerFailures = 5
	}
	if v.BreakerTimeout == 0 {
		v.BreakerTimeout = 30 * time.Second
	}
}

func deriveWSURL(restURL string) string {
	switch {
	case strings.HasPrefix(restURL, "https://"):
		return "wss://" + strings.TrimPrefix(restURL, "https://") + "/ws"
	case strings.HasPrefix(restURL, "http://"):
		return "ws://" + strings.TrimPrefix(restURL, "http://") + "/ws"
	default:
		return restURL
	}
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("HL_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("HL_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("TIMESCALE_DSN")); dsn != "" {
		cfg.Timescale.DSN = dsn
	}
	key := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	wallet := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	for i := range cfg.Venues {
		v := &cfg.Venues[i]
		if v.Kind != VenueKindHyperliquid {
			continue
		}
		if v.PrivateKey == "" {
			v.PrivateKey = key
		}
		if v.AccountAddress == "" {
			v.AccountAddress = wallet
		}
	}
}

func validate(cfg *Config) error {
	if err := cfg.Engine.Validate(); err != nil {
		return err
	}
	if cfg.Orders.PollInterval <= 0 {
		return configErr("orders.poll_interval must be > 0")
	}
	if cfg.Orders.PollAttempts <= 0 {
		return configErr("orders.poll_attempts must be > 0")
	}
	if cfg.Orders.SubmitTimeout <= 0 {
		return configErr("orders.submit_timeout must be > 0")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return configErr("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return configErr("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return configErr("timescale.dsn is required when timescale is enabled")
	}
	names := make(map[string]struct{}, len(cfg.Venues))
	for _, v := range cfg.Venues {
		if v.Name == "" {
			return configErr("venues[].name is required")
		}
		if _, dup := names[v.Name]; dup {
			return configErr(fmt.Sprintf("duplicate venue %q", v.Name))
		}
		names[v.Name] = struct{}{}
		if v.Kind != VenueKindHyperliquid && v.Kind != VenueKindPaper {
			return configErr(fmt.Sprintf("venue %s: unknown kind %q", v.Name, v.Kind))
		}
		if v.Kind == VenueKindHyperliquid && strings.TrimSpace(v.PrivateKey) == "" {
			return configErr(fmt.Sprintf("venue %s: private_key (or HL_PRIVATE_KEY) is required", v.Name))
		}
		if v.SlippageBps < 0 || v.FeeBps < 0 || v.RequestsPerSecond < 0 {
			return configErr(fmt.Sprintf("venue %s: slippage, fee and rate settings must be >= 0", v.Name))
		}
	}
	for _, v := range cfg.Venues {
		if v.PriceFeed == "" {
			continue
		}
		if _, ok := names[v.PriceFeed]; !ok {
			return configErr(fmt.Sprintf("venue %s: price_feed %q is not a configured venue", v.Name, v.PriceFeed))
		}
	}
	if len(cfg.Venues) > 0 {
		for _, name := range []string{cfg.Engine.SpotVenue, cfg.Engine.PerpVenue} {
			if _, ok := names[name]; !ok {
				return configErr(fmt.Sprintf("engine venue %q is not configured under venues", name))
			}
		}
	}
	return nil
}

// Validate checks the engine option set. Every failure wraps ErrConfiguration.
func (e EngineConfig) Validate() error {
	if len(e.TargetInstruments) == 0 {
		return configErr("engine.target_instruments is required")
	}
	seen := make(map[string]struct{}, len(e.TargetInstruments))
	for _, inst := range e.TargetInstruments {
		if strings.TrimSpace(inst) == "" {
			return configErr("engine.target_instruments contains an empty entry")
		}
		if _, dup := seen[inst]; dup {
			return configErr(fmt.Sprintf("engine.target_instruments lists %s twice", inst))
		}
		seen[inst] = struct{}{}
	}
	positive := []struct {
		name  string
		value float64
	}{
		{"max_position_size_usd", e.MaxPositionSizeUSD},
		{"max_total_exposure_usd", e.MaxTotalExposureUSD},
		{"rebalance_threshold_pct", e.RebalanceThresholdPct},
		{"min_funding_rate_apy", e.MinFundingRateAPY},
		{"max_leverage", e.MaxLeverage},
		{"rebalance_cooldown_minutes", e.RebalanceCooldownMinutes},
		{"emergency_exit_loss_pct", e.EmergencyExitLossPct},
	}
	for _, p := range positive {
		if !(p.value > 0) {
			return configErr(fmt.Sprintf("engine.%s must be > 0", p.name))
		}
	}
	if e.RebalanceThresholdPct >= 100 {
		return configErr("engine.rebalance_threshold_pct must be < 100")
	}
	if e.SpotVenue == "" || e.PerpVenue == "" {
		return configErr("engine.spot_venue and engine.perp_venue are required")
	}
	if e.MaxPriceAge < 0 || e.EvaluationInterval < 0 {
		return configErr("engine.max_price_age and engine.evaluation_interval must be >= 0")
	}
	if e.RebalanceCostBpsValue() < 0 {
		return configErr("engine.rebalance_cost_bps must be >= 0")
	}
	for venue, n := range e.FundingPeriodsPerDay {
		if n <= 0 {
			return configErr(fmt.Sprintf("engine.funding_periods_per_day[%s] must be > 0", venue))
		}
	}
	return nil
}

func configErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, msg)
}
