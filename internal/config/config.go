package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Provider holds transport and adapter settings for one upstream
type Provider struct {
	Enabled            *bool  `yaml:"enabled"`
	APIKey             string `yaml:"api_key"`
	APIKeyEnv          string `yaml:"api_key_env"`
	BaseURL            string `yaml:"base_url"`
	MinIntervalMs      int    `yaml:"min_interval_ms"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms"`
	JitterMinMs        int    `yaml:"jitter_min_ms"`
	JitterMaxMs        int    `yaml:"jitter_max_ms"`
	ForbiddenThreshold int    `yaml:"forbidden_threshold"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxBatchSize       int    `yaml:"max_batch_size"`
	DailyCap           int    `yaml:"daily_cap"` // 0 = unlimited
}

// IsEnabled defaults to true when unset
func (p Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type Providers struct {
	FMP   Provider `yaml:"fmp"`
	Yahoo Provider `yaml:"yahoo"`
}

type Cache struct {
	QuoteTTLSeconds             int    `yaml:"quote_ttl_seconds"`
	HistoryTTLSeconds           int    `yaml:"history_ttl_seconds"`
	FundamentalsTTLSeconds      int    `yaml:"fundamentals_ttl_seconds"`
	EarningsTTLSeconds          int    `yaml:"earnings_ttl_seconds"`
	SyntheticEarningsTTLSeconds int    `yaml:"synthetic_earnings_ttl_seconds"`
	DividendsTTLSeconds         int    `yaml:"dividends_ttl_seconds"`
	NamesPath                   string `yaml:"names_path"`
}

// Schedule is the cadence of one alert worker
type Schedule struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	StartupDelaySeconds int `yaml:"startup_delay_seconds"`
}

func (s Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s Schedule) StartupDelay() time.Duration {
	return time.Duration(s.StartupDelaySeconds) * time.Second
}

type Alerts struct {
	StockThresholdPct       float64 `yaml:"stock_threshold_pct"`
	BuyDipThresholdPct      float64 `yaml:"buy_dip_threshold_pct"`
	HighThresholdPct        float64 `yaml:"high_threshold_pct"`
	EarningsDaysAhead       int     `yaml:"earnings_days_ahead"`
	DividendDaysAhead       int     `yaml:"dividend_days_ahead"`
	MACrossoverLookbackDays int     `yaml:"ma_crossover_lookback_days"`
	GlobalCooldownSeconds   int     `yaml:"global_cooldown_seconds"`

	Stock       Schedule `yaml:"stock"`
	Earnings    Schedule `yaml:"earnings"`
	Dividend    Schedule `yaml:"dividend"`
	MACrossover Schedule `yaml:"ma_crossover"`
	High52      Schedule `yaml:"high_52_week"`
	BuyDip      Schedule `yaml:"buy_dip"`
}

type Telegram struct {
	BotToken       string `yaml:"bot_token"`
	ChatID         string `yaml:"chat_id"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	PollSeconds    int    `yaml:"poll_seconds"`
	AuditPath      string `yaml:"audit_path"` // command audit trail, JSON lines
}

type Dedup struct {
	Backend    string `yaml:"backend"` // json | sqlite
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Recording captures or replays upstream HTTP traffic for offline runs
type Recording struct {
	Mode string `yaml:"mode"` // off | record | replay
	Path string `yaml:"path"`
}

// Chaos injects upstream failures to exercise fallback paths
type Chaos struct {
	Enabled          bool    `yaml:"enabled"`
	ErrorRate        float64 `yaml:"error_rate"`
	RateLimitRate    float64 `yaml:"rate_limit_rate"`
	ForbiddenRate    float64 `yaml:"forbidden_rate"`
	NetworkErrorRate float64 `yaml:"network_error_rate"`
	Seed             int64   `yaml:"seed"`
}

type Dashboard struct {
	Port int `yaml:"port"`
}

type Root struct {
	DataDir       string    `yaml:"data_dir"`
	WatchlistPath string    `yaml:"watchlist_path"`
	DefaultStocks []string  `yaml:"default_stocks"`
	DataProvider  string    `yaml:"data_provider"` // hybrid | yahoo | synthetic
	Log           Log       `yaml:"log"`
	Providers     Providers `yaml:"providers"`
	Cache         Cache     `yaml:"cache"`
	Alerts        Alerts    `yaml:"alerts"`
	Telegram      Telegram  `yaml:"telegram"`
	Dedup         Dedup     `yaml:"dedup"`
	Dashboard     Dashboard `yaml:"dashboard"`
	Recording     Recording `yaml:"recording"`
	Chaos         Chaos     `yaml:"chaos"`
}

// Load reads the YAML file at path (a missing file is not an error), applies .env and
// environment overrides, then fills defaults.
func Load(path string) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return c, err
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load()
	applyEnv(&c)
	applyDefaults(&c)

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks settings that have no usable default
func (c Root) Validate() error {
	switch c.DataProvider {
	case "hybrid", "yahoo", "synthetic":
	default:
		return fmt.Errorf("unknown data_provider %q", c.DataProvider)
	}
	switch c.Recording.Mode {
	case "off", "record", "replay":
	default:
		return fmt.Errorf("unknown recording mode %q", c.Recording.Mode)
	}
	switch c.Dedup.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend)
	}
	if c.Alerts.BuyDipThresholdPct <= 0 || c.Alerts.StockThresholdPct <= 0 {
		return fmt.Errorf("alert thresholds must be positive")
	}
	return nil
}

// FMPKey resolves the primary provider API key
func (c Root) FMPKey() string {
	if c.Providers.FMP.APIKey != "" {
		return c.Providers.FMP.APIKey
	}
	return os.Getenv(c.Providers.FMP.APIKeyEnv)
}

func applyEnv(c *Root) {
	c.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Telegram.BotToken)
	c.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", c.Telegram.ChatID)
	c.DataProvider = strings.ToLower(getEnv("DATA_PROVIDER", c.DataProvider))
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = getEnvAsBool("LOG_PRETTY", c.Log.Pretty)
	c.Dashboard.Port = getEnvAsInt("DASHBOARD_PORT", c.Dashboard.Port)
	c.Dedup.Backend = strings.ToLower(getEnv("DEDUP_BACKEND", c.Dedup.Backend))
	c.Recording.Mode = strings.ToLower(getEnv("MARKET_VCR_MODE", c.Recording.Mode))
	c.Recording.Path = getEnv("MARKET_VCR_PATH", c.Recording.Path)
	c.Chaos.Enabled = getEnvAsBool("MARKET_CHAOS", c.Chaos.Enabled)

	c.Providers.FMP.DailyCap = getEnvAsInt("FMP_DAILY_CAP", c.Providers.FMP.DailyCap)
	if secs := getEnvAsFloat("FMP_DELAY_SECONDS", 0); secs > 0 {
		c.Providers.FMP.MinIntervalMs = int(secs * 1000)
	}

	if v := os.Getenv("DEFAULT_STOCKS"); v != "" {
		c.DefaultStocks = splitSymbols(v)
	}

	a := &c.Alerts
	a.StockThresholdPct = getEnvAsFloat("STOCK_THRESHOLD_PCT", a.StockThresholdPct)
	a.BuyDipThresholdPct = getEnvAsFloat("BUY_DIP_THRESHOLD_PCT", a.BuyDipThresholdPct)
	a.EarningsDaysAhead = getEnvAsInt("EARNINGS_DAYS_AHEAD", a.EarningsDaysAhead)
	a.DividendDaysAhead = getEnvAsInt("DIVIDEND_DAYS_AHEAD", a.DividendDaysAhead)
	a.MACrossoverLookbackDays = getEnvAsInt("MA_CROSSOVER_DAYS_LOOKBACK", a.MACrossoverLookbackDays)
	a.GlobalCooldownSeconds = getEnvAsInt("ALERT_GLOBAL_COOLDOWN", a.GlobalCooldownSeconds)

	a.Stock.IntervalSeconds = getEnvAsInt("ALERT_STOCK_INTERVAL", a.Stock.IntervalSeconds)
	a.Earnings.IntervalSeconds = getEnvAsInt("ALERT_EARNINGS_INTERVAL", a.Earnings.IntervalSeconds)
	a.Dividend.IntervalSeconds = getEnvAsInt("ALERT_DIVIDEND_INTERVAL", a.Dividend.IntervalSeconds)
	a.MACrossover.IntervalSeconds = getEnvAsInt("ALERT_MA_CROSSOVER_INTERVAL", a.MACrossover.IntervalSeconds)
	a.High52.IntervalSeconds = getEnvAsInt("ALERT_52_WEEK_HIGH_INTERVAL", a.High52.IntervalSeconds)
	a.BuyDip.IntervalSeconds = getEnvAsInt("ALERT_BUY_DIP_INTERVAL", a.BuyDip.IntervalSeconds)

	a.Stock.StartupDelaySeconds = getEnvAsInt("STARTUP_DELAY_STOCK", a.Stock.StartupDelaySeconds)
	a.Earnings.StartupDelaySeconds = getEnvAsInt("STARTUP_DELAY_EARNINGS", a.Earnings.StartupDelaySeconds)
	a.Dividend.StartupDelaySeconds = getEnvAsInt("STARTUP_DELAY_DIVIDEND", a.Dividend.StartupDelaySeconds)
	a.MACrossover.StartupDelaySeconds = getEnvAsInt("STARTUP_DELAY_MA_CROSSOVER", a.MACrossover.StartupDelaySeconds)
	a.High52.StartupDelaySeconds = getEnvAsInt("STARTUP_DELAY_52_WEEK_HIGH", a.High52.StartupDelaySeconds)
	a.BuyDip.StartupDelaySeconds = getEnvAsInt("STARTUP_DELAY_BUY_DIP", a.BuyDip.StartupDelaySeconds)
}

func applyDefaults(c *Root) {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.WatchlistPath == "" {
		c.WatchlistPath = filepath.Join(c.DataDir, "stock_list.txt")
	}
	if len(c.DefaultStocks) == 0 {
		c.DefaultStocks = []string{"AAPL", "MSFT", "GOOGL"}
	}
	if c.DataProvider == "" {
		c.DataProvider = "hybrid"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	fmp := &c.Providers.FMP
	if fmp.APIKeyEnv == "" {
		fmp.APIKeyEnv = "FMP_API_KEY"
	}
	if fmp.BaseURL == "" {
		fmp.BaseURL = "https://financialmodelingprep.com/api/v3"
	}
	if fmp.MinIntervalMs == 0 {
		fmp.MinIntervalMs = 500
	}
	if fmp.MaxRetries == 0 {
		fmp.MaxRetries = 3
	}
	if fmp.BackoffBaseMs == 0 {
		fmp.BackoffBaseMs = 500
	}
	if fmp.JitterMinMs == 0 && fmp.JitterMaxMs == 0 {
		fmp.JitterMinMs, fmp.JitterMaxMs = 100, 300
	}
	if fmp.ForbiddenThreshold == 0 {
		fmp.ForbiddenThreshold = 10
	}
	if fmp.TimeoutSeconds == 0 {
		fmp.TimeoutSeconds = 10
	}
	if fmp.MaxBatchSize == 0 {
		fmp.MaxBatchSize = 5
	}

	y := &c.Providers.Yahoo
	if y.BaseURL == "" {
		y.BaseURL = "https://query1.finance.yahoo.com"
	}
	if y.MinIntervalMs == 0 {
		y.MinIntervalMs = 3000
	}
	if y.MaxRetries == 0 {
		y.MaxRetries = 4
	}
	if y.BackoffBaseMs == 0 {
		y.BackoffBaseMs = 2000
	}
	if y.JitterMinMs == 0 && y.JitterMaxMs == 0 {
		y.JitterMinMs, y.JitterMaxMs = 500, 1500
	}
	if y.ForbiddenThreshold == 0 {
		y.ForbiddenThreshold = 5
	}
	if y.TimeoutSeconds == 0 {
		y.TimeoutSeconds = 15
	}
	if y.MaxBatchSize == 0 {
		y.MaxBatchSize = 20
	}

	cc := &c.Cache
	if cc.QuoteTTLSeconds == 0 {
		cc.QuoteTTLSeconds = 60
	}
	if cc.HistoryTTLSeconds == 0 {
		cc.HistoryTTLSeconds = 300
	}
	if cc.FundamentalsTTLSeconds == 0 {
		cc.FundamentalsTTLSeconds = 300
	}
	if cc.EarningsTTLSeconds == 0 {
		cc.EarningsTTLSeconds = 3600
	}
	if cc.SyntheticEarningsTTLSeconds == 0 {
		cc.SyntheticEarningsTTLSeconds = 1800
	}
	if cc.DividendsTTLSeconds == 0 {
		cc.DividendsTTLSeconds = 3600
	}
	if cc.NamesPath == "" {
		cc.NamesPath = filepath.Join(c.DataDir, "company_names.json")
	}

	a := &c.Alerts
	if a.StockThresholdPct == 0 {
		a.StockThresholdPct = 0.5
	}
	if a.BuyDipThresholdPct == 0 {
		a.BuyDipThresholdPct = 10
	}
	if a.HighThresholdPct == 0 {
		a.HighThresholdPct = 0.5
	}
	if a.EarningsDaysAhead == 0 {
		a.EarningsDaysAhead = 14
	}
	if a.DividendDaysAhead == 0 {
		a.DividendDaysAhead = 30
	}
	if a.MACrossoverLookbackDays == 0 {
		a.MACrossoverLookbackDays = 90
	}
	if a.GlobalCooldownSeconds == 0 {
		a.GlobalCooldownSeconds = 30
	}
	defaultSchedule(&a.Stock, 3600, 20)
	defaultSchedule(&a.Earnings, 86400, 40)
	defaultSchedule(&a.Dividend, 86400, 60)
	defaultSchedule(&a.MACrossover, 1800, 80)
	defaultSchedule(&a.High52, 900, 100)
	defaultSchedule(&a.BuyDip, 600, 120)

	if c.Telegram.BaseURL == "" {
		c.Telegram.BaseURL = "https://api.telegram.org"
	}
	if c.Telegram.TimeoutSeconds == 0 {
		c.Telegram.TimeoutSeconds = 10
	}
	if c.Telegram.PollSeconds == 0 {
		c.Telegram.PollSeconds = 30
	}
	if c.Telegram.AuditPath == "" {
		c.Telegram.AuditPath = filepath.Join(c.DataDir, "logs", "bot_audit.jsonl")
	}

	if c.Dedup.Backend == "" {
		c.Dedup.Backend = "json"
	}
	if c.Dedup.Dir == "" {
		c.Dedup.Dir = filepath.Join(c.DataDir, "logs")
	}
	if c.Dedup.SQLitePath == "" {
		c.Dedup.SQLitePath = filepath.Join(c.DataDir, "dedup.db")
	}

	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8501
	}

	if c.Recording.Mode == "" {
		c.Recording.Mode = "off"
	}
	if c.Recording.Path == "" {
		c.Recording.Path = filepath.Join(c.DataDir, "cassettes", "market.json")
	}
}

func defaultSchedule(s *Schedule, interval, delay int) {
	if s.IntervalSeconds == 0 {
		s.IntervalSeconds = interval
	}
	if s.StartupDelaySeconds == 0 {
		s.StartupDelaySeconds = delay
	}
}

func splitSymbols(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
