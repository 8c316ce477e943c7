// Package config loads scalper settings from the environment, an optional
// .env file and an optional config file, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/willkaufman/scalp-trader-sui/internal/signal"
)

// Config holds all application configuration.
type Config struct {
	// Alert channels
	TelegramBotToken  string
	TelegramChatID    string
	DiscordWebhookURL string

	// Data sources
	CoinglassAPIKey  string
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceWSURL     string

	LogLevel string

	// Assets
	Altcoins   []string
	BaseAsset  string
	QuoteAsset string

	// Strategy
	BTCMinDrop1h              float64
	UnderperformanceThreshold float64
	UnderperformanceStrong    float64
	RatioRSIOversold          float64
	FundingRateMin            float64
	FundingSqueezeLow         float64
	FundingSqueezeHigh        float64
	FundingCrowded            float64
	RSIPeriod                 int
	SMAPeriod                 int

	AlertCooldown time.Duration

	// Buffers
	Candles1mBuffer  int
	Candles15mBuffer int

	// Polling
	FundingPollInterval     time.Duration
	LiquidationPollInterval time.Duration

	// Infrastructure
	HealthCheckPort   int
	EnableHealthCheck bool
	SQLitePath        string
	RedisAddr         string
	RedisPassword     string
	DailySummaryCron  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("telegram_chat_id", "")
	v.SetDefault("discord_webhook_url", "")
	v.SetDefault("coinglass_api_key", "")
	v.SetDefault("binance_api_key", "")
	v.SetDefault("binance_api_secret", "")
	v.SetDefault("binance_ws_url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("log_level", "INFO")

	v.SetDefault("altcoins", "SUI")
	v.SetDefault("base_asset", "BTC")
	v.SetDefault("quote_asset", "USDT")

	d := signal.DefaultThresholds()
	v.SetDefault("btc_min_drop_1h", d.BTCMinDrop1h)
	v.SetDefault("underperformance_threshold", d.UnderperformanceThreshold)
	v.SetDefault("underperformance_strong", d.UnderperformanceStrong)
	v.SetDefault("ratio_rsi_oversold", d.RatioRSIOversold)
	v.SetDefault("funding_rate_min", d.FundingRateMin)
	v.SetDefault("funding_rate_squeeze_low", d.FundingSqueezeLow)
	v.SetDefault("funding_rate_squeeze_high", d.FundingSqueezeHigh)
	v.SetDefault("funding_rate_crowded", d.FundingCrowded)
	v.SetDefault("rsi_period", d.RSIPeriod)
	v.SetDefault("sma_period", d.SMAPeriod)

	v.SetDefault("alert_cooldown_seconds", 1800)
	v.SetDefault("candles_1m_buffer", 100)
	v.SetDefault("candles_15m_buffer", 50)
	v.SetDefault("funding_poll_interval", 60)
	v.SetDefault("liquidation_poll_interval", 300)

	v.SetDefault("port", 0)
	v.SetDefault("health_check_port", 8080)
	v.SetDefault("enable_health_check", true)
	v.SetDefault("sqlite_path", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("daily_summary_cron", "0 0 0 * * *")
}

// Load parses args (without the program name), loads the .env file if
// present, then reads the environment and the optional --config file.
func Load(args []string) (*Config, error) {
	fset := pflag.NewFlagSet("scalper", pflag.ContinueOnError)
	cfgFile := fset.String("config", "", "optional config file (yaml, toml, json)")
	envFile := fset.String("env-file", ".env", "dotenv file loaded before reading the environment")
	logLevel := fset.String("log-level", "", "override LOG_LEVEL")
	if err := fset.Parse(args); err != nil {
		return nil, fmt.Errorf("config: flags: %w", err)
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", *envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if *cfgFile != "" {
		v.SetConfigFile(*cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", *cfgFile, err)
		}
	}
	if *logLevel != "" {
		v.Set("log_level", *logLevel)
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	port := v.GetInt("port")
	if port == 0 {
		port = v.GetInt("health_check_port")
	}
	return &Config{
		TelegramBotToken:  v.GetString("telegram_bot_token"),
		TelegramChatID:    v.GetString("telegram_chat_id"),
		DiscordWebhookURL: v.GetString("discord_webhook_url"),

		CoinglassAPIKey:  v.GetString("coinglass_api_key"),
		BinanceAPIKey:    v.GetString("binance_api_key"),
		BinanceAPISecret: v.GetString("binance_api_secret"),
		BinanceWSURL:     v.GetString("binance_ws_url"),

		LogLevel: strings.ToUpper(v.GetString("log_level")),

		Altcoins:   ParseAssets(v.GetString("altcoins")),
		BaseAsset:  strings.ToUpper(strings.TrimSpace(v.GetString("base_asset"))),
		QuoteAsset: strings.ToUpper(strings.TrimSpace(v.GetString("quote_asset"))),

		BTCMinDrop1h:              v.GetFloat64("btc_min_drop_1h"),
		UnderperformanceThreshold: v.GetFloat64("underperformance_threshold"),
		UnderperformanceStrong:    v.GetFloat64("underperformance_strong"),
		RatioRSIOversold:          v.GetFloat64("ratio_rsi_oversold"),
		FundingRateMin:            v.GetFloat64("funding_rate_min"),
		FundingSqueezeLow:         v.GetFloat64("funding_rate_squeeze_low"),
		FundingSqueezeHigh:        v.GetFloat64("funding_rate_squeeze_high"),
		FundingCrowded:            v.GetFloat64("funding_rate_crowded"),
		RSIPeriod:                 v.GetInt("rsi_period"),
		SMAPeriod:                 v.GetInt("sma_period"),

		AlertCooldown: time.Duration(v.GetInt("alert_cooldown_seconds")) * time.Second,

		Candles1mBuffer:  v.GetInt("candles_1m_buffer"),
		Candles15mBuffer: v.GetInt("candles_15m_buffer"),

		FundingPollInterval:     time.Duration(v.GetInt("funding_poll_interval")) * time.Second,
		LiquidationPollInterval: time.Duration(v.GetInt("liquidation_poll_interval")) * time.Second,

		HealthCheckPort:   port,
		EnableHealthCheck: v.GetBool("enable_health_check"),
		SQLitePath:        v.GetString("sqlite_path"),
		RedisAddr:         v.GetString("redis_addr"),
		RedisPassword:     v.GetString("redis_password"),
		DailySummaryCron:  strings.TrimSpace(v.GetString("daily_summary_cron")),
	}
}

// ParseAssets splits a comma list, trims and upper-cases each entry, and
// drops empties and duplicates.
func ParseAssets(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.ToUpper(strings.TrimSpace(p))
	})
	return lo.Uniq(lo.Compact(parts))
}

// Validate checks the settings required to run.
func (c *Config) Validate() error {
	var errs []error
	if c.TelegramBotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.TelegramChatID == "" {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required"))
	}
	if len(c.Altcoins) == 0 {
		errs = append(errs, errors.New("ALTCOINS must name at least one asset"))
	}
	if c.BaseAsset == "" {
		errs = append(errs, errors.New("BASE_ASSET is required"))
	}
	if lo.Contains(c.Altcoins, c.BaseAsset) {
		errs = append(errs, fmt.Errorf("ALTCOINS must not include the base asset %s", c.BaseAsset))
	}
	if c.AlertCooldown < 0 {
		errs = append(errs, errors.New("ALERT_COOLDOWN_SECONDS must not be negative"))
	}
	if c.Candles1mBuffer < 60 {
		errs = append(errs, errors.New("CANDLES_1M_BUFFER must hold at least 60 bars"))
	}
	if c.Candles15mBuffer <= c.RSIPeriod {
		errs = append(errs, errors.New("CANDLES_15M_BUFFER must exceed RSI_PERIOD"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Thresholds maps the strategy settings onto the pipeline's parameters.
func (c *Config) Thresholds() signal.Thresholds {
	th := signal.DefaultThresholds()
	th.BTCMinDrop1h = c.BTCMinDrop1h
	th.UnderperformanceThreshold = c.UnderperformanceThreshold
	th.UnderperformanceStrong = c.UnderperformanceStrong
	th.RatioRSIOversold = c.RatioRSIOversold
	th.FundingRateMin = c.FundingRateMin
	th.FundingSqueezeLow = c.FundingSqueezeLow
	th.FundingSqueezeHigh = c.FundingSqueezeHigh
	th.FundingCrowded = c.FundingCrowded
	th.RSIPeriod = c.RSIPeriod
	th.SMAPeriod = c.SMAPeriod
	return th
}

// HealthAddr is the listen address for the status server.
func (c *Config) HealthAddr() string { return fmt.Sprintf(":%d", c.HealthCheckPort) }

func configured(s string) string {
	if s == "" {
		return "not configured"
	}
	return "configured"
}

// Redacted returns a printable summary with secrets reduced to
// configured/not configured.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"telegram":                configured(c.TelegramBotToken),
		"telegram_chat":           configured(c.TelegramChatID),
		"discord":                 configured(c.DiscordWebhookURL),
		"coinglass":               configured(c.CoinglassAPIKey),
		"binance_api":             configured(c.BinanceAPIKey),
		"redis":                   configured(c.RedisAddr),
		"sqlite_path":             c.SQLitePath,
		"altcoins":                c.Altcoins,
		"base_asset":              c.BaseAsset,
		"quote_asset":             c.QuoteAsset,
		"btc_min_drop_1h":         c.BTCMinDrop1h,
		"underperformance":        c.UnderperformanceThreshold,
		"underperformance_strong": c.UnderperformanceStrong,
		"ratio_rsi_oversold":      c.RatioRSIOversold,
		"funding_rate_min":        c.FundingRateMin,
		"alert_cooldown":          c.AlertCooldown.String(),
		"health_check":            c.EnableHealthCheck,
		"health_check_port":       c.HealthCheckPort,
		"daily_summary_cron":      c.DailySummaryCron,
		"log_level":               c.LogLevel,
	}
}
