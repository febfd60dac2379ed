// Package config loads engine configuration from defaults, an optional YAML
// file, a .env file and ENGINE_* environment variables, in rising priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Instrument string           `mapstructure:"instrument" validate:"required"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Intervals  IntervalsConfig  `mapstructure:"intervals"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Server     ServerConfig     `mapstructure:"server"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Companions CompanionsConfig `mapstructure:"companions"`
	Calendar   CalendarConfig   `mapstructure:"calendar"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type FeedConfig struct {
	LiveURL   string        `mapstructure:"live_url" validate:"required,url"`
	CandleURL string        `mapstructure:"candle_url" validate:"required,url"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type BrokerConfig struct {
	Mode              string        `mapstructure:"mode" validate:"oneof=oanda paper"`
	Environment       string        `mapstructure:"environment" validate:"oneof=practice live"`
	AccountID         string        `mapstructure:"account_id" validate:"required_if=Mode oanda"`
	Token             string        `mapstructure:"token" validate:"required_if=Mode oanda"`
	BaseURL           string        `mapstructure:"base_url" validate:"omitempty,url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PaperBalance      float64       `mapstructure:"paper_balance" validate:"gte=0"`
}

type StrategyConfig struct {
	TVWAPWindow         time.Duration `mapstructure:"tvwap_window" validate:"gt=0"`
	BreakoutPeriod      int           `mapstructure:"breakout_period" validate:"gt=0"`
	LagPeriod           int           `mapstructure:"lag_period" validate:"gt=0"`
	VolatilityThreshold float64       `mapstructure:"volatility_threshold" validate:"gte=0"`
	VolatilityPeriod    int           `mapstructure:"volatility_period" validate:"gt=1"`
	TakeProfitOffset    float64       `mapstructure:"take_profit_offset" validate:"gt=0"`
	StopLossDistance    float64       `mapstructure:"stop_loss_distance" validate:"gt=0"`
	Units               int64         `mapstructure:"units" validate:"gt=0"`
	CooldownSamples     int           `mapstructure:"cooldown_samples" validate:"gte=0"`
	RSIPeriod           int           `mapstructure:"rsi_period" validate:"gt=0"`
	ATRPeriod           int           `mapstructure:"atr_period" validate:"gt=0"`
	MAShort             int           `mapstructure:"ma_short" validate:"gt=0"`
	MALong              int           `mapstructure:"ma_long" validate:"gtfield=MAShort"`
}

type IntervalsConfig struct {
	LivePrice time.Duration `mapstructure:"live_price" validate:"gt=0"`
	Candles   time.Duration `mapstructure:"candles" validate:"gt=0"`
	Monitor   time.Duration `mapstructure:"monitor" validate:"gt=0"`
	Account   time.Duration `mapstructure:"account" validate:"gt=0"`
	History   time.Duration `mapstructure:"history" validate:"gt=0"`
	Pivots    time.Duration `mapstructure:"pivots" validate:"gt=0"`
}

type StorageConfig struct {
	TickPath    string `mapstructure:"tick_path" validate:"required"`
	JournalPath string `mapstructure:"journal_path" validate:"required"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type ServerConfig struct {
	APIAddr     string `mapstructure:"api_addr" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

type NotifyConfig struct {
	WebhookURL     string `mapstructure:"webhook_url" validate:"omitempty,url"`
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id" validate:"required_with=TelegramToken"`
}

type CompanionsConfig struct {
	TradingCmd string `mapstructure:"trading_cmd"`
	HistoryCmd string `mapstructure:"history_cmd"`
}

type CalendarConfig struct {
	MIC string `mapstructure:"mic" validate:"required"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
}

// Load reads configuration. configPath may be empty, in which case
// ./config.yaml and ./config/config.yaml are tried and their absence is not
// an error.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instrument", "XAU_USD")

	v.SetDefault("feed.live_url", "http://localhost:8001/resampled_data.csv")
	v.SetDefault("feed.candle_url", "http://localhost:8000/resampled_data.csv")
	v.SetDefault("feed.timeout", 5*time.Second)

	v.SetDefault("broker.mode", "paper")
	v.SetDefault("broker.environment", "practice")
	v.SetDefault("broker.account_id", "")
	v.SetDefault("broker.token", "")
	v.SetDefault("broker.base_url", "")
	v.SetDefault("broker.requests_per_second", 10.0)
	v.SetDefault("broker.timeout", 10*time.Second)
	v.SetDefault("broker.paper_balance", 100000.0)

	v.SetDefault("strategy.tvwap_window", 300*time.Second)
	v.SetDefault("strategy.breakout_period", 100)
	v.SetDefault("strategy.lag_period", 40)
	v.SetDefault("strategy.volatility_threshold", 0.1)
	v.SetDefault("strategy.volatility_period", 20)
	v.SetDefault("strategy.take_profit_offset", 6.0)
	v.SetDefault("strategy.stop_loss_distance", 3.0)
	v.SetDefault("strategy.units", 1)
	v.SetDefault("strategy.cooldown_samples", 0)
	v.SetDefault("strategy.rsi_period", 14)
	v.SetDefault("strategy.atr_period", 14)
	v.SetDefault("strategy.ma_short", 50)
	v.SetDefault("strategy.ma_long", 200)

	v.SetDefault("intervals.live_price", time.Second)
	v.SetDefault("intervals.candles", time.Second)
	v.SetDefault("intervals.monitor", time.Second)
	v.SetDefault("intervals.account", 10*time.Second)
	v.SetDefault("intervals.history", 20*time.Second)
	v.SetDefault("intervals.pivots", 5*time.Minute)

	v.SetDefault("storage.tick_path", "live_price_data.csv")
	v.SetDefault("storage.journal_path", "data/journal.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 30*time.Minute)

	v.SetDefault("server.api_addr", ":3001")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.debug", false)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", "")

	v.SetDefault("companions.trading_cmd", "")
	v.SetDefault("companions.history_cmd", "")

	v.SetDefault("calendar.mic", "xnys")

	v.SetDefault("logging.level", "info")
}
