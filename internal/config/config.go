// Package config loads process configuration from an optional .env file,
// an optional YAML file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atmx/position-engine/internal/ledger"
	"github.com/atmx/position-engine/internal/risk"
)

// Config is the fully parsed process configuration.
type Config struct {
	Port     string
	LogLevel slog.Level

	DatabaseURL string // PostgreSQL journal; empty disables it
	SQLitePath  string // SQLite journal; used when DatabaseURL is empty

	RedisURL      string // price source; empty disables the poller
	PriceHash     string
	PriceInterval time.Duration

	KafkaBrokers []string // alert stream; empty disables it
	AlertTopic   string

	Ledger ledger.Config
	Risk   risk.Config
}

var defaults = map[string]any{
	"PORT":                   "8080",
	"LOG_LEVEL":              "info",
	"DATABASE_URL":           "",
	"SQLITE_PATH":            "",
	"REDIS_URL":              "",
	"PRICE_HASH":             "prices:latest",
	"PRICE_INTERVAL":         "1s",
	"KAFKA_BROKERS":          "",
	"ALERT_TOPIC":            "position-engine.alerts",
	"COMMISSION_RATE":        "0.001",
	"MAX_LEVERAGE":           "10",
	"MAX_POSITION_SIZE":      "100000",
	"MARGIN_CALL_THRESHOLD":  "0.3",
	"STOP_OUT_LEVEL":         "0.2",
	"PROFIT_ALERT_THRESHOLD": "1000",
	"LOSS_ALERT_THRESHOLD":   "-500",
	"DRAWDOWN_ALERT_RATIO":   "0.2",
}

// Load reads configuration. A missing .env is fine; a named file that
// cannot be read is not. Every invalid value is reported together.
func Load(file string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	var errs []error
	dec := func(key string) decimal.Decimal {
		d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a number", key, v.GetString(key)))
		}
		return d
	}

	cfg := Config{
		Port:        v.GetString("PORT"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		SQLitePath:  v.GetString("SQLITE_PATH"),
		RedisURL:    v.GetString("REDIS_URL"),
		PriceHash:   v.GetString("PRICE_HASH"),
		AlertTopic:  v.GetString("ALERT_TOPIC"),
		Ledger: ledger.Config{
			CommissionRate: dec("COMMISSION_RATE"),
		},
		Risk: risk.Config{
			MaxLeverage:          dec("MAX_LEVERAGE"),
			MaxPositionSize:      dec("MAX_POSITION_SIZE"),
			MarginCallThreshold:  dec("MARGIN_CALL_THRESHOLD"),
			StopOutThreshold:     dec("STOP_OUT_LEVEL"),
			ProfitAlertThreshold: dec("PROFIT_ALERT_THRESHOLD"),
			LossAlertThreshold:   dec("LOSS_ALERT_THRESHOLD"),
			DrawdownAlertRatio:   dec("DRAWDOWN_ALERT_RATIO"),
		},
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	interval, err := time.ParseDuration(v.GetString("PRICE_INTERVAL"))
	if err != nil {
		errs = append(errs, fmt.Errorf("PRICE_INTERVAL: %w", err))
	}
	cfg.PriceInterval = interval

	for _, b := range strings.Split(v.GetString("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

// Validate reports every setting the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must be set"))
	}
	if c.PriceInterval <= 0 {
		errs = append(errs, fmt.Errorf("PRICE_INTERVAL %s must be positive", c.PriceInterval))
	}
	if c.Ledger.CommissionRate.IsNegative() || c.Ledger.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("COMMISSION_RATE %s must be in [0, 1)", c.Ledger.CommissionRate))
	}
	if err := c.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
