package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	cons "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/constants"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/executor"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/strategy"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const envPrefix = "KLIQ"

type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Deposit    DepositConfig    `mapstructure:"deposit"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Runner     RunnerConfig     `mapstructure:"runner"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
	File   string `mapstructure:"file"`
}

type EvaluationConfig struct {
	MaxSnapshotAge    time.Duration `mapstructure:"max_snapshot_age"`
	MaxTwapAge        time.Duration `mapstructure:"max_twap_age"`
	RequireOutOfRange bool          `mapstructure:"require_out_of_range"`
}

type DepositConfig struct {
	SlippageBps int `mapstructure:"slippage_bps"`
	// MinSwapValue is in token B UI units, kept as a string to avoid float rounding.
	MinSwapValue string `mapstructure:"min_swap_value"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type RunnerConfig struct {
	Concurrency        int     `mapstructure:"concurrency"`
	SnapshotsPerSecond float64 `mapstructure:"snapshots_per_second"`
	TwapWindow         int     `mapstructure:"twap_window"`
	DryRun             bool    `mapstructure:"dry_run"`
}

// Load reads configPath (or ./config.yaml when empty), then .env, then
// KLIQ_* environment variables, e.g. KLIQ_DEPOSIT_SLIPPAGE_BPS.
func Load(configPath string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
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

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// loadDotenv loads .env files (./.env by default) into the environment. A
// missing file is fine, a malformed one is not.
func loadDotenv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("evaluation.max_snapshot_age", "30s")
	v.SetDefault("evaluation.max_twap_age", "5m")
	v.SetDefault("evaluation.require_out_of_range", false)

	v.SetDefault("deposit.slippage_bps", 50)
	v.SetDefault("deposit.min_swap_value", "0")

	v.SetDefault("journal.path", "./data/journal.db")

	v.SetDefault("runner.concurrency", 4)
	v.SetDefault("runner.snapshots_per_second", 10)
	v.SetDefault("runner.twap_window", 0)
	v.SetDefault("runner.dry_run", true)
}

func (c *Config) Validate() error {
	if c.Deposit.SlippageBps < 0 || c.Deposit.SlippageBps >= cons.BasisPointMax {
		return fmt.Errorf("deposit.slippage_bps %d outside [0, %d): %w", c.Deposit.SlippageBps, cons.BasisPointMax, errs.ErrInvalidConfig)
	}
	if _, err := c.minSwapValue(); err != nil {
		return err
	}
	if c.Evaluation.MaxSnapshotAge < 0 || c.Evaluation.MaxTwapAge < 0 {
		return fmt.Errorf("negative evaluation max age: %w", errs.ErrInvalidConfig)
	}
	if c.Runner.Concurrency < 1 {
		return fmt.Errorf("runner.concurrency must be positive, got %d: %w", c.Runner.Concurrency, errs.ErrInvalidConfig)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q: %w", c.Logging.Format, errs.ErrInvalidConfig)
	}
	return nil
}

func (c *Config) minSwapValue() (decimal.Decimal, error) {
	if c.Deposit.MinSwapValue == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(c.Deposit.MinSwapValue)
	if err != nil || v.IsNegative() {
		return decimal.Zero, fmt.Errorf("deposit.min_swap_value %q: %w", c.Deposit.MinSwapValue, errs.ErrInvalidConfig)
	}
	return v, nil
}

func (c *Config) StrategyOptions() strategy.Options {
	return strategy.Options{
		MaxSnapshotAge:    c.Evaluation.MaxSnapshotAge,
		MaxTwapAge:        c.Evaluation.MaxTwapAge,
		RequireOutOfRange: c.Evaluation.RequireOutOfRange,
	}
}

func (c *Config) PlannerConfig() executor.PlannerConfig {
	minSwapValue, _ := c.minSwapValue()
	return executor.PlannerConfig{SlippageBps: c.Deposit.SlippageBps, MinSwapValue: minSwapValue}
}

func (c *Config) RunnerConfig() executor.RunnerConfig {
	return executor.RunnerConfig{
		Concurrency:        c.Runner.Concurrency,
		SnapshotsPerSecond: c.Runner.SnapshotsPerSecond,
		TwapWindow:         c.Runner.TwapWindow,
		DryRun:             c.Runner.DryRun,
		Options:            c.StrategyOptions(),
	}
}

// NewLogger builds a logger from the logging section. An unknown level
// falls back to info with a warning.
func (c LoggingConfig) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	if strings.EqualFold(c.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.File != "" {
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", c.File, err)
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
	} else {
		logger.SetOutput(os.Stderr)
	}
	return logger, nil
}
