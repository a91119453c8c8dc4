package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RAPTORC_"

type PartitionConfig struct {
	Mode             string  `yaml:"mode" validate:"oneof=default fixed-4"`
	DensityThreshold float64 `yaml:"density_threshold" validate:"gte=0,lte=1"`
}

type TransferConfig struct {
	Enabled     bool    `yaml:"enabled"`
	WalkSpeed   float64 `yaml:"walk_speed" validate:"gt=0"`
	MaxDistance float64 `yaml:"max_distance" validate:"gte=0"`
}

type ValidationConfig struct {
	ExtremeTransferSeconds int  `yaml:"extreme_transfer_seconds" validate:"gte=0"`
	PostCheck              bool `yaml:"post_check"`
}

type DebugConfig struct {
	JSON     bool `yaml:"json"`
	Protobuf bool `yaml:"protobuf"`
}

type Config struct {
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`

	Input          string `yaml:"input"`
	Output         string `yaml:"output" validate:"required"`
	SplitByPeriods bool   `yaml:"split_by_periods"`
	Workers        int    `yaml:"workers" validate:"min=1"`

	Partition  PartitionConfig  `yaml:"partition"`
	Transfers  TransferConfig   `yaml:"transfers"`
	Validation ValidationConfig `yaml:"validation"`
	Debug      DebugConfig      `yaml:"debug"`

	CacheDir   string `yaml:"cache_dir"`
	LedgerPath string `yaml:"ledger_path"`
}

func defaults() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Output:    "./raptor_data",
		Workers:   runtime.NumCPU(),
		Partition: PartitionConfig{
			Mode:             "default",
			DensityThreshold: 0.25,
		},
		Transfers: TransferConfig{
			WalkSpeed:   1.33,
			MaxDistance: 500,
		},
		Validation: ValidationConfig{
			ExtremeTransferSeconds: 3600,
			PostCheck:              true,
		},
	}
}

// Load builds the configuration from defaults, a .env file, RAPTORC_*
// environment variables and finally the YAML file at path, if any.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.Input = getEnv("INPUT", cfg.Input)
	cfg.Output = getEnv("OUTPUT", cfg.Output)
	cfg.SplitByPeriods = getBoolEnv("SPLIT_BY_PERIODS", cfg.SplitByPeriods)
	cfg.Workers = getIntEnv("WORKERS", cfg.Workers)

	cfg.Partition.Mode = getEnv("PARTITION_MODE", cfg.Partition.Mode)
	cfg.Partition.DensityThreshold = getFloatEnv("DENSITY_THRESHOLD", cfg.Partition.DensityThreshold)

	cfg.Transfers.Enabled = getBoolEnv("TRANSFERS_ENABLED", cfg.Transfers.Enabled)
	cfg.Transfers.WalkSpeed = getFloatEnv("WALK_SPEED", cfg.Transfers.WalkSpeed)
	cfg.Transfers.MaxDistance = getFloatEnv("MAX_DISTANCE", cfg.Transfers.MaxDistance)

	cfg.Validation.ExtremeTransferSeconds = getIntEnv("EXTREME_TRANSFER_SECONDS", cfg.Validation.ExtremeTransferSeconds)
	cfg.Validation.PostCheck = getBoolEnv("POST_CHECK", cfg.Validation.PostCheck)

	cfg.Debug.JSON = getBoolEnv("DEBUG_JSON", cfg.Debug.JSON)
	cfg.Debug.Protobuf = getBoolEnv("DEBUG_PROTOBUF", cfg.Debug.Protobuf)

	cfg.CacheDir = getEnv("CACHE_DIR", cfg.CacheDir)
	cfg.LedgerPath = getEnv("LEDGER_PATH", cfg.LedgerPath)

	if path == "" {
		path = getEnv("CONFIG", "")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// RegisterFlags exposes every setting on fs, using the loaded values as
// defaults so flags take precedence over all other sources.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: json or text")
	fs.StringVar(&c.Input, "input", c.Input, "GTFS directory or zip archive")
	fs.StringVar(&c.Output, "output", c.Output, "output directory")
	fs.BoolVar(&c.SplitByPeriods, "split-by-periods", c.SplitByPeriods, "write one output directory per service period")
	fs.IntVar(&c.Workers, "workers", c.Workers, "number of cohorts built concurrently")
	fs.StringVar(&c.Partition.Mode, "partition-mode", c.Partition.Mode, "service period mode: default or fixed-4")
	fs.Float64Var(&c.Partition.DensityThreshold, "density-threshold", c.Partition.DensityThreshold, "exception density above which a weekday service is irregular")
	fs.BoolVar(&c.Transfers.Enabled, "transfers", c.Transfers.Enabled, "generate walking transfers")
	fs.Float64Var(&c.Transfers.WalkSpeed, "walk-speed", c.Transfers.WalkSpeed, "walking speed in m/s")
	fs.Float64Var(&c.Transfers.MaxDistance, "max-distance", c.Transfers.MaxDistance, "transfer cutoff in meters")
	fs.IntVar(&c.Validation.ExtremeTransferSeconds, "extreme-transfer", c.Validation.ExtremeTransferSeconds, "walk time in seconds reported as extreme")
	fs.BoolVar(&c.Validation.PostCheck, "post-check", c.Validation.PostCheck, "validate written files after each cohort")
	fs.BoolVar(&c.Debug.JSON, "debug-json", c.Debug.JSON, "also write JSON exports")
	fs.BoolVar(&c.Debug.Protobuf, "debug-protobuf", c.Debug.Protobuf, "also write a protobuf network dump")
	fs.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "parse cache directory, empty disables")
	fs.StringVar(&c.LedgerPath, "ledger", c.LedgerPath, "SQLite build ledger path, empty disables")
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel, slog.LevelInfo)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func parseLogLevel(v string, defaultVal slog.Level) slog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}
