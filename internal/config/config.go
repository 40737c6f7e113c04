// Package config loads engine configuration from YAML + environment
// variables via viper, the way the teacher's HFT config layer does.
// Grounded on internal/config/config.go's LoadConfig (viper.New,
// SetEnvPrefix, ReadInConfig, Unmarshal) and InitLogger (zap level
// selection), narrowed from the teacher's REST/DB/auth-server surface to
// the engine's own sections: instruments to trade, risk limits, venue
// simulator parameters, and telemetry.
package config

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root engine configuration (spec §5, §9).
type Config struct {
	Engine struct {
		Symbols          []string `mapstructure:"symbols"`
		MaxOrders        int      `mapstructure:"max_orders"`
		AuditRingSize    int      `mapstructure:"audit_ring_size"`
		OrderPoolSize    int      `mapstructure:"order_pool_size"`
		CalibrationTicks int      `mapstructure:"calibration_ticks"`
	} `mapstructure:"engine"`

	Risk struct {
		MaxPositionPerInstrument float64 `mapstructure:"max_position_per_instrument"`
		MaxDailyOrders           uint32  `mapstructure:"max_daily_orders"`
		MaxOrderQty              float64 `mapstructure:"max_order_qty"`
		PortfolioDV01Limit       float64 `mapstructure:"portfolio_dv01_limit"`
		ConcentrationLimit       float64 `mapstructure:"concentration_limit"`
		VaRLimit                 float64 `mapstructure:"var_limit"`
		StressLossLimit          float64 `mapstructure:"stress_loss_limit"`
		CorrelationCacheTTL      string  `mapstructure:"correlation_cache_ttl"`
	} `mapstructure:"risk"`

	Strategy struct {
		BaseHalfSpreadTicks int     `mapstructure:"base_half_spread_ticks"`
		VolCoefficient      float64 `mapstructure:"vol_coefficient"`
		InventoryCoefficient float64 `mapstructure:"inventory_coefficient"`
		MaxSkewTicks        int     `mapstructure:"max_skew_ticks"`
		PanicVolThreshold   float64 `mapstructure:"panic_vol_threshold"`
		VolWindow           int     `mapstructure:"vol_window"`
	} `mapstructure:"strategy"`

	Venue struct {
		FillProbability float64 `mapstructure:"fill_probability"`
		LatencyNs       int64   `mapstructure:"latency_ns"`
		Seed            int64   `mapstructure:"seed"`
	} `mapstructure:"venue"`

	Telemetry struct {
		PrometheusAddr string `mapstructure:"prometheus_addr"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"telemetry"`

	GC struct {
		Percent           int    `mapstructure:"percent"`
		MemoryLimitBytes  int64  `mapstructure:"memory_limit_bytes"`
		EnableMemoryLimit bool   `mapstructure:"enable_memory_limit"`
		EnableMonitoring  bool   `mapstructure:"enable_monitoring"`
		StatsIntervalSec  int    `mapstructure:"stats_interval_seconds"`
	} `mapstructure:"gc"`
}

var (
	cfg  *Config
	once sync.Once
)

// Load reads configuration from configPath (a directory), environment
// variables (prefixed TREASURYMM_), and defaults, in that precedence order.
func Load(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		cfg = &Config{}
		setDefaults(cfg)

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/treasurymm")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("TREASURYMM")

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("config: failed to read config file: %w", readErr)
				return
			}
		}

		if unmarshalErr := v.Unmarshal(cfg); unmarshalErr != nil {
			err = fmt.Errorf("config: failed to unmarshal config: %w", unmarshalErr)
			return
		}
	})

	return cfg, err
}

// Get returns the already-loaded configuration, loading defaults-only if
// Load was never called.
func Get() *Config {
	if cfg == nil {
		if _, err := Load(""); err != nil {
			panic(fmt.Sprintf("config: failed to load: %v", err))
		}
	}
	return cfg
}

func setDefaults(c *Config) {
	c.Engine.Symbols = []string{"2Y", "5Y", "10Y", "30Y"}
	c.Engine.MaxOrders = 64 * 1024
	c.Engine.AuditRingSize = 1 << 20
	c.Engine.OrderPoolSize = 64 * 1024
	c.Engine.CalibrationTicks = 4096

	c.Risk.MaxPositionPerInstrument = 50_000_000
	c.Risk.MaxDailyOrders = 100_000
	c.Risk.MaxOrderQty = 10_000_000
	c.Risk.PortfolioDV01Limit = 250_000
	c.Risk.ConcentrationLimit = 0.4
	c.Risk.VaRLimit = 5_000_000
	c.Risk.StressLossLimit = 10_000_000
	c.Risk.CorrelationCacheTTL = "5m"

	c.Strategy.BaseHalfSpreadTicks = 2
	c.Strategy.VolCoefficient = 4.0
	c.Strategy.InventoryCoefficient = 1.5
	c.Strategy.MaxSkewTicks = 8
	c.Strategy.PanicVolThreshold = 0.08
	c.Strategy.VolWindow = 64

	c.Venue.FillProbability = 0.85
	c.Venue.LatencyNs = 250_000
	c.Venue.Seed = 1

	c.Telemetry.PrometheusAddr = ":9090"
	c.Telemetry.LogLevel = "info"

	c.GC.Percent = 300
	c.GC.MemoryLimitBytes = 4 * 1024 * 1024 * 1024
	c.GC.EnableMemoryLimit = true
	c.GC.EnableMonitoring = true
	c.GC.StatsIntervalSec = 10
}

// GCConfig builds an HFTGCConfig from the engine's GC section, for passing
// to OptimizeGCForHFT at startup.
func (c *Config) GCConfig() *HFTGCConfig {
	return &HFTGCConfig{
		GCPercent:          c.GC.Percent,
		MemoryLimit:        c.GC.MemoryLimitBytes,
		MaxProcs:           runtime.NumCPU(),
		EnableMemoryLimit:  c.GC.EnableMemoryLimit,
		SoftMemoryLimit:    c.GC.MemoryLimitBytes * 3 / 4,
		EnableGCMonitoring: c.GC.EnableMonitoring,
		GCStatsInterval:    time.Duration(c.GC.StatsIntervalSec) * time.Second,
	}
}

// InitLogger builds a zap.Logger whose level follows Telemetry.LogLevel.
func InitLogger(c *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch c.Telemetry.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to initialize logger: %w", err)
	}
	return logger, nil
}
