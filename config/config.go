package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration loaded from TOML. Basis point fields
// follow the protocol's integer math: 10000 = 100%.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`

	// OracleMode selects the price feed: "mock" runs an in-process feed
	// answering requests on refresh; "external" only accepts pushes signed
	// by OracleAddress.
	OracleMode    string `toml:"OracleMode"`
	OracleAddress string `toml:"OracleAddress"`
	// OracleSeedFile optionally preloads the mock feed from a YAML fixture.
	OracleSeedFile string `toml:"OracleSeedFile"`

	CollateralFactorBps     uint64 `toml:"CollateralFactorBps"`
	LiquidationThresholdPct uint64 `toml:"LiquidationThresholdPct"`
	ListingDiscountBps      uint64 `toml:"ListingDiscountBps"`
	OriginationBps          uint64 `toml:"OriginationBps"`
	PeriodicInterestBps     uint64 `toml:"PeriodicInterestBps"`
	InterestPeriodSeconds   int64  `toml:"InterestPeriodSeconds"`
	AuctionDurationSeconds  int64  `toml:"AuctionDurationSeconds"`

	// LiquidationPolicy is "largest-first" or "cheapest-first".
	LiquidationPolicy string `toml:"LiquidationPolicy"`

	// RefreshSchedule is a cron expression driving the keeper loop.
	RefreshSchedule string `toml:"RefreshSchedule"`

	// PausedModules disables the named modules (lending, collateral,
	// auction, pricing, assets) for maintenance.
	PausedModules []string `toml:"PausedModules"`

	LogLevel string `toml:"LogLevel"`
	// LogFile rotates through lumberjack when set; empty logs to stderr.
	LogFile string `toml:"LogFile"`
}

const (
	OracleModeMock     = "mock"
	OracleModeExternal = "external"
)

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		ListenAddress:           ":8545",
		DataDir:                 "./nftlend-data",
		OracleMode:              OracleModeMock,
		CollateralFactorBps:     7500,
		LiquidationThresholdPct: 120,
		ListingDiscountBps:      9500,
		OriginationBps:          1000,
		PeriodicInterestBps:     200,
		InterestPeriodSeconds:   30 * 24 * 60 * 60,
		AuctionDurationSeconds:  20_000,
		LiquidationPolicy:       "largest-first",
		RefreshSchedule:         "@every 30s",
		PausedModules:           []string{},
		LogLevel:                "info",
	}
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = def.ListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = def.DataDir
	}
	if strings.TrimSpace(c.OracleMode) == "" {
		c.OracleMode = def.OracleMode
	}
	if strings.TrimSpace(c.LiquidationPolicy) == "" {
		c.LiquidationPolicy = def.LiquidationPolicy
	}
	if strings.TrimSpace(c.RefreshSchedule) == "" {
		c.RefreshSchedule = def.RefreshSchedule
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = def.LogLevel
	}
	if c.PausedModules == nil {
		c.PausedModules = []string{}
	}
}

// Validate rejects parameter combinations the protocol math cannot hold.
func (c *Config) Validate() error {
	switch c.OracleMode {
	case OracleModeMock:
	case OracleModeExternal:
		if strings.TrimSpace(c.OracleAddress) == "" {
			return fmt.Errorf("config: OracleAddress required in external oracle mode")
		}
	default:
		return fmt.Errorf("config: unknown OracleMode %q", c.OracleMode)
	}
	if c.CollateralFactorBps == 0 || c.CollateralFactorBps > 10_000 {
		return fmt.Errorf("config: CollateralFactorBps must be in (0, 10000]")
	}
	if c.LiquidationThresholdPct == 0 {
		return fmt.Errorf("config: LiquidationThresholdPct must be positive")
	}
	if c.ListingDiscountBps == 0 || c.ListingDiscountBps > 10_000 {
		return fmt.Errorf("config: ListingDiscountBps must be in (0, 10000]")
	}
	if c.OriginationBps > 10_000 {
		return fmt.Errorf("config: OriginationBps must not exceed 10000")
	}
	if c.PeriodicInterestBps > 10_000 {
		return fmt.Errorf("config: PeriodicInterestBps must not exceed 10000")
	}
	if c.InterestPeriodSeconds <= 0 {
		return fmt.Errorf("config: InterestPeriodSeconds must be positive")
	}
	if c.AuctionDurationSeconds <= 0 {
		return fmt.Errorf("config: AuctionDurationSeconds must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.LiquidationPolicy)) {
	case "largest-first", "largest", "cheapest-first", "cheapest":
	default:
		return fmt.Errorf("config: unknown LiquidationPolicy %q", c.LiquidationPolicy)
	}
	return nil
}

func persist(path string, cfg *Config) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
