package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"tradepost/market"
)

// Config carries the daemon's deployment knobs. Policy fields that differ
// between deployments (fee cap, expired-buy handling, dispute fee) are
// explicit here rather than inferred.
type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	LogFile    string `toml:"LogFile"`
	Env        string `toml:"Env"`

	// Role assignments and the engine's custody identity, 0x-prefixed hex.
	Admin          string `toml:"Admin"`
	DisputeHandler string `toml:"DisputeHandler"`
	FeeAdmin       string `toml:"FeeAdmin"`
	Vault          string `toml:"Vault"`

	FeeBps    uint32 `toml:"FeeBps"`
	MaxFeeBps uint32 `toml:"MaxFeeBps"`

	// Business timers, in seconds.
	ListingDuration int64 `toml:"ListingDuration"`
	LockPeriod      int64 `toml:"LockPeriod"`

	AllowExpiredBuy   bool `toml:"AllowExpiredBuy"`
	CollectDisputeFee bool `toml:"CollectDisputeFee"`

	RateLimitPerMinute float64 `toml:"RateLimitPerMinute"`

	// OTLP telemetry; empty endpoint disables export.
	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPInsecure bool   `toml:"OTLPInsecure"`
}

// Load loads the configuration from the given path, creating a commented
// default file when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown keys: %v", undecoded)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8547"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./tradepost-data"
	}
	if c.MaxFeeBps == 0 {
		c.MaxFeeBps = 10_000
	}
	if c.ListingDuration <= 0 {
		c.ListingDuration = market.DefaultListingDuration
	}
	if c.LockPeriod <= 0 {
		c.LockPeriod = market.DefaultLockPeriod
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 120
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:         ":8547",
		DataDir:            "./tradepost-data",
		FeeBps:             250,
		MaxFeeBps:          10_000,
		ListingDuration:    market.DefaultListingDuration,
		LockPeriod:         market.DefaultLockPeriod,
		RateLimitPerMinute: 120,
		OTLPInsecure:       true,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
