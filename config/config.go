package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stablemint/crypto"

	"github.com/BurntSushi/toml"
)

// AssetConfig declares one accepted collateral asset and its price feed.
type AssetConfig struct {
	Symbol   string `toml:"Symbol"`
	FeedID   string `toml:"FeedID"`
	Decimals uint8  `toml:"Decimals"`
}

// OracleConfig controls feed freshness, fallback ordering and the HTTP feed
// adapter. FeedPriority lists feed identifiers in the order the aggregator
// falls back through them; feeds registered but not listed are appended.
type OracleConfig struct {
	MaxQuoteAgeSeconds int64             `toml:"MaxQuoteAgeSeconds"`
	FeedPriority       []string          `toml:"FeedPriority"`
	CoinGeckoEndpoint  string            `toml:"CoinGeckoEndpoint"`
	CoinGeckoIDs       map[string]string `toml:"CoinGeckoIDs"`
}

// AuthConfig secures the mutating HTTP endpoints.
type AuthConfig struct {
	Enabled    bool   `toml:"Enabled"`
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
}

// RateLimitConfig bounds per-client request rates on mutating endpoints.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// LogConfig controls the structured log output.
type LogConfig struct {
	Environment string `toml:"Environment"`
	FilePath    string `toml:"FilePath"`
	MaxSizeMB   int    `toml:"MaxSizeMB"`
	MaxBackups  int    `toml:"MaxBackups"`
	MaxAgeDays  int    `toml:"MaxAgeDays"`
}

// Config is the runtime configuration for stablemintd.
type Config struct {
	ListenAddress        string          `toml:"ListenAddress"`
	DataDir              string          `toml:"DataDir"`
	OperatorKeystorePath string          `toml:"OperatorKeystorePath"`
	SynthSymbol          string          `toml:"SynthSymbol"`
	Assets               []AssetConfig   `toml:"assets"`
	Oracle               OracleConfig    `toml:"oracle"`
	Auth                 AuthConfig      `toml:"auth"`
	RateLimit            RateLimitConfig `toml:"ratelimit"`
	Telemetry            TelemetryConfig `toml:"telemetry"`
	Log                  LogConfig       `toml:"log"`
}

// Load loads the configuration from the given path, creating a default file
// (and operator keystore) when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8651"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.SynthSymbol) == "" {
		c.SynthSymbol = "SUSD"
	}
	if c.Oracle.MaxQuoteAgeSeconds <= 0 {
		c.Oracle.MaxQuoteAgeSeconds = 120
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 64
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
}

// Validate rejects configurations the engine cannot be constructed from.
func (c *Config) Validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("config: at least one [[assets]] entry required")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i, asset := range c.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: assets[%d]: Symbol required", i)
		}
		if strings.TrimSpace(asset.FeedID) == "" {
			return fmt.Errorf("config: assets[%d]: FeedID required", i)
		}
		if asset.Decimals > 18 {
			return fmt.Errorf("config: assets[%d]: Decimals must be at most 18", i)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate collateral asset %s", symbol)
		}
		seen[symbol] = struct{}{}
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: auth enabled but HMACSecret empty")
	}
	return nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:        ":8651",
		DataDir:              "./data",
		OperatorKeystorePath: defaultKeystorePath(path),
		SynthSymbol:          "SUSD",
		Assets: []AssetConfig{
			{Symbol: "WETH", FeedID: "manual", Decimals: 18},
			{Symbol: "WBTC", FeedID: "manual", Decimals: 18},
		},
		Oracle:    OracleConfig{MaxQuoteAgeSeconds: 120},
		RateLimit: RateLimitConfig{RequestsPerMinute: 120, Burst: 10},
		Log:       LogConfig{MaxSizeMB: 64, MaxBackups: 5},
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveToKeystore(cfg.OperatorKeystorePath, key, ""); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "operator.keystore")
}
