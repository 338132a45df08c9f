// Package config handles configuration loading and validation for typeproof.
//
// Configuration is read from TOML (preferred), JSON or YAML, selected by file
// extension. Every field has a default, so an absent file is not an error.
// Environment variables prefixed with TYPEPROOF_ override file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"typeproof/internal/classifier"
)

// Version is the current configuration format version.
const Version = 1

// Config holds all typeproof configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Classifier classifier.Thresholds `toml:"classifier" json:"classifier" yaml:"classifier"`
	Verify     VerifyConfig          `toml:"verify" json:"verify" yaml:"verify"`
	Storage    StorageConfig         `toml:"storage" json:"storage" yaml:"storage"`
	Ledger     LedgerConfig          `toml:"ledger" json:"ledger" yaml:"ledger"`
	Signing    SigningConfig         `toml:"signing" json:"signing" yaml:"signing"`
	Server     ServerConfig          `toml:"server" json:"server" yaml:"server"`
	Logging    LoggingConfig         `toml:"logging" json:"logging" yaml:"logging"`
	Metrics    MetricsConfig         `toml:"metrics" json:"metrics" yaml:"metrics"`

	mu sync.RWMutex
}

// VerifyConfig controls local verification.
type VerifyConfig struct {
	// MaxClockSkewSec bounds how far in the future a commitment timestamp may be.
	MaxClockSkewSec  int      `toml:"max_clock_skew_sec" json:"max_clock_skew_sec" yaml:"max_clock_skew_sec"`
	RequireSignature bool     `toml:"require_signature" json:"require_signature" yaml:"require_signature"`
	TrustedKeys      []string `toml:"trusted_keys" json:"trusted_keys" yaml:"trusted_keys"`
}

// MaxClockSkew returns the skew as a duration.
func (v VerifyConfig) MaxClockSkew() time.Duration {
	return time.Duration(v.MaxClockSkewSec) * time.Second
}

// StorageConfig configures the commitment store.
type StorageConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// Ledger backend names.
const (
	LedgerSimulated = "simulated"
	LedgerRedis     = "redis"
	LedgerEthereum  = "ethereum"
)

// LedgerConfig selects and configures the remote verification ledger.
type LedgerConfig struct {
	Backend  string               `toml:"backend" json:"backend" yaml:"backend"`
	Redis    RedisLedgerConfig    `toml:"redis" json:"redis" yaml:"redis"`
	Ethereum EthereumLedgerConfig `toml:"ethereum" json:"ethereum" yaml:"ethereum"`
}

// RedisLedgerConfig configures the Redis ledger.
type RedisLedgerConfig struct {
	Address   string `toml:"address" json:"address" yaml:"address"`
	Password  string `toml:"password" json:"-" yaml:"password"` // prefer TYPEPROOF_REDIS_PASSWORD
	DB        int    `toml:"db" json:"db" yaml:"db"`
	KeyPrefix string `toml:"key_prefix" json:"key_prefix" yaml:"key_prefix"`
	TTLHours  int    `toml:"ttl_hours" json:"ttl_hours" yaml:"ttl_hours"`
}

// TTL returns the receipt TTL as a duration. Zero means no expiry.
func (r RedisLedgerConfig) TTL() time.Duration {
	return time.Duration(r.TTLHours) * time.Hour
}

// EthereumLedgerConfig configures the Ethereum ledger.
type EthereumLedgerConfig struct {
	RPCURL          string `toml:"rpc_url" json:"rpc_url" yaml:"rpc_url"`
	ExpectedChainID int64  `toml:"expected_chain_id" json:"expected_chain_id" yaml:"expected_chain_id"`
	TimeoutSec      int    `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// SigningConfig configures the builder signing key.
type SigningConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	KeyPath string `toml:"key_path" json:"key_path" yaml:"key_path"`
	// Passphrase is only read from TYPEPROOF_SIGNING_PASSPHRASE.
	Passphrase string `toml:"-" json:"-" yaml:"-"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr      string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
	ReadTimeoutSec  int    `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `toml:"write_timeout_sec" json:"write_timeout_sec" yaml:"write_timeout_sec"`
	MaxBodyBytes    int64  `toml:"max_body_bytes" json:"max_body_bytes" yaml:"max_body_bytes"`

	// RateLimitPerSec is the sustained request rate allowed per client.
	// Zero disables rate limiting.
	RateLimitPerSec float64 `toml:"rate_limit_per_sec" json:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `toml:"rate_limit_burst" json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`    // "debug", "info", "warn", "error"
	Format     string `toml:"format" json:"format" yaml:"format"` // "text", "json"
	Output     string `toml:"output" json:"output" yaml:"output"` // "stdout", "stderr", "file"
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version:    Version,
		Classifier: classifier.DefaultThresholds(),
		Verify: VerifyConfig{
			MaxClockSkewSec: 300,
			TrustedKeys:     []string{},
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "typeproof.db"),
		},
		Ledger: LedgerConfig{
			Backend: LedgerSimulated,
			Redis: RedisLedgerConfig{
				Address:   "localhost:6379",
				KeyPrefix: "typeproof:ref:",
			},
			Ethereum: EthereumLedgerConfig{
				TimeoutSec: 30,
			},
		},
		Signing: SigningConfig{
			Enabled: false,
			KeyPath: filepath.Join(dir, "signing_key"),
		},
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8420",
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 30,
			MaxBodyBytes:    4 << 20,
			RateLimitPerSec: 20,
			RateLimitBurst:  40,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "typeproof.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories configured paths live in.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Storage.Enabled && c.Storage.Path != ":memory:" {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Signing.Enabled {
		dirs = append(dirs, filepath.Dir(c.Signing.KeyPath))
	}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with TYPEPROOF_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("TYPEPROOF_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}

	if v := os.Getenv("TYPEPROOF_LEDGER_BACKEND"); v != "" {
		c.Ledger.Backend = v
	}
	if v := os.Getenv("TYPEPROOF_REDIS_ADDR"); v != "" {
		c.Ledger.Redis.Address = v
	}
	// Credentials from env only, for security
	if v := os.Getenv("TYPEPROOF_REDIS_PASSWORD"); v != "" {
		c.Ledger.Redis.Password = v
	}
	if v := os.Getenv("TYPEPROOF_ETH_RPC_URL"); v != "" {
		c.Ledger.Ethereum.RPCURL = v
	}

	if v := os.Getenv("TYPEPROOF_SIGNING_KEY_PATH"); v != "" {
		c.Signing.KeyPath = v
		c.Signing.Enabled = true
	}
	if v := os.Getenv("TYPEPROOF_SIGNING_PASSPHRASE"); v != "" {
		c.Signing.Passphrase = v
	}

	if v := os.Getenv("TYPEPROOF_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}

	if v := os.Getenv("TYPEPROOF_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TYPEPROOF_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
		c.Logging.Output = "file"
	}

	if v := os.Getenv("TYPEPROOF_MIN_VARIANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Classifier.MinVariance = f
		}
	}
	if v := os.Getenv("TYPEPROOF_MAX_VARIANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Classifier.MaxVariance = f
		}
	}
	if v := os.Getenv("TYPEPROOF_TRUSTED_KEYS"); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		c.Verify.TrustedKeys = keys
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:    c.Version,
		Classifier: c.Classifier,
		Verify:     c.Verify,
		Storage:    c.Storage,
		Ledger:     c.Ledger,
		Signing:    c.Signing,
		Server:     c.Server,
		Logging:    c.Logging,
		Metrics:    c.Metrics,
	}
	clone.Verify.TrustedKeys = append([]string{}, c.Verify.TrustedKeys...)
	return clone
}

// SaveConfig writes cfg to path in the format implied by its extension.
func SaveConfig(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var sb strings.Builder
		sb.WriteString("# typeproof configuration\n\n")
		err = toml.NewEncoder(&sb).Encode(cfg)
		data = []byte(sb.String())
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
