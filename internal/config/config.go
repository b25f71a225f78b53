// Package config centralizes runtime configuration for tlm. It loads a JSON
// configuration file, fills unset fields with defaults, and then applies
// TLM_* environment variables on top. Operators place the file at
// /etc/tlm/config.json or point CONFIG_FILE at another path.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"timelock.mini/tlm/internal/types"
)

// Config holds configurable options for the tlm service.
type Config struct {
	KeyFile          string `json:"key_file" env:"TLM_KEY_FILE"`
	KeyScheme        string `json:"key_scheme" env:"TLM_KEY_SCHEME"`
	DBFile           string `json:"db_file" env:"TLM_DB_FILE"`
	Port             int    `json:"port" env:"TLM_PORT"`
	InitialPrice     string `json:"initial_price" env:"TLM_INITIAL_PRICE"`
	AnchorInterval   string `json:"anchor_interval" env:"TLM_ANCHOR_INTERVAL"`
	BackupInterval   string `json:"backup_interval" env:"TLM_BACKUP_INTERVAL"`
	MaxBackups       int    `json:"max_backups" env:"TLM_MAX_BACKUPS"`
	HederaNetwork    string `json:"hedera_network" env:"TLM_HEDERA_NETWORK"`
	HederaTopicID    string `json:"hedera_topic_id" env:"TLM_HEDERA_TOPIC_ID"`
	HederaAccountID  string `json:"hedera_account_id" env:"TLM_HEDERA_ACCOUNT_ID"`
	HederaPrivateKey string `json:"hedera_private_key" env:"TLM_HEDERA_PRIVATE_KEY"`
	OTelEndpoint     string `json:"otel_endpoint" env:"TLM_OTEL_ENDPOINT"`
	// TrustDeclaredValue accepts the value a stamp declares without
	// debiting deposited funds.
	TrustDeclaredValue bool `json:"trust_declared_value" env:"TLM_TRUST_DECLARED_VALUE"`
}

var cfg *Config

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		KeyFile:        "tlm_owner.pem",
		KeyScheme:      "ed25519",
		DBFile:         "ledger.db",
		Port:           8080,
		InitialPrice:   "1000",
		AnchorInterval: "10m",
		BackupInterval: "1h",
		MaxBackups:     20,
		HederaNetwork:  "testnet",
	}
}

// LoadConfig reads a JSON file at path, merges defaults for zero-value
// fields and applies the environment overlay. A missing or unparsable file
// falls back to defaults; only a bad environment is an error.
func LoadConfig(path string) (*Config, error) {
	def := Defaults()
	c := *def

	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			var fromFile Config
			if err := json.Unmarshal(b, &fromFile); err != nil {
				log.Printf("WARN: ignoring config %s: %v", path, err)
			} else {
				c = fromFile
				c.mergeDefaults(def)
			}
		}
	}

	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg = &c
	return cfg, nil
}

func (c *Config) mergeDefaults(def *Config) {
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.KeyScheme == "" {
		c.KeyScheme = def.KeyScheme
	}
	if c.DBFile == "" {
		c.DBFile = def.DBFile
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.InitialPrice == "" {
		c.InitialPrice = def.InitialPrice
	}
	if c.AnchorInterval == "" {
		c.AnchorInterval = def.AnchorInterval
	}
	if c.BackupInterval == "" {
		c.BackupInterval = def.BackupInterval
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = def.MaxBackups
	}
	if c.HederaNetwork == "" {
		c.HederaNetwork = def.HederaNetwork
	}
}

// Price parses InitialPrice.
func (c *Config) Price() (types.Amount, error) {
	return types.ParseAmount(c.InitialPrice)
}

// AnchorEvery parses AnchorInterval. Zero disables anchoring.
func (c *Config) AnchorEvery() (time.Duration, error) {
	return parseInterval("anchor_interval", c.AnchorInterval)
}

// BackupEvery parses BackupInterval. Zero disables periodic backups.
func (c *Config) BackupEvery() (time.Duration, error) {
	return parseInterval("backup_interval", c.BackupInterval)
}

// HederaEnabled reports whether checkpoints should be published to Hedera.
func (c *Config) HederaEnabled() bool {
	return c.HederaTopicID != "" && c.HederaAccountID != "" && c.HederaPrivateKey != ""
}

func parseInterval(name, value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}

// Get returns the loaded configuration. If LoadConfig hasn't been called
// yet, it returns defaults.
func Get() *Config {
	if cfg == nil {
		if _, err := LoadConfig(""); err != nil {
			cfg = Defaults()
		}
	}
	return cfg
}
