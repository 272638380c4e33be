// Package config loads the walletd TOML configuration.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

type Wallet struct {
	// Dir holds wallet.db and params.db.
	Dir string `toml:"dir"`
	// Mnemonic is the BIP-39 phrase the master key is derived from.
	Mnemonic   string `toml:"mnemonic"`
	Passphrase string `toml:"passphrase"`
}

type Node struct {
	// RestAddr is the base URL of the trusted node's REST API.
	RestAddr string `toml:"rest_addr"`
	// ZmqAddr is the host:port of the node's tip publisher.
	ZmqAddr string        `toml:"zmq_addr"`
	Timeout time.Duration `toml:"timeout"`
}

type Stratum struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	// APIKeysFile enables miner authentication when set.
	APIKeysFile string `toml:"api_keys_file"`
}

type Log struct {
	// Level is a zap level name: debug, info, warn, error.
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type Config struct {
	Wallet  Wallet  `toml:"wallet"`
	Node    Node    `toml:"node"`
	Stratum Stratum `toml:"stratum"`
	Log     Log     `toml:"log"`
}

func defaults() Config {
	return Config{
		Wallet: Wallet{Dir: "wallet-data"},
		Node: Node{
			RestAddr: "http://127.0.0.1:10002",
			ZmqAddr:  "127.0.0.1:10003",
			Timeout:  30 * time.Second,
		},
		Stratum: Stratum{ListenAddr: ":3334"},
		Log:     Log{Level: "info"},
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Wallet.Mnemonic == "" {
		return errors.New("wallet.mnemonic is required")
	}
	if c.Node.RestAddr == "" {
		return errors.New("node.rest_addr is required")
	}
	if c.Stratum.Enabled && c.Stratum.ListenAddr == "" {
		return errors.New("stratum.listen_addr is required when stratum is enabled")
	}
	return nil
}
