// Package config loads this node's static sync parameters from a TOML
// file, the same format and library (github.com/BurntSushi/toml) the
// pack's node configs use rather than hand-rolled flag parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config mirrors eth.Config but is the on-disk, TOML-tagged shape; main
// translates it into eth.Config once loaded.
type Config struct {
	NetworkID         uint64 `toml:"network_id"`
	MaxHashesAsk      uint64 `toml:"max_hashes_ask"`
	PeerDiscoveryMode bool   `toml:"peer_discovery_mode"`
	ProcessTxs        bool   `toml:"process_transactions"`
	BatchSize         int    `toml:"queue_batch_size"`
}

// Default returns the configuration a fresh node starts from absent a
// config file.
func Default() Config {
	return Config{
		NetworkID:         1,
		MaxHashesAsk:      192,
		PeerDiscoveryMode: false,
		ProcessTxs:        true,
		BatchSize:         128,
	}
}

// Load reads and decodes a TOML config file, starting from Default and
// overlaying whatever the file specifies.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}
