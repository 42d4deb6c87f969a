// This file holds the offchain daemon's own YAML-loaded wiring configuration
// (identity, listen address, peer book, storage, logging). The load/save
// pattern (default-then-load-then-persist, gopkg.in/yaml.v3, 0600/0700
// permissions) is grounded on internal/node/config.go's LoadConfig/Save.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vasprail/offchain/internal/address"
)

// DaemonConfig holds everything the offchain daemon needs to start an
// engine and serve it over the network.
type DaemonConfig struct {
	// Identity is this party's own address and signing key.
	Identity IdentityConfig `yaml:"identity"`

	// Listen is the host:port the HTTP transport server binds.
	Listen string `yaml:"listen"`

	// Storage holds the sqlite data directory.
	Storage StorageConfig `yaml:"storage"`

	// Peers lists known counterparties by address and transport base URL.
	Peers []PeerConfig `yaml:"peers"`

	// Logging controls the daemon's structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// RetransmitIntervalSeconds is the period between RetransmitAll passes.
	RetransmitIntervalSeconds int `yaml:"retransmit_interval_seconds"`
}

// IdentityConfig holds this party's own address components and key file.
type IdentityConfig struct {
	// OnChainHex is this party's 16-byte on-chain account id, hex-encoded.
	OnChainHex string `yaml:"on_chain_hex"`
	// SubaddressHex is this party's 8-byte subaddress, hex-encoded; required
	// non-empty (spec.md §4.D requires both payment actors carry one).
	SubaddressHex string `yaml:"subaddress_hex"`
	// KeyFile is the path to this party's secp256k1 signing key.
	KeyFile string `yaml:"key_file"`
}

// Address decodes the identity's on-chain id and subaddress into an
// address.Address.
func (c IdentityConfig) Address() (address.Address, error) {
	onChain, err := hex.DecodeString(c.OnChainHex)
	if err != nil {
		return address.Address{}, fmt.Errorf("config: invalid identity.on_chain_hex: %w", err)
	}
	subaddr, err := hex.DecodeString(c.SubaddressHex)
	if err != nil {
		return address.Address{}, fmt.Errorf("config: invalid identity.subaddress_hex: %w", err)
	}
	return address.New(address.DefaultHRP, onChain, subaddr)
}

// StorageConfig holds the sqlite data directory.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// PeerConfig names one known counterparty.
type PeerConfig struct {
	// AddressEncoded is the counterparty's bech32-encoded address
	// (address.Address.String()).
	AddressEncoded string `yaml:"address"`
	// BaseURL is the base URL the counterparty's transport server listens on.
	BaseURL string `yaml:"base_url"`
	// PublicKeyHex is the counterparty's compressed secp256k1 public key,
	// hex-encoded, used to verify envelopes it sends us.
	PublicKeyHex string `yaml:"public_key_hex"`
}

// LoggingConfig controls the daemon's logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultDaemonConfig returns a DaemonConfig with sensible defaults;
// identity fields are left blank since every party's on-chain id is unique.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Listen: "127.0.0.1:9281",
		Storage: StorageConfig{
			DataDir: "~/.offchaind",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		RetransmitIntervalSeconds: 30,
	}
}

// DaemonConfigFileName is the default config file name.
const DaemonConfigFileName = "config.yaml"

// LoadDaemonConfig reads configuration from dataDir/config.yaml, creating
// one with default values if it does not yet exist (internal/node/config.go's
// LoadConfig pattern).
func LoadDaemonConfig(dataDir string) (*DaemonConfig, error) {
	expanded := expandDaemonPath(dataDir)
	path := filepath.Join(expanded, DaemonConfigFileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultDaemonConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("config: create default daemon config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read daemon config file: %w", err)
	}

	cfg := DefaultDaemonConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse daemon config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *DaemonConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal daemon config: %w", err)
	}

	header := []byte("# offchaind configuration\n# generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write daemon config file: %w", err)
	}
	return nil
}

// DaemonConfigPath returns the full path to the config file for the given
// data directory.
func DaemonConfigPath(dataDir string) string {
	return filepath.Join(expandDaemonPath(dataDir), DaemonConfigFileName)
}

func expandDaemonPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
