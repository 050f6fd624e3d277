package config

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Config holds the node configuration.
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		// PeerID pins the node identity across restarts. Left empty, a
		// fresh id is generated at boot.
		PeerID string `json:"peerId"`
	} `json:"node"`

	Network struct {
		ListenAddress  string `json:"listen"`
		AdvertisedHost string `json:"advertisedHost"`
		AdvertisedPort int    `json:"advertisedPort"`
		// Bootstrap is the host:port of the peer dialed on startup to
		// join the overlay. Empty means start alone.
		Bootstrap string `json:"bootstrap"`
	} `json:"network"`

	DataStore struct {
		CachePath      string `json:"cache"`
		ChunkIndexPath string `json:"chunkIndex"`
		LedgerPath     string `json:"ledger"`
	} `json:"datastore"`

	Cache struct {
		ChunkSize              int `json:"chunkSize"`
		MaxAgeHours            int `json:"maxAgeHours"`
		CleanupIntervalMinutes int `json:"cleanupIntervalMinutes"`
	} `json:"cache"`

	Ledger struct {
		MaxActionsPerBlock int `json:"maxActionsPerBlock"`
	} `json:"ledger"`

	Fetch struct {
		Workers int `json:"workers"`
	} `json:"fetch"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Network.ListenAddress = ":8080"
	cfg.Network.AdvertisedHost = "127.0.0.1"
	cfg.Network.AdvertisedPort = 8080

	cfg.DataStore.CachePath = "/tmp/cachenet/cache"
	cfg.DataStore.ChunkIndexPath = "/tmp/cachenet/chunk-index"
	cfg.DataStore.LedgerPath = "/tmp/cachenet/ledger/blocks"

	cfg.Cache.ChunkSize = 1024 * 1024
	cfg.Cache.MaxAgeHours = 24
	cfg.Cache.CleanupIntervalMinutes = 60

	cfg.Ledger.MaxActionsPerBlock = 100

	cfg.Fetch.Workers = 10

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}
