package config

import "time"

// Config holds runtime settings for the MedVault CLI.
//
// Fields:
//   - ServerURL: base URL of the MedVault HTTP API.
//   - WalletFile: path of the passphrase-encrypted wallet key.
//   - ReceiptsDB: SQLite file holding upload receipts.
//   - RequestTimeout: per-request deadline for API calls.
//   - OnlineCheckInterval: how often the client probes server reachability.
type Config struct {
	ServerURL           string
	WalletFile          string
	ReceiptsDB          string
	RequestTimeout      time.Duration
	OnlineCheckInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.WalletFile = "wallet.json"
	c.ReceiptsDB = "receipts.db"
	c.RequestTimeout = 15 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
