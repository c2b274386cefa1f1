package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/medvault/internal/flagx"
	"github.com/dmitrijs2005/medvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// Durations use timex.Duration so "15s" and integer nanoseconds both work.
type JsonConfig struct {
	ServerURL           string         `json:"server_url"`
	WalletFile          string         `json:"wallet_file"`
	ReceiptsDB          string         `json:"receipts_db"`
	RequestTimeout      timex.Duration `json:"request_timeout"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Fields missing from the file keep their current value.
// Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.WalletFile != "" {
		cfg.WalletFile = jc.WalletFile
	}
	if jc.ReceiptsDB != "" {
		cfg.ReceiptsDB = jc.ReceiptsDB
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
}
