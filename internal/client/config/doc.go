// Package config loads runtime configuration for the MedVault CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "wallet_file": "wallet.json",
//	  "receipts_db": "receipts.db",
//	  "request_timeout": "15s",
//	  "online_check_interval": "3s"
//	}
package config
