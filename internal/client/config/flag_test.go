package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	// Test cases
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "Test1 OK", args: []string{"cmd", "-a", "http://vault:9090", "-w", "me.json", "-d", "r.db", "-t", "30", "-i", "10"}, expectPanic: false,
			expected: &Config{ServerURL: "http://vault:9090", WalletFile: "me.json", ReceiptsDB: "r.db", RequestTimeout: 30 * time.Second, OnlineCheckInterval: 10 * time.Second}},
		{name: "Test2 foreign flags ignored", args: []string{"cmd", "-x", "1", "-a", "http://vault:9090"}, expectPanic: false,
			expected: &Config{ServerURL: "http://vault:9090"}},
		{name: "Test3 incorrect timeout", args: []string{"cmd", "-t", "abc"}, expectPanic: true, expected: &Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {

				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
