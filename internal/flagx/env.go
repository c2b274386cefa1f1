package flagx

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString overwrites *dst with the value of key when it is set and non-blank.
func EnvString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

// EnvInt overwrites *dst when key holds a valid integer. Invalid values are
// ignored so a typo never zeroes a sane default.
func EnvInt(key string, dst *int) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// EnvUint64 is EnvInt for unsigned 64-bit values such as block numbers.
func EnvUint64(key string, dst *uint64) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

// EnvFloat overwrites *dst when key holds a valid float, e.g. a rate.
func EnvFloat(key string, dst *float64) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// EnvDuration accepts Go duration syntax ("90s", "5m").
func EnvDuration(key string, dst *time.Duration) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// EnvList splits a comma-separated value, dropping blank items.
func EnvList(key string, dst *[]string) {
	if v, ok := lookup(key); ok {
		*dst = SplitList(v)
	}
}

// SplitList splits s on commas and trims every item.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
