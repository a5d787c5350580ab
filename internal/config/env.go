package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

var env = os.Getenv

// GetEnv returns the environment value for k or d when unset.
func GetEnv(k, d string) string {
	if v := env(k); v != "" {
		return v
	}
	return d
}

func getInt(k string, d int) int {
	if v, err := strconv.Atoi(GetEnv(k, "")); err == nil {
		return v
	}
	return d
}

func getDuration(k string, d time.Duration) time.Duration {
	if v, err := time.ParseDuration(GetEnv(k, "")); err == nil {
		return v
	}
	return d
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeAddr turns a bare port such as "9090" into ":9090".
func normalizeAddr(v string) string {
	if v != "" && !strings.Contains(v, ":") {
		return ":" + v
	}
	return v
}

// MaskSecret returns a masked representation of a secret string.
// Short secrets are fully masked; longer ones keep their first and last
// characters visible.
func MaskSecret(s string) string {
	n := len(s)
	switch {
	case n == 0:
		return ""
	case n <= 5:
		return strings.Repeat("*", n)
	case n <= 20:
		return s[:1] + strings.Repeat("*", n-2) + s[n-1:]
	default:
		return s[:3] + strings.Repeat("*", n-4) + s[n-1:]
	}
}
