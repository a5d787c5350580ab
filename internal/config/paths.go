package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appDir = "questlink"

// DefaultConfigPath returns where name (e.g. "client.yaml") is looked up
// when CONFIG_FILE is not set.
func DefaultConfigPath(name string) string {
	home, _ := os.UserHomeDir()
	return ResolveConfigPath(runtime.GOOS, os.Getenv, home, name)
}

// ResolveConfigPath picks the per-user config directory for goos, reading
// environment variables through getenv. A user without a home directory
// falls back to the system-wide location.
func ResolveConfigPath(goos string, getenv func(string) string, home, name string) string {
	switch goos {
	case "windows":
		for _, v := range []string{"AppData", "ProgramData"} {
			if dir := strings.TrimRight(getenv(v), `\/`); dir != "" {
				return filepath.Join(dir, appDir, name)
			}
		}
		return filepath.Join("C:/ProgramData", appDir, name)
	case "darwin":
		if home != "" {
			return filepath.Join(home, "Library", "Application Support", appDir, name)
		}
	default:
		if dir := getenv("XDG_CONFIG_HOME"); dir != "" {
			return filepath.Join(dir, appDir, name)
		}
		if home != "" {
			return filepath.Join(home, ".config", appDir, name)
		}
	}
	return filepath.Join("/etc", appDir, name)
}
