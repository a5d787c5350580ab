package config

import (
	"flag"
	"os"

	"gopkg.in/yaml.v3"
)

// DevServerConfig holds configuration for the development game server.
type DevServerConfig struct {
	Addr             string   `yaml:"addr"`
	AccessToken      string   `yaml:"access_token"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	DiceKeywords     []string `yaml:"dice_keywords"`
	OpeningNarrative string   `yaml:"opening_narrative"`
	LogLevel         string   `yaml:"log_level"`
	ConfigFile       string   `yaml:"-"`
}

// BindFlags populates the config from environment variables and binds CLI
// flags so main can call flag.Parse().
func (c *DevServerConfig) BindFlags() {
	c.ConfigFile = GetEnv("CONFIG_FILE", DefaultConfigPath("devserver.yaml"))
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	c.Addr = normalizeAddr(GetEnv("ADDR", ":8080"))
	c.AccessToken = GetEnv("ACCESS_TOKEN", "")
	c.AllowedOrigins = splitComma(GetEnv("ALLOWED_ORIGINS", "*"))
	c.DiceKeywords = splitComma(GetEnv("DICE_KEYWORDS", "search:Perception Check,sneak:Stealth Check,climb:Athletics Check,persuade:Persuasion Check,attack:Attack Roll"))
	c.OpeningNarrative = GetEnv("OPENING_NARRATIVE", "You wake in a torchlit cellar. Somewhere above, a door slams.")

	flag.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	flag.StringVar(&c.AccessToken, "access-token", c.AccessToken, "bearer token required from clients; leave empty to disable auth")
	flag.Func("allowed-origins", "comma separated CORS origins", func(v string) error { c.AllowedOrigins = splitComma(v); return nil })
	flag.Func("dice-keywords", "comma separated word[:purpose] entries that make an action require a roll", func(v string) error { c.DiceKeywords = splitComma(v); return nil })
	flag.StringVar(&c.OpeningNarrative, "opening-narrative", c.OpeningNarrative, "narration returned when a session starts")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
}

// LoadFile populates the config from a YAML file.
func (c *DevServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return err
	}
	c.Addr = normalizeAddr(c.Addr)
	return nil
}
