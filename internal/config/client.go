package config

import (
	"flag"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gaspardpetit/questlink/internal/reconnect"
)

// ClientConfig holds configuration for the session client.
type ClientConfig struct {
	APIURL               string        `yaml:"api_url"`
	SocketURL            string        `yaml:"socket_url"`
	AccessToken          string        `yaml:"access_token"`
	TokenFile            string        `yaml:"token_file"`
	UserID               string        `yaml:"user_id"`
	CharacterID          int           `yaml:"character_id"`
	GameID               string        `yaml:"game_id"`
	ReconnectBase        time.Duration `yaml:"reconnect_base"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ContinuationDelay    time.Duration `yaml:"continuation_delay"`
	StatusPollInterval   time.Duration `yaml:"status_poll_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	MetricsAddr          string        `yaml:"metrics_addr"`
	AuditRedisURL        string        `yaml:"audit_redis_url"`
	AuditTTL             time.Duration `yaml:"audit_ttl"`
	LogLevel             string        `yaml:"log_level"`
	ConfigFile           string        `yaml:"-"`
}

// Defaults applied when neither the environment nor flags say otherwise.
const (
	DefaultContinuationDelay  = 800 * time.Millisecond
	DefaultStatusPollInterval = 30 * time.Second
	DefaultPingInterval       = 25 * time.Second
)

// BindFlags populates the config from environment variables and binds CLI
// flags so main can call flag.Parse().
func (c *ClientConfig) BindFlags() {
	c.bindEnv()

	flag.StringVar(&c.APIURL, "api-url", c.APIURL, "base URL of the game server API (e.g. http://localhost:8080)")
	flag.StringVar(&c.SocketURL, "socket-url", c.SocketURL, "push channel WebSocket URL (e.g. ws://localhost:8080/ws)")
	flag.StringVar(&c.AccessToken, "access-token", c.AccessToken, "bearer token sent with every request")
	flag.StringVar(&c.TokenFile, "token-file", c.TokenFile, "file re-read to obtain a fresh token when the server rejects the current one")
	flag.StringVar(&c.UserID, "user-id", c.UserID, "user identifier sent when starting a session")
	flag.IntVar(&c.CharacterID, "character-id", c.CharacterID, "character played in the session")
	flag.StringVar(&c.GameID, "game-id", c.GameID, "identifier used in place of a session id when no session was started")
	flag.DurationVar(&c.ReconnectBase, "reconnect-base", c.ReconnectBase, "delay before the first reconnect attempt; doubles on each attempt")
	flag.IntVar(&c.MaxReconnectAttempts, "max-reconnect-attempts", c.MaxReconnectAttempts, "automatic reconnect attempts before giving up")
	flag.DurationVar(&c.ContinuationDelay, "continuation-delay", c.ContinuationDelay, "pause before showing a generated continuation")
	flag.DurationVar(&c.StatusPollInterval, "status-poll-interval", c.StatusPollInterval, "interval for polling game status (0 disables polling)")
	flag.DurationVar(&c.PingInterval, "ping-interval", c.PingInterval, "interval between push channel pings (0 disables pings)")
	flag.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port (disabled when empty)")
	flag.StringVar(&c.AuditRedisURL, "audit-redis-url", c.AuditRedisURL, "Redis URL for the dice audit trail (in-memory when empty)")
	flag.DurationVar(&c.AuditTTL, "audit-ttl", c.AuditTTL, "retention of audit entries in Redis (0 keeps them)")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "client config file path")
}

func (c *ClientConfig) bindEnv() {
	c.ConfigFile = GetEnv("CONFIG_FILE", DefaultConfigPath("client.yaml"))
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	c.APIURL = GetEnv("API_URL", "http://localhost:8080")
	c.SocketURL = GetEnv("SOCKET_URL", "ws://localhost:8080/ws")
	c.AccessToken = GetEnv("ACCESS_TOKEN", "")
	c.TokenFile = GetEnv("TOKEN_FILE", "")
	c.UserID = GetEnv("USER_ID", "")
	c.CharacterID = getInt("CHARACTER_ID", 0)
	c.GameID = GetEnv("GAME_ID", "")
	c.ReconnectBase = getDuration("RECONNECT_BASE", reconnect.DefaultBase)
	c.MaxReconnectAttempts = getInt("MAX_RECONNECT_ATTEMPTS", reconnect.DefaultMaxAttempts)
	c.ContinuationDelay = getDuration("CONTINUATION_DELAY", DefaultContinuationDelay)
	c.StatusPollInterval = getDuration("STATUS_POLL_INTERVAL", DefaultStatusPollInterval)
	c.PingInterval = getDuration("PING_INTERVAL", DefaultPingInterval)
	c.MetricsAddr = normalizeAddr(GetEnv("METRICS_PORT", ""))
	c.AuditRedisURL = GetEnv("AUDIT_REDIS_URL", "")
	c.AuditTTL = getDuration("AUDIT_TTL", 0)
}

// Backoff returns the reconnect schedule described by the config.
func (c ClientConfig) Backoff() reconnect.Backoff {
	return reconnect.Backoff{Base: c.ReconnectBase, MaxAttempts: c.MaxReconnectAttempts}
}

// LoadFile populates the config from a YAML file. Fields already set remain
// unless overwritten by corresponding entries in the file.
func (c *ClientConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return err
	}
	c.MetricsAddr = normalizeAddr(c.MetricsAddr)
	return nil
}
