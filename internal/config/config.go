package config

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"mafiapanel/internal/domain"
)

// Config holds all panel configuration
type Config struct {
	Server  ServerConfig
	Game    GameConfig
	Store   StoreConfig
	Sync    SyncConfig
	Logging LoggingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Env  string `env:"ENV" envDefault:"development"` // "development" or "production"
}

// GameConfig holds the default rules for new sessions
type GameConfig struct {
	DiscussionTime          time.Duration `env:"DISCUSSION_TIME" envDefault:"60s"`
	FreeSeatingTime         time.Duration `env:"FREE_SEATING_TIME" envDefault:"20s"`
	LastWordsTime           time.Duration `env:"LAST_WORDS_TIME" envDefault:"60s"`
	ClearNominationsOnAbort bool          `env:"CLEAR_NOMINATIONS_ON_ABORT" envDefault:"true"`
	EngineIdleTimeout       time.Duration `env:"ENGINE_IDLE_TIMEOUT" envDefault:"2h"`
}

// StoreConfig holds local session store configuration
type StoreConfig struct {
	Path         string        `env:"STORE_PATH" envDefault:"mafiapanel.db"` // empty keeps sessions in memory only
	MaxSessions  int           `env:"STORE_MAX_SESSIONS" envDefault:"20"`
	SessionTTL   time.Duration `env:"STORE_SESSION_TTL" envDefault:"168h"`
	TombstoneTTL time.Duration `env:"STORE_TOMBSTONE_TTL" envDefault:"24h"`
}

// SyncConfig holds remote replication configuration
type SyncConfig struct {
	URL          string        `env:"SYNC_URL"` // empty disables replication
	Token        string        `env:"SYNC_TOKEN"`
	Debounce     time.Duration `env:"SYNC_DEBOUNCE" envDefault:"2s"`
	Interval     time.Duration `env:"SYNC_INTERVAL" envDefault:"1m"`
	Timeout      time.Duration `env:"SYNC_TIMEOUT" envDefault:"15s"`
	FlushTimeout time.Duration `env:"SYNC_FLUSH_TIMEOUT" envDefault:"5s"` // Bounds the push on shutdown
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Store.MaxSessions <= 0 {
		return nil, fmt.Errorf("STORE_MAX_SESSIONS must be positive, got %d", cfg.Store.MaxSessions)
	}
	return cfg, nil
}

// Rules returns the session rules configured for new games
func (c *Config) Rules() domain.Rules {
	return domain.Rules{
		DiscussionTime:          c.Game.DiscussionTime,
		FreeSeatingTime:         c.Game.FreeSeatingTime,
		LastWordsTime:           c.Game.LastWordsTime,
		ClearNominationsOnAbort: c.Game.ClearNominationsOnAbort,
	}
}

// SyncEnabled reports whether a remote store is configured
func (c *Config) SyncEnabled() bool {
	return c.Sync.URL != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetAddr returns the server address in host:port format
func (c *Config) GetAddr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// SyncServerConfig configures the remote session store binary
type SyncServerConfig struct {
	Port         string        `env:"PORT" envDefault:"8090"`
	Host         string        `env:"HOST" envDefault:"0.0.0.0"`
	Secret       string        `env:"SYNC_SECRET,required"`
	Backend      string        `env:"SYNC_BACKEND" envDefault:"memory"` // "memory", "redis" or "mongo"
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB      int           `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix  string        `env:"REDIS_PREFIX" envDefault:"mafiapanel"`
	MongoURI     string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB      string        `env:"MONGO_DB" envDefault:"mafiapanel"`
	TombstoneTTL time.Duration `env:"SYNC_TOMBSTONE_TTL" envDefault:"24h"`
	Logging      LoggingConfig
}

// LoadSyncServer loads sync server configuration from the environment
func LoadSyncServer() (*SyncServerConfig, error) {
	cfg := &SyncServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Backend {
	case "memory", "redis", "mongo":
	default:
		return nil, fmt.Errorf("unknown SYNC_BACKEND %q", cfg.Backend)
	}
	return cfg, nil
}

// GetAddr returns the sync server address in host:port format
func (c *SyncServerConfig) GetAddr() string {
	return c.Host + ":" + c.Port
}

// NewLogger builds the slog logger described by the logging section
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(l.Level),
	}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
