package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"smc-engine/internal/engine"
	"smc-engine/internal/logging"
	"smc-engine/internal/market"
	"smc-engine/internal/strategy"
)

type Config struct {
	Engine      engine.Config       `json:"engine"`
	Strategy    strategy.Config     `json:"strategy"`
	Instruments []market.Instrument `json:"instruments" validate:"min=1,dive"`
	Feed        FeedConfig          `json:"feed"`
	Logging     logging.Config      `json:"logging"`
	Server      ServerConfig        `json:"server"`
	Auth        AuthConfig          `json:"auth"`
	Database    DatabaseConfig      `json:"database"`
	Redis       RedisConfig         `json:"redis"`
	Vault       VaultConfig         `json:"vault"`
	Metrics     MetricsConfig       `json:"metrics"`
}

// FeedConfig selects where bars come from
type FeedConfig struct {
	Source     string `json:"source" default:"stream" validate:"oneof=csv stream"`
	CSVPath    string `json:"csv_path" validate:"required_if=Source csv"`
	StreamURL  string `json:"stream_url" default:"wss://stream.binance.com:9443/stream" validate:"required_if=Source stream"`
	BufferSize int    `json:"buffer_size" default:"256" validate:"gt=0"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled" default:"true"`
	Port            int    `json:"port" default:"8080" validate:"min=1,max=65535"`
	Host            string `json:"host" default:"0.0.0.0"`
	AllowedOrigins  string `json:"allowed_origins" default:"*"` // CORS allowed origins, comma separated
	ReadTimeout     int    `json:"read_timeout" default:"30"`   // Seconds
	WriteTimeout    int    `json:"write_timeout" default:"30"`  // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout" default:"10"`
}

// AuthConfig guards the mutating API routes
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret" validate:"required_if=Enabled true"`
	AccessTokenDuration time.Duration `json:"access_token_duration" default:"15m"`
}

// DatabaseConfig holds the PostgreSQL journal connection
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host" default:"localhost"`
	Port     int    `json:"port" default:"5432"`
	User     string `json:"user" default:"smc"`
	Password string `json:"password"`
	Database string `json:"database" default:"smc"`
	SSLMode  string `json:"ssl_mode" default:"disable"`
}

// RedisConfig holds Redis configuration for the snapshot cache
type RedisConfig struct {
	Enabled     bool          `json:"enabled"`
	Address     string        `json:"address" default:"localhost:6379"`
	Password    string        `json:"password"`
	DB          int           `json:"db"`
	PoolSize    int           `json:"pool_size" default:"10"`
	SnapshotTTL time.Duration `json:"snapshot_ttl" default:"24h"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address" default:"http://localhost:8200"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path" default:"secret"`      // KV v2 mount
	SecretPath string `json:"secret_path" default:"smc-engine"` // Path of the credentials secret
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// MetricsConfig exposes the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" default:"true"`
	Path    string `json:"path" default:"/metrics"`
}

var validate = validator.New()

// Default returns a config with every tag default applied and the engine and
// strategy defaults filled in.
func Default() *Config {
	cfg := &Config{
		Engine:      engine.DefaultConfig(),
		Strategy:    strategy.DefaultConfig(),
		Instruments: []market.Instrument{{Symbol: "BTCUSDT", Timeframe: "1m"}},
	}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config: default tags: %v", err))
	}
	return cfg
}

// Load builds the config from defaults, an optional .env file, an optional
// JSON file at path and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// Entries decoded from the file may leave zero fields behind.
	cfg.Strategy.FillDefaults()

	applyEnvOverrides(cfg)

	// Symbols are matched upper case by the feeds and the API.
	for i := range cfg.Instruments {
		cfg.Instruments[i].Symbol = strings.ToUpper(strings.TrimSpace(cfg.Instruments[i].Symbol))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	return c.Strategy.Validate()
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Engine config
	cfg.Engine.SwingLeft = getEnvIntOrDefault("ENGINE_SWING_LEFT", cfg.Engine.SwingLeft)
	cfg.Engine.SwingRight = getEnvIntOrDefault("ENGINE_SWING_RIGHT", cfg.Engine.SwingRight)
	cfg.Engine.MinGapSize = getEnvFloatOrDefault("ENGINE_MIN_GAP_SIZE", cfg.Engine.MinGapSize)
	cfg.Engine.ExpirationHorizon = getEnvIntOrDefault("ENGINE_EXPIRATION_HORIZON", cfg.Engine.ExpirationHorizon)
	cfg.Engine.Session.Timezone = getEnvOrDefault("SESSION_TIMEZONE", cfg.Engine.Session.Timezone)

	// Instruments as SYMBOL:tf pairs
	if raw := os.Getenv("INSTRUMENTS"); raw != "" {
		if insts, err := ParseInstruments(raw); err == nil {
			cfg.Instruments = insts
		}
	}

	// Feed config
	cfg.Feed.Source = getEnvOrDefault("FEED_SOURCE", cfg.Feed.Source)
	cfg.Feed.CSVPath = getEnvOrDefault("FEED_CSV_PATH", cfg.Feed.CSVPath)
	cfg.Feed.StreamURL = getEnvOrDefault("FEED_STREAM_URL", cfg.Feed.StreamURL)

	// Logging config
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
	cfg.Logging.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.Logging.IncludeFile)

	// Server config
	cfg.Server.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	// Auth config
	cfg.Auth.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.Auth.AccessTokenDuration)

	// Database config
	cfg.Database.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	// Redis config
	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	// Vault config
	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	// Metrics config
	cfg.Metrics.Enabled = getEnvBoolOrDefault("METRICS_ENABLED", cfg.Metrics.Enabled)
}

// ParseInstruments parses a comma separated "SYMBOL:tf" list.
func ParseInstruments(raw string) ([]market.Instrument, error) {
	var out []market.Instrument
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, tf, ok := strings.Cut(part, ":")
		if !ok || sym == "" || tf == "" {
			return nil, fmt.Errorf("invalid instrument %q, want SYMBOL:tf", part)
		}
		out = append(out, market.Instrument{Symbol: strings.ToUpper(sym), Timeframe: tf})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no instruments in %q", raw)
	}
	return out, nil
}

// DSN builds the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// Addr returns the host:port the HTTP server listens on
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Origins splits AllowedOrigins
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
