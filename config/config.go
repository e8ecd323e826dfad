package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	TwelveData TwelveDataConfig `mapstructure:"twelvedata"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Session    SessionConfig    `mapstructure:"session"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Hub        HubConfig        `mapstructure:"hub"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
}

type AppConfig struct {
	Environment string   `mapstructure:"environment"` // "dev" or "prod"
	Autostart   bool     `mapstructure:"autostart"`   // start streaming Symbols on boot
	Symbols     []string `mapstructure:"symbols"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type TwelveDataConfig struct {
	APIKey       string            `mapstructure:"api_key"`
	APIKeyParam  string            `mapstructure:"api_key_param"` // SSM parameter name, prod only
	REST         RESTConfig        `mapstructure:"rest"`
	WS           WSConfig          `mapstructure:"ws"`
	SkipTickers  []string          `mapstructure:"skip_tickers"`
	CryptoPairs  map[string]string `mapstructure:"crypto_pairs"`
	ClassAliases map[string]string `mapstructure:"class_aliases"`
}

type RESTConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	BatchSize         int           `mapstructure:"batch_size"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type WSConfig struct {
	URL               string        `mapstructure:"url"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
}

// StreamConfig holds the streamer's scheduling and safety thresholds.
type StreamConfig struct {
	MaxConnections       int           `mapstructure:"max_connections"`
	FirstTickDelay       time.Duration `mapstructure:"first_tick_delay"`
	ActiveInterval       time.Duration `mapstructure:"active_interval"`
	ClosedInterval       time.Duration `mapstructure:"closed_interval"`
	DurableWriteInterval time.Duration `mapstructure:"durable_write_interval"`
	SeedStaleness        time.Duration `mapstructure:"seed_staleness"`
	ShrinkMinEntries     int           `mapstructure:"shrink_min_entries"`
	ShrinkRatio          float64       `mapstructure:"shrink_ratio"`
	InboxSize            int           `mapstructure:"inbox_size"`
	Source               string        `mapstructure:"source"`
}

type SessionConfig struct {
	Timezone    string   `mapstructure:"timezone"`
	Holidays    []string `mapstructure:"holidays"`     // YYYY-MM-DD
	EarlyCloses []string `mapstructure:"early_closes"` // YYYY-MM-DD
}

type CacheConfig struct {
	Driver     string `mapstructure:"driver"` // "redis", "postgres", "sqlite" or "none"
	Key        string `mapstructure:"key"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type HubConfig struct {
	Driver  string        `mapstructure:"driver"` // "http", "redis", "kafka" or "none"
	URL     string        `mapstructure:"url"`
	Channel string        `mapstructure:"channel"`
	Timeout time.Duration `mapstructure:"timeout"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load loads application configuration using Viper.
// It reads from config.yaml (if present), a local .env file and environment variables.
func Load() *Config {
	cfg, err := LoadFrom(configDirs()...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom reads config.yaml from the first matching directory. A missing file
// is not an error: defaults and environment variables still apply.
func LoadFrom(dirs ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to read .env: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	setDefaults(v)

	// Support environment variables with dot notation (e.g., TWELVEDATA_API_KEY)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v,
		"app.environment", "app.autostart",
		"twelvedata.api_key", "twelvedata.api_key_param",
		"stream.max_connections",
		"cache.driver", "hub.driver", "hub.url",
		"redis.addr", "redis.password", "redis.db",
		"log.level",
	)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// APP_SYMBOLS=AAPL,MSFT arrives as one element
	cfg.App.Symbols = splitSymbols(cfg.App.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func configDirs() []string {
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		return []string{filepath.Join(pwd, "config"), filepath.Join(pwd, "../../config")}
	}
	return []string{"./config", filepath.Join(filepath.Dir(ex), "../config")}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "dev")
	v.SetDefault("app.autostart", false)

	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("twelvedata.rest.base_url", "https://api.twelvedata.com")
	v.SetDefault("twelvedata.rest.timeout", 15*time.Second)
	v.SetDefault("twelvedata.rest.batch_size", 8)
	v.SetDefault("twelvedata.rest.requests_per_minute", 55)
	v.SetDefault("twelvedata.ws.url", "wss://ws.twelvedata.com/v1/quotes/price")
	v.SetDefault("twelvedata.ws.dial_timeout", 10*time.Second)
	v.SetDefault("twelvedata.ws.heartbeat_interval", 10*time.Second)
	v.SetDefault("twelvedata.ws.read_timeout", 60*time.Second)
	v.SetDefault("twelvedata.skip_tickers", []string{"ES1!", "NQ1!", "GOLD", "SILVER", "VX1!", "US500", "GC1!", "SI1!"})
	v.SetDefault("twelvedata.crypto_pairs", map[string]string{"BTCUSD": "BTC/USD", "ETHUSD": "ETH/USD"})
	v.SetDefault("twelvedata.class_aliases", map[string]string{"BRK-B": "BRK.B"})

	v.SetDefault("stream.max_connections", 3)
	v.SetDefault("stream.first_tick_delay", time.Second)
	v.SetDefault("stream.active_interval", 5*time.Second)
	v.SetDefault("stream.closed_interval", 10*time.Second)
	v.SetDefault("stream.durable_write_interval", 10*time.Second)
	v.SetDefault("stream.seed_staleness", 60*time.Second)
	v.SetDefault("stream.shrink_min_entries", 50)
	v.SetDefault("stream.shrink_ratio", 0.8)
	v.SetDefault("stream.inbox_size", 4096)
	v.SetDefault("stream.source", "twelvedata_stream")

	v.SetDefault("session.timezone", "America/New_York")

	v.SetDefault("cache.driver", "redis")
	v.SetDefault("cache.key", "timed:prices")
	v.SetDefault("cache.sqlite_path", "data/pricestream.db")

	v.SetDefault("hub.driver", "none")
	v.SetDefault("hub.channel", "prices")
	v.SetDefault("hub.timeout", 5*time.Second)
	v.SetDefault("hub.kafka.topic", "market.prices")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Stream.MaxConnections <= 0 {
		return fmt.Errorf("stream.max_connections must be positive")
	}
	if c.Stream.ActiveInterval <= 0 || c.Stream.ClosedInterval <= 0 {
		return fmt.Errorf("stream intervals must be positive")
	}
	if c.Stream.ShrinkRatio <= 0 || c.Stream.ShrinkRatio > 1 {
		return fmt.Errorf("stream.shrink_ratio must be in (0, 1], got %v", c.Stream.ShrinkRatio)
	}
	if c.TwelveData.REST.BatchSize <= 0 {
		return fmt.Errorf("twelvedata.rest.batch_size must be positive")
	}
	switch c.Cache.Driver {
	case "redis", "postgres", "sqlite", "none":
	default:
		return fmt.Errorf("unknown cache.driver %q", c.Cache.Driver)
	}
	switch c.Hub.Driver {
	case "http", "redis", "kafka", "none":
	default:
		return fmt.Errorf("unknown hub.driver %q", c.Hub.Driver)
	}
	if c.Hub.Driver == "http" && c.Hub.URL == "" {
		return fmt.Errorf("hub.url is required for the http hub driver")
	}
	if c.Hub.Driver == "kafka" && len(c.Hub.Kafka.Brokers) == 0 {
		return fmt.Errorf("hub.kafka.brokers is required for the kafka hub driver")
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("could not bind env var for key %s: %v", key, err)
		}
	}
}

func splitSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
