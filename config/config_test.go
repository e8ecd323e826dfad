package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// go test -v --run TestLoadFromDefaults
func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Stream.MaxConnections != 3 {
		t.Errorf("max_connections = %d, want 3", cfg.Stream.MaxConnections)
	}
	if cfg.Stream.ActiveInterval != 5*time.Second || cfg.Stream.ClosedInterval != 10*time.Second {
		t.Errorf("unexpected intervals: %v / %v", cfg.Stream.ActiveInterval, cfg.Stream.ClosedInterval)
	}
	if cfg.TwelveData.REST.BatchSize != 8 {
		t.Errorf("batch_size = %d, want 8", cfg.TwelveData.REST.BatchSize)
	}
	if cfg.TwelveData.WS.HeartbeatInterval != 10*time.Second {
		t.Errorf("heartbeat_interval = %v, want 10s", cfg.TwelveData.WS.HeartbeatInterval)
	}
	if cfg.Cache.Key != "timed:prices" {
		t.Errorf("cache key = %q", cfg.Cache.Key)
	}
}

// go test -v --run TestLoadFromFile
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := strings.Join([]string{
		"app:",
		"  symbols: [aapl, msft]",
		"stream:",
		"  max_connections: 2",
		"hub:",
		"  driver: http",
		"  url: http://hub.local/ws/notify",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stream.MaxConnections != 2 {
		t.Errorf("max_connections = %d, want 2", cfg.Stream.MaxConnections)
	}
	if got := strings.Join(cfg.App.Symbols, ","); got != "AAPL,MSFT" {
		t.Errorf("symbols = %q", got)
	}
	if cfg.Hub.URL != "http://hub.local/ws/notify" {
		t.Errorf("hub url = %q", cfg.Hub.URL)
	}
}

// go test -v --run TestValidate
func TestValidate(t *testing.T) {
	base := func() Config {
		var c Config
		c.Stream.MaxConnections = 3
		c.Stream.ActiveInterval = 5 * time.Second
		c.Stream.ClosedInterval = 10 * time.Second
		c.Stream.ShrinkRatio = 0.8
		c.TwelveData.REST.BatchSize = 8
		c.Cache.Driver = "none"
		c.Hub.Driver = "none"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero connections", func(c *Config) { c.Stream.MaxConnections = 0 }, true},
		{"bad ratio", func(c *Config) { c.Stream.ShrinkRatio = 1.5 }, true},
		{"unknown cache", func(c *Config) { c.Cache.Driver = "memcached" }, true},
		{"http hub without url", func(c *Config) { c.Hub.Driver = "http" }, true},
		{"kafka hub without brokers", func(c *Config) { c.Hub.Driver = "kafka" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// go test -v --run TestPostgresDSN
func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "pw",
		DBName:   "pricestream",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	want := "host=localhost port=5432 user=postgres password=pw dbname=pricestream sslmode=disable TimeZone=UTC"
	if got := cfg.DSN("dev"); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
	if got := cfg.ServerDSN("dev"); !strings.Contains(got, "dbname=postgres") {
		t.Errorf("ServerDSN() = %q", got)
	}
}
