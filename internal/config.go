package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Clamp ranges for query tuning knobs. Values outside their range are
// pulled back in at load time rather than rejected.
const (
	MinCacheSize = 100
	MaxCacheSize = 100_000
	MinCacheTTL  = 10
	MaxCacheTTL  = 3_600
	MinMaxHops   = 1
	MaxMaxHops   = 5
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Feeds  FeedsConfig       `yaml:"feeds"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Query  QueryConfig       `yaml:"query"`
	DVM    DVMConfig         `yaml:"dvm"`
}

// Validate validates (and where documented, clamps) the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Feeds.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Query.Validate(); err != nil {
		return err
	}
	return c.DVM.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns the HTTP server listen address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// FeedsConfig lists the relay URLs follow events are harvested from.
type FeedsConfig struct {
	Relays []string `yaml:"relays"`
}

// Validate validates the feeds configuration.
func (c *FeedsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Relays, validation.Each(validation.Required)),
	)
}

// SQLiteConfig holds the graph mirror database path.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// QueryConfig holds query-path tuning knobs. All numeric knobs are clamped
// to their documented ranges during Validate.
type QueryConfig struct {
	MaxHopsDefault     int `yaml:"max_hops_default"`
	MaxHopsCeiling     int `yaml:"max_hops_ceiling"`
	CacheSize          int `yaml:"cache_size"`
	CacheTTLSecs       int `yaml:"cache_ttl_secs"`
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// Validate clamps all knobs into range; it never fails.
func (c *QueryConfig) Validate() error {
	c.MaxHopsDefault = clamp(c.MaxHopsDefault, MinMaxHops, MaxMaxHops)
	c.MaxHopsCeiling = clamp(c.MaxHopsCeiling, MinMaxHops, MaxMaxHops)
	if c.MaxHopsDefault > c.MaxHopsCeiling {
		c.MaxHopsDefault = c.MaxHopsCeiling
	}
	c.CacheSize = clamp(c.CacheSize, MinCacheSize, MaxCacheSize)
	c.CacheTTLSecs = clamp(c.CacheTTLSecs, MinCacheTTL, MaxCacheTTL)
	if c.RateLimitPerMinute < 0 {
		c.RateLimitPerMinute = 0
	}
	return nil
}

// DVMConfig controls the optional event-bus query responder.
type DVMConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PrivateKey string `yaml:"private_key"`
}

// Validate validates the DVM configuration.
func (c *DVMConfig) Validate() error {
	if c.Enabled && c.PrivateKey == "" {
		return fmt.Errorf("dvm: enabled but private_key is empty")
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Feeds: FeedsConfig{
			Relays: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
				"wss://relay.nostr.band",
			},
		},
		SQLite: SQLiteConfig{
			Path: "./othala.db",
		},
		Query: QueryConfig{
			MaxHopsDefault:     3,
			MaxHopsCeiling:     5,
			CacheSize:          10_000,
			CacheTTLSecs:       300,
			RateLimitPerMinute: 100,
		},
	}
}
