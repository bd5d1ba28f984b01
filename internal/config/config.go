package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         string        `mapstructure:"PORT"`
	Env          string        `mapstructure:"ENV"`
	DatabaseURL  string        `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL     string        `mapstructure:"REDIS_URL"`
	AIEndpoint   string        `mapstructure:"AI_ENDPOINT"`
	AIAPIKey     string        `mapstructure:"AI_API_KEY"`
	AITimeout    time.Duration `mapstructure:"AI_TIMEOUT"`
	ClassifyTTL  time.Duration `mapstructure:"CLASSIFY_CACHE_TTL"`
	JWTSecret    string        `mapstructure:"AUTH_JWT_SECRET"`
	CORSOrigins  []string      `mapstructure:"CORS_ORIGINS"`
	SeedDemoData bool          `mapstructure:"SEED_DEMO_DATA"`
}

// Load reads configuration from .env (when present) and the environment.
// DATABASE_URL is deliberately optional: an empty value switches the record
// store into local-only mode instead of failing startup.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AI_TIMEOUT", "30s")
	v.SetDefault("CLASSIFY_CACHE_TTL", "5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SEED_DEMO_DATA", false)

	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "AI_ENDPOINT", "AI_API_KEY", "AI_TIMEOUT",
		"CLASSIFY_CACHE_TTL", "AUTH_JWT_SECRET", "CORS_ORIGINS",
		"SEED_DEMO_DATA",
	} {
		_ = v.BindEnv(key)
	}

	// Missing .env is fine; the environment alone is a valid source.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Development mode
// may skip authentication; anything else needs a JWT secret so the API is
// not left open.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required when ENV=%q; refusing to serve without authentication", c.Env)
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive, got %s", c.AITimeout)
	}
	if c.ClassifyTTL <= 0 {
		return fmt.Errorf("CLASSIFY_CACHE_TTL must be positive, got %s", c.ClassifyTTL)
	}
	return nil
}
