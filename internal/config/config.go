package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Data struct {
		// Source is "static" (fixtures) or "live" (postgres).
		Source   string `yaml:"source"`
		Fixtures string `yaml:"fixtures"`
	} `yaml:"data"`
	Exam struct {
		TickInterval string `yaml:"tickInterval"`
		BatchSize    int    `yaml:"batchSize"`
		PaperTTL     string `yaml:"paperTTL"`
	} `yaml:"exam"`
	Auth struct {
		JWTSecret string  `yaml:"jwtSecret"`
		TokenTTL  string  `yaml:"tokenTTL"`
		Admins    []Admin `yaml:"admins"`
	} `yaml:"auth"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Admin is an account seeded at startup with content management rights.
type Admin struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

const (
	SourceStatic = "static"
	SourceLive   = "live"
)

// Load reads YAML config from path. Secrets may be overridden from the environment.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// LoadOrDefault is Load, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Config{}
		cfg.applyEnv()
		cfg.applyDefaults()
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		c.AMQP.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Data.Source == "" {
		c.Data.Source = SourceStatic
		if c.Postgres.URL != "" {
			c.Data.Source = SourceLive
		}
	}
	if c.Exam.BatchSize <= 0 {
		c.Exam.BatchSize = 20
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "exam.results"
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "dev-secret-change-me"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
