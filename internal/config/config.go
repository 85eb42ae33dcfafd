package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"classroom-qa/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names the persistence strategy chosen at startup.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// Local blob drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverFile   = "file"
)

type Config struct {
	Env    string `yaml:"env"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Store struct {
		ForceLocal bool `yaml:"forceLocal"`
	} `yaml:"store"`
	Remote struct {
		URL            string `yaml:"url"`
		Key            string `yaml:"key"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"remote"`
	Local struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"local"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret"`
		TokenTTL  string `yaml:"tokenTTL"`
	} `yaml:"auth"`
	Leveling struct {
		Formula   string  `yaml:"formula"`
		XPPerPost float64 `yaml:"xpPerPost"`
	} `yaml:"leveling"`
	Poll struct {
		Interval string `yaml:"interval"`
	} `yaml:"poll"`
}

// Load reads YAML config from path and applies environment overrides. A
// missing file is not an error: the environment alone can configure the
// service. A .env file in the working directory is loaded first if present.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := loadDotEnv(".env"); err != nil {
		return cfg, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("ENV", &cfg.Env)
	setString("PORT", &cfg.Server.Port)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("QA_REMOTE_URL", &cfg.Remote.URL)
	setString("QA_REMOTE_KEY", &cfg.Remote.Key)
	setString("QA_LOCAL_DRIVER", &cfg.Local.Driver)
	setString("QA_LOCAL_PATH", &cfg.Local.Path)
	setString("QA_JWT_SECRET", &cfg.Auth.JWTSecret)
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)

	if v, ok := os.LookupEnv("QA_FORCE_LOCAL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("QA_FORCE_LOCAL: %w", err)
		}
		cfg.Store.ForceLocal = b
	}
	return nil
}

// Backend picks the persistence strategy. The remote store is used only when
// both its endpoint and key are configured and local mode is not forced.
func (c Config) Backend() Backend {
	if c.Store.ForceLocal {
		return BackendLocal
	}
	if c.Remote.URL == "" || c.Remote.Key == "" {
		return BackendLocal
	}
	return BackendRemote
}

// LocalDriver returns the configured blob driver, defaulting to redis when a
// Redis address is set and to memory otherwise.
func (c Config) LocalDriver() string {
	if c.Local.Driver != "" {
		return c.Local.Driver
	}
	if c.Redis.Addr != "" {
		return DriverRedis
	}
	return DriverMemory
}

// LevelingPolicy builds the process-wide leveling policy.
func (c Config) LevelingPolicy() (domain.Policy, error) {
	return domain.ParsePolicy(c.Leveling.Formula, c.Leveling.XPPerPost)
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
