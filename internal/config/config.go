package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode       Mode             `mapstructure:"mode"`
	HTTPAddr   string           `mapstructure:"http_addr"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Log        LogConfig        `mapstructure:"log"`
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

type DBConfig struct {
	Driver        string `mapstructure:"driver"` // sqlite|postgres|mongo|memory
	DSN           string `mapstructure:"dsn"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

// RedisConfig enables the shared submission lock when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	HMACSecret string        `mapstructure:"hmac_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type SubmissionConfig struct {
	Policy string `mapstructure:"policy"` // reject|replace
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // empty: console only
}

type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
}

const devSecret = "dev-secret-change-me"

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeOffline))
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.mongo_database", "exams")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.hmac_secret", devSecret)
	v.SetDefault("auth.token_ttl", "12h")
	v.SetDefault("submission.policy", "reject")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("cors.origins", []string{"http://localhost:3000"})
	v.SetDefault("rate_limit.per_minute", 60)
}

// Load reads defaults, then config.yaml from path (if present), then
// EXAMS_* environment variables, e.g. EXAMS_DB_DRIVER.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix("EXAMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORS.Origins = splitOrigins(cfg.CORS.Origins)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeOffline, ModeOnline:
	default:
		return fmt.Errorf("mode %q: want offline or online", c.Mode)
	}
	switch c.DB.Driver {
	case "sqlite", "postgres", "mongo", "memory":
	default:
		return fmt.Errorf("db.driver %q: want sqlite, postgres, mongo or memory", c.DB.Driver)
	}
	switch c.Submission.Policy {
	case "", "reject", "replace":
	default:
		return fmt.Errorf("submission.policy %q: want reject or replace", c.Submission.Policy)
	}
	if c.Mode == ModeOnline && (len(c.Auth.HMACSecret) < 32 || c.Auth.HMACSecret == devSecret) {
		return errors.New("auth.hmac_secret must be at least 32 bytes in online mode")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl %v must be positive", c.Auth.TokenTTL)
	}
	return nil
}

// splitOrigins accepts both a YAML list and a comma separated env value.
func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
