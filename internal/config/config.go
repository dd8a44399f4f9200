package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string      `mapstructure:"mode"`
	Server      Server      `mapstructure:"server"`
	TLS         TLS         `mapstructure:"tls"`
	JWT         JWT         `mapstructure:"jwt"`
	Admin       Admin       `mapstructure:"admin"`
	CORS        CORS        `mapstructure:"cors"`
	Log         Log         `mapstructure:"log"`
	WebSocket   WebSocket   `mapstructure:"websocket"`
	Store       Store       `mapstructure:"store"`
	Marketplace Marketplace `mapstructure:"marketplace"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type TLS struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type JWT struct {
	Secret          string `mapstructure:"secret"`
	Issuer          string `mapstructure:"issuer"`
	ExpirationHours int    `mapstructure:"expiration_hours"`
}

type Admin struct {
	Secret string `mapstructure:"secret"`
}

type CORS struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	MaxEntries int    `mapstructure:"max_entries"`
}

type WebSocket struct {
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	TypingTTL        time.Duration `mapstructure:"typing_ttl"`
	MaxTypingPerRoom int           `mapstructure:"max_typing_per_room"`
}

type Store struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type Marketplace struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Load reads configs/<MODE>.yaml from the working directory.
func Load() (*Config, error) {
	mode := os.Getenv("MODE")
	if mode == "" {
		mode = "local"
	}
	return LoadFrom(mode, "./configs")
}

// LoadFrom reads <dir>/<mode>.yaml layered over defaults and AGORA_* env vars.
// A missing file is not an error.
func LoadFrom(mode, dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(mode)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("AGORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", mode, err)
		}
		logrus.WithField("mode", mode).Info("config file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Mode = mode

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Marketplace.MaxPageSize < 1 {
		return errors.New("marketplace.max_page_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("jwt.secret", "agora-jwt-secret-change-me")
	v.SetDefault("jwt.issuer", "agora")
	v.SetDefault("jwt.expiration_hours", 720)
	v.SetDefault("admin.secret", "agora-admin-secret-change-me")
	v.SetDefault("cors.allowed_origins", []string{
		"http://localhost:3000",
		"http://localhost:5173",
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.max_entries", 200)
	v.SetDefault("websocket.liveness_interval", 5*time.Minute)
	v.SetDefault("websocket.idle_timeout", 5*time.Minute)
	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.read_limit", 512*1024)
	v.SetDefault("websocket.typing_ttl", 10*time.Second)
	v.SetDefault("websocket.max_typing_per_room", 50)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.migrate", true)
	v.SetDefault("marketplace.default_page_size", 20)
	v.SetDefault("marketplace.max_page_size", 100)
}
