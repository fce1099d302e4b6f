// Package config loads the gateway's runtime parameters from defaults, an
// optional config file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/parley/chat-app/internal/ws"
)

// Config captures the gateway runtime parameters.
type Config struct {
	ListenAddr          string        `mapstructure:"listen_addr"`
	WorkerPoolSize      int           `mapstructure:"worker_pool_size"`
	MaxConnections      int           `mapstructure:"max_connections"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout    time.Duration `mapstructure:"heartbeat_timeout"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`

	DatabaseURL string `mapstructure:"database_url"` // empty selects the in-memory store
	RedisAddr   string `mapstructure:"redis_addr"`   // empty selects the in-process limiter
	NATSURL     string `mapstructure:"nats_url"`     // empty selects local room fan-out

	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`

	LogLevel   string `mapstructure:"log_level"`
	ServerName string `mapstructure:"server_name"`

	// TrustedProxies lists the addresses or CIDR ranges whose
	// X-Forwarded-For header is honored when attributing a client IP.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

const (
	defaultListenAddr          = ":8080"
	defaultWorkerPoolSize      = 256
	defaultMaxConnections      = 100000
	defaultReadTimeout         = 10 * time.Second
	defaultWriteTimeout        = 10 * time.Second
	defaultHeartbeatInterval   = 30 * time.Second
	defaultHeartbeatTimeout    = 10 * time.Second
	defaultShutdownGracePeriod = 10 * time.Second
	defaultTokenTTL            = 30 * 24 * time.Hour
	defaultStoreTimeout        = 5 * time.Second
	defaultLogLevel            = "info"
	defaultServerName          = "parley-1"
)

// dotenvFiles are loaded, when present, before the environment is read.
// Variables already set in the environment win.
var dotenvFiles = []string{".env"}

// Load reads configuration from the provided file path (if any), the .env
// file and the environment. Environment variables use the upper-cased key
// names (LISTEN_ADDR, DATABASE_URL, JWT_SECRET, ...) and override file values.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("worker_pool_size", defaultWorkerPoolSize)
	v.SetDefault("max_connections", defaultMaxConnections)
	v.SetDefault("read_timeout", defaultReadTimeout.String())
	v.SetDefault("write_timeout", defaultWriteTimeout.String())
	v.SetDefault("heartbeat_interval", defaultHeartbeatInterval.String())
	v.SetDefault("heartbeat_timeout", defaultHeartbeatTimeout.String())
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("database_url", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_ttl", defaultTokenTTL.String())
	v.SetDefault("store_timeout", defaultStoreTimeout.String())
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("server_name", "")
	v.SetDefault("trusted_proxies", []string{})

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.ServerName == "" {
		cfg.ServerName = defaultServerName
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.ServerName = host
		}
	}

	return cfg, nil
}

func loadDotEnv() error {
	for _, name := range dotenvFiles {
		if _, err := os.Stat(name); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", name, err)
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// Validate rejects configurations the gateway cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.WorkerPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("worker_pool_size must be positive, got %d", c.WorkerPoolSize))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("token_ttl must be positive, got %s", c.TokenTTL))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("store_timeout must be positive, got %s", c.StoreTimeout))
	}
	if _, err := parseProxies(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// parseProxies accepts bare addresses as single-host prefixes.
func parseProxies(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted_proxies: %w", err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Server returns the transport settings derived from c.
func (c Config) Server() ws.ServerConfig {
	sc := ws.DefaultServerConfig()
	sc.ListenAddr = c.ListenAddr
	sc.WorkerPoolSize = c.WorkerPoolSize
	sc.MaxConnections = c.MaxConnections
	sc.ReadTimeout = c.ReadTimeout
	sc.WriteTimeout = c.WriteTimeout
	sc.HandshakeTimeout = c.StoreTimeout
	sc.Heartbeat = ws.HeartbeatConfig{
		Interval: c.HeartbeatInterval,
		Timeout:  c.HeartbeatTimeout,
	}
	// Malformed entries are reported by Validate before Server is used.
	sc.TrustedProxies, _ = parseProxies(c.TrustedProxies)
	return sc
}
