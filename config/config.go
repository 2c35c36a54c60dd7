// Package config holds the agent configuration and loads it from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ship-client/shiperr"
)

const (
	BackendEtcd  = "etcd"
	BackendRedis = "redis"
)

// Config is the complete agent configuration. Port, ContextPath, AppName, Version and
// AdminURL are required; everything else has a default.
type Config struct {
	Port        int
	ContextPath string
	AppName     string
	Version     string
	AdminURL    string // host[:port] of the admin backend, no scheme

	AdvertiseIP   string   // empty means resolve the local IPv4 address
	IgnorePaths   []string // route patterns that are never registered
	NotifyTimeout time.Duration

	Naming   NamingConfig
	Register RegisterConfig
}

// NamingConfig selects and configures the naming service backend.
type NamingConfig struct {
	Backend       string
	EtcdEndpoints []string
	RedisAddr     string
	Prefix        string
	TTL           time.Duration
}

// RegisterConfig tunes the per-identifier registration calls.
type RegisterConfig struct {
	Retries   int
	BaseDelay time.Duration
	Timeout   time.Duration
	Rate      float64 // calls per second, 0 disables pacing
	Burst     int
}

// DefaultIgnorePaths is the ignore list every agent applies; configured paths are added to it.
func DefaultIgnorePaths() []string {
	return []string{"/error"}
}

// Default returns a Config with every optional field set and the required ones empty.
func Default() Config {
	return Config{
		IgnorePaths:   DefaultIgnorePaths(),
		NotifyTimeout: 5 * time.Second,
		Naming: NamingConfig{
			Backend:       BackendEtcd,
			EtcdEndpoints: []string{"127.0.0.1:2379"},
			Prefix:        "/ship",
			TTL:           10 * time.Second,
		},
		Register: RegisterConfig{
			Retries:   2,
			BaseDelay: 200 * time.Millisecond,
			Timeout:   3 * time.Second,
			Burst:     1,
		},
	}
}

// Validate checks the required fields and the naming backend settings.
func (c Config) Validate() error {
	if err := c.ValidateRequired(); err != nil {
		return err
	}
	return c.Naming.Validate()
}

// ValidateRequired reports every missing required field in a single ConfigurationError.
func (c Config) ValidateRequired() error {
	var missing []string
	if c.Port <= 0 {
		missing = append(missing, "port")
	}
	if c.ContextPath == "" {
		missing = append(missing, "contextPath")
	}
	if c.AppName == "" {
		missing = append(missing, "appName")
	}
	if c.Version == "" {
		missing = append(missing, "version")
	}
	if c.AdminURL == "" {
		missing = append(missing, "adminUrl")
	}
	if len(missing) > 0 {
		return shiperr.NewConfigurationError(
			fmt.Sprintf("client config %s can't be empty", strings.Join(missing, ",")), nil)
	}
	return nil
}

// Validate checks that the selected backend has what it needs to connect.
func (c NamingConfig) Validate() error {
	switch c.Backend {
	case BackendEtcd:
		if len(c.EtcdEndpoints) == 0 {
			return shiperr.NewConfigurationError("etcd backend needs at least one endpoint", nil)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return shiperr.NewConfigurationError("redis backend needs REDIS_ADDR", nil)
		}
	default:
		return shiperr.NewConfigurationError(fmt.Sprintf("unknown naming backend %q", c.Backend), nil)
	}
	if c.TTL <= 0 {
		return shiperr.NewConfigurationError("naming ttl must be positive", nil)
	}
	return nil
}

// LoadConfig loads configuration from environment variables.
// SHIP_PORT, SHIP_CONTEXT_PATH, SHIP_APP_NAME, SHIP_VERSION and SHIP_ADMIN_URL are required.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("SHIP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, shiperr.NewConfigurationError("invalid SHIP_PORT", err)
		}
		cfg.Port = port
	}
	cfg.ContextPath = os.Getenv("SHIP_CONTEXT_PATH")
	cfg.AppName = os.Getenv("SHIP_APP_NAME")
	cfg.Version = os.Getenv("SHIP_VERSION")
	cfg.AdminURL = os.Getenv("SHIP_ADMIN_URL")
	cfg.AdvertiseIP = os.Getenv("SHIP_IP")

	if v, ok := os.LookupEnv("SHIP_IGNORE_PATHS"); ok {
		cfg.IgnorePaths = splitList(v)
	}
	if err := durationEnv("SHIP_NOTIFY_TIMEOUT", &cfg.NotifyTimeout); err != nil {
		return nil, err
	}

	if v := os.Getenv("SHIP_NAMING_BACKEND"); v != "" {
		cfg.Naming.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		cfg.Naming.EtcdEndpoints = splitList(v)
	}
	cfg.Naming.RedisAddr = os.Getenv("REDIS_ADDR")
	if v := os.Getenv("SHIP_NAMING_PREFIX"); v != "" {
		cfg.Naming.Prefix = v
	}
	if err := durationEnv("SHIP_LEASE_TTL", &cfg.Naming.TTL); err != nil {
		return nil, err
	}

	if v := os.Getenv("SHIP_REGISTER_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, shiperr.NewConfigurationError("invalid SHIP_REGISTER_RETRIES", err)
		}
		cfg.Register.Retries = n
	}
	if err := durationEnv("SHIP_REGISTER_TIMEOUT", &cfg.Register.Timeout); err != nil {
		return nil, err
	}
	if v := os.Getenv("SHIP_REGISTER_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 {
			return nil, shiperr.NewConfigurationError("invalid SHIP_REGISTER_RATE", err)
		}
		cfg.Register.Rate = r
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func durationEnv(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return shiperr.NewConfigurationError("invalid "+name, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
