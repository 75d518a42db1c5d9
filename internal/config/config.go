package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the gateway and local node configuration.
type Config struct {
	Env       string          `yaml:"env"`
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
	Search    SearchConfig    `yaml:"search"`
	Assets    AssetsConfig    `yaml:"assets"`
	Directory DirectoryConfig `yaml:"directory"`
	Node      NodeConfig      `yaml:"node"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

type HTTPConfig struct {
	Port            int `yaml:"port"`
	Workers         int `yaml:"workers"`
	MaxConnections  int `yaml:"max_connections"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int `yaml:"idle_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

type SearchConfig struct {
	Endpoint          string `yaml:"endpoint"`
	DocumentsLocation string `yaml:"documents_location"`
	RPCTimeoutMs      int    `yaml:"rpc_timeout_ms"` // 0 = wait for the coordinator indefinitely
}

// AssetsConfig points at the UI bundle. An empty Dir serves the assets
// compiled into the binary.
type AssetsConfig struct {
	Dir   string `yaml:"dir"`
	Base  string `yaml:"base"`
	Entry string `yaml:"entry"`
}

type DirectoryConfig struct {
	Driver       string      `yaml:"driver"` // static, redis
	Coordinators []string    `yaml:"coordinators"`
	Redis        RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	Key      string   `yaml:"key"`
	TTLSec   int      `yaml:"ttl_sec"`
}

// NodeConfig configures the local search coordinator.
type NodeConfig struct {
	Port         int    `yaml:"port"`
	DataDir      string `yaml:"data_dir"`
	DocsDir      string `yaml:"docs_dir"`
	AdvertiseURL string `yaml:"advertise_url"`
	HeartbeatSec int    `yaml:"heartbeat_sec"`
}

// Load reads path, expands ${VAR} references, applies defaults and
// validates. An empty path yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(expandEnvVars(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 9000
	}
	if c.HTTP.Workers <= 0 {
		c.HTTP.Workers = 8
	}
	if c.HTTP.MaxConnections <= 0 {
		c.HTTP.MaxConnections = 1024
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.IdleTimeoutSec <= 0 {
		c.HTTP.IdleTimeoutSec = 5
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Search.Endpoint == "" {
		c.Search.Endpoint = "/documents_search"
	}
	if c.Search.DocumentsLocation == "" {
		c.Search.DocumentsLocation = "documents/"
	}
	if c.Assets.Base == "" {
		c.Assets.Base = "ui_assets"
	}
	if c.Assets.Entry == "" {
		c.Assets.Entry = "index.html"
	}
	if c.Directory.Driver == "" {
		c.Directory.Driver = "static"
	}
	if c.Directory.Redis.Key == "" {
		c.Directory.Redis.Key = "search:coordinators"
	}
	if c.Directory.Redis.TTLSec <= 0 {
		c.Directory.Redis.TTLSec = 15
	}
	if c.Node.Port == 0 {
		c.Node.Port = 8081
	}
	if c.Node.DataDir == "" {
		c.Node.DataDir = "./data"
	}
	if c.Node.HeartbeatSec <= 0 {
		c.Node.HeartbeatSec = 5
	}
}

func (c *Config) Validate() error {
	switch c.Env {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("env must be local, dev or prod, got %q", c.Env)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 0 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.MaxConnections < c.HTTP.Workers {
		return fmt.Errorf("http.max_connections (%d) must be at least http.workers (%d)", c.HTTP.MaxConnections, c.HTTP.Workers)
	}
	if c.Node.Port < 0 || c.Node.Port > 65535 {
		return fmt.Errorf("node.port must be between 0 and 65535, got %d", c.Node.Port)
	}
	if !strings.HasPrefix(c.Search.Endpoint, "/") || c.Search.Endpoint == "/" || c.Search.Endpoint == "/status" {
		return fmt.Errorf("search.endpoint must be a path other than / and /status, got %q", c.Search.Endpoint)
	}
	if c.Search.RPCTimeoutMs < 0 {
		return fmt.Errorf("search.rpc_timeout_ms must not be negative")
	}
	switch c.Directory.Driver {
	case "static":
	case "redis":
		if len(c.Directory.Redis.Addrs) == 0 {
			return fmt.Errorf("directory.redis.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("directory.driver must be \"static\" or \"redis\", got %q", c.Directory.Driver)
	}
	return nil
}

func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.Search.RPCTimeoutMs) * time.Millisecond
}

func (c *Config) DirectoryTTL() time.Duration {
	return time.Duration(c.Directory.Redis.TTLSec) * time.Second
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (h HTTPConfig) ReadTimeout() time.Duration  { return seconds(h.ReadTimeoutSec) }
func (h HTTPConfig) WriteTimeout() time.Duration { return seconds(h.WriteTimeoutSec) }
func (h HTTPConfig) IdleTimeout() time.Duration  { return seconds(h.IdleTimeoutSec) }
func (h HTTPConfig) ShutdownTimeout() time.Duration {
	return seconds(h.ShutdownSec)
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		name, fallback, hasDefault := strings.Cut(string(match[2:len(match)-1]), ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = fallback
		}
		return []byte(val)
	})
}
