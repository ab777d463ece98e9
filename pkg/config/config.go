// Package config provides YAML-based configuration loading for ircmesh nodes.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/spf13/viper"

    "github.com/inspircd/inspircd-sub009/pkg/handshake"
    "github.com/inspircd/inspircd-sub009/pkg/socketengine"
)

// Config is the root application configuration.
type Config struct {
    Server   ServerConfig   `mapstructure:"server"`
    Engine   EngineConfig   `mapstructure:"engine"`
    Mesh     MeshConfig     `mapstructure:"mesh"`
    Classes  []ClassConfig  `mapstructure:"classes"`
    Links    []LinkConfig   `mapstructure:"links"`
    Resolver ResolverConfig `mapstructure:"resolver"`
    Metrics  MetricsConfig  `mapstructure:"metrics"`
    Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig identifies this server on the mesh.
type ServerConfig struct {
    Name        string         `mapstructure:"name"`
    Description string         `mapstructure:"description"`
    Version     string         `mapstructure:"version"`
    Listen      []ListenConfig `mapstructure:"listen"`
}

// ListenConfig is one inbound endpoint. Address is host:port for TCP or
// mem://name for the in-process transport.
type ListenConfig struct {
    Address string `mapstructure:"address"`
    Class   string `mapstructure:"class"`
}

// EngineConfig selects the socket engine.
type EngineConfig struct {
    // Backend: auto, epoll, kqueue, poll, select
    Backend        string        `mapstructure:"backend"`
    MaxConnections int           `mapstructure:"max_connections"`
    PollTimeout    time.Duration `mapstructure:"poll_timeout"`
}

// MeshConfig tunes routing and link supervision.
type MeshConfig struct {
    DedupWindow      int           `mapstructure:"dedup_window"`
    HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
    Relay            bool          `mapstructure:"relay"`

    BackoffInitial time.Duration `mapstructure:"backoff_initial"`
    BackoffMax     time.Duration `mapstructure:"backoff_max"`
    BackoffJitter  time.Duration `mapstructure:"backoff_jitter"`
}

// ResolverConfig bounds background DNS lookups.
type ResolverConfig struct {
    Workers int           `mapstructure:"workers"`
    Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the HTTP surface for /metrics and /status. An empty
// Listen disables it.
type MetricsConfig struct {
    Listen string `mapstructure:"listen"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        Server: ServerConfig{
            Name:        "irc.example.net",
            Description: "ircmesh node",
            Version:     "ircmesh-1",
            Listen:      []ListenConfig{{Address: "0.0.0.0:7000", Class: DefaultClassName}},
        },
        Engine: EngineConfig{
            Backend:        "auto",
            MaxConnections: 1024,
            PollTimeout:    socketengine.DefaultPollTimeout,
        },
        Mesh: MeshConfig{
            DedupWindow:      128,
            HandshakeTimeout: 30 * time.Second,
            Relay:            true,
            BackoffInitial:   500 * time.Millisecond,
            BackoffMax:       30 * time.Second,
            BackoffJitter:    100 * time.Millisecond,
        },
        Classes:  []ClassConfig{DefaultClass()},
        Resolver: ResolverConfig{Workers: 4, Timeout: 5 * time.Second},
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/ircmesh.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix IRCMESH and `.`/`-` are replaced with `_`.
// Example: IRCMESH_SERVER_NAME=hub.example.net
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("IRCMESH")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()
    seed(v, cfg)

    if path == "" {
        if envPath := os.Getenv("IRCMESH_CONFIG"); envPath != "" {
            path = envPath
        }
    }
    if path != "" {
        v.SetConfigFile(path)
    } else {
        v.SetConfigName("ircmesh")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".ircmesh"))
        }
    }

    if err := v.ReadInConfig(); err != nil {
        var notFound viper.ConfigFileNotFoundError
        if !errors.As(err, &notFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    // Lists from the file replace the defaults instead of merging into them.
    if v.InConfig("classes") {
        cfg.Classes = nil
    }
    if v.InConfig("server.listen") {
        cfg.Server.Listen = nil
    }
    if v.InConfig("log.outputs") {
        cfg.Log.Outputs = nil
    }
    if err := v.Unmarshal(cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }
    if err := cfg.Validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

// seed registers scalar defaults so env-only configs work. List sections are
// taken from the file or left at their defaults.
func seed(v *viper.Viper, cfg *Config) {
    v.SetDefault("server.name", cfg.Server.Name)
    v.SetDefault("server.description", cfg.Server.Description)
    v.SetDefault("server.version", cfg.Server.Version)
    v.SetDefault("engine.backend", cfg.Engine.Backend)
    v.SetDefault("engine.max_connections", cfg.Engine.MaxConnections)
    v.SetDefault("engine.poll_timeout", cfg.Engine.PollTimeout)
    v.SetDefault("mesh.dedup_window", cfg.Mesh.DedupWindow)
    v.SetDefault("mesh.handshake_timeout", cfg.Mesh.HandshakeTimeout)
    v.SetDefault("mesh.relay", cfg.Mesh.Relay)
    v.SetDefault("mesh.backoff_initial", cfg.Mesh.BackoffInitial)
    v.SetDefault("mesh.backoff_max", cfg.Mesh.BackoffMax)
    v.SetDefault("mesh.backoff_jitter", cfg.Mesh.BackoffJitter)
    v.SetDefault("resolver.workers", cfg.Resolver.Workers)
    v.SetDefault("resolver.timeout", cfg.Resolver.Timeout)
    v.SetDefault("metrics.listen", cfg.Metrics.Listen)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
}

// Validate normalises c in place and reports the first invalid setting. Load
// calls it; programmatic configs must call it themselves.
func (c *Config) Validate() error {
    switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
    case "debug", "info", "warn", "warning", "error":
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }
    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }

    c.Server.Name = strings.ToLower(strings.TrimSpace(c.Server.Name))
    if !handshake.ValidServerName(c.Server.Name) {
        return fmt.Errorf("invalid server.name: %q", c.Server.Name)
    }
    if _, err := socketengine.ParseBackend(c.Engine.Backend); err != nil {
        return fmt.Errorf("invalid engine.backend: %w", err)
    }
    if c.Engine.MaxConnections <= 0 {
        return fmt.Errorf("invalid engine.max_connections: %d", c.Engine.MaxConnections)
    }
    if c.Engine.PollTimeout <= 0 {
        c.Engine.PollTimeout = socketengine.DefaultPollTimeout
    }
    if c.Mesh.BackoffMax < c.Mesh.BackoffInitial {
        c.Mesh.BackoffMax = c.Mesh.BackoffInitial
    }
    if c.Resolver.Workers <= 0 {
        c.Resolver.Workers = 1
    }

    if err := c.validateClasses(); err != nil {
        return err
    }
    for i := range c.Server.Listen {
        l := &c.Server.Listen[i]
        if strings.TrimSpace(l.Address) == "" {
            return fmt.Errorf("server.listen[%d]: empty address", i)
        }
        if l.Class == "" {
            l.Class = DefaultClassName
        }
        if _, ok := c.Class(l.Class); !ok {
            return fmt.Errorf("server.listen[%d]: unknown class %q", i, l.Class)
        }
    }
    return c.validateLinks()
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
