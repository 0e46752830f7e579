// Package config loads server configuration and the optional node inventory
// file used to bootstrap the cluster.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/SandrickPro/packsched/pkg/models"
)

// Server holds all serve-mode settings.
type Server struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`
	LogJSON    bool   `mapstructure:"log_json"`

	Archive struct {
		// Driver is one of "memory", "sqlite", "postgres".
		Driver string `mapstructure:"driver"`
		// DSN is the SQLite path or Postgres connection string.
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"archive"`

	Dispatch struct {
		Interval     time.Duration `mapstructure:"interval"`
		MaxBackoff   time.Duration `mapstructure:"max_backoff"`
		MaxQueueTime time.Duration `mapstructure:"max_queue_time"`
	} `mapstructure:"dispatch"`

	Health struct {
		CheckInterval    time.Duration `mapstructure:"check_interval"`
		HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	} `mapstructure:"health"`

	Retry struct {
		Enabled     bool `mapstructure:"enabled"`
		MaxAttempts int  `mapstructure:"max_attempts"`
	} `mapstructure:"retry"`

	RateLimit struct {
		RPS   float64 `mapstructure:"rps"`
		Burst int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`

	Tracing struct {
		Enabled  bool   `mapstructure:"enabled"`
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"tracing"`

	// Inventory is the path to a YAML node inventory loaded at startup.
	Inventory string `mapstructure:"inventory"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("archive.driver", "memory")
	v.SetDefault("dispatch.interval", 2*time.Second)
	v.SetDefault("dispatch.max_backoff", 30*time.Second)
	v.SetDefault("dispatch.max_queue_time", time.Duration(0))
	v.SetDefault("health.check_interval", 5*time.Second)
	v.SetDefault("health.heartbeat_timeout", 2*time.Minute)
	v.SetDefault("retry.enabled", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("rate_limit.rps", 50.0)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
}

// LoadServer reads server settings from the given file (optional) and
// PACKSCHED_* environment variables.
func LoadServer(path string) (*Server, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PACKSCHED")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// NodeSpec is one entry in the inventory file.
type NodeSpec struct {
	Name      string                `yaml:"name"`
	Labels    map[string]string     `yaml:"labels"`
	Resources models.ResourceVector `yaml:"resources"`
}

type inventoryFile struct {
	Nodes []NodeSpec `yaml:"nodes"`
}

// LoadInventory parses a YAML node inventory into nodes ready for
// registration.
func LoadInventory(path string) ([]*models.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory %s: %w", path, err)
	}

	var inv inventoryFile
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}

	nodes := make([]*models.Node, 0, len(inv.Nodes))
	for i, spec := range inv.Nodes {
		if spec.Name == "" {
			return nil, fmt.Errorf("inventory %s: node %d has no name", path, i)
		}
		if spec.Resources.HasNegative() {
			return nil, fmt.Errorf("inventory %s: node %q has negative capacity", path, spec.Name)
		}
		nodes = append(nodes, &models.Node{
			Name:        spec.Name,
			Total:       spec.Resources,
			Labels:      spec.Labels,
			Healthy:     true,
			Schedulable: true,
		})
	}
	return nodes, nil
}
