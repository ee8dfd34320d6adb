// Package config carries SyncLite's per-run configuration, built with
// viper bound to cobra flags the same way cmd/server/main.go's loadConfig
// and bindWithDefaults do for the teacher's HTTP server. SyncLite's
// surface is much smaller -- no config file sections for blob storage,
// auth, or email -- but the flag/env/default binding shape is unchanged.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultPort = 8080
	EnvPrefix   = "SYNCLITE"
)

// Role mirrors node.Role without importing internal/node, so config stays
// a leaf package.
type Role string

const (
	RoleLeader Role = "leader"
	RolePeer   Role = "peer"
)

// Config is the fully resolved configuration for one synclite process.
type Config struct {
	Dir        string `mapstructure:"dir"`
	Port       int    `mapstructure:"port"`
	LeaderAddr string `mapstructure:"leader"`
	Verbose    bool   `mapstructure:"verbose"`
	Role       Role   `mapstructure:"-"`
}

// LogValue masks nothing sensitive (there are no secrets in this
// config) but keeps the same slog.LogValuer shape cmd/server uses for its
// config so the startup log line stays structured.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("dir", c.Dir),
		slog.Int("port", c.Port),
		slog.String("leader", c.LeaderAddr),
		slog.String("role", string(c.Role)),
		slog.Bool("verbose", c.Verbose),
	)
}

// Validate enforces the invariants loadConfig would otherwise let through
// silently: a workspace directory is mandatory, and a peer must be told
// where its leader lives.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("workspace directory is required")
	}
	if c.Role == RolePeer && c.LeaderAddr == "" {
		return fmt.Errorf("--leader is required when connecting as a peer")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

// LoadServe binds flags for `synclite serve <dir>` and resolves the final
// Config, following loadConfig's viper-new-per-invocation pattern.
func LoadServe(cmd *cobra.Command, args []string) (*Config, error) {
	v := newViper(cmd)
	v.BindPFlag("port", cmd.Flags().Lookup("port"))
	v.SetDefault("port", DefaultPort)

	cfg, err := unmarshal(v, args)
	if err != nil {
		return nil, err
	}
	cfg.Role = RoleLeader

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConnect binds flags for `synclite connect <dir> --leader host:port`.
func LoadConnect(cmd *cobra.Command, args []string) (*Config, error) {
	v := newViper(cmd)
	v.BindPFlag("leader", cmd.Flags().Lookup("leader"))
	v.BindPFlag("port", cmd.Flags().Lookup("port"))
	v.SetDefault("port", 0)

	cfg, err := unmarshal(v, args)
	if err != nil {
		return nil, err
	}
	cfg.Role = RolePeer

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
	v.SetDefault("verbose", false)
	return v
}

func unmarshal(v *viper.Viper, args []string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config read: %w", err)
	}
	if len(args) > 0 {
		cfg.Dir = args[0]
	}
	return &cfg, nil
}
