package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

var current atomic.Pointer[Config]

var (
	onReloadMu        sync.Mutex
	onReloadCallbacks []func(*Config)
)

// Get returns the current in-memory config (hot-reloaded when the file changes).
// Falls back to defaults before Set has been called.
func Get() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	return DefaultConfig()
}

// Set sets the current in-memory config. Used at startup and by the file watcher.
func Set(c *Config) {
	if c != nil {
		current.Store(c)
	}
}

// RegisterOnReload registers a callback that runs after config is hot-reloaded.
func RegisterOnReload(fn func(*Config)) {
	onReloadMu.Lock()
	defer onReloadMu.Unlock()
	onReloadCallbacks = append(onReloadCallbacks, fn)
}

func notifyReload(cfg *Config) {
	onReloadMu.Lock()
	cb := make([]func(*Config), len(onReloadCallbacks))
	copy(cb, onReloadCallbacks)
	onReloadMu.Unlock()
	for _, fn := range cb {
		fn(cfg)
	}
}

//go:embed config.example.yaml
var exampleConfigBytes []byte

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromExample unmarshals the embedded config.example.yaml as the default config.
// baseDir is used to resolve relative paths (e.g. store.path).
func LoadFromExample(baseDir string) (*Config, error) {
	cfg, err := parse(exampleConfigBytes, baseDir)
	if err != nil {
		return nil, fmt.Errorf("parse example config: %w", err)
	}
	return cfg, nil
}

func parse(data []byte, baseDir string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	clearUnresolved(cfg)
	ApplyEnvOverrides(cfg)
	applyLoadDefaults(cfg)
	resolveRelativePaths(cfg, baseDir)
	return cfg, nil
}

func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// clearUnresolved blanks credential fields whose ${VAR} had no value, so an unset
// variable never counts as a configured credential.
func clearUnresolved(cfg *Config) {
	for _, p := range []*string{
		&cfg.Upstream.AppID, &cfg.Upstream.KeyID, &cfg.Upstream.Secret,
		&cfg.Store.DSN, &cfg.Store.RedisPassword, &cfg.Events.URL, &cfg.Keepalive.URL,
	} {
		if envVarPattern.MatchString(*p) {
			*p = ""
		}
	}
}

// ApplyEnvOverrides lets the process environment win over the file for the
// variables older deployments used directly.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SUNSHINE_APP_ID"); v != "" {
		cfg.Upstream.AppID = v
	}
	if v := os.Getenv("SUNSHINE_KEY_ID"); v != "" {
		cfg.Upstream.KeyID = v
	}
	if v := os.Getenv("SUNSHINE_SECRET"); v != "" {
		cfg.Upstream.Secret = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func applyLoadDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = def.Upstream.BaseURL
	}
	cfg.Upstream.BaseURL = strings.TrimRight(cfg.Upstream.BaseURL, "/")
	if cfg.Upstream.Auth == "" {
		cfg.Upstream.Auth = def.Upstream.Auth
	}
	if cfg.Upstream.Timeout <= 0 {
		cfg.Upstream.Timeout = def.Upstream.Timeout
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.Prefix == "" {
		cfg.Store.Prefix = def.Store.Prefix
	}
	if cfg.Widget.PollInterval <= 0 {
		cfg.Widget.PollInterval = def.Widget.PollInterval
	}
	if cfg.Widget.MaxAttempts <= 0 {
		cfg.Widget.MaxAttempts = def.Widget.MaxAttempts
	}
	if cfg.Widget.RequestTimeout <= 0 {
		cfg.Widget.RequestTimeout = def.Widget.RequestTimeout
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = def.Events.Exchange
	}
	if cfg.Keepalive.Schedule == "" {
		cfg.Keepalive.Schedule = def.Keepalive.Schedule
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}

func resolveRelativePaths(cfg *Config, baseDir string) {
	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(baseDir, cfg.Store.Path)
	}
	if cfg.Log.File != "" && !filepath.IsAbs(cfg.Log.File) {
		cfg.Log.File = filepath.Join(baseDir, cfg.Log.File)
	}
}

// ResolveHome returns the ADARELAY_HOME directory.
// Priority: ADARELAY_HOME env > ~/.adarelay/
func ResolveHome() string {
	if home := os.Getenv("ADARELAY_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".adarelay"
	}
	return filepath.Join(userHome, ".adarelay")
}

// ResolveConfigPath finds the config file.
// Priority: --config flag > ADARELAY_CONFIG > ADARELAY_HOME/config.yaml
func ResolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("ADARELAY_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ResolveHome(), "config.yaml")
}

// Path returns the process-wide config file path (ResolveConfigPath("")).
func Path() string {
	return ResolveConfigPath("")
}
