package config

import "time"

type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream" json:"upstream"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Identity  IdentityConfig  `yaml:"identity" json:"identity"`
	Widget    WidgetConfig    `yaml:"widget" json:"widget"`
	Events    EventsConfig    `yaml:"events" json:"events"`
	Keepalive KeepaliveConfig `yaml:"keepalive" json:"keepalive"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

type ServerConfig struct {
	Port      int    `yaml:"port" json:"port"`
	PublicURL string `yaml:"publicURL" json:"publicURL"` // used in logs and the setup page
}

// UpstreamConfig points at the Sunshine Conversations API. AppID/KeyID/Secret are
// the single-tenant credentials used when a request carries no tenant id.
type UpstreamConfig struct {
	BaseURL string        `yaml:"baseURL" json:"baseURL"`
	Auth    string        `yaml:"auth" json:"auth"` // "basic" | "jwt"
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	AppID   string        `yaml:"appId" json:"appId"`
	KeyID   string        `yaml:"keyId" json:"keyId"`
	Secret  string        `yaml:"secret" json:"-"`
}

// HasCredentials reports whether single-tenant mode is usable.
func (u UpstreamConfig) HasCredentials() bool {
	return u.AppID != "" && u.KeyID != "" && u.Secret != ""
}

type StoreConfig struct {
	Driver        string `yaml:"driver" json:"driver"` // file | sqlite | postgres | redis
	Path          string `yaml:"path" json:"path"`     // file and sqlite
	DSN           string `yaml:"dsn" json:"-"`         // postgres
	RedisAddr     string `yaml:"redisAddr" json:"redisAddr"`
	RedisPassword string `yaml:"redisPassword" json:"-"`
	RedisDB       int    `yaml:"redisDB" json:"redisDB"`
	Prefix        string `yaml:"prefix" json:"prefix"` // redis key prefix
}

type IdentityConfig struct {
	ScopeByTenant bool `yaml:"scopeByTenant" json:"scopeByTenant"`
}

type WidgetConfig struct {
	PollInterval   time.Duration `yaml:"pollInterval" json:"pollInterval"`
	MaxAttempts    int           `yaml:"maxAttempts" json:"maxAttempts"`
	RequestTimeout time.Duration `yaml:"requestTimeout" json:"requestTimeout"`
}

type EventsConfig struct {
	URL      string `yaml:"url" json:"-"`
	Exchange string `yaml:"exchange" json:"exchange"`
}

type KeepaliveConfig struct {
	URL      string `yaml:"url" json:"url"`
	Schedule string `yaml:"schedule" json:"schedule"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`   // debug | info | warn | error
	Format     string `yaml:"format" json:"format"` // text | json
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB" json:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" json:"maxBackups"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 3000,
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://api.smooch.io",
			Auth:    "basic",
			Timeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Driver: "file",
			Prefix: "adarelay:tenant:",
		},
		Widget: WidgetConfig{
			PollInterval:   5 * time.Second,
			MaxAttempts:    60,
			RequestTimeout: 10 * time.Second,
		},
		Events: EventsConfig{
			Exchange: "adarelay.events",
		},
		Keepalive: KeepaliveConfig{
			Schedule: "@every 5m",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}
