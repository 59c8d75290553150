// Package config loads the relay configuration from defaults, an optional
// YAML file, the environment and bound CLI flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Session SessionConfig
	Webhook WebhookConfig
	CORS    CORSConfig
	Log     LogConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string `validate:"required"`
	Environment string `validate:"oneof=development production test"`
	TrustProxy  bool
}

// Debug reports whether internal error details may reach clients.
func (c ServerConfig) Debug() bool {
	return c.Environment == "development"
}

// SessionConfig 描述会话存储与上下文配置。
type SessionConfig struct {
	Timeout       time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`
	MaxPerOrigin  int           `validate:"gt=0"`
	MaxMessages   int           `validate:"gte=0"`
	Mode          string        `validate:"oneof=strict fallback"`
	ContextLimit  int           `validate:"gt=0"`
}

// WebhookConfig 描述下游 webhook。
type WebhookConfig struct {
	URL           string `validate:"required,url"`
	Token         string
	SigningSecret string
	Timeout       time.Duration `validate:"gt=0"`
}

// CORSConfig 描述跨域设置。
type CORSConfig struct {
	AllowedOrigin string `validate:"required"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=json console"`
}

var defaults = map[string]any{
	"server.port":            "3001",
	"server.environment":     "production",
	"server.trust_proxy":     false,
	"session.timeout":        "30m",
	"session.sweep_interval": "5m",
	"session.max_per_origin": 5,
	"session.max_messages":   0,
	"session.mode":           "strict",
	"session.context_limit":  10,
	"webhook.timeout":        "30s",
	"cors.allowed_origin":    "*",
	"log.level":              "info",
	"log.format":             "json",
}

// Environment names are shared with earlier deployments of the relay.
var envBindings = map[string]string{
	"server.port":            "PORT",
	"server.environment":     "NODE_ENV",
	"server.trust_proxy":     "TRUST_PROXY",
	"session.timeout":        "SESSION_TIMEOUT",
	"session.sweep_interval": "SESSION_SWEEP_INTERVAL",
	"session.max_per_origin": "SESSION_MAX_PER_ORIGIN",
	"session.max_messages":   "SESSION_MAX_MESSAGES",
	"session.mode":           "SESSION_MODE",
	"session.context_limit":  "CONTEXT_LIMIT",
	"webhook.url":            "WEBHOOK_URL",
	"webhook.token":          "WEBHOOK_JWT",
	"webhook.signing_secret": "WEBHOOK_JWT_SECRET",
	"webhook.timeout":        "WEBHOOK_TIMEOUT",
	"cors.allowed_origin":    "ALLOWED_ORIGIN",
	"log.level":              "LOG_LEVEL",
	"log.format":             "LOG_FORMAT",
}

// NewViper returns a viper instance with defaults and environment bindings.
// A non-empty configFile is read as YAML by Load.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
	}
	return v
}

// Load 从 viper 的各层来源解析并校验配置。
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	server, err := loadServerConfig(v)
	if err != nil {
		return nil, err
	}

	sess, err := loadSessionConfig(v)
	if err != nil {
		return nil, err
	}

	webhookTimeout, err := parseDuration(v, "webhook.timeout")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:  server,
		Session: sess,
		Webhook: WebhookConfig{
			URL:           strings.TrimSpace(v.GetString("webhook.url")),
			Token:         strings.TrimSpace(v.GetString("webhook.token")),
			SigningSecret: strings.TrimSpace(v.GetString("webhook.signing_secret")),
			Timeout:       webhookTimeout,
		},
		CORS: CORSConfig{AllowedOrigin: strings.TrimSpace(v.GetString("cors.allowed_origin"))},
		Log: LogConfig{
			Level:  strings.ToLower(strings.TrimSpace(v.GetString("log.level"))),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("log.format"))),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(v *viper.Viper) (ServerConfig, error) {
	port := strings.TrimSpace(v.GetString("server.port"))
	if port == "" {
		port = "3001"
	}

	cfg := ServerConfig{
		Environment: strings.TrimSpace(v.GetString("server.environment")),
		TrustProxy:  v.GetBool("server.trust_proxy"),
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3001" 或 "127.0.0.1:3001"。
		cfg.Addr = port
		return cfg, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

func loadSessionConfig(v *viper.Viper) (SessionConfig, error) {
	timeout, err := parseDuration(v, "session.timeout")
	if err != nil {
		return SessionConfig{}, err
	}

	sweep, err := parseDuration(v, "session.sweep_interval")
	if err != nil {
		return SessionConfig{}, err
	}

	ints := make(map[string]int, 3)
	for _, key := range []string{"session.max_per_origin", "session.max_messages", "session.context_limit"} {
		n, err := parseInt(v, key)
		if err != nil {
			return SessionConfig{}, err
		}
		ints[key] = n
	}

	return SessionConfig{
		Timeout:       timeout,
		SweepInterval: sweep,
		MaxPerOrigin:  ints["session.max_per_origin"],
		MaxMessages:   ints["session.max_messages"],
		Mode:          strings.ToLower(strings.TrimSpace(v.GetString("session.mode"))),
		ContextLimit:  ints["session.context_limit"],
	}, nil
}

// parseDuration accepts Go duration strings ("90s", "30m") and bare integers,
// which are read as milliseconds.
func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", envBindings[key], raw, err)
	}
	return d, nil
}

func parseInt(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", envBindings[key], raw, err)
	}
	return n, nil
}
