// Package config loads the keychain server configuration from an optional
// YAML file and KEYCHAIN_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/layer-3/keychain/service"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreBolt   = "bolt"

	BrokerGoChannel = "gochannel"
	BrokerRedis     = "redis"

	ApprovalInProcess = "in-process"
	ApprovalDetached  = "detached"
)

type Config struct {
	Listen    string `yaml:"listen"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Store     string `yaml:"store"`
	StorePath string `yaml:"store_path"`
	RedisURL  string `yaml:"redis_url"`
	Broker    string `yaml:"broker"`

	// AccountURL is the JSON-RPC endpoint of the account component.
	AccountURL string `yaml:"account_url"`
	// SigningKeyFile is a PEM P-256 private key that signs approval records.
	// A key is generated at startup when empty.
	SigningKeyFile string `yaml:"signing_key_file"`

	ApprovalMode    string        `yaml:"approval_mode"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	CallbackTimeout time.Duration `yaml:"callback_timeout"`
	RedirectParam   string        `yaml:"redirect_param"`
	ConnectorID     string        `yaml:"connector_id"`
}

// Default returns the configuration of an in-memory, single-process keychain.
func Default() Config {
	return Config{
		Listen:          ":9000",
		LogLevel:        "info",
		LogFormat:       "console",
		Store:           StoreMemory,
		StorePath:       "keychain.db",
		RedisURL:        "redis://localhost:6379/0",
		Broker:          BrokerGoChannel,
		AccountURL:      "http://localhost:8545",
		ApprovalMode:    ApprovalInProcess,
		PollInterval:    service.DefaultPollInterval,
		ApprovalTimeout: service.DefaultApprovalTimeout,
		SessionTTL:      service.DefaultSessionTTL,
		CallbackTimeout: 10 * time.Second,
		RedirectParam:   service.DefaultRedirectParam,
		ConnectorID:     service.DefaultConnectorID,
	}
}

// Load reads path (if not empty) over the defaults, then applies the
// process environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with lookup standing in for the process environment.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"KEYCHAIN_LISTEN":           &c.Listen,
		"KEYCHAIN_LOG_LEVEL":        &c.LogLevel,
		"KEYCHAIN_LOG_FORMAT":       &c.LogFormat,
		"KEYCHAIN_STORE":            &c.Store,
		"KEYCHAIN_STORE_PATH":       &c.StorePath,
		"REDIS_URL":                 &c.RedisURL,
		"KEYCHAIN_BROKER":           &c.Broker,
		"KEYCHAIN_ACCOUNT_URL":      &c.AccountURL,
		"KEYCHAIN_SIGNING_KEY_FILE": &c.SigningKeyFile,
		"KEYCHAIN_APPROVAL_MODE":    &c.ApprovalMode,
		"KEYCHAIN_REDIRECT_PARAM":   &c.RedirectParam,
		"KEYCHAIN_CONNECTOR_ID":     &c.ConnectorID,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"KEYCHAIN_POLL_INTERVAL":    &c.PollInterval,
		"KEYCHAIN_APPROVAL_TIMEOUT": &c.ApprovalTimeout,
		"KEYCHAIN_SESSION_TTL":      &c.SessionTTL,
		"KEYCHAIN_CALLBACK_TIMEOUT": &c.CallbackTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreRedis:
	case StoreBolt:
		if c.StorePath == "" {
			return errors.New("store_path is required for the bolt store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Broker {
	case BrokerGoChannel, BrokerRedis:
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	switch c.ApprovalMode {
	case ApprovalInProcess, ApprovalDetached:
	default:
		return fmt.Errorf("unknown approval_mode %q", c.ApprovalMode)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.PollInterval <= 0 || c.ApprovalTimeout <= 0 || c.SessionTTL <= 0 {
		return errors.New("poll_interval, approval_timeout and session_ttl must be positive")
	}
	return nil
}

// Keychain returns the state machine settings.
func (c Config) Keychain() service.Config {
	return service.Config{
		PollInterval:    c.PollInterval,
		ApprovalTimeout: c.ApprovalTimeout,
		SessionTTL:      c.SessionTTL,
		Detached:        c.ApprovalMode == ApprovalDetached,
		ConnectorID:     c.ConnectorID,
	}
}

// Logger builds the root logger.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
