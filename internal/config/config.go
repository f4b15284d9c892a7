// Package config loads ztpserver configuration from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/HerbHall/ztpserver/pkg/models"
)

// Config is the fully resolved server configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Repository   RepositoryConfig   `mapstructure:"repository"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Neighbordb   NeighbordbConfig   `mapstructure:"neighbordb"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	History      HistoryConfig      `mapstructure:"history"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Events       EventsConfig       `mapstructure:"events"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	// URL is the externally reachable base URL used in Location headers
	// and action URLs. Empty means paths are served relative.
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// Addr returns the listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// RepositoryConfig selects where node artifacts are stored.
type RepositoryConfig struct {
	Backend  string `mapstructure:"backend" validate:"oneof=fs sqlite"`
	DataRoot string `mapstructure:"data_root" validate:"required"`
	Database string `mapstructure:"database" validate:"required_if=Backend sqlite"`
}

// ProvisioningConfig controls the node workflows.
type ProvisioningConfig struct {
	Identifier                string `mapstructure:"identifier" validate:"oneof=serialnumber systemmac"`
	DisableTopologyValidation bool   `mapstructure:"disable_topology_validation"`
	SerializeRegistrations    bool   `mapstructure:"serialize_registrations"`
}

// IdentifierField returns the configured identifier as a typed value.
func (c ProvisioningConfig) IdentifierField() models.IdentifierField {
	return models.IdentifierField(c.Identifier)
}

// NeighbordbConfig locates the topology pattern file inside the repository.
type NeighbordbConfig struct {
	Path  string `mapstructure:"path" validate:"required"`
	Watch bool   `mapstructure:"watch"`
}

// WebhookConfig configures the provisioning event notifier.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HistoryConfig configures the provisioning event journal.
type HistoryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Database string `mapstructure:"database" validate:"required_if=Enabled true"`
}

// RateLimitConfig configures the per-IP token bucket.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"gt=0"`
	Burst int     `mapstructure:"burst" validate:"gt=0"`
	// TrustForwarded keys the limit on X-Forwarded-For; enable only
	// behind a proxy that sets it.
	TrustForwarded bool `mapstructure:"trust_forwarded"`
}

// AuthConfig holds the secret that event-stream and webhook tokens are
// derived from. Empty disables both.
type AuthConfig struct {
	Secret string `mapstructure:"secret" validate:"omitempty,min=16"`
}

// EventsConfig controls the WebSocket event stream.
type EventsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size" validate:"gt=0"`
}

// MQTTConfig configures the broker publisher. Empty BrokerURL disables it.
type MQTTConfig struct {
	BrokerURL   string        `mapstructure:"broker_url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix" validate:"required"`
	QoS         int           `mapstructure:"qos" validate:"min=0,max=2"`
	Retain      bool          `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.url", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("repository.backend", "fs")
	v.SetDefault("repository.data_root", "/usr/share/ztpserver")
	v.SetDefault("repository.database", "./data/ztpserver.db")
	v.SetDefault("provisioning.identifier", string(models.IdentifierSerialNumber))
	v.SetDefault("provisioning.disable_topology_validation", false)
	v.SetDefault("provisioning.serialize_registrations", true)
	v.SetDefault("neighbordb.path", "neighbordb")
	v.SetDefault("neighbordb.watch", true)
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.database", "./data/history.db")
	v.SetDefault("ratelimit.rps", 50.0)
	v.SetDefault("ratelimit.burst", 100)
	v.SetDefault("ratelimit.trust_forwarded", false)
	v.SetDefault("auth.secret", "")
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.buffer_size", 256)
	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "ztpserver")
	v.SetDefault("mqtt.topic_prefix", "ztpserver")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.timeout", "10s")
}

// LoadViper reads configuration from file and environment variables.
// A missing config file is not an error; defaults apply.
func LoadViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ztpserver")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ztpserver")
	}

	// Environment variable support: ZTP_SERVER_PORT=9090
	v.SetEnvPrefix("ZTP")
	v.SetEnvKeyReplacer(envReplacer())
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}

func envReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// FromViper unmarshals and validates a Config.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is LoadViper followed by FromViper.
func Load(configPath string) (*Config, *viper.Viper, error) {
	v, err := LoadViper(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return errors.New("invalid config: webhook.enabled requires webhook.url")
	}
	return nil
}
