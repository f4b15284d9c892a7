package mqtt

import "time"

// Config holds MQTT publisher configuration.
type Config struct {
	BrokerURL   string
	Username    string
	Password    string //nolint:gosec // G101: config field name, not a credential
	ClientID    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	Timeout     time.Duration
}

// DefaultConfig returns defaults for the MQTT publisher. An empty broker
// URL disables publishing.
func DefaultConfig() Config {
	return Config{
		ClientID:    "ztpserver",
		TopicPrefix: "ztpserver",
		QoS:         1,
		Timeout:     10 * time.Second,
	}
}
