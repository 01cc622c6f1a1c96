// Package config loads this service's YAML configuration through viper,
// the way protocol-gateway's sibling services declare it as a direct
// dependency even where a retrieved config.go reached for yaml.v3 by hand.
// Using viper here gets env-override binding (SUBSCRIPTIOND_<SECTION>_<KEY>,
// through viper's key replacer) without hand-rolling an env reader; ${VAR}
// placeholders inside the YAML file are not expanded.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nexus-edge/opcua-subscriptiond/internal/client"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
	"github.com/spf13/viper"
)

// Config is the complete service configuration: the subscription engine's
// clamp table, the client state machine's connection tunables, the alarm
// overlay's recall-window size, and the ambient logging/HTTP/MQTT sections
// every binary in this module shares.
type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Client  ClientConfig  `mapstructure:"client"`
	Alarm   AlarmConfig   `mapstructure:"alarm"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig maps onto domain.EngineLimits, the engine's clamp table.
type EngineConfig struct {
	MinSubscriptionInterval      time.Duration `mapstructure:"min_subscription_interval"`
	MaxSubscriptionInterval      time.Duration `mapstructure:"max_subscription_interval"`
	MinKeepAlivePublishIntervals uint32        `mapstructure:"min_keepalive_publish_intervals"`
	MaxKeepAlivePublishIntervals uint32        `mapstructure:"max_keepalive_publish_intervals"`
	MinLifetimePublishIntervals  uint32        `mapstructure:"min_lifetime_publish_intervals"`
	MaxLifetimePublishIntervals  uint32        `mapstructure:"max_lifetime_publish_intervals"`
	MaxOperationsPerMsg          uint32        `mapstructure:"max_operations_per_msg"`
	MaxPublishRequestsPerSub     uint32        `mapstructure:"max_publish_requests_per_sub"`
	MaxRepublishNotifsPerSub     uint32        `mapstructure:"max_republish_notifs_per_sub"`
	MaxSubscriptionsPerServer    uint32        `mapstructure:"max_subscriptions_per_server"`
	MaxEventIDsRecorded          uint32        `mapstructure:"max_event_ids_recorded"`
	DefaultDataQueueSize         uint32        `mapstructure:"default_data_queue_size"`
	DefaultEventQueueSize        uint32        `mapstructure:"default_event_queue_size"`
}

// ClientConfig maps onto client.ConnectionConfig.
type ClientConfig struct {
	PublishingInterval  time.Duration `mapstructure:"publishing_interval"`
	RequestedKeepAlive  uint32        `mapstructure:"requested_keepalive"`
	RequestedLifetime   uint32        `mapstructure:"requested_lifetime"`
	RequestedMaxNotifs  uint32        `mapstructure:"requested_max_notifs"`
	TargetPublishTokens uint32        `mapstructure:"target_publish_tokens"`
	SetupTimeout        time.Duration `mapstructure:"setup_timeout"`
	ReconnectBackoffMin time.Duration `mapstructure:"reconnect_backoff_min"`
	ReconnectBackoffMax time.Duration `mapstructure:"reconnect_backoff_max"`
}

// AlarmConfig governs the Alarm & Conditions overlay.
type AlarmConfig struct {
	EventIDRecallWindow int    `mapstructure:"event_id_recall_window"`
	AutoAcknowledgeable bool   `mapstructure:"auto_acknowledgeable"`
	AutoConfirmable     bool   `mapstructure:"auto_confirmable"`
	AutoRetain          bool   `mapstructure:"auto_retain"`
	MQTTBridgeTopic     string `mapstructure:"mqtt_bridge_topic"`
}

// MQTTConfig configures the alarm-to-MQTT bridge (internal/notify), kept
// kept separate from an MQTT ingress section since this module only ever
// publishes, never subscribes.
type MQTTConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            byte          `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// Load reads path (if it exists) and layers environment overrides on top,
// following the same defaults-then-env-then-validate shape as
// data-ingestion's Load, but through viper's SetDefault/AutomaticEnv/Unmarshal
// instead of hand-rolled yaml.Unmarshal and fmt.Sscanf.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	applyDefaults(v)

	v.SetEnvPrefix("SUBSCRIPTIOND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// SetConfigFile pins an explicit path, which bypasses viper's own
	// search-path miss (viper.ConfigFileNotFoundError) in favor of a plain
	// os.PathError, so the missing-file case is checked here instead.
	if _, statErr := os.Stat(path); statErr == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("stat config file: %w", statErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "opcua-subscriptiond")
	v.SetDefault("service.environment", "development")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.min_subscription_interval", 50*time.Millisecond)
	v.SetDefault("engine.max_subscription_interval", 24*time.Hour)
	v.SetDefault("engine.min_keepalive_publish_intervals", 1)
	v.SetDefault("engine.max_keepalive_publish_intervals", 10000)
	v.SetDefault("engine.min_lifetime_publish_intervals", 3)
	v.SetDefault("engine.max_lifetime_publish_intervals", 10000)
	v.SetDefault("engine.max_operations_per_msg", 2500)
	v.SetDefault("engine.max_publish_requests_per_sub", 20)
	v.SetDefault("engine.max_republish_notifs_per_sub", 100)
	v.SetDefault("engine.max_subscriptions_per_server", 1000)
	v.SetDefault("engine.max_event_ids_recorded", 100)
	v.SetDefault("engine.default_data_queue_size", 1)
	v.SetDefault("engine.default_event_queue_size", 10)

	v.SetDefault("client.publishing_interval", 1*time.Second)
	v.SetDefault("client.requested_keepalive", 10)
	v.SetDefault("client.requested_lifetime", 60)
	v.SetDefault("client.requested_max_notifs", 1000)
	v.SetDefault("client.target_publish_tokens", 3)
	v.SetDefault("client.setup_timeout", 30*time.Second)
	v.SetDefault("client.reconnect_backoff_min", 500*time.Millisecond)
	v.SetDefault("client.reconnect_backoff_max", 30*time.Second)

	v.SetDefault("alarm.event_id_recall_window", 100)
	v.SetDefault("alarm.auto_acknowledgeable", false)
	v.SetDefault("alarm.auto_confirmable", false)
	v.SetDefault("alarm.auto_retain", true)
	v.SetDefault("alarm.mqtt_bridge_topic", "opcua/alarms")

	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "opcua-subscriptiond")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.reconnect_delay", 5*time.Second)
}

// ToEngineLimits converts the engine section into domain.EngineLimits.
func (c EngineConfig) ToEngineLimits() domain.EngineLimits {
	return domain.EngineLimits{
		MinSubscriptionInterval:      c.MinSubscriptionInterval,
		MaxSubscriptionInterval:      c.MaxSubscriptionInterval,
		MinKeepAlivePublishIntervals: c.MinKeepAlivePublishIntervals,
		MaxKeepAlivePublishIntervals: c.MaxKeepAlivePublishIntervals,
		MinLifetimePublishIntervals:  c.MinLifetimePublishIntervals,
		MaxLifetimePublishIntervals:  c.MaxLifetimePublishIntervals,
		MaxOperationsPerMsg:          c.MaxOperationsPerMsg,
		MaxPublishRequestsPerSub:     c.MaxPublishRequestsPerSub,
		MaxRepublishNotifsPerSub:     c.MaxRepublishNotifsPerSub,
		MaxSubscriptionsPerServer:    c.MaxSubscriptionsPerServer,
		MaxEventIDsRecorded:          c.MaxEventIDsRecorded,
		DefaultDataQueueSize:         c.DefaultDataQueueSize,
		DefaultEventQueueSize:        c.DefaultEventQueueSize,
	}
}

// ToConnectionConfig converts the client section into client.ConnectionConfig.
func (c ClientConfig) ToConnectionConfig() client.ConnectionConfig {
	return client.ConnectionConfig{
		PublishingInterval:  c.PublishingInterval,
		RequestedKeepAlive:  c.RequestedKeepAlive,
		RequestedLifetime:   c.RequestedLifetime,
		RequestedMaxNotifs:  c.RequestedMaxNotifs,
		TargetPublishTokens: c.TargetPublishTokens,
		SetupTimeout:        c.SetupTimeout,
		ReconnectBackoffMin: c.ReconnectBackoffMin,
		ReconnectBackoffMax: c.ReconnectBackoffMax,
	}
}

func validate(cfg *Config) error {
	if cfg.Engine.MaxKeepAlivePublishIntervals < cfg.Engine.MinKeepAlivePublishIntervals {
		return fmt.Errorf("engine.max_keepalive_publish_intervals must be >= min_keepalive_publish_intervals")
	}
	if cfg.Engine.MaxLifetimePublishIntervals < cfg.Engine.MinLifetimePublishIntervals {
		return fmt.Errorf("engine.max_lifetime_publish_intervals must be >= min_lifetime_publish_intervals")
	}
	if cfg.Engine.MaxSubscriptionsPerServer < 1 {
		return fmt.Errorf("engine.max_subscriptions_per_server must be at least 1")
	}
	if cfg.Client.TargetPublishTokens < 1 {
		return fmt.Errorf("client.target_publish_tokens must be at least 1")
	}
	if cfg.Service.Environment == "production" && cfg.MQTT.Password == "" && cfg.MQTT.Username != "" {
		return fmt.Errorf("mqtt.password is required in production when mqtt.username is set")
	}
	return nil
}
