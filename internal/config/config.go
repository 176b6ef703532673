package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the bridge-wide configuration: everything except the
// device list, which internal/manager loads separately (file beats
// env beats a single mock device).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Poller   PollerConfig   `mapstructure:"poller"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Auth     AuthConfig     `mapstructure:"auth"`
	DataDir  string         `mapstructure:"data_dir"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig backs the history store only; device/rule state is
// atomic JSON, never this database.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// GetDSN returns the driver-appropriate connection string.
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver != "postgres" {
		return c.DSN
	}
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

type MQTTConfig struct {
	Broker          string `mapstructure:"broker"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	ClientID        string `mapstructure:"client_id"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	Discovery       bool   `mapstructure:"discovery"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
	OfflineQueueCap int    `mapstructure:"offline_queue_cap"`
}

// PollerConfig carries the defaults the bridge manager applies to any
// device that does not override them.
type PollerConfig struct {
	IntervalMS       int           `mapstructure:"interval_ms"`
	TransportTimeout time.Duration `mapstructure:"transport_timeout"`
	TransportRetries int           `mapstructure:"transport_retries"`
	StaggerMS        int           `mapstructure:"stagger_ms"`
	DegradedAfter    int           `mapstructure:"degraded_after"`
	RecoveringAfter  int           `mapstructure:"recovering_after"`
}

// HistoryConfig governs the history store's write coalescing and
// retention sweep.
type HistoryConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	CoalesceCount int `mapstructure:"coalesce_count"`
	CoalesceMS    int `mapstructure:"coalesce_ms"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// AuthConfig gates mutation endpoints behind a session cookie when a
// web password is set; health is never gated.
type AuthConfig struct {
	WebPassword   string `mapstructure:"web_password"`
	SessionSecret string `mapstructure:"session_secret"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/data")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("PDU_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("data_dir", "./data")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/history.db")

	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "pdu-bridge")
	v.SetDefault("mqtt.topic_prefix", "pdu")
	v.SetDefault("mqtt.discovery", true)
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")
	v.SetDefault("mqtt.offline_queue_cap", 10000)

	v.SetDefault("poller.interval_ms", 1000)
	v.SetDefault("poller.transport_timeout", "2s")
	v.SetDefault("poller.transport_retries", 1)
	v.SetDefault("poller.stagger_ms", 100)
	v.SetDefault("poller.degraded_after", 10)
	v.SetDefault("poller.recovering_after", 30)

	v.SetDefault("history.retention_days", 60)
	v.SetDefault("history.coalesce_count", 10)
	v.SetDefault("history.coalesce_ms", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("auth.web_password", "")
}
