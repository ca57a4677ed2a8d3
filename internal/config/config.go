package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/common/config"
)

// Link kinds.
const (
	LinkMQTT   = "mqtt"
	LinkSerial = "serial"
	LinkBLE    = "ble"
	LinkSim    = "sim"
)

// Config is the NoZZZ service configuration.
type Config struct {
	VehicleID string

	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// DatabaseEnabled turns trip and alarm event persistence on.
	DatabaseEnabled bool

	// Link selects how the EOG sensor is reached.
	Link struct {
		Kind string // mqtt | serial | ble | sim

		// MQTT gateway topics (base64 payloads)
		RxTopic string
		TxTopic string

		SerialPort string // device path or "auto"
		SerialBaud int

		BLEAddress     string
		BLEName        string
		BLEScanTimeout time.Duration
	}

	Topics struct {
		Camera  string // face probabilities
		GPS     string // speed and position fixes
		Actuate string // commands to the head unit
	}

	HTTP struct {
		Addr             string
		SnapshotInterval time.Duration
	}

	Discovery struct {
		Enabled bool
	}

	Emergency struct {
		DefaultNumber string
		WebhookURL    string
	}

	Settings struct {
		KeyPrefix string
	}

	Streams struct {
		Minutes string
		Alarms  string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.VehicleID = getEnv("VEHICLE_ID", "vehicle-1")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "nozzz")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 2)
	cfg.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.Database.ApplicationName = "nozzz-" + cfg.VehicleID
	cfg.DatabaseEnabled = getEnvBool("DB_ENABLED", true)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", 5)
	cfg.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "nozzz-"+cfg.VehicleID)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	base := "nozzz/" + cfg.VehicleID
	cfg.Link.Kind = strings.ToLower(getEnv("LINK_KIND", LinkMQTT))
	cfg.Link.RxTopic = getEnv("LINK_RX_TOPIC", base+"/eog/rx")
	cfg.Link.TxTopic = getEnv("LINK_TX_TOPIC", base+"/eog/tx")
	cfg.Link.SerialPort = getEnv("LINK_SERIAL_PORT", "auto")
	cfg.Link.SerialBaud = getEnvInt("LINK_SERIAL_BAUD", 115200)
	cfg.Link.BLEAddress = getEnv("LINK_BLE_ADDRESS", "")
	cfg.Link.BLEName = getEnv("LINK_BLE_NAME", "NoZZZ-EOG")
	cfg.Link.BLEScanTimeout = getEnvDuration("LINK_BLE_SCAN_TIMEOUT", 15*time.Second)

	cfg.Topics.Camera = getEnv("CAMERA_TOPIC", base+"/camera/faces")
	cfg.Topics.GPS = getEnv("GPS_TOPIC", base+"/gps")
	cfg.Topics.Actuate = getEnv("ACTUATE_TOPIC", base+"/actuate")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8088")
	cfg.HTTP.SnapshotInterval = getEnvDuration("HTTP_SNAPSHOT_INTERVAL", 500*time.Millisecond)

	cfg.Discovery.Enabled = getEnvBool("DISCOVERY_ENABLED", true)

	cfg.Emergency.DefaultNumber = getEnv("EMERGENCY_NUMBER", "112")
	cfg.Emergency.WebhookURL = getEnv("EMERGENCY_WEBHOOK_URL", "")

	cfg.Settings.KeyPrefix = getEnv("SETTINGS_PREFIX", "nozzz:settings:"+cfg.VehicleID)

	cfg.Streams.Minutes = getEnv("MINUTES_STREAM", "nozzz:minutes")
	cfg.Streams.Alarms = getEnv("ALARMS_STREAM", "nozzz:alarms")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Link.Kind {
	case LinkMQTT, LinkSerial, LinkBLE, LinkSim:
	default:
		return fmt.Errorf("invalid LINK_KIND %q", c.Link.Kind)
	}
	if c.HTTP.SnapshotInterval <= 0 {
		return fmt.Errorf("HTTP_SNAPSHOT_INTERVAL must be positive")
	}
	if c.Link.Kind == LinkSerial && c.Link.SerialBaud <= 0 {
		return fmt.Errorf("LINK_SERIAL_BAUD must be positive")
	}
	return nil
}

// HTTPPort returns the port part of HTTP.Addr, or 0 when it has none.
func (c *Config) HTTPPort() int {
	i := strings.LastIndex(c.HTTP.Addr, ":")
	if i < 0 {
		return 0
	}
	port, err := strconv.Atoi(c.HTTP.Addr[i+1:])
	if err != nil {
		return 0
	}
	return port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("500ms") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
