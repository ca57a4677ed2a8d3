package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "vehicle-1", cfg.VehicleID)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "nozzz", cfg.Database.Database)
	assert.Equal(t, "nozzz-vehicle-1", cfg.Database.ApplicationName)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.True(t, cfg.DatabaseEnabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Redis.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "nozzz-vehicle-1", cfg.MQTT.ClientID)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, LinkMQTT, cfg.Link.Kind)
	assert.Equal(t, "nozzz/vehicle-1/eog/rx", cfg.Link.RxTopic)
	assert.Equal(t, "nozzz/vehicle-1/eog/tx", cfg.Link.TxTopic)
	assert.Equal(t, "auto", cfg.Link.SerialPort)
	assert.Equal(t, 115200, cfg.Link.SerialBaud)
	assert.Equal(t, "NoZZZ-EOG", cfg.Link.BLEName)
	assert.Equal(t, 15*time.Second, cfg.Link.BLEScanTimeout)

	assert.Equal(t, "nozzz/vehicle-1/camera/faces", cfg.Topics.Camera)
	assert.Equal(t, "nozzz/vehicle-1/gps", cfg.Topics.GPS)
	assert.Equal(t, "nozzz/vehicle-1/actuate", cfg.Topics.Actuate)

	assert.Equal(t, ":8088", cfg.HTTP.Addr)
	assert.Equal(t, 8088, cfg.HTTPPort())
	assert.Equal(t, 500*time.Millisecond, cfg.HTTP.SnapshotInterval)
	assert.True(t, cfg.Discovery.Enabled)
	assert.Equal(t, "112", cfg.Emergency.DefaultNumber)
	assert.Empty(t, cfg.Emergency.WebhookURL)
	assert.Equal(t, "nozzz:settings:vehicle-1", cfg.Settings.KeyPrefix)
	assert.Equal(t, "nozzz:minutes", cfg.Streams.Minutes)
	assert.Equal(t, "nozzz:alarms", cfg.Streams.Alarms)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("VEHICLE_ID", "car-42")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_ENABLED", "false")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LINK_KIND", "Serial")
	t.Setenv("LINK_SERIAL_PORT", "/dev/ttyACM0")
	t.Setenv("LINK_SERIAL_BAUD", "9600")
	t.Setenv("HTTP_ADDR", "0.0.0.0:9000")
	t.Setenv("HTTP_SNAPSHOT_INTERVAL", "250")
	t.Setenv("DISCOVERY_ENABLED", "0")
	t.Setenv("EMERGENCY_WEBHOOK_URL", "https://relay.example/call")
	t.Setenv("LINK_BLE_SCAN_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "car-42", cfg.VehicleID)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "nozzz-car-42", cfg.Database.ApplicationName)
	assert.False(t, cfg.DatabaseEnabled)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, LinkSerial, cfg.Link.Kind)
	assert.Equal(t, "/dev/ttyACM0", cfg.Link.SerialPort)
	assert.Equal(t, 9600, cfg.Link.SerialBaud)
	assert.Equal(t, "nozzz/car-42/eog/rx", cfg.Link.RxTopic)
	assert.Equal(t, 9000, cfg.HTTPPort())
	assert.Equal(t, 250*time.Millisecond, cfg.HTTP.SnapshotInterval)
	assert.False(t, cfg.Discovery.Enabled)
	assert.Equal(t, "https://relay.example/call", cfg.Emergency.WebhookURL)
	assert.Equal(t, 5*time.Second, cfg.Link.BLEScanTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidLinkKind(t *testing.T) {
	os.Clearenv()
	t.Setenv("LINK_KIND", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LINK_KIND")
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	os.Clearenv()
	t.Setenv("HTTP_SNAPSHOT_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.HTTP.SnapshotInterval)
}
