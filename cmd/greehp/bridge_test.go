package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/greehp/internal/config"
)

func resetBridgeFlags(t *testing.T) {
	t.Cleanup(func() {
		bridgeListen, bridgeOrigins, bridgeAll = "", nil, false
		mqttBroker, mqttUsername, mqttPrefix = "", "", ""
		mqttQoS, mqttDisabled = -1, false
		deviceArg = ""
	})
	bridgeListen, bridgeOrigins, bridgeAll = "", nil, false
	mqttBroker, mqttUsername, mqttPrefix = "", "", ""
	mqttQoS, mqttDisabled = -1, false
	deviceArg = ""
}

func testRegistry(t *testing.T) *config.Registry {
	reg := config.NewRegistry()
	_, err := reg.AddDevice("garage", "192.0.2.10", 5)
	require.NoError(t, err)
	_, err = reg.AddDevice("loft", "192.0.2.11", 0)
	require.NoError(t, err)
	reg.Preferences.DefaultDevice = "loft"
	reg.Preferences.MQTT.Broker = "tcp://broker:1883"
	reg.Preferences.MQTT.Username = "hp"
	reg.Preferences.MQTT.QoS = 1
	reg.Preferences.HTTP.Listen = "0.0.0.0:9000"
	return reg
}

func TestBridgeConfigFromPreferences(t *testing.T) {
	resetBridgeFlags(t)
	t.Setenv(config.MQTTPasswordEnvVar, "s3cret")

	cfg := bridgeConfig(testRegistry(t))

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	require.NotNil(t, cfg.MQTT)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "hp", cfg.MQTT.Username)
	assert.Equal(t, "s3cret", cfg.MQTT.Password)
	assert.Equal(t, config.DefaultTopicPrefix, cfg.MQTT.TopicPrefix)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
}

func TestBridgeConfigFlagsOverride(t *testing.T) {
	resetBridgeFlags(t)
	bridgeListen = "127.0.0.1:8100"
	mqttBroker = "tcp://other:1883"
	mqttPrefix = "home/hp"
	mqttQoS = 0

	cfg := bridgeConfig(testRegistry(t))

	assert.Equal(t, "127.0.0.1:8100", cfg.Listen)
	require.NotNil(t, cfg.MQTT)
	assert.Equal(t, "tcp://other:1883", cfg.MQTT.Broker)
	assert.Equal(t, "home/hp", cfg.MQTT.TopicPrefix)
	assert.Equal(t, byte(0), cfg.MQTT.QoS)
}

func TestBridgeConfigWithoutBroker(t *testing.T) {
	resetBridgeFlags(t)
	reg := testRegistry(t)
	reg.Preferences.MQTT.Broker = ""

	assert.Nil(t, bridgeConfig(reg).MQTT)

	reg.Preferences.MQTT.Broker = "tcp://broker:1883"
	mqttDisabled = true
	assert.Nil(t, bridgeConfig(reg).MQTT)
}

func TestBridgeDevices(t *testing.T) {
	resetBridgeFlags(t)
	reg := testRegistry(t)

	names, devices, err := bridgeDevices(reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"loft"}, names)
	assert.Equal(t, "192.0.2.11", devices[0].Host)

	deviceArg = "192.0.2.99"
	names, devices, err = bridgeDevices(reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.99"}, names)
	assert.Equal(t, "192.0.2.99", devices[0].Host)

	bridgeAll = true
	names, devices, err = bridgeDevices(reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"garage", "loft"}, names)
	assert.Len(t, devices, 2)

	_, _, err = bridgeDevices(config.NewRegistry())
	assert.Error(t, err)
}

func TestLastSeenRecorder(t *testing.T) {
	reg := testRegistry(t)
	clock := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	saves := 0

	r := newLastSeenRecorder(reg)
	r.now = func() time.Time { return clock }
	r.save = func() error {
		saves++
		return nil
	}

	assert.True(t, r.record("garage", "c8f742aabbcc"), "first poll is saved")
	assert.Equal(t, "c8f742aabbcc", reg.GetDevice("garage").LastMAC)

	clock = clock.Add(time.Minute)
	assert.False(t, r.record("garage", "c8f742aabbcc"), "unchanged device within the interval")
	assert.False(t, r.record("garage", ""))

	assert.True(t, r.record("garage", "c8f742ddeeff"), "a new MAC is saved at once")
	assert.Equal(t, "c8f742ddeeff", reg.GetDevice("garage").LastMAC)

	clock = clock.Add(lastSeenInterval)
	assert.True(t, r.record("garage", "c8f742ddeeff"))

	assert.True(t, r.record("loft", "c8f742001122"), "devices are throttled separately")
	assert.False(t, r.record("shed", "c8f742001122"), "unregistered devices are ignored")
	assert.Equal(t, 4, saves)
}

func TestLastSeenRecorderSaveFailure(t *testing.T) {
	r := newLastSeenRecorder(testRegistry(t))
	r.save = func() error { return errors.New("read-only file system") }

	assert.False(t, r.record("garage", "c8f742aabbcc"))
	// a failed write is retried on the next poll
	r.save = func() error { return nil }
	assert.True(t, r.record("garage", "c8f742aabbcc"))
}
