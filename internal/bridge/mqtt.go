package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/muurk/greehp/internal/config"
	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/version"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// setTargets are the writable topics under <prefix>/<device>/set/
var setTargets = []string{"power", "mode", "cold", "hot", "shower"}

// MQTTConfig configures the MQTT side of the bridge
type MQTTConfig struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// MQTTBridge publishes device states and applies writes received on set topics
type MQTTBridge struct {
	config  MQTTConfig
	devices map[string]Controller
	client  mqtt.Client

	ctx    context.Context
	cancel context.CancelFunc
}

// NewMQTTBridge creates an unconnected bridge. An empty client ID is
// replaced by a random one and an empty prefix by the default.
func NewMQTTBridge(cfg MQTTConfig, devices map[string]Controller) *MQTTBridge {
	if cfg.ClientID == "" {
		cfg.ClientID = "greehp-" + uuid.NewString()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = config.DefaultTopicPrefix
	}
	cfg.TopicPrefix = strings.Trim(cfg.TopicPrefix, "/")
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &MQTTBridge{config: cfg, devices: devices, ctx: ctx, cancel: cancel}
}

// StateTopic is where a device's state is published, retained
func StateTopic(prefix, device string) string {
	return prefix + "/" + device + "/state"
}

// AvailabilityTopic carries online/offline for a device, retained
func AvailabilityTopic(prefix, device string) string {
	return prefix + "/" + device + "/availability"
}

// StatusTopic carries the bridge's own online/offline status, retained
func StatusTopic(prefix string) string {
	return prefix + "/bridge/status"
}

// SetTopic is the write topic for one target of a device
func SetTopic(prefix, device, target string) string {
	return prefix + "/" + device + "/set/" + target
}

// ParseSetTopic splits a set topic into device and target
func ParseSetTopic(prefix, topic string) (device, target string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" {
		return "", "", false
	}
	for _, t := range setTargets {
		if parts[2] == t {
			return parts[0], t, true
		}
	}
	return "", "", false
}

func (b *MQTTBridge) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.config.Broker)
	opts.SetClientID(b.config.ClientID)
	if b.config.Username != "" {
		opts.SetUsername(b.config.Username)
		opts.SetPassword(b.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	// commands block for up to several receive timeouts
	opts.SetOrderMatters(false)
	opts.SetWill(StatusTopic(b.config.TopicPrefix), payloadOffline, b.config.QoS, true)
	opts.SetHTTPHeaders(map[string][]string{"User-Agent": {version.UserAgent()}})

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logging.Info("Connected to MQTT broker", zap.String("broker", b.config.Broker))
		c.Publish(StatusTopic(b.config.TopicPrefix), b.config.QoS, true, payloadOnline)
		filter := b.config.TopicPrefix + "/+/set/+"
		if token := c.Subscribe(filter, b.config.QoS, b.handleMessage); token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
			logging.Error("MQTT subscribe failed", zap.String("filter", filter), zap.Error(token.Error()))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warn("MQTT connection lost", zap.String("broker", b.config.Broker), zap.Error(err))
	})
	return opts
}

// Connect starts the client. With connect retry enabled a broker that is
// down is not fatal; the client keeps trying in the background.
func (b *MQTTBridge) Connect() error {
	if b.config.Broker == "" {
		return errors.New("no MQTT broker configured")
	}
	mqtt.ERROR = logging.StdLog("mqtt", zapcore.ErrorLevel)
	mqtt.CRITICAL = logging.StdLog("mqtt", zapcore.ErrorLevel)
	b.client = mqtt.NewClient(b.options())
	token := b.client.Connect()
	if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", b.config.Broker, token.Error())
	}
	return nil
}

// PublishState publishes st and its availability, both retained
func (b *MQTTBridge) PublishState(st State) error {
	if b.client == nil {
		return errors.New("MQTT client not connected")
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	availability := payloadOffline
	if st.Available {
		availability = payloadOnline
	}

	for topic, body := range map[string][]byte{
		StateTopic(b.config.TopicPrefix, st.Device):        payload,
		AvailabilityTopic(b.config.TopicPrefix, st.Device): []byte(availability),
	} {
		token := b.client.Publish(topic, b.config.QoS, true, body)
		if !token.WaitTimeout(mqttPublishTimeout) {
			return fmt.Errorf("timed out publishing to %s", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
	}
	return nil
}

func (b *MQTTBridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	device, target, ok := ParseSetTopic(b.config.TopicPrefix, msg.Topic())
	if !ok {
		logging.Debug("Ignoring MQTT message", zap.String("topic", msg.Topic()))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.Apply(ctx, device, target, string(msg.Payload())); err != nil {
		logging.Warn("MQTT command rejected",
			zap.String("topic", msg.Topic()),
			zap.String("payload", string(msg.Payload())),
			zap.Error(err),
		)
	}
}

// Apply performs the write named by a set topic. It fails for unknown
// devices, invalid payloads and writes the device never acknowledged.
func (b *MQTTBridge) Apply(ctx context.Context, device, target, payload string) error {
	c, ok := b.devices[device]
	if !ok {
		return fmt.Errorf("unknown device %q", device)
	}
	logging.Info("MQTT command",
		zap.String("device", device),
		zap.String("target", target),
		zap.String("payload", payload),
	)
	acked, err := apply(ctx, c, target, payload)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("heat pump %q did not acknowledge %s", device, target)
	}
	return nil
}

// Disconnect publishes the bridge as offline and closes the connection
func (b *MQTTBridge) Disconnect() {
	b.cancel()
	if b.client == nil || !b.client.IsConnected() {
		return
	}
	token := b.client.Publish(StatusTopic(b.config.TopicPrefix), b.config.QoS, true, payloadOffline)
	token.WaitTimeout(mqttPublishTimeout)
	b.client.Disconnect(250)
}
