// Package mqtt wraps paho with the bridge's publish/subscribe
// contract: an offline queue that survives broker disconnects, a
// bridge-wide last will, and per-device online/offline status
// publishing layered on top of it (a single broker connection only
// carries one LWT topic, so per-device offline markers are published
// explicitly rather than relying on the broker's will mechanism).
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"pdu-bridge/internal/bridgeerr"
	"pdu-bridge/internal/config"
	"pdu-bridge/internal/logging"
)

// CommandHandler handles one inbound outlet command for one device.
type CommandHandler func(deviceID string, outlet int, payload []byte)

// queuedPublish is one buffered publish while disconnected.
type queuedPublish struct {
	topic   string
	payload []byte
	retain  bool
	qos     byte
}

// Client wraps the paho client with an offline queue and per-device
// command subscriptions that survive reconnects.
type Client struct {
	cfg         config.MQTTConfig
	log         logging.Logger
	client      paho.Client
	topicPrefix string

	mu        sync.RWMutex
	connected bool

	queueMu  sync.Mutex
	queue    []queuedPublish
	queueCap int
	dropped  int

	devicesMu sync.RWMutex
	devices   map[string]CommandHandler
}

// NewClient builds a disconnected Client; call Connect to dial out.
func NewClient(cfg config.MQTTConfig, log logging.Logger) *Client {
	cap := cfg.OfflineQueueCap
	if cap <= 0 {
		cap = 10000
	}
	return &Client{
		cfg:         cfg,
		log:         log.With("component", "mqtt"),
		topicPrefix: cfg.TopicPrefix,
		queueCap:    cap,
		devices:     make(map[string]CommandHandler),
	}
}

// Connect dials the broker, registers the bridge-wide will, and on
// every (re)connect resubscribes every registered device and drains
// whatever queued publishes piled up while disconnected.
func (c *Client) Connect() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.Broker, c.cfg.Port)

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(5 * time.Minute)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	bridgeStatusTopic := fmt.Sprintf("%s/bridge/status", c.topicPrefix)
	opts.SetWill(bridgeStatusTopic, "offline", 1, true)

	opts.SetOnConnectHandler(func(paho.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.log.Info().Str("broker", broker).Msg("mqtt connected")

		c.rawPublish(bridgeStatusTopic, []byte("online"), true, 1)
		c.resubscribeAll()
		c.publishDeviceOnline()
		c.drainQueue()
	})

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("mqtt connection lost")
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return bridgeerr.Wrap(bridgeerr.KindMQTTDisconnected, "connect to broker", token.Error())
	}
	return nil
}

// Disconnect publishes offline markers and closes the connection.
func (c *Client) Disconnect() {
	if c.client == nil {
		return
	}
	if c.client.IsConnected() {
		c.devicesMu.RLock()
		for deviceID := range c.devices {
			c.rawPublish(fmt.Sprintf("%s/%s/bridge/status", c.topicPrefix, deviceID), []byte("offline"), true, 1)
		}
		c.devicesMu.RUnlock()
		c.rawPublish(fmt.Sprintf("%s/bridge/status", c.topicPrefix), []byte("offline"), true, 1)
		c.client.Disconnect(250)
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Publish marshals payload (strings/[]byte pass through unmodified)
// and either sends immediately or enqueues while disconnected,
// preserving per-topic order across the disconnect/reconnect boundary.
// qos follows the MQTT convention (0 at-most-once, 1 at-least-once, 2
// exactly-once); callers pick it per topic rather than the client
// imposing one blanket level.
func (c *Client) Publish(topic string, payload any, retain bool, qos byte) error {
	data, err := encode(payload)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindMQTTPublishDropped, "encode payload", err)
	}

	if !c.IsConnected() {
		c.enqueue(topic, data, retain, qos)
		return nil
	}
	return c.rawPublish(topic, data, retain, qos)
}

func (c *Client) rawPublish(topic string, data []byte, retain bool, qos byte) error {
	token := c.client.Publish(topic, qos, retain, data)
	token.Wait()
	if err := token.Error(); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindMQTTPublishDropped, "publish "+topic, err)
	}
	return nil
}

func (c *Client) enqueue(topic string, data []byte, retain bool, qos byte) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) >= c.queueCap {
		c.queue = c.queue[1:]
		c.dropped++
		c.log.Warn().Int("dropped_total", c.dropped).Msg("offline queue full, dropping oldest publish")
	}
	c.queue = append(c.queue, queuedPublish{topic: topic, payload: data, retain: retain, qos: qos})
}

func (c *Client) drainQueue() {
	c.queueMu.Lock()
	batch := c.queue
	c.queue = nil
	c.queueMu.Unlock()

	for _, q := range batch {
		_ = c.rawPublish(q.topic, q.payload, q.retain, q.qos)
	}
}

// DroppedCount reports how many queued publishes were evicted for
// backpressure, surfaced by the health endpoint.
func (c *Client) DroppedCount() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.dropped
}

func (c *Client) publishDeviceOnline() {
	c.devicesMu.RLock()
	defer c.devicesMu.RUnlock()
	for deviceID := range c.devices {
		c.rawPublish(fmt.Sprintf("%s/%s/bridge/status", c.topicPrefix, deviceID), []byte("online"), true, 1)
	}
}

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}

// SubscribeCommands registers handler for one device's outlet command
// topics (pdu/{device_id}/outlet/{n}/command) and marks the device
// online, publishing its status topic immediately.
func (c *Client) SubscribeCommands(deviceID string, handler CommandHandler) error {
	c.devicesMu.Lock()
	c.devices[deviceID] = handler
	c.devicesMu.Unlock()

	if err := c.subscribeDevice(deviceID); err != nil {
		return err
	}
	if c.IsConnected() {
		c.rawPublish(fmt.Sprintf("%s/%s/bridge/status", c.topicPrefix, deviceID), []byte("online"), true, 1)
	}
	return nil
}

func (c *Client) subscribeDevice(deviceID string) error {
	if c.client == nil {
		return nil // not connected yet; resubscribeAll runs once Connect succeeds
	}
	topic := fmt.Sprintf("%s/%s/outlet/+/command", c.topicPrefix, deviceID)
	token := c.client.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		outlet, ok := parseOutletCommandTopic(msg.Topic(), c.topicPrefix, deviceID)
		if !ok {
			return
		}
		c.devicesMu.RLock()
		h := c.devices[deviceID]
		c.devicesMu.RUnlock()
		if h != nil {
			h(deviceID, outlet, msg.Payload())
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindMQTTDisconnected, "subscribe "+topic, err)
	}
	return nil
}

// UnsubscribeCommands removes a device's subscription and publishes a
// final offline marker, used on hot remove so no further commands
// reach a deleted poller.
func (c *Client) UnsubscribeCommands(deviceID string) {
	topic := fmt.Sprintf("%s/%s/outlet/+/command", c.topicPrefix, deviceID)
	if c.client != nil && c.client.IsConnected() {
		c.client.Unsubscribe(topic)
		c.rawPublish(fmt.Sprintf("%s/%s/bridge/status", c.topicPrefix, deviceID), []byte("offline"), true, 1)
	}
	c.devicesMu.Lock()
	delete(c.devices, deviceID)
	c.devicesMu.Unlock()
}

func (c *Client) resubscribeAll() {
	c.devicesMu.RLock()
	ids := make([]string, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	c.devicesMu.RUnlock()

	for _, id := range ids {
		_ = c.subscribeDevice(id)
	}
}

func parseOutletCommandTopic(topic, prefix, deviceID string) (outlet int, ok bool) {
	want := fmt.Sprintf("%s/%s/outlet/", prefix, deviceID)
	if len(topic) <= len(want) || topic[:len(want)] != want {
		return 0, false
	}
	rest := topic[len(want):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			rest = rest[:i]
			break
		}
	}
	if rest == "" {
		return 0, false
	}
	n := 0
	for _, ch := range rest {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int(ch-'0')
	}
	return n, true
}
