package nav

import (
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ObservationHandler receives the observations decoded from one scan message
type ObservationHandler func(obs []Observation)

// StatusHandler receives scanner status changes. A nil error means the
// scanner recovered.
type StatusHandler func(err error)

// MQTTClient manages the broker connection and the scan and status subscriptions
type MQTTClient struct {
	client        mqtt.Client
	config        *Config
	logger        *zap.Logger
	onObservation ObservationHandler
	onStatus      StatusHandler
	isConnected   bool
	mu            sync.RWMutex
	stop          chan struct{}
	stopOnce      sync.Once
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// The broker comes from MQTT_BROKER or mqtt.broker; when neither is set MQTT
// is disabled and InitMQTT returns nil, nil.
func InitMQTT(config *Config, onObservation ObservationHandler, onStatus StatusHandler) (*MQTTClient, error) {
	if config == nil {
		return nil, fmt.Errorf("MQTT init: config is nil")
	}

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = config.MQTT.Broker
	}
	logger := zap.L().Named("mqtt")
	if broker == "" {
		logger.Info("MQTT disabled: no broker configured")
		return nil, nil
	}
	if config.MQTT.ScanTopic == "" {
		return nil, fmt.Errorf("MQTT enabled but mqtt.scanTopic is empty")
	}

	c := &MQTTClient{
		config:        config,
		logger:        logger,
		onObservation: onObservation,
		onStatus:      onStatus,
		stop:          make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "tudonav"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// scan messages must reach the buffer in arrival order
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)

	go c.connectWithRetry()

	return c, nil
}

// connectWithRetry connects with exponential backoff until it succeeds or
// Disconnect is called
func (c *MQTTClient) connectWithRetry() {
	delay := time.Second
	const maxDelay = 60 * time.Second

	for {
		c.logger.Info("connecting to MQTT broker")
		token := c.client.Connect()
		switch {
		case !token.WaitTimeout(10 * time.Second):
			c.logger.Warn("MQTT connection timeout")
		case token.Error() != nil:
			c.logger.Warn("MQTT connection failed", zap.Error(token.Error()))
		default:
			c.logger.Info("connected to MQTT broker")
			c.setConnected(true)
			return
		}

		c.logger.Info("retrying MQTT connection", zap.Duration("in", delay))
		select {
		case <-c.stop:
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDelay)
	}
}

// onConnect (re)establishes the subscriptions after every connect
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	c.subscribe(client, c.config.MQTT.ScanTopic, c.handleScan)
	if c.config.MQTT.StatusTopic != "" {
		c.subscribe(client, c.config.MQTT.StatusTopic, c.handleStatus)
	}
}

func (c *MQTTClient) subscribe(client mqtt.Client, topic string, handler mqtt.MessageHandler) {
	token := client.Subscribe(topic, 0, handler)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.logger.Error("subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		return
	}
	c.logger.Info("subscribed", zap.String("topic", topic))
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Warn("MQTT connection interrupted, auto-reconnect will retry", zap.Error(err))
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting")
}

func (c *MQTTClient) handleScan(client mqtt.Client, msg mqtt.Message) {
	obs, err := DecodeScanReport(msg.Payload(), time.Now())
	if err != nil {
		c.logger.Debug("dropping scan message",
			zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if len(obs) == 0 || c.onObservation == nil {
		return
	}
	c.onObservation(obs)
}

func (c *MQTTClient) handleStatus(client mqtt.Client, msg mqtt.Message) {
	err := ParseScanStatus(msg.Payload())
	if err != nil {
		c.logger.Warn("scanner reported an error", zap.String("topic", msg.Topic()), zap.Error(err))
	}
	if c.onStatus != nil {
		c.onStatus(err)
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect stops any pending reconnect and closes the connection
func (c *MQTTClient) Disconnect() {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
		}
	})
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wires an MQTTClient around a provided mqtt.Client
func newMQTTClientWithMock(client mqtt.Client, config *Config, onObservation ObservationHandler, onStatus StatusHandler) *MQTTClient {
	return &MQTTClient{
		client:        client,
		config:        config,
		logger:        zap.NewNop(),
		onObservation: onObservation,
		onStatus:      onStatus,
		stop:          make(chan struct{}),
	}
}
