package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ConvertHandler is called for every valid convert request received over MQTT
type ConvertHandler func(req ConvertRequest)

// MQTTClient manages the broker connection and the convert request subscription
type MQTTClient struct {
	client    mqtt.Client
	config    MQTTConfig
	onConvert ConvertHandler
	logger    *zap.SugaredLogger

	isConnected bool
	mu          sync.RWMutex
}

// NewMQTTClient creates a client for the configured broker. It returns nil
// without error when no broker is configured, which disables MQTT.
func NewMQTTClient(cfg MQTTConfig, handler ConvertHandler, logger *zap.SugaredLogger) *MQTTClient {
	logger = orNop(logger)
	if cfg.Broker == "" {
		logger.Info("MQTT disabled: no broker configured")
		return nil
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.PublishPrefix == "" {
		cfg.PublishPrefix = DefaultPublishPrefix
	}

	c := &MQTTClient{
		config:    cfg,
		onConvert: handler,
		logger:    logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the subscription across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	return c
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client
func newMQTTClientWithMock(client mqtt.Client, cfg MQTTConfig, handler ConvertHandler) *MQTTClient {
	if cfg.PublishPrefix == "" {
		cfg.PublishPrefix = DefaultPublishPrefix
	}
	return &MQTTClient{
		client:    client,
		config:    cfg,
		onConvert: handler,
		logger:    zap.NewNop().Sugar(),
	}
}

// Start connects in the background, retrying until ctx is done
func (c *MQTTClient) Start(ctx context.Context) {
	go c.connectWithRetry(ctx)
}

// connectWithRetry attempts to connect to the broker with exponential backoff
func (c *MQTTClient) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.logger.Infow("connecting to MQTT broker", "broker", c.config.Broker)

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.logger.Info("connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.logger.Warnw("MQTT connection failed", "error", token.Error())
		} else {
			c.logger.Warn("MQTT connection timeout")
		}

		c.logger.Infow("retrying MQTT connection", "delay", retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// ConvertTopic is the topic convert requests arrive on
func (c *MQTTClient) ConvertTopic() string {
	return fmt.Sprintf("%s/convert", c.config.PublishPrefix)
}

// onConnect subscribes to the convert topic every time the connection comes up
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.ConvertTopic()
	token := client.Subscribe(topic, 1, c.handleConvert)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.logger.Errorw("subscribe failed", "topic", topic, "error", token.Error())
		return
	}
	c.logger.Infow("subscribed", "topic", topic)
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Warnw("MQTT connection interrupted, auto-reconnect will retry", "error", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting")
}

// handleConvert decodes a convert request and hands it to the handler
func (c *MQTTClient) handleConvert(client mqtt.Client, msg mqtt.Message) {
	var req ConvertRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		c.logger.Warnw("ignoring malformed convert request", "topic", msg.Topic(), "error", err)
		return
	}
	req, err := req.Normalize()
	if err != nil {
		c.logger.Warnw("ignoring invalid convert request", "topic", msg.Topic(), "error", err)
		return
	}
	c.logger.Infow("convert request", "input", req.Input, "name", req.Name)
	if c.onConvert != nil {
		c.onConvert(req)
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

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying MQTT client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// PublishPrefix returns the topic prefix in use
func (c *MQTTClient) PublishPrefix() string {
	return c.config.PublishPrefix
}
