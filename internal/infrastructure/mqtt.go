// services/iotcore/internal/infrastructure/mqtt.go
package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/iotcore/config"
)

// MessageHandler processes a broker message.
type MessageHandler func(ctx context.Context, topic string, payload []byte) error

// MQTTBroker maintains the broker connection, feeds inbound telemetry to
// the handler, and publishes outbound commands. It implements
// core.CommandPublisher.
type MQTTBroker struct {
	config    config.MQTTConfig
	client    mqtt.Client
	logger    *logrus.Logger
	handler   MessageHandler
	mu        sync.RWMutex
	connected bool
	wg        sync.WaitGroup
}

// NewMQTTBroker creates a broker connection manager.
func NewMQTTBroker(cfg config.MQTTConfig, handler MessageHandler, logger *logrus.Logger) (*MQTTBroker, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("iotcore-%d", time.Now().UnixNano())
	}

	return &MQTTBroker{
		config:  cfg,
		logger:  logger,
		handler: handler,
	}, nil
}

// Start connects to the broker and subscribes to the configured topics.
func (b *MQTTBroker) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.config.BrokerURL)
	opts.SetClientID(b.config.ClientID)

	if b.config.Username != "" {
		opts.SetUsername(b.config.Username)
	}
	if b.config.Password != "" {
		opts.SetPassword(b.config.Password)
	}

	opts.SetCleanSession(b.config.CleanSession)
	opts.SetKeepAlive(b.config.KeepAlive)
	opts.SetConnectTimeout(b.config.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(b.config.MaxReconnectDelay)

	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	opts.SetDefaultPublishHandler(b.onMessage)

	b.client = mqtt.NewClient(opts)

	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	b.logger.Info("MQTT broker connection started")
	return nil
}

// Stop unsubscribes and disconnects, waiting for in-flight handlers.
func (b *MQTTBroker) Stop() {
	b.logger.Info("Stopping MQTT broker connection...")

	if b.client != nil && b.client.IsConnected() {
		for _, topic := range b.config.Topics {
			if token := b.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
				b.logger.WithError(token.Error()).WithField("topic", topic).
					Error("Failed to unsubscribe from topic")
			}
		}
		b.client.Disconnect(250)
	}

	b.wg.Wait()
	b.logger.Info("MQTT broker connection stopped")
}

// IsConnected returns the connection status.
func (b *MQTTBroker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Publish sends a payload to a topic at the configured QoS.
func (b *MQTTBroker) Publish(topic string, payload []byte) error {
	if !b.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	token := b.client.Publish(topic, b.config.QoS, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}
	return nil
}

func (b *MQTTBroker) onConnect(client mqtt.Client) {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()

	b.logger.Info("Connected to MQTT broker")

	for _, topic := range b.config.Topics {
		if token := client.Subscribe(topic, b.config.QoS, nil); token.Wait() && token.Error() != nil {
			b.logger.WithError(token.Error()).WithField("topic", topic).
				Error("Failed to subscribe to topic")
		} else {
			b.logger.WithField("topic", topic).Info("Subscribed to topic")
		}
	}
}

func (b *MQTTBroker) onConnectionLost(client mqtt.Client, err error) {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()

	b.logger.WithError(err).Warn("Lost connection to MQTT broker")
}

func (b *MQTTBroker) onMessage(client mqtt.Client, msg mqtt.Message) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processMessage(msg)
	}()
}

func (b *MQTTBroker) processMessage(msg mqtt.Message) {
	topic := msg.Topic()
	payload := msg.Payload()

	b.logger.WithFields(logrus.Fields{
		"topic":      topic,
		"message_id": msg.MessageID(),
		"qos":        msg.Qos(),
		"size":       len(payload),
	}).Debug("Received MQTT message")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.handler(ctx, topic, payload); err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"topic":      topic,
			"message_id": msg.MessageID(),
		}).Error("Failed to process MQTT message")
	}
}
