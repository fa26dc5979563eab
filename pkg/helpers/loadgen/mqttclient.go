package loadgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MqttClient implements the Client interface for MQTT.
type MqttClient struct {
	client       mqtt.Client
	brokerURL    string
	topicPattern string
	qos          byte
	logger       zerolog.Logger
}

// NewMqttClient creates a client that publishes to topicPattern with its
// first '+' replaced by the device ID.
func NewMqttClient(brokerURL, topicPattern string, qos byte, logger zerolog.Logger) *MqttClient {
	return &MqttClient{
		brokerURL:    brokerURL,
		topicPattern: topicPattern,
		qos:          qos,
		logger:       logger,
	}
}

// Connect establishes a connection to the MQTT broker.
func (c *MqttClient) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(fmt.Sprintf("loadgen-client-%s", uuid.New().String())).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Error().Err(err).Msg("MQTT Connection lost")
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			c.logger.Info().Str("broker", c.brokerURL).Msg("Successfully connected to MQTT broker")
		})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Msg("Failed to connect to MQTT broker")
		return token.Error()
	}
	if !c.client.IsConnected() {
		return fmt.Errorf("failed to connect to %s", c.brokerURL)
	}
	return nil
}

// Disconnect closes the connection to the MQTT broker.
func (c *MqttClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info().Msg("MQTT client disconnected")
	}
}

// Topic returns the topic a device publishes to.
func (c *MqttClient) Topic(device *Device) string {
	return strings.Replace(c.topicPattern, "+", device.ID, 1)
}

// Publish sends the device's payload unwrapped, exactly as generated.
func (c *MqttClient) Publish(ctx context.Context, device *Device) (bool, error) {
	payload, err := device.PayloadGenerator.GeneratePayload(device)
	if err != nil {
		return false, fmt.Errorf("failed to generate payload for device %s: %w", device.ID, err)
	}

	token := c.client.Publish(c.Topic(device), c.qos, false, payload)
	select {
	case <-token.Done():
		if token.Error() != nil {
			return false, fmt.Errorf("mqtt publish error for device %s: %w", device.ID, token.Error())
		}
		return true, nil
	case <-ctx.Done():
		return false, fmt.Errorf("context cancelled while publishing for device %s: %w", device.ID, ctx.Err())
	}
}
