package mqttingest

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-tdbridge/pkg/dispatch"
	"github.com/illmade-knight/go-tdbridge/pkg/types"
	"github.com/rs/zerolog"
)

// Dispatcher accepts publish events. A nil operation means the event was
// handled synchronously.
type Dispatcher interface {
	OnInboundPublish(event types.PublishEvent) *dispatch.PendingOperation
}

// Service subscribes to the broker and feeds every message to a Dispatcher.
// Messages are acknowledged only once their pending operation resolves.
type Service struct {
	mqttClientConfig MQTTClientConfig
	pahoClient       mqtt.Client
	dispatcher       Dispatcher
	logger           zerolog.Logger

	ErrorChan chan error

	mu             sync.Mutex
	isShuttingDown bool
	inflight       sync.WaitGroup

	closeErrorChanOnce sync.Once
	stopOnce           sync.Once
}

// NewService creates a Service. Nothing connects until Start.
func NewService(dispatcher Dispatcher, logger zerolog.Logger, mqttCfg MQTTClientConfig) *Service {
	return &Service{
		mqttClientConfig: mqttCfg,
		dispatcher:       dispatcher,
		logger:           logger.With().Str("component", "MQTTIngestion").Logger(),
		ErrorChan:        make(chan error, 16),
	}
}

// Err returns a read-only channel of non-fatal errors such as failed subscriptions.
func (s *Service) Err() <-chan error {
	return s.ErrorChan
}

// handleIncomingPahoMessage hands the message to the dispatcher and acks it
// once the resulting operation resolves.
func (s *Service) handleIncomingPahoMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	if s.isShuttingDown {
		s.mu.Unlock()
		s.logger.Warn().Str("topic", msg.Topic()).Msg("Shutdown in progress, Paho message dropped.")
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	messagePayload := make([]byte, len(msg.Payload()))
	copy(messagePayload, msg.Payload())

	event := types.PublishEvent{
		Topic:      msg.Topic(),
		Payload:    messagePayload,
		MessageID:  strconv.FormatUint(uint64(msg.MessageID()), 10),
		ReceivedAt: time.Now().UTC(),
	}

	op := s.dispatcher.OnInboundPublish(event)
	if op == nil {
		msg.Ack()
		s.inflight.Done()
		return
	}

	go func() {
		defer s.inflight.Done()
		<-op.Done()
		if op.Outcome() == dispatch.Failed {
			s.logger.Warn().
				Str("topic", event.Topic).
				Str("op_id", op.ID()).
				Str("message_id", event.MessageID).
				Msg("Publish hook resolved as failed")
		}
		msg.Ack()
	}()
}

// sendError attempts to send an error to the ErrorChan.
func (s *Service) sendError(err error) {
	select {
	case s.ErrorChan <- err:
	default:
		s.logger.Warn().Err(err).Msg("ErrorChan is full, dropping error")
	}
}

// Start connects the MQTT client. The subscription is made in the connect
// handler so it is restored after every reconnect.
func (s *Service) Start() error {
	if s.mqttClientConfig.BrokerURL == "" {
		return fmt.Errorf("mqtt broker URL is not set")
	}
	if s.mqttClientConfig.KeepAlive == 0 {
		s.mqttClientConfig.KeepAlive = 10 * time.Second
		s.logger.Warn().Msg("mqtt config had a zero KeepAlive value - setting to 10 * time.Second")
	}
	if s.mqttClientConfig.ConnectTimeout == 0 {
		s.mqttClientConfig.ConnectTimeout = 5 * time.Second
		s.logger.Warn().Msg("mqtt config had a zero ConnectTimeout value - setting to 5 * time.Second")
	}
	if s.mqttClientConfig.ReconnectWaitMax == 0 {
		s.mqttClientConfig.ReconnectWaitMax = time.Minute
	}
	if err := s.initAndConnectMQTTClient(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to initialize or connect MQTT client during Start.")
		s.Stop()
		return err
	}
	s.logger.Info().Msg("MQTT ingestion started successfully.")
	return nil
}

// Stop unsubscribes, disconnects and waits for in-flight operations to be
// acknowledged. Operations are bounded by the dispatch timeout.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping MQTT ingestion...")
		s.mu.Lock()
		s.isShuttingDown = true
		s.mu.Unlock()

		if s.pahoClient != nil && s.pahoClient.IsConnected() {
			topic := s.mqttClientConfig.Topic
			if token := s.pahoClient.Unsubscribe(topic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				s.logger.Warn().Err(token.Error()).Msg("Failed to unsubscribe during shutdown.")
			}
		}

		s.inflight.Wait()

		if s.pahoClient != nil && s.pahoClient.IsConnected() {
			s.pahoClient.Disconnect(500)
			s.logger.Info().Msg("Paho MQTT client disconnected.")
		}

		s.closeErrorChanOnce.Do(func() {
			close(s.ErrorChan)
		})
		s.logger.Info().Msg("MQTT ingestion stopped.")
	})
}

// onPahoConnect subscribes to the topic upon successful connection.
func (s *Service) onPahoConnect(client mqtt.Client) {
	topic := s.mqttClientConfig.Topic
	s.logger.Info().Str("broker", s.mqttClientConfig.BrokerURL).Str("topic", topic).Msg("Paho client connected, subscribing")
	if token := client.Subscribe(topic, s.mqttClientConfig.QoS, s.handleIncomingPahoMessage); token.Wait() && token.Error() != nil {
		s.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		s.sendError(fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error()))
	}
}

// onPahoConnectionLost logs connection loss. Paho handles reconnection.
func (s *Service) onPahoConnectionLost(_ mqtt.Client, err error) {
	s.logger.Error().Err(err).Msg("Paho client lost MQTT connection. Auto-reconnect will be attempted.")
}

func (s *Service) clientOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.mqttClientConfig.BrokerURL)
	opts.SetClientID(s.mqttClientConfig.ClientIDPrefix + uuid.NewString()[:8])
	opts.SetUsername(s.mqttClientConfig.Username)
	opts.SetPassword(s.mqttClientConfig.Password)

	opts.SetKeepAlive(s.mqttClientConfig.KeepAlive)
	opts.SetConnectTimeout(s.mqttClientConfig.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(s.mqttClientConfig.ReconnectWaitMax)
	opts.SetOrderMatters(false)
	opts.SetAutoAckDisabled(true)

	opts.SetConnectionAttemptHandler(func(broker *url.URL, tlsCfg *tls.Config) *tls.Config {
		s.logger.Info().Str("broker", broker.String()).Msg("Attempting to connect to MQTT broker")
		return tlsCfg
	})

	lower := strings.ToLower(s.mqttClientConfig.BrokerURL)
	if strings.HasPrefix(lower, "tls://") || strings.HasPrefix(lower, "ssl://") {
		tlsConfig, err := newTLSConfig(&s.mqttClientConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(s.onPahoConnect)
	opts.SetConnectionLostHandler(s.onPahoConnectionLost)
	return opts, nil
}

// initAndConnectMQTTClient initializes and connects the Paho MQTT client.
func (s *Service) initAndConnectMQTTClient() error {
	opts, err := s.clientOptions()
	if err != nil {
		return err
	}
	s.pahoClient = mqtt.NewClient(opts)
	s.logger.Info().Str("client_id", opts.ClientID).Msg("Paho MQTT client created. Attempting to connect...")

	token := s.pahoClient.Connect()
	if !token.WaitTimeout(s.mqttClientConfig.ConnectTimeout) {
		return fmt.Errorf("paho MQTT client connect timed out after %s", s.mqttClientConfig.ConnectTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("paho MQTT client connect error: %w", token.Error())
	}
	return nil
}
