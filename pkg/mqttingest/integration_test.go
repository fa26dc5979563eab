//go:build integration

package mqttingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-tdbridge/pkg/dispatch"
	"github.com/illmade-knight/go-tdbridge/pkg/helpers/emulators"
	"github.com/illmade-knight/go-tdbridge/pkg/mqttingest"
	"github.com/illmade-knight/go-tdbridge/pkg/render"
	"github.com/illmade-knight/go-tdbridge/pkg/workerpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingBackend struct {
	mu         sync.Mutex
	statements []string
}

func (b *capturingBackend) Execute(_ context.Context, statement string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statements = append(b.statements, statement)
	return nil
}

func (b *capturingBackend) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.statements...)
}

func TestService_Integration_MQTT_To_Backend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.InfoLevel)
	mqttConnection := emulators.SetupMosquittoContainer(t, ctx, emulators.GetDefaultMqttImageContainer())

	pool := workerpool.New(workerpool.Config{Workers: 2, QueueCapacity: 16}, logger)
	defer pool.Stop()

	backend := &capturingBackend{}
	renderer := render.New(render.Config{Template: "insert into meters values(${payload.ts}, ${payload.current})"})
	coordinator := dispatch.NewCoordinator(dispatch.Config{Topic: "meters/d1001", Timeout: 5 * time.Second}, renderer, backend, pool, logger)

	service := mqttingest.NewService(coordinator, logger, mqttingest.MQTTClientConfig{
		BrokerURL:      mqttConnection.EmulatorAddress,
		Topic:          "meters/#",
		QoS:            1,
		ClientIDPrefix: "tdbridge-test-",
		ConnectTimeout: 10 * time.Second,
	})
	require.NoError(t, service.Start())
	defer service.Stop()
	time.Sleep(time.Second) // let the subscription settle

	publisher, err := emulators.CreateTestMqttPublisher(mqttConnection.EmulatorAddress, "tdbridge-test-publisher")
	require.NoError(t, err)
	defer publisher.Disconnect(250)

	for topic, body := range map[string]string{
		"meters/d1001": `{"ts":1600000000000,"current":10.3}`,
		"meters/d1002": `{"ts":1600000000001,"current":12.6}`,
	} {
		token := publisher.Publish(topic, 1, false, []byte(body))
		require.True(t, token.WaitTimeout(10*time.Second), "publish timed out")
		require.NoError(t, token.Error())
	}

	require.Eventually(t, func() bool { return len(backend.all()) == 1 }, 20*time.Second, 50*time.Millisecond)
	assert.Equal(t, "insert into meters values(1600000000000, 10.3)", backend.all()[0])
}
