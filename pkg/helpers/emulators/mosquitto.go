package emulators

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testMosquittoImage = "eclipse-mosquitto:2.0"
	testMosquittoPort  = "1883"
)

func GetDefaultMqttImageContainer() ImageContainer {
	return ImageContainer{
		EmulatorImage: testMosquittoImage,
		EmulatorPort:  testMosquittoPort,
	}
}

// SetupMosquittoContainer starts a broker that accepts anonymous clients.
func SetupMosquittoContainer(t *testing.T, ctx context.Context, cfg ImageContainer) EmulatorConnection {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{fmt.Sprintf("%s/tcp", cfg.EmulatorPort)},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort(nat.Port(cfg.EmulatorPort)).WithStartupTimeout(30 * time.Second),
	}
	host, port := startContainer(t, ctx, req, cfg.EmulatorPort)
	return EmulatorConnection{
		EmulatorAddress: fmt.Sprintf("tcp://%s:%s", host, port),
		Host:            host,
		Port:            port,
	}
}

// CreateTestMqttPublisher connects a plain publishing client to brokerURL.
func CreateTestMqttPublisher(brokerURL, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("test mqtt publisher connect error: %w", token.Error())
	}
	return client, nil
}
