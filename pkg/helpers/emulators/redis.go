package emulators

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func GetDefaultRedisImageContainer() ImageContainer {
	return ImageContainer{
		EmulatorImage: "redis:7-alpine",
		EmulatorPort:  "6379",
	}
}

func SetupRedisContainer(t *testing.T, ctx context.Context, cfg ImageContainer) EmulatorConnection {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{fmt.Sprintf("%s/tcp", cfg.EmulatorPort)},
		WaitingFor:   wait.ForListeningPort(nat.Port(cfg.EmulatorPort)).WithStartupTimeout(30 * time.Second),
	}
	host, port := startContainer(t, ctx, req, cfg.EmulatorPort)
	return EmulatorConnection{
		EmulatorAddress: fmt.Sprintf("%s:%s", host, port),
		Host:            host,
		Port:            port,
	}
}
