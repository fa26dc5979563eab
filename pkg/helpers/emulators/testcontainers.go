package emulators

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

type ImageContainer struct {
	EmulatorImage string
	EmulatorPort  string
}

// EmulatorConnection is how a test reaches a started container.
type EmulatorConnection struct {
	// EmulatorAddress is a client-ready address, e.g. "tcp://localhost:32768".
	EmulatorAddress string
	Host            string
	Port            string
}

// startContainer starts req and registers its termination with t.Cleanup.
func startContainer(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, port string) (host, mapped string) {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Warn().Err(err).Str("image", req.Image).Msg("Failed to terminate emulator container")
		}
	})

	host, err = container.Host(ctx)
	require.NoError(t, err)
	p, err := container.MappedPort(ctx, nat.Port(fmt.Sprintf("%s/tcp", port)))
	require.NoError(t, err)

	t.Logf("%s container started, listening on: %s:%s", req.Image, host, p.Port())
	return host, p.Port()
}
