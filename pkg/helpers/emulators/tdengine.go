package emulators

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func GetDefaultTDengineImageContainer() ImageContainer {
	return ImageContainer{
		EmulatorImage: "tdengine/tdengine:3.3.2.0",
		EmulatorPort:  "6041",
	}
}

// SetupTDengineContainer starts TDengine and waits for its REST adapter.
// EmulatorAddress is the REST base, e.g. "http://localhost:32768".
func SetupTDengineContainer(t *testing.T, ctx context.Context, cfg ImageContainer) EmulatorConnection {
	t.Helper()
	port := nat.Port(fmt.Sprintf("%s/tcp", cfg.EmulatorPort))
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{string(port)},
		WaitingFor: wait.ForHTTP("/-/ping").WithPort(port).WithStatusCodeMatcher(func(status int) bool {
			return status == http.StatusOK
		}).WithStartupTimeout(90 * time.Second),
	}
	host, mapped := startContainer(t, ctx, req, cfg.EmulatorPort)
	return EmulatorConnection{
		EmulatorAddress: fmt.Sprintf("http://%s:%s", host, mapped),
		Host:            host,
		Port:            mapped,
	}
}
