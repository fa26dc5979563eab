package loadgen

import (
	"context"
)

// PayloadGenerator creates the payload a device publishes on each tick.
type PayloadGenerator interface {
	GeneratePayload(device *Device) ([]byte, error)
}

// Client publishes device payloads. Publish reports whether the broker
// confirmed the message.
type Client interface {
	Connect() error
	Disconnect()
	Publish(ctx context.Context, device *Device) (bool, error)
}
