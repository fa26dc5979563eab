package types

import (
	"time"
)

// PublishEvent is a message delivered on a topic by the broker. It is read-only
// and only lives for the duration of one hook invocation.
type PublishEvent struct {
	// Topic is the exact topic the message was published on.
	Topic string
	// Payload is the raw byte content of the message. A nil or empty payload
	// means "no payload present".
	Payload []byte
	// MessageID is the broker-assigned identifier, used only for logging.
	MessageID string
	// ReceivedAt is the time the adapter accepted the message.
	ReceivedAt time.Time
}

// HasPayload reports whether the event carries any payload bytes.
func (e PublishEvent) HasPayload() bool {
	return len(e.Payload) > 0
}
