package loadgen

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// MeterReading is the flat JSON object a simulated smart meter publishes.
// Its keys line up with ${payload.<key>} placeholders in an insert template.
type MeterReading struct {
	TS       int64   `json:"ts"`
	DeviceID string  `json:"device_id"`
	Current  float64 `json:"current"`
	Voltage  int     `json:"voltage"`
	Phase    float64 `json:"phase"`
	Location string  `json:"location,omitempty"`
}

// MeterPayloadGenerator produces plausible readings around fixed baselines.
type MeterPayloadGenerator struct {
	Location string

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewMeterPayloadGenerator returns a generator seeded with seed.
func NewMeterPayloadGenerator(location string, seed uint64) *MeterPayloadGenerator {
	return &MeterPayloadGenerator{
		Location: location,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:      time.Now,
	}
}

func (g *MeterPayloadGenerator) GeneratePayload(device *Device) ([]byte, error) {
	g.mu.Lock()
	reading := MeterReading{
		TS:       g.now().UnixMilli(),
		DeviceID: device.ID,
		Current:  10 + g.rng.Float64()*2,
		Voltage:  218 + g.rng.IntN(8),
		Phase:    0.3 + g.rng.Float64()*0.05,
		Location: g.Location,
	}
	g.mu.Unlock()
	return sonic.Marshal(reading)
}
