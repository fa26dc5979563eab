package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Device represents a single simulated meter in the load test.
type Device struct {
	ID               string
	MessageRate      float64
	PayloadGenerator PayloadGenerator
}

// LoadGenerator drives every device against one client for a fixed duration.
type LoadGenerator struct {
	client    Client
	devices   []*Device
	logger    zerolog.Logger
	published atomic.Int64
}

// NewLoadGenerator creates a new LoadGenerator.
func NewLoadGenerator(client Client, devices []*Device, logger zerolog.Logger) *LoadGenerator {
	return &LoadGenerator{
		client:  client,
		devices: devices,
		logger:  logger.With().Str("component", "LoadGenerator").Logger(),
	}
}

// Run publishes until duration elapses or ctx is done and returns the number
// of confirmed publishes.
func (lg *LoadGenerator) Run(ctx context.Context, duration time.Duration) (int, error) {
	lg.published.Store(0)
	lg.logger.Info().Int("num_devices", len(lg.devices)).Dur("duration", duration).Msg("Starting load generator")

	if err := lg.client.Connect(); err != nil {
		lg.logger.Error().Err(err).Msg("Failed to connect client")
		return 0, err
	}
	defer lg.client.Disconnect()

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var wg sync.WaitGroup
	for _, device := range lg.devices {
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			lg.runDevice(runCtx, d)
		}(device)
	}
	wg.Wait()

	count := int(lg.published.Load())
	lg.logger.Info().Int("successful_publishes", count).Msg("Load generator finished")
	return count, nil
}

func (lg *LoadGenerator) runDevice(ctx context.Context, device *Device) {
	if device.MessageRate <= 0 {
		lg.logger.Warn().Str("device_id", device.ID).Msg("Device has a message rate of 0, no messages will be sent")
		return
	}

	interval := time.Duration(float64(time.Second) / device.MessageRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, err := lg.client.Publish(ctx, device); err != nil {
				lg.logger.Error().Err(err).Str("device_id", device.ID).Msg("Failed to publish message")
			} else if ok {
				lg.published.Add(1)
			}
		}
	}
}
