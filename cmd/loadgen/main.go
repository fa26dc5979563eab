package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-tdbridge/pkg/helpers/loadgen"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	brokerURL := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL.")
	topicPattern := flag.String("topic", "meters/+", "Topic pattern; the first '+' is replaced by the device ID.")
	numDevices := flag.Int("devices", 10, "Number of simulated meters.")
	rate := flag.Float64("rate", 1.0, "Messages per second per device.")
	duration := flag.Duration("duration", 30*time.Second, "How long to publish for.")
	location := flag.String("location", "California.SanFrancisco", "Location written into each reading.")
	qos := flag.Int("qos", 1, "MQTT QoS for published messages.")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Seed for the reading generator.")
	flag.Parse()

	if *qos < 0 || *qos > 2 {
		log.Fatal().Int("qos", *qos).Msg("QoS must be 0, 1 or 2")
	}

	generator := loadgen.NewMeterPayloadGenerator(*location, *seed)
	devices := make([]*loadgen.Device, *numDevices)
	for i := range devices {
		devices[i] = &loadgen.Device{
			ID:               fmt.Sprintf("d%04d", 1001+i),
			MessageRate:      *rate,
			PayloadGenerator: generator,
		}
	}

	client := loadgen.NewMqttClient(*brokerURL, *topicPattern, byte(*qos), log.Logger)
	lg := loadgen.NewLoadGenerator(client, devices, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	count, err := lg.Run(ctx, *duration)
	if err != nil {
		log.Fatal().Err(err).Msg("Load generator failed")
	}
	log.Info().Int("published", count).Int("devices", *numDevices).Msg("Load run complete")
}
