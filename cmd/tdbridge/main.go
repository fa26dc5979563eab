package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-tdbridge/pkg/bridge"
	"github.com/illmade-knight/go-tdbridge/pkg/config"
	"github.com/illmade-knight/go-tdbridge/pkg/mqttingest"
	"github.com/illmade-knight/go-tdbridge/pkg/workerpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile := flag.String("config", "configs/tdbridge.example.yaml", "Path to the bridge YAML configuration.")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error).")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Warn().Str("log_level", *logLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.ApplyDefaults(log.Logger)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().Str("mode", cfg.Mode).Str("topic", cfg.Topic).Str("payload_coder", cfg.PayloadCoder).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := workerpool.New(cfg.WorkerPoolConfig(), log.Logger)

	b, err := bridge.New(ctx, cfg, pool, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build bridge")
	}
	if err := b.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap backend")
	}

	ingestion := mqttingest.NewService(b.Coordinator(), log.Logger, cfg.MQTTClientConfig())
	if err := ingestion.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start MQTT ingestion")
	}

	var srv *http.Server
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		srv = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("Metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case err, ok := <-ingestion.Err():
				if !ok {
					return nil
				}
				log.Error().Err(err).Msg("MQTT ingestion error")
			}
		}
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutdown signal received")

		ingestion.Stop()
		pool.Stop()
		if err := b.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Bridge shutdown reported errors")
		}
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Metrics server shutdown failed")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Bridge exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Bridge stopped.")
}
