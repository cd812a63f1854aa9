package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/config"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/event"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/logging"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/metrics"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/pubsub"
)

func main() {
	config.LoadEnv()

	var cfg config.Relay
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Relays vote updates between connected clients",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return run(cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Relay) error {
	log, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}

	opts := pubsub.Options{
		SendBuffer:   cfg.SendBuffer,
		WriteTimeout: cfg.WriteTimeout,
		Metrics:      metrics.NewRelayMetrics(prometheus.DefaultRegisterer, "askgov"),
		Logger:       &log,
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp, err := event.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic, logging.Component(log, "audit"))
		if err != nil {
			return errors.Wrap(err, "failed to create kafka publisher")
		}
		defer kp.Close()
		opts.Audit = kp
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.AuditTopic).Msg("auditing relayed votes")
	}

	hub := pubsub.NewHub(opts)

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(mainCtx)
	}()

	srv := &http.Server{Addr: cfg.Addr, Handler: hub, ReadHeaderTimeout: 5 * time.Second}
	serveErr := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- errors.Wrap(err, "relay server failed")
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = serveMetrics(cfg.MetricsAddr, log, serveErr)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// The `main` blocks here, waiting for a shutdown signal or a server failure
	select {
	case <-signalChan:
		log.Info().Msg("shutdown signal received, stopping the relay...")
	case err = <-serveErr:
		log.Error().Err(err).Msg("stopping the relay")
	}

	// Peers get StatusGoingAway first, then the listener stops
	cancel()
	<-hubDone

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("relay server did not shut down cleanly")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	hub.Wait()

	log.Info().Msg("relay terminated")
	return err
}

func serveMetrics(addr string, log zerolog.Logger, errc chan<- error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Wrap(err, "metrics server failed")
		}
	}()
	return srv
}
