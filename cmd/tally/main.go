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
	"github.com/spf13/cobra"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/config"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/event"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/logging"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/metrics"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/processing"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/store"
)

func main() {
	config.LoadEnv()

	var cfg config.Tally
	cmd := &cobra.Command{
		Use:          "tally",
		Short:        "Tallies relayed vote updates from the audit stream",
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

func run(cfg config.Tally) error {
	log, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	log.Info().Str("topic", cfg.AuditTopic).Str("group", cfg.GroupID).Msg("starting tally")

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger, err := openLedger(mainCtx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer ledger.Close()

	consumer, err := event.NewKafkaConsumer(cfg.KafkaBrokers, cfg.AuditTopic, cfg.GroupID)
	if err != nil {
		return errors.Wrap(err, "error creating kafka consumer")
	}
	defer consumer.Close()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
	}

	tally := processing.NewTally(consumer, ledger,
		metrics.NewTallyMetrics(prometheus.DefaultRegisterer, "askgov"),
		processing.WithLogger(log),
		processing.WithReportInterval(cfg.ReportInterval),
	)

	runErr := make(chan error, 1)
	go func() { runErr <- tally.Run(mainCtx) }()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-signalChan:
		log.Info().Msg("shutdown signal received, stopping the tally...")
		cancel()
		err = <-runErr
	case err = <-runErr:
	}

	log.Info().Msg("tally terminated")
	return err
}

func openLedger(ctx context.Context, redisURL string) (store.Ledger, error) {
	if redisURL == "" {
		return store.NewMemoryLedger(), nil
	}
	rl, err := store.NewRedisLedger(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return rl, nil
}
