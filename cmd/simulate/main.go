package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/config"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/logging"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/simulation"
)

func main() {
	config.LoadEnv()

	var (
		cfg       config.Client
		voters    int
		questions []string
		sim       simulation.Config
	)
	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Connects simulated voters to a relay and casts random votes",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			sim.URL = cfg.URL
			sim.BaseDelay = cfg.BaseDelay
			sim.Voters = voters
			sim.Questions = questions
			return run(cfg.LogLevel, sim)
		},
	}
	cfg.BindFlags(cmd.Flags())
	cmd.Flags().IntVar(&voters, "voters", 10, "number of simulated voters")
	cmd.Flags().StringSliceVar(&questions, "question", []string{"q1", "q2", "q3"}, "question ids to vote on")
	cmd.Flags().DurationVar(&sim.Interval, "interval", 0, "time between votes (default 500ms)")
	cmd.Flags().IntVar(&sim.RevoteEvery, "revote-every", 5, "repeat the previous vote every N ticks (0 disables)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(level string, cfg simulation.Config) error {
	log, err := logging.New(level, os.Stderr)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	cfg.Logger = &log

	s := simulation.New(cfg)

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalChan
		// Cancelling the context makes Run return
		log.Info().Msg("shutdown signal received, stopping the simulator...")
		cancel()
	}()

	log.Info().Msg("simulator is running. Press Ctrl+C to exit")
	if err := s.Run(mainCtx); err != nil {
		return err
	}

	log.Info().Msg("simulator terminated")
	return nil
}
