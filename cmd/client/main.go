package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/config"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/logging"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/model"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/realtime"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/stats"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/votesync"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/wire"
)

type clientFlags struct {
	config.Client
	UserID    string
	Questions []string
	Vote      string
}

func main() {
	config.LoadEnv()

	var f clientFlags
	cmd := &cobra.Command{
		Use:          "client --question <id> [--vote yes|no]",
		Short:        "Follows live vote counts and optionally casts a vote",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return run(f)
		},
	}
	f.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&f.UserID, "user", "", "registered user id (anonymous session when empty)")
	cmd.Flags().StringSliceVar(&f.Questions, "question", nil, "question ids to follow")
	cmd.Flags().StringVar(&f.Vote, "vote", "", "vote to cast on the first question: yes or no")
	_ = cmd.MarkFlagRequired("question")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(f clientFlags) error {
	log, err := logging.New(f.LogLevel, os.Stderr)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}

	var identity model.Identity = model.NewAnonymous()
	if f.UserID != "" {
		identity = model.Registered{UserID: f.UserID}
	}

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := realtime.NewManager(f.URL, realtime.WebsocketDialer{}, realtime.Options{
		BaseDelay:   f.BaseDelay,
		MaxAttempts: f.MaxAttempts,
		Logger:      &log,
		OnError: func(err error) {
			if errors.Is(err, realtime.ErrReconnectExhausted) {
				log.Error().Err(err).Msg("relay unreachable, live updates stopped")
				cancel()
			}
		},
	})
	m.OnUserConnected(func(w wire.Welcome) {
		log.Info().Str("peer", w.PeerID).Msg(w.Message)
	})
	m.OnQuestionUpdate(func(qu wire.QuestionUpdate) {
		log.Info().Str("question_id", qu.QuestionID).Str("text", qu.Text).Strs("hashtags", qu.Hashtags).Msg("question updated")
	})

	c := votesync.New(m, identity, votesync.WithLogger(log), votesync.OnChange(printScore))
	defer c.Close()

	questions := make([]model.Question, len(f.Questions))
	for i, id := range f.Questions {
		questions[i] = model.Question{ID: id}
	}
	c.Track(questions...)

	connectCtx, connectCancel := context.WithTimeout(mainCtx, 10*time.Second)
	err = m.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return errors.Wrap(err, "failed to connect")
	}
	defer m.Disconnect()

	if f.Vote != "" {
		if _, err := c.CastVote(f.Questions[0], model.Choice(f.Vote)); err != nil {
			return errors.Wrapf(err, "vote on %s", f.Questions[0])
		}
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	log.Info().Str("identity", identity.Key()).Strs("questions", f.Questions).Msg("listening for vote updates")
	select {
	case <-signalChan:
		log.Info().Msg("shutting 'client' down...")
		return nil
	case <-mainCtx.Done():
		return m.Err()
	}
}

func printScore(q model.Question) {
	s := stats.Compute(q.YesVotes, q.NoVotes)
	tag := ""
	if s.IsControversial {
		tag = " [controversial]"
	}
	mine := ""
	if q.HasVoted() {
		mine = fmt.Sprintf(" (you voted %s)", q.UserVote)
	}
	fmt.Printf("%s: yes %s (%.1f%%) | no %s (%.1f%%) | total %s%s%s\n",
		q.ID,
		humanize.Comma(int64(q.YesVotes)), s.YesPercentage,
		humanize.Comma(int64(q.NoVotes)), s.NoPercentage,
		stats.FormatCount(q.TotalVotes),
		tag, mine,
	)
}
