// Package simulation drives a relay with in-process voters for load and
// smoke testing.
package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/model"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/realtime"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/votesync"
)

type Config struct {
	URL       string
	Voters    int
	Questions []string
	Interval  time.Duration
	// RevoteEvery makes every Nth tick repeat the previous vote, which the
	// controller must reject. Zero disables it.
	RevoteEvery int
	BaseDelay   time.Duration
	Dialer      realtime.Dialer
	Logger      *zerolog.Logger
	Rand        *rand.Rand
}

func (c *Config) setDefaults() {
	if c.Voters <= 0 {
		c.Voters = 10
	}
	if len(c.Questions) == 0 {
		c.Questions = []string{"q1", "q2", "q3"}
	}
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
}

type voter struct {
	manager    *realtime.Manager
	controller *votesync.Controller
}

type Summary struct {
	Cast     int64
	Rejected int64
	Failed   int64
}

type Simulator struct {
	cfg Config
	log zerolog.Logger

	cast     atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

func New(cfg Config) *Simulator {
	cfg.setDefaults()
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Simulator{cfg: cfg, log: log.With().Str("module", "simulation").Logger()}
}

func (s *Simulator) Summary() Summary {
	return Summary{Cast: s.cast.Load(), Rejected: s.rejected.Load(), Failed: s.failed.Load()}
}

// Run connects every voter and casts one vote per tick until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	voters, err := s.join(ctx)
	defer func() {
		for _, v := range voters {
			v.controller.Close()
			v.manager.Disconnect()
		}
	}()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var tick int
	var last *voter
	var lastQuestion string
	for {
		select {
		case <-ctx.Done():
			sum := s.Summary()
			s.log.Info().Int64("cast", sum.Cast).Int64("rejected", sum.Rejected).Int64("failed", sum.Failed).Msg("simulator received shutdown signal")
			return nil

		case <-ticker.C:
			tick++
			v, qid := last, lastQuestion
			if s.cfg.RevoteEvery <= 0 || tick%s.cfg.RevoteEvery != 0 || last == nil {
				v = voters[s.cfg.Rand.Intn(len(voters))]
				qid = s.cfg.Questions[s.cfg.Rand.Intn(len(s.cfg.Questions))]
			} else {
				s.log.Debug().Msg("repeating the last vote on purpose")
			}
			if s.vote(v, qid) {
				last, lastQuestion = v, qid
			}
		}
	}
}

func (s *Simulator) join(ctx context.Context) ([]*voter, error) {
	questions := make([]model.Question, len(s.cfg.Questions))
	for i, id := range s.cfg.Questions {
		questions[i] = model.Question{ID: id, Text: fmt.Sprintf("Simulated question %s", id)}
	}

	voters := make([]*voter, 0, s.cfg.Voters)
	for i := 0; i < s.cfg.Voters; i++ {
		id := model.NewAnonymous()
		log := s.log.With().Str("voter", id.Key()).Logger()

		m := realtime.NewManager(s.cfg.URL, s.cfg.Dialer, realtime.Options{BaseDelay: s.cfg.BaseDelay, Logger: &log})
		if err := m.Connect(ctx); err != nil {
			return voters, errors.Wrapf(err, "voter %d failed to connect", i)
		}
		c := votesync.New(m, id, votesync.WithLogger(log))
		c.Track(questions...)
		voters = append(voters, &voter{manager: m, controller: c})
	}

	s.log.Info().Int("voters", len(voters)).Strs("questions", s.cfg.Questions).Msg("voters connected")
	return voters, nil
}

// vote reports whether a new vote was cast.
func (s *Simulator) vote(v *voter, questionID string) bool {
	choice := model.ChoiceYes
	if s.cfg.Rand.Intn(2) == 0 {
		choice = model.ChoiceNo
	}

	q, err := v.controller.CastVote(questionID, choice)
	log := s.log.With().Str("voter", v.controller.Identity().Key()).Str("question_id", questionID).Logger()
	switch {
	case errors.Is(err, votesync.ErrAlreadyVoted):
		s.rejected.Add(1)
		log.Info().Str("user_vote", string(q.UserVote)).Msg("re-vote rejected")
		return false
	case err != nil:
		s.failed.Add(1)
		log.Warn().Err(err).Msg("vote failed")
		return false
	}

	s.cast.Add(1)
	log.Info().
		Str("choice", string(choice)).
		Int("yes", q.YesVotes).
		Int("no", q.NoVotes).
		Bool("online", v.manager.IsConnected()).
		Msg("vote cast")
	return true
}
