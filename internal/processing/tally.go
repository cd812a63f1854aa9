// Package processing turns the relay's audit stream into a durable tally.
package processing

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/event"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/metrics"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/model"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/stats"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/store"
)

const DefaultReportInterval = 5 * time.Second

var (
	ErrDuplicateVote = errors.New("identity already voted on this question")
	ErrInvalidRecord = errors.New("invalid audit record")
)

type Option func(*Tally)

func WithLogger(l zerolog.Logger) Option {
	return func(t *Tally) { t.log = l.With().Str("module", "tally").Logger() }
}

func WithReportInterval(d time.Duration) Option {
	return func(t *Tally) {
		if d > 0 {
			t.interval = d
		}
	}
}

// Tally applies each relayed vote update to the ledger, counting every
// identity at most once per question.
type Tally struct {
	consumer event.AuditConsumer
	ledger   store.Ledger
	metrics  *metrics.TallyMetrics
	log      zerolog.Logger
	interval time.Duration
}

func NewTally(c event.AuditConsumer, l store.Ledger, m *metrics.TallyMetrics, opts ...Option) *Tally {
	t := &Tally{
		consumer: c,
		ledger:   l,
		metrics:  m,
		log:      zerolog.Nop(),
		interval: DefaultReportInterval,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Run reads the audit stream until ctx is done, logging a results report
// every interval.
func (t *Tally) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		t.reportLoop(ctx)
	}()
	defer func() { <-reportDone }()
	defer cancel()

	for {
		rec, err := t.consumer.ReadRecord(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.log.Info().Msg("tally received signal to stop")
				return nil
			}
			var de *event.DecodeError
			if errors.As(err, &de) {
				t.metrics.VotesInvalid.Inc()
				t.log.Warn().Err(err).Int64("offset", de.Offset).Msg("skipping undecodable record")
				continue
			}
			return errors.Wrap(err, "audit stream read failed")
		}

		if err := t.Process(ctx, rec); err != nil && !errors.Is(err, ErrDuplicateVote) && !errors.Is(err, ErrInvalidRecord) {
			return err
		}
	}
}

// Process applies one record. Duplicate and invalid records are counted and
// reported through the returned error but leave the ledger untouched.
func (t *Tally) Process(ctx context.Context, rec event.AuditRecord) error {
	start := time.Now()
	defer func() {
		t.metrics.ProcessingTime.Observe(time.Since(start).Seconds())
	}()

	u := rec.Update
	log := t.log.With().Str("question_id", u.QuestionID).Str("user_id", u.UserID).Str("peer", rec.PeerID).Logger()

	if err := u.Validate(); err != nil {
		t.metrics.VotesInvalid.Inc()
		log.Warn().Err(err).Msg("invalid vote update")
		return errors.Wrap(ErrInvalidRecord, err.Error())
	}
	id, err := model.ParseIdentity(u.UserID)
	if err != nil {
		t.metrics.VotesInvalid.Inc()
		log.Warn().Err(err).Msg("vote update without a usable identity")
		return errors.Wrap(ErrInvalidRecord, err.Error())
	}

	first, err := t.ledger.RecordVote(ctx, u.QuestionID, id.Key(), store.Counts{Yes: u.YesVotes, No: u.NoVotes})
	if err != nil {
		return errors.Wrap(err, "failed to record vote")
	}
	if !first {
		t.metrics.VotesDuplicate.WithLabelValues(u.QuestionID).Inc()
		log.Warn().Msg("duplicate vote, counts not applied")
		return ErrDuplicateVote
	}

	t.metrics.VotesAccepted.WithLabelValues(u.QuestionID).Inc()
	log.Debug().Int("yes", u.YesVotes).Int("no", u.NoVotes).Msg("vote counted")
	return nil
}

type Result struct {
	QuestionID string
	Counts     store.Counts
	Stats      stats.VoteStats
}

// Results reads the current tally for every known question, ordered by id.
func (t *Tally) Results(ctx context.Context) ([]Result, error) {
	ids, err := t.ledger.Questions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list questions")
	}
	sort.Strings(ids)

	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		c, err := t.ledger.Counts(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read counts for %s", id)
		}
		out = append(out, Result{QuestionID: id, Counts: c, Stats: stats.Compute(c.Yes, c.No)})
	}
	return out, nil
}

func (t *Tally) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.report(ctx)
		}
	}
}

func (t *Tally) report(ctx context.Context) {
	results, err := t.Results(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("results unavailable")
		return
	}
	if len(results) == 0 {
		t.log.Info().Msg("no valid votes counted yet")
		return
	}
	for _, r := range results {
		t.log.Info().
			Str("question_id", r.QuestionID).
			Str("yes", stats.FormatCount(r.Counts.Yes)).
			Str("no", stats.FormatCount(r.Counts.No)).
			Float64("yes_pct", r.Stats.YesPercentage).
			Float64("no_pct", r.Stats.NoPercentage).
			Bool("controversial", r.Stats.IsControversial).
			Msg("current score")
	}
}
