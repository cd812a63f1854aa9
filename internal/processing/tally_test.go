package processing

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/event"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/metrics"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/store"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type feed struct {
	items chan feedItem
}

type feedItem struct {
	rec event.AuditRecord
	err error
}

func newFeed(items ...feedItem) *feed {
	f := &feed{items: make(chan feedItem, len(items))}
	for _, it := range items {
		f.items <- it
	}
	return f
}

func (f *feed) ReadRecord(ctx context.Context) (event.AuditRecord, error) {
	select {
	case <-ctx.Done():
		return event.AuditRecord{}, ctx.Err()
	case it := <-f.items:
		return it.rec, it.err
	}
}

func (f *feed) Close() error { return nil }

func record(u wire.VoteUpdate) feedItem {
	return feedItem{rec: event.AuditRecord{Update: u, PeerID: "p1", RelayedAt: time.UnixMilli(1)}}
}

func newTestTally(t *testing.T, f *feed) (*Tally, *store.MemoryLedger, *metrics.TallyMetrics) {
	t.Helper()
	ledger := store.NewMemoryLedger()
	m := metrics.NewTallyMetrics(prometheus.NewRegistry(), "test")
	return NewTally(f, ledger, m, WithReportInterval(time.Hour)), ledger, m
}

func TestProcessCountsEachIdentityOnce(t *testing.T) {
	tally, ledger, m := newTestTally(t, newFeed())
	ctx := context.Background()

	first := event.AuditRecord{Update: wire.VoteUpdate{QuestionID: "Q", YesVotes: 1, TotalVotes: 1, UserID: "user1"}}
	require.NoError(t, tally.Process(ctx, first))

	again := event.AuditRecord{Update: wire.VoteUpdate{QuestionID: "Q", YesVotes: 1, NoVotes: 5, TotalVotes: 6, UserID: "user1"}}
	assert.ErrorIs(t, tally.Process(ctx, again), ErrDuplicateVote)

	c, err := ledger.Counts(ctx, "Q")
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Yes: 1}, c)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesAccepted.WithLabelValues("Q")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesDuplicate.WithLabelValues("Q")))
}

func TestProcessRejectsInvalidRecords(t *testing.T) {
	tally, ledger, m := newTestTally(t, newFeed())
	ctx := context.Background()

	badCounts := event.AuditRecord{Update: wire.VoteUpdate{QuestionID: "Q", YesVotes: 1, TotalVotes: 3, UserID: "user1"}}
	assert.ErrorIs(t, tally.Process(ctx, badCounts), ErrInvalidRecord)

	noIdentity := event.AuditRecord{Update: wire.VoteUpdate{QuestionID: "Q", YesVotes: 1, TotalVotes: 1, UserID: "anon:"}}
	assert.ErrorIs(t, tally.Process(ctx, noIdentity), ErrInvalidRecord)

	ids, err := ledger.Questions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.VotesInvalid))
}

func TestResultsIncludeStats(t *testing.T) {
	tally, _, _ := newTestTally(t, newFeed())
	ctx := context.Background()

	require.NoError(t, tally.Process(ctx, event.AuditRecord{Update: wire.VoteUpdate{QuestionID: "b", YesVotes: 9, NoVotes: 1, TotalVotes: 10, UserID: "u1"}}))
	require.NoError(t, tally.Process(ctx, event.AuditRecord{Update: wire.VoteUpdate{QuestionID: "a", YesVotes: 1, NoVotes: 1, TotalVotes: 2, UserID: "anon:s1"}}))

	results, err := tally.Results(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].QuestionID)
	assert.True(t, results[0].Stats.IsControversial)
	assert.Equal(t, store.Counts{Yes: 9, No: 1}, results[1].Counts)
	assert.Equal(t, 90.0, results[1].Stats.YesPercentage)
	assert.False(t, results[1].Stats.IsControversial)
}

func TestRunSkipsBadRecordsAndStopsOnCancel(t *testing.T) {
	f := newFeed(
		record(wire.VoteUpdate{QuestionID: "Q", YesVotes: 1, TotalVotes: 1, UserID: "user1"}),
		feedItem{err: &event.DecodeError{Offset: 7, Err: errors.New("unexpected end of JSON input")}},
		record(wire.VoteUpdate{QuestionID: "Q", YesVotes: 1, NoVotes: 1, TotalVotes: 2, UserID: "user1"}),
		record(wire.VoteUpdate{QuestionID: "Q", YesVotes: 1, NoVotes: 1, TotalVotes: 2, UserID: "anon:s9"}),
	)
	tally, ledger, m := newTestTally(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tally.Run(ctx) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.VotesAccepted.WithLabelValues("Q")) == 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	c, err := ledger.Counts(context.Background(), "Q")
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Yes: 1, No: 1}, c)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesInvalid))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesDuplicate.WithLabelValues("Q")))
}

func TestRunReturnsStreamFailure(t *testing.T) {
	f := newFeed(feedItem{err: errors.New("broker unreachable")})
	tally, _, _ := newTestTally(t, f)

	err := tally.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
}

type flakyLedger struct {
	*store.MemoryLedger
	failures int
}

func (f *flakyLedger) RecordVote(ctx context.Context, questionID, identityKey string, c store.Counts) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("redis: connection refused")
	}
	return f.MemoryLedger.RecordVote(ctx, questionID, identityKey, c)
}

func TestFailedRecordCanBeReplayed(t *testing.T) {
	ledger := &flakyLedger{MemoryLedger: store.NewMemoryLedger(), failures: 1}
	m := metrics.NewTallyMetrics(prometheus.NewRegistry(), "test")
	tally := NewTally(newFeed(), ledger, m)
	ctx := context.Background()

	rec := event.AuditRecord{Update: wire.VoteUpdate{QuestionID: "Q", YesVotes: 2, NoVotes: 1, TotalVotes: 3, UserID: "user1"}}
	require.Error(t, tally.Process(ctx, rec))

	require.NoError(t, tally.Process(ctx, rec), "the voter was not marked by the failed attempt")

	c, err := ledger.Counts(ctx, "Q")
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Yes: 2, No: 1}, c)
	assert.Zero(t, testutil.ToFloat64(m.VotesDuplicate.WithLabelValues("Q")))
}
