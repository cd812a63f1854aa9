package pubsub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/event"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/metrics"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/wire"
)

var relayClock = time.UnixMilli(1_700_000_000_000)

type relayHarness struct {
	hub     *Hub
	srv     *httptest.Server
	url     string
	metrics *metrics.RelayMetrics

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func startRelay(t *testing.T, opts Options) *relayHarness {
	t.Helper()

	opts.Metrics = metrics.NewRelayMetrics(prometheus.NewRegistry(), "test")
	opts.Now = func() time.Time { return relayClock }
	hub := NewHub(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	srv := httptest.NewServer(hub)
	h := &relayHarness{
		hub:     hub,
		srv:     srv,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		metrics: opts.Metrics,
		cancel:  cancel,
		done:    done,
	}
	t.Cleanup(func() {
		h.stop()
		srv.Close()
	})
	return h
}

func (h *relayHarness) stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		<-h.done
		h.hub.Wait()
	})
}

// dial connects a peer and consumes its welcome frame.
func (h *relayHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	c, _, err := websocket.Dial(context.Background(), h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "test done") })

	env := readEnvelope(t, c)
	require.Equal(t, wire.TypeUserConnected, env.Type)
	welcome, err := wire.DecodePayload[wire.Welcome](env)
	require.NoError(t, err)
	require.NotEmpty(t, welcome.PeerID)
	return c
}

func readEnvelope(t *testing.T, c *websocket.Conn) wire.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	env, err := wire.Decode(data)
	require.NoError(t, err)
	return env
}

func readVoteUpdate(t *testing.T, c *websocket.Conn) wire.VoteUpdate {
	t.Helper()

	env := readEnvelope(t, c)
	require.Equal(t, wire.TypeVoteUpdate, env.Type)
	u, err := wire.DecodePayload[wire.VoteUpdate](env)
	require.NoError(t, err)
	return u
}

func writeRaw(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.Write(context.Background(), websocket.MessageText, []byte(frame)))
}

func sendVote(t *testing.T, c *websocket.Conn, u wire.VoteUpdate) {
	t.Helper()
	env, err := wire.NewEnvelope(wire.TypeVoteUpdate, u, time.UnixMilli(1))
	require.NoError(t, err)
	b, err := wire.Encode(env)
	require.NoError(t, err)
	writeRaw(t, c, string(b))
}

func TestWelcomeAndPeerGauge(t *testing.T) {
	h := startRelay(t, Options{})

	h.dial(t)
	h.dial(t)
	h.dial(t)

	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Peers))
}

func TestVoteUpdateReachesEveryOtherPeer(t *testing.T) {
	h := startRelay(t, Options{})
	a, b, c := h.dial(t), h.dial(t), h.dial(t)

	fromA := wire.VoteUpdate{QuestionID: "Q", YesVotes: 1, TotalVotes: 1, UserID: "A"}
	sendVote(t, a, fromA)

	envB := readEnvelope(t, b)
	assert.Equal(t, relayClock.UnixMilli(), envB.Timestamp, "relay stamps the envelope")
	gotB, err := wire.DecodePayload[wire.VoteUpdate](envB)
	require.NoError(t, err)
	assert.Equal(t, fromA, gotB)
	assert.Equal(t, fromA, readVoteUpdate(t, c))

	// If A's own update had been echoed it would sit in A's queue ahead of B's.
	fromB := wire.VoteUpdate{QuestionID: "Q", YesVotes: 1, NoVotes: 1, TotalVotes: 2, UserID: "B"}
	sendVote(t, b, fromB)
	assert.Equal(t, fromB, readVoteUpdate(t, a))
	assert.Equal(t, fromB, readVoteUpdate(t, c))

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Received.WithLabelValues("vote_update")))
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.Relayed.WithLabelValues("vote_update")))
}

func TestQuestionUpdateIsRelayed(t *testing.T) {
	h := startRelay(t, Options{})
	a, b := h.dial(t), h.dial(t)

	writeRaw(t, a, `{"type":"question_update","payload":{"questionId":"Q","text":"Raise the minimum wage?"},"timestamp":5}`)

	env := readEnvelope(t, b)
	require.Equal(t, wire.TypeQuestionUpdate, env.Type)
	qu, err := wire.DecodePayload[wire.QuestionUpdate](env)
	require.NoError(t, err)
	assert.Equal(t, "Raise the minimum wage?", qu.Text)
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	h := startRelay(t, Options{})
	a, b, c := h.dial(t), h.dial(t), h.dial(t)

	writeRaw(t, a, "definitely not json")
	writeRaw(t, a, `{"type":"ping","payload":{},"timestamp":1}`)
	writeRaw(t, a, `{"type":"user_connected","payload":{},"timestamp":1}`)
	writeRaw(t, a, `{"type":"vote_update"}`)
	valid := wire.VoteUpdate{QuestionID: "Q", NoVotes: 1, TotalVotes: 1, UserID: "A"}
	sendVote(t, a, valid)

	// the first thing B and C see is the valid update
	assert.Equal(t, valid, readVoteUpdate(t, b))
	assert.Equal(t, valid, readVoteUpdate(t, c))

	// A is still connected
	fromB := wire.VoteUpdate{QuestionID: "Q", YesVotes: 1, NoVotes: 1, TotalVotes: 2, UserID: "B"}
	sendVote(t, b, fromB)
	assert.Equal(t, fromB, readVoteUpdate(t, a))

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Dropped.WithLabelValues(metrics.DropMalformed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Dropped.WithLabelValues(metrics.DropUnknownType)))
}

func TestShutdownClosesPeersAndRefusesNewOnes(t *testing.T) {
	h := startRelay(t, Options{})
	a := h.dial(t)

	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := a.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	h.stop()

	_, resp, err := websocket.Dial(context.Background(), h.url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}

type recordingAudit struct {
	mu      sync.Mutex
	records []event.AuditRecord
}

func (r *recordingAudit) Publish(_ context.Context, rec event.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) all() []event.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.AuditRecord(nil), r.records...)
}

func TestRelayedVotesAreAudited(t *testing.T) {
	audit := &recordingAudit{}
	h := startRelay(t, Options{Audit: audit})
	a, b := h.dial(t), h.dial(t)

	writeRaw(t, a, `{"type":"question_update","payload":{"questionId":"Q"},"timestamp":1}`)
	u := wire.VoteUpdate{QuestionID: "Q", YesVotes: 2, NoVotes: 1, TotalVotes: 3, UserID: "anon:s1"}
	sendVote(t, a, u)

	readEnvelope(t, b)
	assert.Equal(t, u, readVoteUpdate(t, b))

	require.Eventually(t, func() bool { return len(audit.all()) == 1 }, time.Second, time.Millisecond)
	rec := audit.all()[0]
	assert.Equal(t, u, rec.Update)
	assert.NotEmpty(t, rec.PeerID)
	assert.True(t, rec.RelayedAt.Equal(relayClock))
}

func TestFanOutSkipsSenderAndFullQueues(t *testing.T) {
	h := NewHub(Options{Metrics: metrics.NewRelayMetrics(prometheus.NewRegistry(), "test")})
	newTestPeer := func(buf int) *Peer {
		p := &Peer{send: make(chan []byte, buf), log: zerolog.Nop()}
		h.peers[p] = struct{}{}
		return p
	}
	sender, ok, full := newTestPeer(1), newTestPeer(1), newTestPeer(1)
	full.send <- []byte("backlog")

	h.fanOut(&message{from: sender, typ: wire.TypeVoteUpdate, data: []byte("update")})

	assert.Empty(t, sender.send)
	require.Len(t, ok.send, 1)
	assert.Equal(t, []byte("update"), <-ok.send)
	require.Len(t, full.send, 1)
	assert.Equal(t, []byte("backlog"), <-full.send)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Dropped.WithLabelValues(metrics.DropSlowPeer)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Relayed.WithLabelValues("vote_update")))
}
