// Package pubsub is the relay: it keeps the set of connected peers and fans
// every update a peer sends out to all the others.
package pubsub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/event"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/metrics"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/wire"
)

const (
	DefaultSendBuffer   = 64
	DefaultWriteTimeout = 10 * time.Second

	welcomeMessage = "Connected to Ask the Government relay"
)

type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	Metrics      *metrics.RelayMetrics
	// Audit, when set, receives every relayed vote_update.
	Audit         event.AuditPublisher
	AcceptOptions *websocket.AcceptOptions
	Logger        *zerolog.Logger
	Now           func() time.Time
}

type message struct {
	from *Peer
	typ  wire.MessageType
	data []byte
}

// Hub owns the live peer set. Only the Run goroutine touches peers, so the
// set needs no lock; everything else talks to it through channels.
type Hub struct {
	peers      map[*Peer]struct{}
	broadcast  chan *message
	register   chan *Peer
	unregister chan *Peer
	stopping   chan struct{}

	wg      sync.WaitGroup
	opts    Options
	metrics *metrics.RelayMetrics
	log     zerolog.Logger
}

func NewHub(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewRelayMetrics(prometheus.NewRegistry(), "askgov")
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	return &Hub{
		peers:      make(map[*Peer]struct{}),
		broadcast:  make(chan *message),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		stopping:   make(chan struct{}),
		opts:       opts,
		metrics:    m,
		log:        log.With().Str("module", "relay").Logger(),
	}
}

// Run serves register, unregister and broadcast requests until ctx is done.
// On shutdown every peer's queue is closed, so frames already queued are
// still written before the peer is closed with StatusGoingAway.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case p := <-h.register:
			h.peers[p] = struct{}{}
			h.metrics.Peers.Set(float64(len(h.peers)))
			h.welcome(p)
			p.log.Info().Int("peers", len(h.peers)).Msg("peer connected")

		case p := <-h.unregister:
			if _, ok := h.peers[p]; ok {
				delete(h.peers, p)
				close(p.send)
				h.metrics.Peers.Set(float64(len(h.peers)))
				p.log.Info().Int("peers", len(h.peers)).Msg("peer removed")
			}

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.stopping)
	for p := range h.peers {
		p.closeCode = websocket.StatusGoingAway
		close(p.send)
		delete(h.peers, p)
	}
	h.metrics.Peers.Set(0)
	h.log.Info().Msg("relay stopped accepting peers")
}

// Wait blocks until every accepted peer has finished.
func (h *Hub) Wait() {
	h.wg.Wait()
}

func (h *Hub) welcome(p *Peer) {
	env, err := wire.NewEnvelope(wire.TypeUserConnected, wire.Welcome{
		Message: welcomeMessage,
		PeerID:  p.ID,
	}, h.opts.Now())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build welcome")
		return
	}
	frame, err := wire.Encode(env)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode welcome")
		return
	}
	select {
	case p.send <- frame:
	default:
	}
}

// fanOut queues msg for every peer except its sender. A peer whose queue is
// full is skipped; it resynchronises through the CRUD API on reconnect.
func (h *Hub) fanOut(msg *message) {
	for p := range h.peers {
		if p == msg.from {
			continue
		}
		select {
		case p.send <- msg.data:
			h.metrics.Relayed.WithLabelValues(string(msg.typ)).Inc()
		default:
			h.metrics.Dropped.WithLabelValues(metrics.DropSlowPeer).Inc()
			p.log.Debug().Str("type", string(msg.typ)).Msg("peer queue full, skipping")
		}
	}
}

// handleFrame runs on the sending peer's read goroutine.
func (h *Hub) handleFrame(p *Peer, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		h.metrics.Dropped.WithLabelValues(metrics.DropMalformed).Inc()
		p.log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	if !env.Type.Relayable() {
		h.metrics.Dropped.WithLabelValues(metrics.DropUnknownType).Inc()
		p.log.Warn().Str("type", string(env.Type)).Msg("dropping frame of unrelayed type")
		return
	}
	h.metrics.Received.WithLabelValues(string(env.Type)).Inc()

	at := h.opts.Now()
	frame, err := wire.Encode(wire.Envelope{Type: env.Type, Payload: env.Payload, Timestamp: at.UnixMilli()})
	if err != nil {
		p.log.Error().Err(err).Msg("failed to re-encode frame")
		return
	}

	select {
	case h.broadcast <- &message{from: p, typ: env.Type, data: frame}:
	case <-h.stopping:
		return
	}

	if env.Type == wire.TypeVoteUpdate && h.opts.Audit != nil {
		h.audit(p, env, at)
	}
}

func (h *Hub) audit(p *Peer, env wire.Envelope, at time.Time) {
	u, err := wire.DecodePayload[wire.VoteUpdate](env)
	if err != nil {
		p.log.Warn().Err(err).Msg("vote update not audited")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
	defer cancel()
	rec := event.AuditRecord{Update: u, PeerID: p.ID, RelayedAt: at}
	if err := h.opts.Audit.Publish(ctx, rec); err != nil {
		p.log.Warn().Err(err).Str("question_id", u.QuestionID).Msg("failed to publish audit record")
	}
}

func (h *Hub) leave(p *Peer) {
	select {
	case h.unregister <- p:
	case <-h.stopping:
	}
}

// ServeHTTP upgrades the request to a websocket and serves the peer until it
// goes away. Once the hub is shutting down new peers get 503.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.wg.Add(1)
	defer h.wg.Done()

	select {
	case <-h.stopping:
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := websocket.Accept(w, r, h.opts.AcceptOptions)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	p := newPeer(h, conn, r.RemoteAddr)
	select {
	case h.register <- p:
	case <-h.stopping:
		_ = conn.Close(websocket.StatusGoingAway, "relay shutting down")
		return
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		p.WritePump(h.opts.WriteTimeout)
	}()

	p.ReadPump(context.Background())
	<-writeDone
}
