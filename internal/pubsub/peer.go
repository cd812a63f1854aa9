package pubsub

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/metrics"
)

// Peer is one connection to the relay.
type Peer struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	// set by the hub before it closes send
	closeCode websocket.StatusCode
}

func newPeer(h *Hub, conn *websocket.Conn, remote string) *Peer {
	id := uuid.NewString()
	return &Peer{
		ID:        id,
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, h.opts.SendBuffer),
		log:       h.log.With().Str("peer", id).Str("remote", remote).Logger(),
		closeCode: websocket.StatusNormalClosure,
	}
}

// WritePump sends queued frames to the websocket until the hub closes the
// queue, then closes the connection.
func (p *Peer) WritePump(timeout time.Duration) {
	for frame := range p.send {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := p.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			p.log.Warn().Err(err).Msg("error writing to peer")
			_ = p.conn.CloseNow()
			return
		}
	}

	reason := ""
	if p.closeCode == websocket.StatusGoingAway {
		reason = "relay shutting down"
	}
	_ = p.conn.Close(p.closeCode, reason)
}

// ReadPump hands every inbound frame to the hub until the connection ends.
func (p *Peer) ReadPump(ctx context.Context) {
	defer p.hub.leave(p)

	for {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				p.log.Info().Msg("peer disconnected normally")
			default:
				p.log.Warn().Err(err).Msg("peer connection ended")
			}
			return
		}
		if typ != websocket.MessageText {
			p.hub.metrics.Dropped.WithLabelValues(metrics.DropMalformed).Inc()
			p.log.Warn().Msg("dropping binary frame")
			continue
		}
		p.hub.handleFrame(p, data)
	}
}
