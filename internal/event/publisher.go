package event

import (
	"context"
	"time"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/wire"
)

// AuditRecord is what the relay writes to the audit stream for each vote
// update it relays.
type AuditRecord struct {
	Update    wire.VoteUpdate `json:"update"`
	PeerID    string          `json:"peer_id"`
	RelayedAt time.Time       `json:"relayed_at"`
}

type AuditPublisher interface {
	Publish(ctx context.Context, rec AuditRecord) error
	Close() error
}
