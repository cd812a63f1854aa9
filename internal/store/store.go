package store

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Counts for a question with no stored counts.
var ErrNotFound = errors.New("question not found")

type Counts struct {
	Yes int
	No  int
}

func (c Counts) Total() int { return c.Yes + c.No }

// Ledger backs the tally: it remembers who voted on what, so each identity
// counts once per question, and keeps the latest relayed counts.
type Ledger interface {
	// RecordVote registers identityKey as a voter on questionID and stores c
	// as the question's latest counts, atomically. It returns false, and
	// changes nothing, when identityKey already voted on questionID.
	RecordVote(ctx context.Context, questionID, identityKey string, c Counts) (bool, error)
	Counts(ctx context.Context, questionID string) (Counts, error)
	Questions(ctx context.Context) ([]string, error)
	Close() error
}
