package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryLedger is the in-process Ledger used when no redis is configured and
// in tests.
type MemoryLedger struct {
	mu     sync.RWMutex
	voters map[string]map[string]struct{} // [questionID][identityKey]
	counts map[string]Counts
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		voters: make(map[string]map[string]struct{}),
		counts: make(map[string]Counts),
	}
}

func (ml *MemoryLedger) RecordVote(_ context.Context, questionID, identityKey string, c Counts) (bool, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	vs, ok := ml.voters[questionID]
	if !ok {
		vs = make(map[string]struct{})
		ml.voters[questionID] = vs
	}
	if _, seen := vs[identityKey]; seen {
		return false, nil
	}
	vs[identityKey] = struct{}{}
	ml.counts[questionID] = c
	return true, nil
}

func (ml *MemoryLedger) Counts(_ context.Context, questionID string) (Counts, error) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	c, ok := ml.counts[questionID]
	if !ok {
		return Counts{}, ErrNotFound
	}
	return c, nil
}

func (ml *MemoryLedger) Questions(_ context.Context) ([]string, error) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	ids := make([]string, 0, len(ml.voters))
	for id := range ml.voters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (ml *MemoryLedger) Close() error { return nil }
