// Package votesync binds local question state to the relay: votes are applied
// optimistically and broadcast, and updates from other peers replace the
// local counts.
package votesync

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/model"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/realtime"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/stats"
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/wire"
)

var (
	ErrUnknownQuestion = errors.New("question is not tracked")
	ErrInvalidChoice   = errors.New("choice must be yes or no")
	// ErrAlreadyVoted rejects a second vote by the same identity; nothing
	// changes and nothing is sent.
	ErrAlreadyVoted = errors.New("already voted on this question")
)

// Phase is where a question sits in the local vote lifecycle.
type Phase string

const (
	PhaseNoVote      Phase = "no-vote-cast"
	PhasePendingSend Phase = "pending-send"
	PhaseVoted       Phase = "voted"
)

// Conn is the part of realtime.Manager the controller needs.
type Conn interface {
	IsConnected() bool
	SendVoteUpdate(wire.VoteUpdate) error
	OnVoteUpdate(func(wire.VoteUpdate)) realtime.Subscription
	OffMessage(realtime.Subscription)
}

type Option func(*Controller)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l.With().Str("module", "votesync").Logger() }
}

// OnChange registers fn to receive a copy of every question whose state
// changed, local or remote. It is called without the controller lock held.
func OnChange(fn func(model.Question)) Option {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

type entry struct {
	q       model.Question
	pending bool
}

// Controller is the only writer of the local question map.
type Controller struct {
	conn      Conn
	identity  model.Identity
	log       zerolog.Logger
	observers []func(model.Question)

	mu        sync.RWMutex
	questions map[string]*entry
	// this identity's known votes, kept across Untrack
	votes map[string]model.Choice

	sub    realtime.Subscription
	closed sync.Once
}

func New(conn Conn, identity model.Identity, opts ...Option) *Controller {
	c := &Controller{
		conn:      conn,
		identity:  identity,
		log:       zerolog.Nop(),
		questions: make(map[string]*entry),
		votes:     make(map[string]model.Choice),
	}
	for _, o := range opts {
		o(c)
	}
	c.sub = conn.OnVoteUpdate(c.applyRemote)
	return c
}

func (c *Controller) Identity() model.Identity { return c.identity }

// Track loads questions fetched from the CRUD API. TotalVotes is recomputed
// from the two sides. Reloading a tracked question refreshes its text and
// counts but keeps the local vote: once voted, always voted.
func (c *Controller) Track(qs ...model.Question) {
	c.mu.Lock()
	for _, q := range qs {
		q.Normalize()
		if v, ok := c.votes[q.ID]; ok {
			q.UserVote = v
		} else if q.HasVoted() {
			c.votes[q.ID] = q.UserVote
		}
		if e, ok := c.questions[q.ID]; ok {
			e.q = q
			continue
		}
		c.questions[q.ID] = &entry{q: q}
	}
	c.mu.Unlock()
}

func (c *Controller) Untrack(questionID string) {
	c.mu.Lock()
	delete(c.questions, questionID)
	c.mu.Unlock()
}

func (c *Controller) Question(questionID string) (model.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.questions[questionID]
	if !ok {
		return model.Question{}, false
	}
	return e.q, true
}

// Questions returns a snapshot ordered by id.
func (c *Controller) Questions() []model.Question {
	c.mu.RLock()
	out := make([]model.Question, 0, len(c.questions))
	for _, e := range c.questions {
		out = append(out, e.q)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Controller) Stats(questionID string) (stats.VoteStats, bool) {
	q, ok := c.Question(questionID)
	if !ok {
		return stats.VoteStats{}, false
	}
	return stats.Compute(q.YesVotes, q.NoVotes), true
}

func (c *Controller) Phase(questionID string) (Phase, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.questions[questionID]
	switch {
	case !ok:
		return "", false
	case e.pending:
		return PhasePendingSend, true
	case e.q.HasVoted():
		return PhaseVoted, true
	default:
		return PhaseNoVote, true
	}
}

// CastVote applies the vote locally, then broadcasts the new counts if the
// connection is up. A vote cast while offline still stands locally and is
// never queued for later.
func (c *Controller) CastVote(questionID string, choice model.Choice) (model.Question, error) {
	if !choice.Valid() {
		return model.Question{}, ErrInvalidChoice
	}

	c.mu.Lock()
	e, ok := c.questions[questionID]
	if !ok {
		c.mu.Unlock()
		return model.Question{}, ErrUnknownQuestion
	}
	if e.q.HasVoted() {
		q := e.q
		c.mu.Unlock()
		c.log.Debug().Str("question_id", questionID).Str("user_vote", string(q.UserVote)).Msg("re-vote rejected")
		return q, ErrAlreadyVoted
	}

	if choice == model.ChoiceYes {
		e.q.YesVotes++
	} else {
		e.q.NoVotes++
	}
	e.q.Normalize()
	e.q.UserVote = choice
	e.pending = true
	c.votes[questionID] = choice
	q := e.q
	c.mu.Unlock()

	c.notify(q)
	c.send(q)

	c.mu.Lock()
	if e, ok := c.questions[questionID]; ok {
		e.pending = false
	}
	c.mu.Unlock()

	return q, nil
}

func (c *Controller) send(q model.Question) {
	log := c.log.With().Str("question_id", q.ID).Logger()
	if !c.conn.IsConnected() {
		log.Info().Msg("offline, vote kept locally only")
		return
	}

	err := c.conn.SendVoteUpdate(wire.VoteUpdate{
		QuestionID: q.ID,
		YesVotes:   q.YesVotes,
		NoVotes:    q.NoVotes,
		TotalVotes: q.TotalVotes,
		UserID:     c.identity.Key(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("vote update not broadcast")
	}
}

// applyRemote is last-write-wins by arrival order: the counts in u replace
// the local ones. The local identity's own vote marker is never touched.
func (c *Controller) applyRemote(u wire.VoteUpdate) {
	if err := u.Validate(); err != nil {
		c.log.Warn().Err(err).Str("user_id", u.UserID).Msg("ignoring invalid vote update")
		return
	}

	c.mu.Lock()
	e, ok := c.questions[u.QuestionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.q.YesVotes = u.YesVotes
	e.q.NoVotes = u.NoVotes
	e.q.TotalVotes = u.TotalVotes
	q := e.q
	c.mu.Unlock()

	c.notify(q)
}

func (c *Controller) notify(q model.Question) {
	for _, fn := range c.observers {
		fn(q)
	}
}

// Close stops listening for remote updates. Local state stays readable.
func (c *Controller) Close() {
	c.closed.Do(func() { c.conn.OffMessage(c.sub) })
}
