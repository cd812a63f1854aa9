package realtime

import (
	"github.com/Guizzs26/ask_gov_realtime_votes/internal/wire"
)

// Handler consumes one inbound envelope. A returned error or a panic is
// logged and does not stop the remaining handlers.
type Handler func(wire.Envelope) error

// Subscription identifies a registered handler for OffMessage.
type Subscription struct {
	typ wire.MessageType
	id  uint64
}

func (s Subscription) Type() wire.MessageType { return s.typ }

type handlerEntry struct {
	id uint64
	fn Handler
}

// OnMessage registers h for messages tagged t. Handlers for the same type run
// in registration order.
func (m *Manager) OnMessage(t wire.MessageType, h Handler) Subscription {
	m.hmu.Lock()
	defer m.hmu.Unlock()

	m.nextID++
	sub := Subscription{typ: t, id: m.nextID}

	cur := m.handlers[t]
	next := make([]handlerEntry, len(cur), len(cur)+1)
	copy(next, cur)
	m.handlers[t] = append(next, handlerEntry{id: sub.id, fn: h})

	return sub
}

func (m *Manager) OffMessage(sub Subscription) {
	m.hmu.Lock()
	defer m.hmu.Unlock()

	cur := m.handlers[sub.typ]
	next := make([]handlerEntry, 0, len(cur))
	for _, e := range cur {
		if e.id != sub.id {
			next = append(next, e)
		}
	}
	if len(next) == 0 {
		delete(m.handlers, sub.typ)
		return
	}
	m.handlers[sub.typ] = next
}

func (m *Manager) OnVoteUpdate(fn func(wire.VoteUpdate)) Subscription {
	return m.OnMessage(wire.TypeVoteUpdate, typed(fn))
}

func (m *Manager) OnQuestionUpdate(fn func(wire.QuestionUpdate)) Subscription {
	return m.OnMessage(wire.TypeQuestionUpdate, typed(fn))
}

func (m *Manager) OnUserConnected(fn func(wire.Welcome)) Subscription {
	return m.OnMessage(wire.TypeUserConnected, typed(fn))
}

func typed[T any](fn func(T)) Handler {
	return func(env wire.Envelope) error {
		v, err := wire.DecodePayload[T](env)
		if err != nil {
			return err
		}
		fn(v)
		return nil
	}
}

func (m *Manager) dispatch(frame []byte) {
	env, err := wire.Decode(frame)
	if err != nil {
		m.log.Warn().Err(err).Int("size", len(frame)).Msg("dropping inbound frame")
		return
	}

	m.hmu.RLock()
	hs := m.handlers[env.Type]
	m.hmu.RUnlock()

	if len(hs) == 0 {
		m.log.Debug().Str("type", string(env.Type)).Msg("no handler registered")
		return
	}
	for _, h := range hs {
		m.invoke(env, h)
	}
}

func (m *Manager) invoke(env wire.Envelope, h handlerEntry) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("type", string(env.Type)).Msg("message handler panicked")
		}
	}()

	if err := h.fn(env); err != nil {
		m.log.Warn().Err(err).Str("type", string(env.Type)).Msg("message handler failed")
	}
}
