// Package realtime owns the client side of the relay connection: connection
// state, linear-backoff reconnection and per-type message dispatch.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Guizzs26/ask_gov_realtime_votes/internal/wire"
)

const (
	DefaultBaseDelay    = time.Second
	DefaultMaxAttempts  = 5
	DefaultSendBuffer   = 16
	DefaultWriteTimeout = 10 * time.Second

	disconnectReason = "client disconnect"
)

type Options struct {
	// BaseDelay is multiplied by the attempt number to get the wait before
	// each reconnect.
	BaseDelay time.Duration
	// MaxAttempts caps consecutive reconnects. Zero means the default,
	// negative disables reconnection.
	MaxAttempts  int
	SendBuffer   int
	WriteTimeout time.Duration
	Logger       *zerolog.Logger

	// OnStateChange runs with the manager locked; it must not call back
	// into the Manager.
	OnStateChange func(ConnectionState)
	// OnError receives ConnectionError for abnormal drops and
	// ErrReconnectExhausted once retrying stops.
	OnError func(error)

	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	switch {
	case o.MaxAttempts == 0:
		o.MaxAttempts = DefaultMaxAttempts
	case o.MaxAttempts < 0:
		o.MaxAttempts = 0
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Manager owns exactly one outbound connection to a relay. Construct one per
// session and hand it to whatever needs it.
type Manager struct {
	url    string
	dialer Dialer
	opts   Options
	log    zerolog.Logger

	mu          sync.RWMutex
	state       ConnectionState
	conn        Transport
	out         chan []byte
	cancelConn  context.CancelFunc
	gen         uint64
	attempts    int
	retryTimer  *time.Timer
	retryCancel context.CancelFunc
	closing     bool
	fatal       error

	hmu      sync.RWMutex
	handlers map[wire.MessageType][]handlerEntry
	nextID   uint64
}

func NewManager(url string, dialer Dialer, opts Options) *Manager {
	opts.setDefaults()
	if dialer == nil {
		dialer = WebsocketDialer{}
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	return &Manager{
		url:      url,
		dialer:   dialer,
		opts:     opts,
		log:      log.With().Str("module", "realtime").Str("url", url).Logger(),
		state:    StateDisconnected,
		handlers: make(map[wire.MessageType][]handlerEntry),
	}
}

// Connect opens the connection and returns once it is usable. A failure
// leaves the manager disconnected and returns a *ConnectionError; it does not
// schedule a retry.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	m.closing = false
	m.fatal = nil
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	return m.open(ctx)
}

func (m *Manager) open(ctx context.Context) error {
	t, err := m.dialer.Dial(ctx, m.url)

	m.mu.Lock()
	if err != nil {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return &ConnectionError{URL: m.url, Err: err}
	}
	if m.closing || m.conn != nil {
		closing := m.closing
		m.mu.Unlock()
		_ = t.Close(websocket.StatusNormalClosure, disconnectReason)
		if closing {
			return &ConnectionError{URL: m.url, Err: errors.New("disconnected while connecting")}
		}
		return nil
	}

	connCtx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte, m.opts.SendBuffer)
	m.gen++
	gen := m.gen
	m.conn, m.out, m.cancelConn = t, out, cancel
	m.attempts = 0
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.log.Info().Msg("connected")

	go m.readLoop(connCtx, t, gen)
	go m.writeLoop(connCtx, t, out)
	return nil
}

// Disconnect closes the connection cleanly and cancels any pending reconnect.
// It never triggers reconnection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	m.stopRetryLocked()
	t, cancel := m.conn, m.cancelConn
	m.conn, m.out, m.cancelConn = nil, nil, nil
	m.gen++
	m.attempts = 0
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if t == nil {
		return
	}
	if err := t.Close(websocket.StatusNormalClosure, disconnectReason); err != nil {
		m.log.Debug().Err(err).Msg("close handshake did not complete")
	}
	cancel()
	m.log.Info().Msg("disconnected")
}

// Send queues env for delivery. It never blocks: when not connected, or when
// the outbound queue is full, the message is dropped, logged and an error
// returned.
func (m *Manager) Send(env wire.Envelope) error {
	frame, err := wire.Encode(env)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateConnected || m.out == nil {
		m.log.Warn().
			Str("type", string(env.Type)).
			Str("state", m.state.String()).
			Msg("not connected, dropping message")
		return ErrSendWhileDisconnected
	}

	select {
	case m.out <- frame:
		return nil
	default:
		m.log.Warn().Str("type", string(env.Type)).Msg("send queue full, dropping message")
		return ErrSendQueueFull
	}
}

func (m *Manager) SendVoteUpdate(u wire.VoteUpdate) error {
	env, err := wire.NewEnvelope(wire.TypeVoteUpdate, u, m.opts.Now())
	if err != nil {
		return err
	}
	return m.Send(env)
}

func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Err returns the fatal error that stopped reconnection, if any.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fatal
}

func (m *Manager) URL() string { return m.url }

func (m *Manager) readLoop(ctx context.Context, t Transport, gen uint64) {
	for {
		frame, err := t.Read(ctx)
		if err != nil {
			m.lost(gen, err)
			return
		}
		m.dispatch(frame)
	}
}

func (m *Manager) writeLoop(ctx context.Context, t Transport, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-out:
			wctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
			err := t.Write(wctx, frame)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					m.log.Warn().Err(err).Msg("write failed, closing connection")
					_ = t.Close(websocket.StatusInternalError, "write failed")
				}
				return
			}
		}
	}
}

// lost handles the end of a connection the manager did not close itself.
func (m *Manager) lost(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	m.cancelConn()
	m.conn, m.out, m.cancelConn = nil, nil, nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.log.Warn().Err(cause).Int("close_status", int(websocket.CloseStatus(cause))).Msg("connection lost")
	m.report(&ConnectionError{URL: m.url, Err: cause})
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}

	if m.attempts >= m.opts.MaxAttempts {
		m.fatal = errors.Wrapf(ErrReconnectExhausted, "gave up after %d attempts", m.attempts)
		fatal := m.fatal
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()

		m.log.Error().Err(fatal).Msg("staying offline")
		m.report(fatal)
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := m.opts.BaseDelay * time.Duration(attempt)
	m.setStateLocked(StateReconnecting)
	m.retryTimer = time.AfterFunc(delay, func() { m.retry(attempt) })
	m.mu.Unlock()

	m.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
}

func (m *Manager) retry(attempt int) {
	m.mu.Lock()
	if m.closing || m.retryTimer == nil || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.retryCancel = cancel
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.log.Info().Int("attempt", attempt).Int("max", m.opts.MaxAttempts).Msg("attempting to reconnect")

	err := m.open(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}
	m.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
	m.scheduleReconnect()
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.retryCancel != nil {
		m.retryCancel()
		m.retryCancel = nil
	}
}

func (m *Manager) setStateLocked(s ConnectionState) {
	if m.state == s {
		return
	}
	m.log.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("state change")
	m.state = s
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(s)
	}
}

func (m *Manager) report(err error) {
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
}
