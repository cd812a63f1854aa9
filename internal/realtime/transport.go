package realtime

import (
	"context"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
)

// Transport is one open, message-oriented connection to the relay.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

type DialerFunc func(ctx context.Context, url string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) {
	return f(ctx, url)
}

// WebsocketDialer opens real websocket connections.
type WebsocketDialer struct {
	Options   *websocket.DialOptions
	ReadLimit int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, d.Options)
	if err != nil {
		return nil, err
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
		// binary frames are not part of the protocol
	}
}

func (t *wsTransport) Write(ctx context.Context, frame []byte) error {
	return errors.WithStack(t.conn.Write(ctx, websocket.MessageText, frame))
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}
