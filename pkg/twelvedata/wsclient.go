package twelvedata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClient dials TwelveData's price stream. Each Dial returns an independent
// connection; reconnect policy belongs to the caller.
type WSClient struct {
	url         string
	apiKey      string
	dialer      *websocket.Dialer
	readTimeout time.Duration
	logger      *zap.Logger
}

// NewWSClient creates a websocket client for the given stream URL. The API key
// is appended as the apikey query parameter on dial.
func NewWSClient(rawURL, apiKey string, dialTimeout, readTimeout time.Duration, logger *zap.Logger) *WSClient {
	return &WSClient{
		url:         rawURL,
		apiKey:      apiKey,
		dialer:      &websocket.Dialer{HandshakeTimeout: dialTimeout},
		readTimeout: readTimeout,
		logger:      logger,
	}
}

// Configured reports whether a credential is set.
func (c *WSClient) Configured() bool {
	return c.apiKey != ""
}

// Dial opens a new connection. It does not subscribe or start listening.
func (c *WSClient) Dial(ctx context.Context) (*WSConn, error) {
	if !c.Configured() {
		return nil, ErrMissingAPIKey
	}

	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.logger.Debug("WebSocket connected", zap.String("url", c.url))

	return &WSConn{conn: conn, readTimeout: c.readTimeout}, nil
}

func (c *WSClient) endpoint() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("apikey", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WSConn is one live stream connection. Writes are serialized; Listen must be
// called from a single goroutine.
type WSConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Subscribe sends the subscribe frame for the given wire symbols.
func (c *WSConn) Subscribe(wireSymbols []string) error {
	if len(wireSymbols) == 0 {
		return nil
	}
	return c.writeJSON(SubscribeRequest{
		Action: "subscribe",
		Params: SubscribeParams{Symbols: strings.Join(wireSymbols, ",")},
	})
}

// Heartbeat sends the liveness frame.
func (c *WSConn) Heartbeat() error {
	return c.writeJSON(HeartbeatRequest{Action: "heartbeat"})
}

func (c *WSConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Listen reads frames until the connection fails or is closed, handing each
// frame to onMessage. The slice passed to onMessage is not reused.
func (c *WSConn) Listen(onMessage func([]byte)) error {
	for {
		if c.readTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				return err
			}
		}
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		}
		onMessage(msg)
	}
}

// Close closes the underlying connection. Safe to call more than once.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
