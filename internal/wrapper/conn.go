package wrapper

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/omnara-ai/omnara/internal/auth"
	"github.com/omnara-ai/omnara/internal/config"
	"github.com/omnara-ai/omnara/internal/frame"
	"github.com/omnara-ai/omnara/internal/logger"
)

const (
	dialTimeout    = 10 * time.Second
	sendTimeout    = 10 * time.Second
	reconnectBase  = time.Second
	reconnectMax   = 30 * time.Second
	relayReadLimit = frame.MaxPayload + 64
)

var errNotConnected = errors.New("relay not connected")

// relayConn maintains the wrapper's upstream connection to the relay. The
// child CLI never waits on it: when the relay is unreachable the wrapper
// warns once and keeps running locally while reconnecting in the background.
type relayConn struct {
	url       string
	apiKey    string
	onFrame   func(frame.Frame)
	onConnect func()

	mu   sync.Mutex
	conn *websocket.Conn
}

func newRelayConn(cfg config.Wrapper, onFrame func(frame.Frame), onConnect func()) *relayConn {
	return &relayConn{
		url:       strings.TrimRight(cfg.RelayURL, "/") + "/agent?session_id=" + url.QueryEscape(cfg.SessionID),
		apiKey:    cfg.APIKey,
		onFrame:   onFrame,
		onConnect: onConnect,
	}
}

// Run dials the relay and reads frames until ctx is cancelled, reconnecting
// with capped exponential backoff after each failure.
func (c *relayConn) Run(ctx context.Context) {
	backoff := NewBackoff(reconnectBase, reconnectMax)
	warned := false
	for {
		err := c.connectAndServe(ctx, backoff)
		if ctx.Err() != nil {
			return
		}
		if !warned {
			logger.Warn("relay unavailable, continuing locally", "error", err)
			warned = true
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff.Next()):
		}
	}
}

func (c *relayConn) connectAndServe(ctx context.Context, backoff *Backoff) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		Subprotocols: []string{auth.SubprotocolKeyPrefix + c.apiKey},
	})
	cancel()
	if err != nil {
		return err
	}
	conn.SetReadLimit(relayReadLimit)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.CloseNow()
	}()

	backoff.Reset()
	logger.Info("relay connected", "url", c.url)
	if c.onConnect != nil {
		c.onConnect()
	}

	var sc frame.Scanner
	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if kind != websocket.MessageBinary {
			// Text messages are control acknowledgments (ready, errors); the
			// wrapper has nothing to do with them.
			logger.Debug("relay control message", "data", string(data))
			continue
		}
		sc.Feed(data)
		for {
			f, ok, err := sc.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			c.onFrame(f)
		}
	}
}

// SendFrame writes a framed message to the relay. Frames sent while
// disconnected are dropped; terminal output is best-effort and viewers
// resync from history on the next connection.
func (c *relayConn) SendFrame(t frame.Type, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageBinary, frame.Pack(t, payload))
}
