package broker

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fxtrader/internal/price"
)

const (
	pingEvery  = 20 * time.Second
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

type handshake struct {
	SID string `json:"sid"`
}

type priceFrame struct {
	Symbol  string            `json:"Symbol"`
	Updated int64             `json:"Updated"` // unix millis
	Rates   []decimal.Decimal `json:"Rates"`
}

// Stream connects to the push endpoint, subscribes every instrument and relays
// price frames. The first dial must succeed; after that the connection is
// re-established with capped exponential backoff until ctx is done.
func (c *Client) Stream(ctx context.Context, instruments []string) (<-chan price.Update, error) {
	conn, err := c.connect(ctx, instruments)
	if err != nil {
		return nil, err
	}

	ch := make(chan price.Update, 256)
	go func() {
		defer close(ch)

		backoff := minBackoff
		for {
			c.readLoop(ctx, conn, ch)
			c.setConnected(false)

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				conn, err = c.connect(ctx, instruments)
				if err == nil {
					backoff = minBackoff
					break
				}
				c.log.Warn("stream reconnect failed", zap.Duration("backoff", backoff), zap.Error(err))
				backoff = min(backoff*2, maxBackoff)
			}
		}
	}()
	return ch, nil
}

// Login opens the stream only to obtain a session id for REST calls.
func (c *Client) Login(ctx context.Context) error {
	conn, _, err := c.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// dial connects and reads the handshake; the first frame carries the session
// id used in the bearer token.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, string, error) {
	u, err := url.Parse(c.cfg.StreamURL)
	if err != nil {
		return nil, "", fmt.Errorf("stream url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", c.cfg.AccessToken)
	u.RawQuery = q.Encode()

	conn, _, err := c.wsDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("stream dial: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("stream handshake: %w", err)
	}
	var hs handshake
	if err := sonic.Unmarshal(msg, &hs); err != nil || hs.SID == "" {
		_ = conn.Close()
		return nil, "", fmt.Errorf("stream handshake: unexpected frame %q", msg)
	}
	c.setSession(hs.SID)
	return conn, hs.SID, nil
}

func (c *Client) connect(ctx context.Context, instruments []string) (*websocket.Conn, error) {
	conn, sid, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	for _, ins := range instruments {
		if err := c.Subscribe(ctx, ins); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", ins, err)
		}
	}

	c.setConnected(true)
	c.log.Info("stream connected", zap.String("session", sid), zap.Strings("instruments", instruments))
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- price.Update) {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stopPing:
				return
			case <-t.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("stream read", zap.Error(err))
			}
			return
		}
		u, ok := decodeFrame(msg)
		if !ok {
			c.log.Debug("stream frame skipped", zap.ByteString("frame", msg))
			continue
		}
		select {
		case out <- u:
		case <-ctx.Done():
			return
		}
	}
}

func decodeFrame(msg []byte) (price.Update, bool) {
	var f priceFrame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return price.Update{}, false
	}
	if f.Symbol == "" || len(f.Rates) < 2 {
		return price.Update{}, false
	}
	return price.Update{
		Symbol: f.Symbol,
		Time:   time.UnixMilli(f.Updated).UTC(),
		Bid:    f.Rates[0],
		Ask:    f.Rates[1],
	}, true
}

func (c *Client) setConnected(v bool) {
	if c.observer != nil {
		c.observer.SetWSConnected(v)
	}
}
