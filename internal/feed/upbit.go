package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 60 * time.Second
	readTimeout  = 2 * pingInterval
)

// Handler consumes raw market messages
type Handler interface {
	Handle(ctx context.Context, raw []byte) error
}

// UpbitClient streams ticker and trade messages from an Upbit compatible
// websocket endpoint, reconnecting with backoff when the connection drops
type UpbitClient struct {
	url     string
	codes   []string
	dialer  *websocket.Dialer
	handler Handler
	log     *zap.Logger
}

func NewUpbitClient(url string, codes []string, handler Handler, logger *zap.Logger) *UpbitClient {
	return &UpbitClient{
		url:     url,
		codes:   codes,
		dialer:  websocket.DefaultDialer,
		handler: handler,
		log:     logger.Named("upbit"),
	}
}

// subscription builds the request frame for ticker and trade streams
func subscription(codes []string) ([]byte, error) {
	return json.Marshal([]map[string]any{
		{"ticket": uuid.NewString()},
		{"type": "ticker", "codes": codes},
		{"type": "trade", "codes": codes},
		{"format": "DEFAULT"},
	})
}

// Run keeps a subscription alive until ctx is done
func (c *UpbitClient) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second

	for {
		start := time.Now()
		err := c.stream(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > time.Minute {
			b.Reset()
		}
		wait := b.NextBackOff()
		c.log.Warn("market stream disconnected", zap.Error(err), zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *UpbitClient) stream(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}
	defer conn.Close()

	req, err := subscription(c.codes)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.log.Info("subscribed to market stream", zap.String("url", c.url), zap.Strings("codes", c.codes))

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if err := c.handler.Handle(ctx, raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("dropping market message", zap.Error(err), zap.ByteString("raw", raw))
		}
	}
}
