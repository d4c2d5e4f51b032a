// Package websocket implements the venue WebSocket ingest: a connection
// client plus the position and candle subscription managers.
//
// A single long-lived connection multiplexes per-subscription frames of
// the form {method: subscribe, subscription: {...}}. Inbound frames carry
// a {channel, data} envelope.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	connectTimeout = 10 * time.Second
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second

	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// Subscription is one venue subscription descriptor.
type Subscription struct {
	Type     string `json:"type"`
	User     string `json:"user,omitempty"`
	Coin     string `json:"coin,omitempty"`
	Interval string `json:"interval,omitempty"`
}

type request struct {
	Method       string       `json:"method"`
	Subscription Subscription `json:"subscription"`
}

// Frame is one inbound {channel, data} envelope.
type Frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Client wraps one WebSocket connection with thread-safe writes and a
// keep-alive pinger.
type Client struct {
	url        string
	conn       *websocket.Conn
	writeMu    sync.Mutex
	pingCancel context.CancelFunc
}

// NewClient creates a client for the venue WS URL.
func NewClient(url string) *Client {
	return &Client{url: url}
}

// Connect dials the venue with a bounded handshake deadline.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	c.conn = conn
	return nil
}

// Subscribe sends one subscribe frame.
func (c *Client) Subscribe(sub Subscription) error {
	return c.writeJSON(request{Method: "subscribe", Subscription: sub})
}

// Unsubscribe sends one unsubscribe frame.
func (c *Client) Unsubscribe(sub Subscription) error {
	return c.writeJSON(request{Method: "unsubscribe", Subscription: sub})
}

// StartPing starts the keep-alive loop ({"method": "ping"} frames).
func (c *Client) StartPing() {
	ctx, cancel := context.WithCancel(context.Background())
	c.pingCancel = cancel

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.writeRaw([]byte(`{"method":"ping"}`)); err != nil {
					log.Printf("⚠️  Failed to send ping: %v", err)
					return
				}
			}
		}
	}()
}

// ReadFrame reads and decodes the next inbound envelope.
func (c *Client) ReadFrame() (*Frame, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("client not connected")
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return &f, nil
}

func (c *Client) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.writeRaw(data)
}

func (c *Client) writeRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close stops the pinger and closes the connection.
func (c *Client) Close() error {
	if c.pingCancel != nil {
		c.pingCancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// jitterBackoff returns the full-jitter delay for the given attempt:
// uniform in [0, min(cap, base*2^attempt)].
func jitterBackoff(attempt int) time.Duration {
	max := backoffBase << uint(attempt)
	if max > backoffCap || max <= 0 {
		max = backoffCap
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
