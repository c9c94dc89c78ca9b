// Package posefeed receives head poses from the holographic host over a
// websocket. Only the newest pose is kept.
package posefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-stereomark/internal/log"
	"github.com/teslashibe/go-stereomark/pkg/calibration"
)

const (
	handshakeTimeout = 10 * time.Second
	minBackoff       = 500 * time.Millisecond
	maxBackoff       = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Message is one pose on the wire.
type Message struct {
	Position struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	} `json:"position"`
	Orientation struct {
		W float64 `json:"w"`
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	} `json:"orientation"`
}

// Pose converts the message to a calibration pose.
func (m Message) Pose() calibration.Pose {
	return calibration.Pose{
		Position: r3.Vector{X: m.Position.X, Y: m.Position.Y, Z: m.Position.Z},
		Orientation: mgl64.Quat{
			W: m.Orientation.W,
			V: mgl64.Vec3{m.Orientation.X, m.Orientation.Y, m.Orientation.Z},
		},
	}
}

// Client keeps the latest pose received from a host feed, reconnecting with
// backoff until its context is cancelled.
type Client struct {
	url    string
	dialer websocket.Dialer
	log    *slog.Logger

	minBackoff, maxBackoff time.Duration

	mu       sync.RWMutex
	pose     calibration.Pose
	received time.Time

	messages  atomic.Uint64
	connected atomic.Bool
}

// New creates a client for a ws:// or wss:// URL.
func New(url string) *Client {
	return &Client{
		url:    url,
		dialer: websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:    log.Component("posefeed", "url", url),
		pose:   calibration.IdentityPose(),

		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Pose returns the newest pose, or the identity pose before the first
// message. ok reports whether a pose has been received.
func (c *Client) Pose() (calibration.Pose, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pose, !c.received.IsZero()
}

// Received returns when the newest pose arrived.
func (c *Client) Received() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.received
}

// Messages returns the number of poses received.
func (c *Client) Messages() uint64 {
	return c.messages.Load()
}

// Connected reports whether the feed is currently connected.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run connects and reads poses until ctx is done. The retry delay doubles
// while dials fail and starts over after any session that connected.
func (c *Client) Run(ctx context.Context) {
	backoff := c.minBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = c.minBackoff
		}
		c.log.Warn("pose feed disconnected", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// session runs one connection until it fails or ctx is done. connected
// reports whether the dial succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.log.Info("pose feed connected")

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("ignoring malformed pose", "error", err)
			continue
		}

		c.mu.Lock()
		c.pose = msg.Pose()
		c.received = time.Now()
		c.mu.Unlock()
		c.messages.Add(1)
	}
}
