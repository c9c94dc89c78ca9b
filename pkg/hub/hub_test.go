package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records writes; ReadMessage blocks until Close.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	types  []int
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(t int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = append(c.types, t)
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for i, w := range c.writes {
		if c.types[i] == websocket.TextMessage {
			out = append(out, string(w))
		}
	}
	return out
}

func TestHub_BroadcastToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New("test")
	go h.Run(ctx)

	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	for _, conn := range conns {
		c := NewClient(h, conn)
		require.NotNil(t, c)
		require.NoError(t, c.WriteInitial([]byte(`{"hello":true}`)))
		go c.Run()
	}
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, time.Millisecond)
	assert.True(t, h.IsRunning())

	require.NoError(t, h.BroadcastJSON(map[string]int{"seq": 1}))

	for _, conn := range conns {
		require.Eventually(t, func() bool { return len(conn.texts()) == 2 }, time.Second, time.Millisecond)
		assert.Equal(t, []string{`{"hello":true}`, `{"seq":1}`}, conn.texts())
	}

	conns[0].Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)
}

func TestHub_StopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("test")
	go h.Run(ctx)

	conn := newFakeConn()
	c := NewClient(h, conn)
	require.NotNil(t, c)
	go c.Run()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	cancel()
	<-h.Done()
	assert.False(t, h.IsRunning())
	assert.Zero(t, h.ClientCount())

	select {
	case <-conn.closed:
	case <-time.After(time.Second):
		t.Fatal("connection not closed after hub stopped")
	}

	assert.Nil(t, NewClient(h, newFakeConn()), "register after stop must not block")
}

func TestHub_BroadcastQueueFull(t *testing.T) {
	h := New("idle") // not running, so nothing drains the queue
	for i := 0; i < cap(h.broadcast); i++ {
		require.True(t, h.Broadcast([]byte("x")))
	}
	assert.False(t, h.Broadcast([]byte("x")))
	assert.Equal(t, uint64(1), h.Dropped())
}
