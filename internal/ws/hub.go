package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/umigoe/umigoe/pkg/wire"
)

// DefaultSendTimeout bounds one outbound frame write, waiting included.
const DefaultSendTimeout = 2 * time.Second

// ErrConnectionGone reports a send to a connection the hub no longer tracks.
var ErrConnectionGone = errors.New("connection gone")

// Hub tracks the write side of every live connection and implements
// [router.Sender].
type Hub struct {
	sendTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewHub creates a Hub. sendTimeout bounds each outbound write; zero means
// [DefaultSendTimeout].
func NewHub(sendTimeout time.Duration) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Hub{
		sendTimeout: sendTimeout,
		conns:       make(map[string]*websocket.Conn),
	}
}

func (h *Hub) add(connectionID string, conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[connectionID] = conn
	h.mu.Unlock()
}

func (h *Hub) remove(connectionID string) {
	h.mu.Lock()
	delete(h.conns, connectionID)
	h.mu.Unlock()
}

// Count returns the number of connections with a live write side.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll runs a close handshake on every tracked connection, a bounded
// number at a time. Each connection's read loop observes the close and runs
// its own teardown, so the hub drains shortly after CloseAll returns. The
// returned error is the first handshake failure, which callers typically
// just log.
func (h *Hub) CloseAll(code websocket.StatusCode, reason string) error {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(16)
	for _, conn := range conns {
		g.Go(func() error {
			return conn.Close(code, reason)
		})
	}
	return g.Wait()
}

// Send implements [router.Sender]. Concurrent sends to one connection are
// serialized by the websocket library; the timeout covers the wait and the
// write together, so a stalled console cannot pin a pool goroutine for long.
func (h *Hub) Send(ctx context.Context, connectionID string, frame wire.Frame) error {
	h.mu.Lock()
	conn := h.conns[connectionID]
	h.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrConnectionGone, connectionID)
	}

	data, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s frame to %s: %w", frame.Type, connectionID, err)
	}
	return nil
}
