// Package ws terminates operator websocket connections: one goroutine per
// connection pumps frames into the router, and the [Hub] carries frames
// back. The transport interprets nothing; every semantic decision, error
// frames included, lives behind [router.Router].
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/umigoe/umigoe/internal/connmgr"
	"github.com/umigoe/umigoe/internal/router"
)

const (
	// DefaultReadLimit bounds one inbound frame. A second of 16 kHz 16-bit
	// PCM is 32 KiB raw and about 43 KiB in base64; 1 MiB leaves room for
	// batched chunks without letting a client balloon the buffer.
	DefaultReadLimit int64 = 1 << 20

	// cleanupTimeout bounds the storage writes of a disconnect teardown.
	cleanupTimeout = 2 * time.Second
)

// Config tunes the endpoint.
type Config struct {
	// ReadLimit bounds one inbound frame in bytes. Default
	// [DefaultReadLimit].
	ReadLimit int64

	// OriginPatterns is the accepted Origin allowlist for the handshake.
	// Empty means same-host only.
	OriginPatterns []string
}

// Handler is the websocket endpoint. Mount it on the console path.
type Handler struct {
	router *router.Router
	hub    *Hub
	conns  *connmgr.Manager

	readLimit      int64
	originPatterns []string
}

// NewHandler creates the endpoint. hub must be the same Hub the router
// sends through, or outbound frames go nowhere.
func NewHandler(rt *router.Router, hub *Hub, conns *connmgr.Manager, cfg Config) *Handler {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	return &Handler{
		router:         rt,
		hub:            hub,
		conns:          conns,
		readLimit:      cfg.ReadLimit,
		originPatterns: cfg.OriginPatterns,
	}
}

// ServeHTTP upgrades the request and runs the connection to completion. The
// connection is registered before the first frame is read; if the record
// cannot reach storage the handshake is rolled back, matching the policy
// that registration is the one storage write that must succeed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("websocket handshake failed",
			"remote", r.RemoteAddr,
			"error", err)
		return
	}
	conn.SetReadLimit(h.readLimit)

	connectionID := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())

	if _, err := h.conns.Register(ctx, connectionID, connmgr.Metadata{
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}); err != nil {
		cancel()
		slog.Error("refusing connection, registration failed",
			"connection_id", connectionID,
			"error", err)
		conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}

	h.hub.add(connectionID, conn)
	h.router.Bind(connectionID, ctx)
	defer func() {
		// Cancel first so in-flight analyses see the disconnect, then pull
		// the write side so late sends fail fast instead of timing out.
		cancel()
		h.hub.remove(connectionID)
		cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancelCleanup()
		h.router.Disconnect(cleanupCtx, connectionID)
		_ = conn.CloseNow()
		slog.Info("connection closed", "connection_id", connectionID)
	}()

	h.readLoop(ctx, connectionID, conn)
}

// readLoop pumps frames into the router until the connection ends. Content
// is never inspected here; even garbage goes through, the router owns the
// schema answer.
func (h *Handler) readLoop(ctx context.Context, connectionID string, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				slog.Info("connection closed by client",
					"connection_id", connectionID)
			case errors.Is(err, context.Canceled):
				slog.Info("connection context ended",
					"connection_id", connectionID)
			default:
				slog.Warn("connection read failed",
					"connection_id", connectionID,
					"error", err)
			}
			return
		}
		h.router.HandleFrame(ctx, connectionID, data)
	}
}

// clientIP extracts the peer address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
