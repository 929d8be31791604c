// Package ws provides the WebSocket live channel for run events.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/service"
	"github.com/sreedath/simplepaperbanana/internal/transport/cursor"
)

const (
	maxMessageSize = 4096
	pongWait       = 60 * time.Second
)

// Server handles WebSocket connections.
type Server struct {
	service      *service.Service
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(svc *service.Service, writeTimeout time.Duration) *Server {
	return &Server{
		service:      svc,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers the WebSocket route with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/runs/:run_id/ws", s.HandleWebSocket)
}

// HandleWebSocket streams a run's events as JSON text frames and closes the
// connection after the terminal event.
// GET /api/runs/:run_id/ws
func (s *Server) HandleWebSocket(c echo.Context) error {
	runID := c.Param("run_id")
	cur, err := cursor.FromStream(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	// Unknown runs are rejected before the upgrade.
	if _, err := s.service.GetRun(c.Request().Context(), runID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrNotFound) {
			status = http.StatusNotFound
		}
		return c.JSON(status, map[string]string{"error": err.Error()})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		c.Logger().Warnf("Failed to upgrade WebSocket: %v", err)
		return nil
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &conn{ws: ws, writeTimeout: s.writeTimeout}
	go s.readPump(conn, cancel)

	if err := s.service.StreamRun(ctx, runID, cur, conn); err != nil {
		conn.close(websocket.CloseInternalServerErr, err.Error())
		return nil
	}
	conn.close(websocket.CloseNormalClosure, "run finished")
	return nil
}

// readPump drains client frames so pongs and close frames are processed.
// Any read error means the client is gone.
func (s *Server) readPump(c *conn, cancel context.CancelFunc) {
	defer cancel()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// conn is a WebSocket sink. Writes are serialized; gorilla allows one
// concurrent writer.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *conn) Send(evt domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(evt)
}

func (c *conn) Keepalive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *conn) Transport() string { return "websocket" }

func (c *conn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
}
