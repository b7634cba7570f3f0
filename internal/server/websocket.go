package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 64
)

// Client is one browser tab attached to a surface.
type Client struct {
	conn    *websocket.Conn
	surface *Surface
	send    chan []byte
	done    chan struct{}
	once    sync.Once
}

func newClient(conn *websocket.Conn, surface *Surface) *Client {
	return &Client{
		conn:    conn,
		surface: surface,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
}

// enqueue queues data and reports false when the tab is too slow.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	surface, ok := s.surfaces.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Viewer not found", http.StatusNotFound)
		return
	}

	// Validate origin before accepting connection
	if !s.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// checkOrigin already ran
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := newClient(conn, surface)
	if !surface.attach(client) {
		conn.Close(websocket.StatusGoingAway, "viewer disposed")
		return
	}
	if version := surface.Version(); version > 0 {
		if data, err := json.Marshal(Frame{Type: FrameHTML, Version: version}); err == nil {
			client.enqueue(data)
		}
	}
	s.logger.Debug(r.Context(), "Client attached", "surface", surface.ID(), "clients", surface.Clients())

	go client.writePump()
	client.readPump()
}

// checkOrigin validates the request origin for security
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Reject connections without origin header for security
		return false
	}

	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	// Only allow http/https
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return false
	}

	allowedHosts := []string{
		fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		fmt.Sprintf("localhost:%d", s.cfg.Server.Port),
		fmt.Sprintf("127.0.0.1:%d", s.cfg.Server.Port),
	}
	if base, err := url.Parse(s.surfaces.Base()); err == nil && base.Host != "" {
		allowedHosts = append(allowedHosts, base.Host)
	}

	for _, allowed := range allowedHosts {
		if originURL.Host == allowed {
			return true
		}
	}

	return false
}

// readPump drains the connection until the tab goes away. Tabs only send
// close and pong frames; a tab that stops answering pings is closed by
// writePump, which ends the read.
func (c *Client) readPump() {
	defer c.surface.detach(c)

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}

// writePump pumps queued frames to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()

	for {
		select {
		case message := <-c.send:
			if !c.write(ctx, message) {
				return
			}

		case <-c.done:
			// flush what was queued before the close, such as a dispose frame
			for {
				select {
				case message := <-c.send:
					if !c.write(ctx, message) {
						return
					}
				default:
					return
				}
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) write(ctx context.Context, message []byte) bool {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, message) == nil
}
