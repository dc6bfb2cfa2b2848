package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wellsgz/speedpulse/internal/logging"
	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/session"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Time allowed for a server list fetch requested over the socket
	serversTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client message types
const (
	wsStart       = "start"
	wsStop        = "stop"
	wsGetServers  = "get_servers"
	wsGetSnapshot = "get_snapshot"
)

// Server message types
const (
	wsSnapshot     = "snapshot"
	wsStarted      = "started"
	wsStopped      = "stopped"
	wsServersList  = "servers_list"
	wsServersError = "servers_error"
	wsError        = "error"
)

// ClientMessage represents a message from client to server
type ClientMessage struct {
	Type            string `json:"type"` // start, stop, get_servers, get_snapshot
	Mode            string `json:"mode,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	ServerID        string `json:"server_id,omitempty"`
}

// ServerMessage represents a message from server to client
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of active clients and pushes session snapshots to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Channel for broadcasting messages to clients
	broadcast chan ServerMessage

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	session Session
	servers ServerLister
	window  int // Live samples pushed per metric, 0 for all

	// Shutdown signal
	done     chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex
}

// NewHub creates a new Hub. Snapshots are compacted to window samples per metric.
func NewHub(sess Session, servers ServerLister, window int) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan ServerMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		session:    sess,
		servers:    servers,
		window:     window,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	if h.session != nil {
		sub := h.session.Subscribe()
		defer h.session.Unsubscribe(sub)
		go h.listenSession(sub)
	}

	for {
		select {
		case <-h.done:
			// Shutdown requested - close all client connections
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			logging.Info("WebSocket", "Hub stopped", nil)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket", fmt.Sprintf("Client connected (total: %d)", total), nil)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket", fmt.Sprintf("Client disconnected (total: %d)", total), nil)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client buffer full, close connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop signals the hub to shutdown
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// listenSession forwards session snapshots to every client
func (h *Hub) listenSession(sub <-chan session.Snapshot) {
	for snap := range sub {
		select {
		case h.broadcast <- h.snapshotMessage(snap):
		case <-h.done:
			return
		}
	}
}

func (h *Hub) snapshotMessage(snap session.Snapshot) ServerMessage {
	if h.window > 0 {
		snap = snap.Compact(h.window)
	}
	return ServerMessage{Type: wsSnapshot, Data: snap}
}

// Client represents a WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan ServerMessage
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WebSocket", "Read error: "+err.Error(), nil)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("Invalid message format")
			continue
		}
		c.handle(msg)
	}
}

// handle executes a client command and replies on the client's own channel
func (c *Client) handle(msg ClientMessage) {
	h := c.hub
	if h.session == nil && msg.Type != wsGetServers {
		c.sendError("No session available")
		return
	}

	switch msg.Type {
	case wsStart:
		mode, err := session.ParseMode(msg.Mode)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		id, err := h.session.Start(session.Config{
			Mode:            mode,
			DurationMinutes: msg.DurationMinutes,
			ServerID:        msg.ServerID,
		})
		if err != nil {
			c.sendError(err.Error())
			return
		}
		logging.Info("WebSocket", "Client started session "+id, nil)
		c.reply(ServerMessage{Type: wsStarted, Data: map[string]string{"session_id": id}})

	case wsStop:
		if err := h.session.Stop(); err != nil {
			c.sendError(err.Error())
			return
		}
		c.reply(ServerMessage{Type: wsStopped, Data: nil})

	case wsGetSnapshot:
		c.reply(h.snapshotMessage(h.session.Snapshot()))

	case wsGetServers:
		// Fetching can take seconds, keep reading meanwhile
		go c.fetchServers()

	default:
		c.sendError("Unknown message type: " + msg.Type)
	}
}

func (c *Client) fetchServers() {
	if c.hub.servers == nil {
		c.reply(ServerMessage{Type: wsServersError, Data: "No measurement producer configured"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), serversTimeout)
	defer cancel()

	servers, err := c.hub.servers.Servers(ctx)
	if err != nil {
		logging.Error("WebSocket", "Failed to fetch servers", err)
		c.reply(ServerMessage{Type: wsServersError, Data: err.Error()})
		return
	}
	c.reply(ServerMessage{Type: wsServersList, Data: protocol.ServerList{Servers: servers}})
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a message for this client only. It is dropped if the client is gone or backed up.
func (c *Client) reply(msg ServerMessage) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(msg string) {
	c.reply(ServerMessage{Type: wsError, Data: msg})
}

// ServeWebSocket handles WebSocket requests from clients
func ServeWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Warn("WebSocket", "Upgrade error: "+err.Error(), nil)
			return
		}

		client := &Client{
			hub:  hub,
			conn: conn,
			send: make(chan ServerMessage, 256),
		}

		// Current state first, then live updates
		if hub.session != nil {
			client.send <- hub.snapshotMessage(hub.session.Snapshot())
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
