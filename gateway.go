package main

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "mystery_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
	limiter  *rate.Limiter
}

func newWsClient(conn *websocket.Conn, playerID string) *wsClient {
	return &wsClient{
		conn:     conn,
		send:     make(chan any, 16),
		playerID: playerID,
		limiter:  rate.NewLimiter(5, 10),
	}
}

// Gateway fans session output out to every subscribed connection. It holds
// nothing but subscriber sets; all game state lives in the sessions.
type Gateway struct {
	mu          sync.RWMutex
	subscribers map[string]map[*wsClient]bool

	srv *Config
}

func newGateway(srv *Config) *Gateway {
	return &Gateway{
		subscribers: make(map[string]map[*wsClient]bool),
		srv:         srv,
	}
}

func (g *Gateway) subscribe(sessionID string, c *wsClient) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.subscribers[sessionID]
	if !ok {
		set = make(map[*wsClient]bool)
		g.subscribers[sessionID] = set
	}
	set[c] = true
}

func (g *Gateway) unsubscribe(sessionID string, c *wsClient) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.subscribers[sessionID]
	if !ok {
		return
	}
	if set[c] {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(g.subscribers, sessionID)
	}
}

// broadcast delivers msg to every subscriber of a session. Delivery is
// non-blocking: a subscriber whose buffer is full is dropped rather than
// allowed to stall the rest.
func (g *Gateway) broadcast(sessionID string, msg any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for client := range g.subscribers[sessionID] {
		select {
		case client.send <- msg:
		default:
			delete(g.subscribers[sessionID], client)
			close(client.send)
		}
	}
}

// sendTo delivers msg to a single player's connections within a session.
func (g *Gateway) sendTo(sessionID, playerID string, msg any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for client := range g.subscribers[sessionID] {
		if client.playerID != playerID {
			continue
		}
		select {
		case client.send <- msg:
		default:
			delete(g.subscribers[sessionID], client)
			close(client.send)
		}
	}
}

// sendToClient delivers msg to one client if it is still subscribed. Like
// broadcast it never blocks and never touches a closed send channel.
func (g *Gateway) sendToClient(sessionID string, c *wsClient, msg any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.subscribers[sessionID][c] {
		return
	}
	select {
	case c.send <- msg:
	default:
		delete(g.subscribers[sessionID], c)
		close(c.send)
	}
}

// dropSession disconnects every subscriber of a destroyed session.
func (g *Gateway) dropSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for client := range g.subscribers[sessionID] {
		close(client.send)
		_ = client.conn.Close()
	}
	if len(g.subscribers[sessionID]) > 0 {
		logf(g.srv, "GAMES: dropped %d subscribers of destroyed session %s", len(g.subscribers[sessionID]), sessionID)
	}
	delete(g.subscribers, sessionID)
}

func (g *Gateway) subscriberCount(sessionID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subscribers[sessionID])
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// readPump decodes inbound client messages and routes them to the session.
// Synchronous rejections come back as typed error events on this client's
// own connection; verdicts and state changes arrive via broadcast.
func (c *wsClient) readPump(g *Gateway, session *Session) {
	defer func() {
		g.unsubscribe(session.id, c)
		session.Disconnect(c.playerID)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if !c.limiter.Allow() {
			continue
		}

		var err error
		switch msg.Type {
		case "join":
			err = session.Join(c.playerID, msg.Name, msg.Avatar)
		case "start":
			err = session.Start(c.playerID)
		case "guess":
			err = session.Guess(c.playerID, msg.Text)
		case "chat":
			err = session.Chat(c.playerID, msg.Text)
		case "leave":
			err = session.Leave(c.playerID)
			if err == nil {
				return
			}
		default:
			// ignore unknown types
		}

		if err != nil {
			g.sendTo(session.id, c.playerID, newErrorMessage(err))
		}
	}
}
