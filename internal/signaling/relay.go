package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/1ureka/pairline/internal/util"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	peerSendSize = 64
)

// Roster records which peers are currently attached to a session. It is
// optional; the relay routes messages without one.
type Roster interface {
	Join(ctx context.Context, sessionID, peerID string) error
	Leave(ctx context.Context, sessionID, peerID string) error
}

// Relay is a reference per-session pub/sub server. Every text frame a peer
// writes is stamped with its id and forwarded either to the peer named in
// To or to every other peer of the same session. When a peer goes away the
// rest of the session receives user-left.
type Relay struct {
	upgrader websocket.Upgrader
	roster   Roster

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	id    string
	mu    sync.RWMutex
	peers map[string]*relayPeer
}

type relayPeer struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
}

// NewRelay creates a relay. roster may be nil.
func NewRelay(roster Roster) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checking is handled by the CORS wrapper.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		roster: roster,
		rooms:  make(map[string]*room),
	}
}

// Handler returns the relay's HTTP routes wrapped in CORS handling. An empty
// origins list allows every origin.
func (rl *Relay) Handler(origins []string) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		rl.mu.RLock()
		n := len(rl.rooms)
		rl.mu.RUnlock()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": n})
	})
	r.GET("/metrics", gin.WrapH(util.MetricsHandler()))
	r.GET("/ws/:sessionId", rl.handleWS)

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(r)
}

// Peers returns how many peers are attached to sessionID.
func (rl *Relay) Peers(sessionID string) int {
	rl.mu.RLock()
	rm, ok := rl.rooms[sessionID]
	rl.mu.RUnlock()
	if !ok {
		return 0
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.peers)
}

func (rl *Relay) handleWS(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	peerID := c.Query("peer")
	if peerID == "" {
		peerID = uuid.New().String()
	}

	conn, err := rl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarning("relay: upgrade failed: %v", err)
		return
	}

	p := &relayPeer{
		id:        peerID,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, peerSendSize),
	}

	rm, ok := rl.join(p)
	if !ok {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "peer id already connected"))
		conn.Close()
		return
	}

	if rl.roster != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rl.roster.Join(ctx, sessionID, peerID); err != nil {
			util.LogWarning("relay: roster join failed: %v", err)
		}
		cancel()
	}

	util.LogInfo("relay: peer %s joined session %s (%q)", peerID, sessionID, c.Query("name"))

	go p.writePump()
	go rl.readPump(rm, p)
}

// join adds p to its session room, creating the room on first use. It fails
// when the peer id is already attached.
func (rl *Relay) join(p *relayPeer) (*room, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rm, ok := rl.rooms[p.sessionID]
	if !ok {
		rm = &room{id: p.sessionID, peers: make(map[string]*relayPeer)}
		rl.rooms[p.sessionID] = rm
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.peers[p.id]; exists {
		return nil, false
	}
	rm.peers[p.id] = p
	return rm, true
}

// leave detaches p and drops the room once it is empty.
func (rl *Relay) leave(rm *room, p *relayPeer) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.peers[p.id] == p {
		delete(rm.peers, p.id)
		close(p.send)
	}
	if len(rm.peers) == 0 && rl.rooms[rm.id] == rm {
		delete(rl.rooms, rm.id)
	}
}

// route forwards msg to its addressee, or to everyone but the sender.
func (rm *room) route(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		util.LogError("relay: failed to marshal message: %v", err)
		return
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if msg.To != "" {
		target, ok := rm.peers[msg.To]
		if !ok {
			util.LogDebug("relay: target peer %s not found in session %s", msg.To, rm.id)
			return
		}
		target.enqueue(data)
		return
	}

	for id, p := range rm.peers {
		if id != msg.From {
			p.enqueue(data)
		}
	}
}

func (p *relayPeer) enqueue(data []byte) {
	select {
	case p.send <- data:
	default:
		util.LogWarning("relay: send buffer full for peer %s", p.id)
	}
}

func (rl *Relay) readPump(rm *room, p *relayPeer) {
	defer func() {
		rl.leave(rm, p)
		p.conn.Close()

		if rl.roster != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := rl.roster.Leave(ctx, p.sessionID, p.id); err != nil {
				util.LogWarning("relay: roster leave failed: %v", err)
			}
			cancel()
		}

		rm.route(Message{Type: MsgTypeUserLeft, From: p.id})
		util.LogInfo("relay: peer %s left session %s", p.id, p.sessionID)
	}()

	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogWarning("relay: read error from %s: %v", p.id, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			util.LogWarning("relay: dropping malformed message from %s", p.id)
			continue
		}

		msg.From = p.id
		rm.route(msg)
	}
}

func (p *relayPeer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
