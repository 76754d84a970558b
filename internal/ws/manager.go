package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/qingyuz/avalon-backend/internal/protocol"
	"github.com/qingyuz/avalon-backend/internal/room"
)

const writeTimeout = 3 * time.Second

// outboxSize bounds per-connection buffering; a client that cannot drain it
// is dropped rather than allowed to stall the room.
const outboxSize = 32

// Conn owns one websocket and its writer goroutine. All writes go through
// the outbox so the room actor never blocks on a slow peer.
type Conn struct {
	ws     *websocket.Conn
	outbox chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewConn(parent context.Context, wsc *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(parent)
	c := &Conn{
		ws:     wsc,
		outbox: make(chan []byte, outboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case payload := <-c.outbox:
			wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			_ = c.ws.Write(wctx, websocket.MessageText, payload)
			cancel()
		}
	}
}

// enqueue reports false when the outbox is full, i.e. the peer is too slow.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case c.outbox <- payload:
		return true
	default:
		return false
	}
}

// Close closes the socket with the given code exactly once.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		c.cancel()
		_ = c.ws.Close(code, reason)
	})
}

type roomConns struct {
	// lobby sockets: a player may hold several (multiple tabs on the room page)
	room map[string][]*Conn
	// game sockets: strictly one per player; a newer one supersedes
	game map[string]*Conn
}

// Manager is the connection registry: transport only, no game knowledge.
// Rooms address players by id; identity lives in the room actor.
type Manager struct {
	mu    sync.Mutex
	log   *zap.Logger
	rooms map[string]*roomConns
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{log: logger, rooms: make(map[string]*roomConns)}
}

func (m *Manager) roomConns(roomID string) *roomConns {
	rc := m.rooms[roomID]
	if rc == nil {
		rc = &roomConns{room: map[string][]*Conn{}, game: map[string]*Conn{}}
		m.rooms[roomID] = rc
	}
	return rc
}

// Register adds a channel for the player and reports whether the player had
// no channels before (i.e. was offline). For game channels any existing
// connection is closed first with the reserved supersede code, so exactly one
// game channel survives.
func (m *Manager) Register(roomID, playerID string, kind room.ChannelKind, c *Conn) (wasOffline bool) {
	var superseded *Conn

	m.mu.Lock()
	rc := m.roomConns(roomID)
	wasOffline = len(rc.room[playerID]) == 0 && rc.game[playerID] == nil

	switch kind {
	case room.ChannelGame:
		superseded = rc.game[playerID]
		rc.game[playerID] = c
	default:
		rc.room[playerID] = append(rc.room[playerID], c)
	}
	m.mu.Unlock()

	if superseded != nil {
		m.log.Info("game channel superseded",
			zap.String("room", roomID), zap.String("player", playerID))
		superseded.Close(protocol.CloseSuperseded, protocol.CloseSupersededReason)
	}
	return wasOffline
}

// Unregister removes the given channel and reports whether the player now has
// no channels left. A superseded game channel is no longer registered, so
// unregistering it is a no-op and does not mark the player offline.
func (m *Manager) Unregister(roomID, playerID string, kind room.ChannelKind, c *Conn) (nowOffline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc := m.rooms[roomID]
	if rc == nil {
		return false
	}

	switch kind {
	case room.ChannelGame:
		if rc.game[playerID] != c {
			return false
		}
		delete(rc.game, playerID)
	default:
		conns := rc.room[playerID]
		for i, existing := range conns {
			if existing == c {
				rc.room[playerID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(rc.room[playerID]) == 0 {
			delete(rc.room, playerID)
		}
	}

	nowOffline = len(rc.room[playerID]) == 0 && rc.game[playerID] == nil
	if len(rc.room) == 0 && len(rc.game) == 0 {
		delete(m.rooms, roomID)
	}
	return nowOffline
}

// Send delivers to every open channel of one player. Offline players are a
// log line, not an error: they catch up over REST and replay.
func (m *Manager) Send(roomID, playerID string, env protocol.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		m.log.Error("marshal envelope", zap.String("type", env.Type), zap.Error(err))
		return
	}

	m.mu.Lock()
	conns := m.channelsOf(roomID, playerID)
	m.mu.Unlock()

	if len(conns) == 0 {
		m.log.Debug("player offline, message dropped",
			zap.String("room", roomID), zap.String("player", playerID), zap.String("type", env.Type))
		return
	}
	m.deliver(conns, payload)
}

// Broadcast delivers to every channel of every player in the room.
func (m *Manager) Broadcast(roomID string, env protocol.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		m.log.Error("marshal envelope", zap.String("type", env.Type), zap.Error(err))
		return
	}

	m.mu.Lock()
	var conns []*Conn
	if rc := m.rooms[roomID]; rc != nil {
		for _, list := range rc.room {
			conns = append(conns, list...)
		}
		for _, c := range rc.game {
			conns = append(conns, c)
		}
	}
	m.mu.Unlock()

	m.deliver(conns, payload)
}

func (m *Manager) deliver(conns []*Conn, payload []byte) {
	for _, c := range conns {
		if !c.enqueue(payload) {
			// Slow peer: cut it loose instead of stalling the room.
			m.log.Warn("dropping slow connection")
			c.Close(websocket.StatusPolicyViolation, "client too slow")
		}
	}
}

// DisconnectAll force-closes every channel of a room, e.g. when the host
// deletes it.
func (m *Manager) DisconnectAll(roomID, reason string) {
	m.mu.Lock()
	var conns []*Conn
	if rc := m.rooms[roomID]; rc != nil {
		for _, list := range rc.room {
			conns = append(conns, list...)
		}
		for _, c := range rc.game {
			conns = append(conns, c)
		}
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.StatusNormalClosure, reason)
	}
}

// GameConn returns the registered game channel for a player, if any.
func (m *Manager) GameConn(roomID, playerID string) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rc := m.rooms[roomID]; rc != nil {
		return rc.game[playerID]
	}
	return nil
}

func (m *Manager) channelsOf(roomID, playerID string) []*Conn {
	rc := m.rooms[roomID]
	if rc == nil {
		return nil
	}
	var conns []*Conn
	conns = append(conns, rc.room[playerID]...)
	if c := rc.game[playerID]; c != nil {
		conns = append(conns, c)
	}
	return conns
}
