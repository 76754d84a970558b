package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/qingyuz/avalon-backend/internal/hub"
	"github.com/qingyuz/avalon-backend/internal/protocol"
	"github.com/qingyuz/avalon-backend/internal/room"
)

// heartbeatInterval is the expected client ping cadence; a channel with no
// traffic for missedLimit intervals is considered dead and the player is
// degraded to offline.
const (
	heartbeatInterval = 25 * time.Second
	missedLimit       = 3
)

// Options tunes a Handler.
type Options struct {
	// ReadTimeout is how long a channel may stay silent before the player is
	// degraded to offline. Zero selects the heartbeat default.
	ReadTimeout time.Duration
	// OriginPatterns is forwarded to the websocket handshake; browser pages
	// served from another host need their origin listed ("*" allows all).
	OriginPatterns []string
}

// clientEnvelope defers content decoding until the type is known.
type clientEnvelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Handler upgrades and runs one channel. kind is fixed per route: the room
// page opens a room channel, the match page a game channel.
func Handler(h *hub.Hub, m *Manager, logger *zap.Logger, kind room.ChannelKind, opts Options) http.HandlerFunc {
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = heartbeatInterval * missedLimit
	}
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		playerID := chi.URLParam(r, "playerID")

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.GetRoom{ID: roomID, Reply: reply}
		rm := <-reply
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		snapReply := make(chan room.Snapshot, 1)
		rm.Inbox() <- room.GetSnapshot{Reply: snapReply}
		if !rosterHas(<-snapReply, playerID) {
			http.Error(w, "player not in room", http.StatusNotFound)
			return
		}

		wsc, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}

		log := logger.With(
			zap.String("room", roomID), zap.String("player", playerID), zap.String("kind", string(kind)))

		conn := NewConn(r.Context(), wsc)
		wasOffline := m.Register(roomID, playerID, kind, conn)
		log.Debug("channel open", zap.Bool("was_offline", wasOffline))

		rm.Inbox() <- room.ChannelUp{PlayerID: playerID, Kind: kind}

		defer func() {
			conn.Close(websocket.StatusNormalClosure, "bye")
			if m.Unregister(roomID, playerID, kind, conn) {
				rm.Inbox() <- room.ChannelDown{PlayerID: playerID, Kind: kind}
			}
			log.Debug("channel closed")
		}()

		readLoop(r, wsc, conn, rm, playerID, readTimeout, log)
	}
}

func readLoop(r *http.Request, wsc *websocket.Conn, conn *Conn, rm *room.Room, playerID string, readTimeout time.Duration, log *zap.Logger) {
	for {
		// The read deadline doubles as the heartbeat: any traffic, ping
		// included, resets it.
		ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
		_, data, err := wsc.Read(ctx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			// Heartbeat timeout or transport fault: degrade, never escalate.
			log.Debug("read failed", zap.Error(err))
			return
		}

		var env clientEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			sendError(conn, "无法解析消息")
			continue
		}

		switch env.Type {
		case protocol.TypePing:
			payload, _ := json.Marshal(protocol.New(protocol.TypePong, nil))
			conn.enqueue(payload)

		case protocol.TypePlayerInput:
			var action protocol.Action
			if err := json.Unmarshal(env.Content, &action); err != nil {
				sendError(conn, "无法解析操作内容")
				continue
			}
			rm.Inbox() <- room.PlayerAction{PlayerID: playerID, Action: action}

		default:
			sendError(conn, "未知消息类型: "+env.Type)
		}
	}
}

func sendError(conn *Conn, message string) {
	payload, _ := json.Marshal(protocol.New(protocol.TypeError, map[string]any{
		"message": message,
	}))
	conn.enqueue(payload)
}

func rosterHas(snap room.Snapshot, playerID string) bool {
	for _, p := range snap.Players {
		if p.ID == playerID {
			return true
		}
	}
	return false
}
