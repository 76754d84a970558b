// Package hub is the room directory: an actor that owns the id -> room map.
// Rooms themselves are actors too; the hub never touches their state.
package hub

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qingyuz/avalon-backend/internal/credits"
	"github.com/qingyuz/avalon-backend/internal/room"
)

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Name     string
	HostName string
	Reply    chan Created
}

type Created struct {
	Room   *room.Room
	RoomID string
	HostID string
}

type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

type RemoveRoom struct {
	ID string
}

type ListRooms struct {
	Reply chan []*room.Room
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
	sender room.Sender
	gate   credits.Gate
}

func NewHub(parent context.Context, logger *zap.Logger, sender room.Sender, gate credits.Gate) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		ctx:    ctx,
		cancel: cancel,
		log:    logger,
		sender: sender,
		gate:   gate,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				roomID := uuid.NewString()[:8]
				hostID := uuid.NewString()[:8]
				rm := room.New(h.ctx, roomID, msg.Name, hostID, msg.HostName, room.Deps{
					Logger: h.log,
					Sender: h.sender,
					Gate:   h.gate,
					OnClosed: func(id string) {
						select {
						case h.inbox <- RemoveRoom{ID: id}:
						case <-h.ctx.Done():
						}
					},
				})
				h.rooms[roomID] = rm
				h.log.Info("room created", zap.String("room", roomID), zap.String("name", msg.Name))
				msg.Reply <- Created{Room: rm, RoomID: roomID, HostID: hostID}

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // may be nil

			case RemoveRoom:
				delete(h.rooms, msg.ID)
				h.log.Info("room removed", zap.String("room", msg.ID))

			case ListRooms:
				out := make([]*room.Room, 0, len(h.rooms))
				for _, rm := range h.rooms {
					out = append(out, rm)
				}
				msg.Reply <- out

			case ShutdownHub:
				for _, rm := range h.rooms {
					rm.Inbox() <- room.Shutdown{}
				}
				clear(h.rooms)
				h.cancel()
			}
		}
	}
}
