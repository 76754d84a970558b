package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/qingyuz/avalon-backend/internal/engine"
	"github.com/qingyuz/avalon-backend/internal/hub"
	"github.com/qingyuz/avalon-backend/internal/room"
)

// API bundles the collaborators the REST handlers need.
type API struct {
	Hub *hub.Hub
	Log *zap.Logger
}

type createRoomRequest struct {
	RoomName   string `json:"room_name"`
	PlayerName string `json:"player_name"`
}

type joinRoomRequest struct {
	PlayerName string `json:"player_name"`
}

type addAIRequest struct {
	Count int      `json:"count"`
	Names []string `json:"names,omitempty"`
}

func (a *API) getRoom(id string) *room.Room {
	reply := make(chan *room.Room, 1)
	a.Hub.Inbox() <- hub.GetRoom{ID: id, Reply: reply}
	return <-reply
}

func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerName == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomName == "" {
		req.RoomName = req.PlayerName + "的房间"
	}

	reply := make(chan hub.Created, 1)
	a.Hub.Inbox() <- hub.CreateRoom{Name: req.RoomName, HostName: req.PlayerName, Reply: reply}
	created := <-reply
	a.Log.Info("room created over rest",
		zap.String("room", created.RoomID), zap.String("host", req.PlayerName))

	writeJSON(w, http.StatusCreated, map[string]any{
		"room_id":     created.RoomID,
		"player_id":   created.HostID,
		"player_name": req.PlayerName,
	})
}

func (a *API) ListRooms(w http.ResponseWriter, r *http.Request) {
	reply := make(chan []*room.Room, 1)
	a.Hub.Inbox() <- hub.ListRooms{Reply: reply}
	rooms := <-reply

	summaries := make([]map[string]any, 0, len(rooms))
	for _, rm := range rooms {
		snapReply := make(chan room.Snapshot, 1)
		rm.Inbox() <- room.GetSnapshot{Reply: snapReply}
		snap := <-snapReply
		summaries = append(summaries, map[string]any{
			"id":           snap.ID,
			"name":         snap.Name,
			"player_count": len(snap.Players),
			"max_players":  engine.PlayerCount,
			"phase":        snap.Phase,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": summaries})
}

func (a *API) GetRoom(w http.ResponseWriter, r *http.Request) {
	rm := a.getRoom(chi.URLParam(r, "roomID"))
	if rm == nil {
		writeError(w, http.StatusNotFound, "房间不存在")
		return
	}
	reply := make(chan room.Snapshot, 1)
	rm.Inbox() <- room.GetSnapshot{Reply: reply}
	snap := <-reply
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      snap.ID,
		"name":    snap.Name,
		"host_id": snap.HostID,
		"phase":   snap.Phase,
		"players": snap.Players,
	})
}

func (a *API) JoinRoom(w http.ResponseWriter, r *http.Request) {
	rm := a.getRoom(chi.URLParam(r, "roomID"))
	if rm == nil {
		writeError(w, http.StatusNotFound, "房间不存在")
		return
	}
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerName == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply := make(chan room.JoinResult, 1)
	rm.Inbox() <- room.Join{Name: req.PlayerName, Reply: reply}
	res := <-reply
	if res.Err != nil {
		writeDomainError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player_id":   res.Player.ID,
		"player_name": res.Player.Name,
		"seat":        res.Player.Seat,
	})
}

func (a *API) AddAI(w http.ResponseWriter, r *http.Request) {
	rm := a.getRoom(chi.URLParam(r, "roomID"))
	if rm == nil {
		writeError(w, http.StatusNotFound, "房间不存在")
		return
	}
	var req addAIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}

	reply := make(chan room.AddAIResult, 1)
	rm.Inbox() <- room.AddAI{Count: req.Count, Names: req.Names, Reply: reply}
	res := <-reply
	if res.Err != nil {
		writeDomainError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": res.Added})
}

func (a *API) RemoveAI(w http.ResponseWriter, r *http.Request) {
	rm := a.getRoom(chi.URLParam(r, "roomID"))
	if rm == nil {
		writeError(w, http.StatusNotFound, "房间不存在")
		return
	}
	reply := make(chan error, 1)
	rm.Inbox() <- room.RemoveAI{
		RequesterID: r.URL.Query().Get("player_id"),
		AIPlayerID:  chi.URLParam(r, "aiID"),
		Reply:       reply,
	}
	if err := <-reply; err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	rm := a.getRoom(chi.URLParam(r, "roomID"))
	if rm == nil {
		writeError(w, http.StatusNotFound, "房间不存在")
		return
	}
	reply := make(chan room.LeaveResult, 1)
	rm.Inbox() <- room.Leave{PlayerID: r.URL.Query().Get("player_id"), Reply: reply}
	res := <-reply
	if res.Err != nil {
		writeDomainError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"room_deleted": res.RoomDeleted,
		"game_stopped": res.GameStopped,
	})
}

func (a *API) StartGame(w http.ResponseWriter, r *http.Request) {
	a.gameLifecycle(w, r, func(rm *room.Room, playerID string, reply chan error) {
		rm.Inbox() <- room.StartGame{RequesterID: playerID, Reply: reply}
	})
}

func (a *API) StopGame(w http.ResponseWriter, r *http.Request) {
	a.gameLifecycle(w, r, func(rm *room.Room, playerID string, reply chan error) {
		rm.Inbox() <- room.StopGame{RequesterID: playerID, Reply: reply}
	})
}

func (a *API) RestartGame(w http.ResponseWriter, r *http.Request) {
	a.gameLifecycle(w, r, func(rm *room.Room, playerID string, reply chan error) {
		rm.Inbox() <- room.Restart{RequesterID: playerID, Reply: reply}
	})
}

func (a *API) CloseVoting(w http.ResponseWriter, r *http.Request) {
	a.gameLifecycle(w, r, func(rm *room.Room, playerID string, reply chan error) {
		rm.Inbox() <- room.CloseVoting{RequesterID: playerID, Reply: reply}
	})
}

func (a *API) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	a.gameLifecycle(w, r, func(rm *room.Room, playerID string, reply chan error) {
		rm.Inbox() <- room.Delete{RequesterID: playerID, Reply: reply}
	})
}

func (a *API) gameLifecycle(w http.ResponseWriter, r *http.Request, send func(*room.Room, string, chan error)) {
	rm := a.getRoom(chi.URLParam(r, "roomID"))
	if rm == nil {
		writeError(w, http.StatusNotFound, "房间不存在")
		return
	}
	reply := make(chan error, 1)
	send(rm, r.URL.Query().Get("player_id"), reply)
	if err := <-reply; err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GetState is the polling fallback and reconnect catch-up: full public state
// plus the requesting player's own secret role info.
func (a *API) GetState(w http.ResponseWriter, r *http.Request) {
	rm := a.getRoom(chi.URLParam(r, "roomID"))
	if rm == nil {
		writeError(w, http.StatusNotFound, "房间不存在")
		return
	}
	reply := make(chan room.Snapshot, 1)
	rm.Inbox() <- room.GetSnapshot{PlayerID: r.URL.Query().Get("player_id"), Reply: reply}
	writeJSON(w, http.StatusOK, <-reply)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	reply := make(chan []*room.Room, 1)
	a.Hub.Inbox() <- hub.ListRooms{Reply: reply}
	rooms := <-reply

	active := 0
	for _, rm := range rooms {
		snapReply := make(chan room.Snapshot, 1)
		rm.Inbox() <- room.GetSnapshot{Reply: snapReply}
		if (<-snapReply).Phase != engine.PhaseWaiting {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"rooms":        len(rooms),
		"active_games": active,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"detail": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, room.ErrNotHost):
		status = http.StatusForbidden
	case errors.Is(err, room.ErrPlayerNotFound), errors.Is(err, room.ErrRoomClosed):
		status = http.StatusNotFound
	}
	writeError(w, status, err.Error())
}
