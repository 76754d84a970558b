package room

import (
	"github.com/qingyuz/avalon-backend/internal/engine"
	"github.com/qingyuz/avalon-backend/internal/protocol"
)

type Msg interface{ isRoomMsg() }

// ChannelKind distinguishes the lobby-presence socket from the active-match
// socket. A player may hold one of each.
type ChannelKind string

const (
	ChannelRoom ChannelKind = "room"
	ChannelGame ChannelKind = "game"
)

type PlayerType string

const (
	PlayerHuman PlayerType = "human"
	PlayerAI    PlayerType = "ai"
)

// PlayerView is the roster entry exposed outside the actor.
type PlayerView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Seat        int        `json:"seat"`
	Type        PlayerType `json:"player_type"`
	IsCaptain   bool       `json:"is_captain"`
	IsOnMission bool       `json:"is_on_mission"`
	IsOnline    bool       `json:"is_online"`
	Personality string     `json:"personality,omitempty"` // AI only, opaque
}

// RoleInfo is the requesting player's own secret, served only to them.
type RoleInfo struct {
	Role        engine.Role `json:"role"`
	Team        engine.Team `json:"team"`
	Info        string      `json:"info"`
	RoleNotes   string      `json:"role_notes"`
	Personality string      `json:"personality,omitempty"`
}

// Snapshot is the REST polling view of a room.
type Snapshot struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	HostID   string          `json:"host_id"`
	Phase    engine.Phase    `json:"phase"`
	Players  []PlayerView    `json:"players"`
	Game     engine.Snapshot `json:"game"`
	RoleInfo *RoleInfo       `json:"role_info,omitempty"`
}

type Join struct {
	Name  string
	Reply chan JoinResult
}

type JoinResult struct {
	Player PlayerView
	Err    error
}

type AddAI struct {
	Count int
	Names []string
	Reply chan AddAIResult
}

type AddAIResult struct {
	Added []PlayerView
	Err   error
}

type RemoveAI struct {
	RequesterID string
	AIPlayerID  string
	Reply       chan error
}

type Leave struct {
	PlayerID string
	Reply    chan LeaveResult
}

type LeaveResult struct {
	RoomDeleted bool
	GameStopped bool
	Err         error
}

type StartGame struct {
	RequesterID string
	Reply       chan error
}

type StopGame struct {
	RequesterID string
	Reply       chan error
}

type Restart struct {
	RequesterID string
	Reply       chan error
}

// Delete tears the room down. Host-only.
type Delete struct {
	RequesterID string
	Reply       chan error
}

// CloseVoting force-closes the current team vote, counting every missing
// ballot as a reject. Host-only; the game otherwise waits indefinitely.
type CloseVoting struct {
	RequesterID string
	Reply       chan error
}

// PlayerAction is a decoded player_input envelope from a game channel.
// Illegal actions are answered with an error envelope, never a crash.
type PlayerAction struct {
	PlayerID string
	Action   protocol.Action
}

type ChannelUp struct {
	PlayerID string
	Kind     ChannelKind
}

type ChannelDown struct {
	PlayerID string
	Kind     ChannelKind
}

type GetSnapshot struct {
	PlayerID string // optional; includes that player's RoleInfo when running
	Reply    chan Snapshot
}

type Shutdown struct{}

func (Join) isRoomMsg()         {}
func (AddAI) isRoomMsg()        {}
func (RemoveAI) isRoomMsg()     {}
func (Leave) isRoomMsg()        {}
func (StartGame) isRoomMsg()    {}
func (StopGame) isRoomMsg()     {}
func (Restart) isRoomMsg()      {}
func (Delete) isRoomMsg()       {}
func (CloseVoting) isRoomMsg()  {}
func (PlayerAction) isRoomMsg() {}
func (ChannelUp) isRoomMsg()    {}
func (ChannelDown) isRoomMsg()  {}
func (GetSnapshot) isRoomMsg()  {}
func (Shutdown) isRoomMsg()     {}
