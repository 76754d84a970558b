package protocol

import "time"

// Envelope is the wire format shared by both channel kinds. It is append-only:
// once handed to the connection manager it must not be mutated, because the
// same value is kept in the room's replay log.
type Envelope struct {
	Type       string    `json:"type"`
	PlayerID   string    `json:"player_id,omitempty"`
	PlayerName string    `json:"player_name,omitempty"`
	Content    any       `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Server -> client message types.
const (
	TypePhaseChange     = "phase_change"
	TypeRoleAssigned    = "role_assigned"
	TypeWaitingInput    = "waiting_input"
	TypeVoteResult      = "vote_result"
	TypeMissionResult   = "mission_result"
	TypeGameOver        = "game_over"
	TypeGameStart       = "game_start"
	TypeGameStopped     = "game_stopped"
	TypeGameRestart     = "game_restart"
	TypeGameMessage     = "game_message"
	TypeGameStateUpdate = "game_state_update"
	TypePlayerJoined    = "player_joined"
	TypePlayerLeft      = "player_left"
	TypePlayerOnline    = "player_online"
	TypePlayerOffline   = "player_offline"
	TypeHostChanged     = "host_changed"
	TypeRoomClosed      = "room_closed"
	TypeError           = "error"
	TypePong            = "pong"
)

// Client -> server message types.
const (
	TypePing        = "ping"
	TypePlayerInput = "player_input"
)

// CloseSuperseded is the reserved websocket close code sent on an old game
// channel when the same player opens a newer one. Clients must not
// auto-reconnect after receiving it.
const CloseSuperseded = 4001

// CloseSupersededReason is the reason string existing clients display to the
// user when their older tab is kicked.
const CloseSupersededReason = "您已在其他页面打开游戏"

// Action is the content of a player_input envelope: the structured move a
// client submits on its game channel.
type Action struct {
	Kind     string   `json:"action"`
	Members  []string `json:"members,omitempty"`
	Approve  bool     `json:"approve,omitempty"`
	Success  bool     `json:"success,omitempty"`
	Text     string   `json:"text,omitempty"`
	TargetID string   `json:"target_id,omitempty"`
}

// Action kinds.
const (
	ActionSelectTeam  = "select_team"
	ActionSpeak       = "speak"
	ActionVote        = "vote"
	ActionMission     = "mission"
	ActionAssassinate = "assassinate"
)

// New builds an envelope stamped with the current time.
func New(msgType string, content any) Envelope {
	return Envelope{Type: msgType, Content: content, Timestamp: time.Now().UTC()}
}

// NewFor builds an envelope attributed to a specific player.
func NewFor(msgType, playerID, playerName string, content any) Envelope {
	return Envelope{
		Type:       msgType,
		PlayerID:   playerID,
		PlayerName: playerName,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
}
