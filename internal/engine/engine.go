package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
)

var (
	ErrNeedSevenPlayers   = errors.New("game requires exactly seven seated players")
	ErrWrongPhase         = errors.New("action not allowed in current phase")
	ErrNotSeated          = errors.New("player is not seated in this game")
	ErrNotCaptain         = errors.New("only the captain may select the team")
	ErrNotYourTurn        = errors.New("not this player's turn")
	ErrWrongTeamSize      = errors.New("team size does not match the mission table")
	ErrDuplicateMember    = errors.New("team contains a duplicate member")
	ErrAlreadyVoted       = errors.New("player already voted this round")
	ErrNotOnMission       = errors.New("player is not on the mission team")
	ErrGoodCannotFail     = errors.New("good-aligned players may only submit success")
	ErrNotAssassin        = errors.New("only the assassin may act in this phase")
	ErrBadTarget          = errors.New("assassination target is not seated")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

type Phase string

const (
	PhaseWaiting     Phase = "waiting"
	PhaseRoleAssign  Phase = "role_assign"
	PhaseTeamSelect  Phase = "team_select"
	PhaseSpeaking    Phase = "speaking"
	PhaseVoting      Phase = "voting"
	PhaseMission     Phase = "mission"
	PhaseAssassinate Phase = "assassinate"
	PhaseGameOver    Phase = "game_over"
)

// Seat binds a player identity to a table position for the duration of a
// game. Seats are fixed at StartGame; the registry owns them before that.
type Seat struct {
	PlayerID string
	Name     string
	Seat     int // 1..7
	IsAI     bool
}

// State is the authoritative game state. Apply never mutates its receiver;
// it returns a new value so callers can keep the previous state on error.
type State struct {
	Phase          Phase
	MissionRound   int // 1..5
	CaptainSeat    int
	Seats          []Seat
	Roles          map[string]Role
	Personalities  map[string]string // AI player id -> flavour string
	TeamIDs        []string
	SpeakQueue     []string // player ids yet to speak this round
	Votes          map[string]bool
	MissionVotes   map[string]bool
	MissionSuccess int
	MissionFail    int
	RejectCount    int
	Winner         Team
	WinReason      string
}

func NewWaitingState() State {
	return State{Phase: PhaseWaiting}
}

type CommandType string

const (
	CmdStartGame       CommandType = "StartGame"
	CmdSelectTeam      CommandType = "SelectTeam"
	CmdSpeak           CommandType = "Speak"
	CmdCastVote        CommandType = "CastVote"
	CmdCloseVoting     CommandType = "CloseVoting"
	CmdCastMissionVote CommandType = "CastMissionVote"
	CmdAssassinate     CommandType = "Assassinate"
	CmdRestart         CommandType = "Restart"
)

type Command struct {
	Type     CommandType
	PlayerID string
	Members  []string // SelectTeam
	TargetID string   // Assassinate
	Approve  bool     // CastVote
	Success  bool     // CastMissionVote
	Text     string   // Speak
	Seats    []Seat   // StartGame
	Seed     int64    // StartGame
}

type EventType string

const (
	EvtPhaseChanged  EventType = "PhaseChanged"
	EvtRoleAssigned  EventType = "RoleAssigned"
	EvtWaitingInput  EventType = "WaitingInput"
	EvtTeamSelected  EventType = "TeamSelected"
	EvtSpeech        EventType = "Speech"
	EvtVoteRecorded  EventType = "VoteRecorded"
	EvtVoteResult    EventType = "VoteResult"
	EvtMissionResult EventType = "MissionResult"
	EvtGameOver      EventType = "GameOver"
)

// Event carries only the fields its type needs; the broadcast router decides
// who gets to see which fields.
type Event struct {
	Type        EventType
	PlayerID    string // subject; private audience for RoleAssigned/WaitingInput
	PlayerName  string
	Role        Role
	RoleTeam    Team
	Info        string // secret knowledge, single-recipient only
	Personality string
	Prompt      string
	Text        string
	Members     []string
	Round       int
	Approves    int
	Rejects     int
	Fails       int
	Passed      bool
	Phase       Phase
	Winner      Team
	Reason      string
	RolesReveal map[string]Role
}

// Apply validates cmd against s and returns the events it produced together
// with the successor state. On error the returned state is s unchanged and no
// events are emitted.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdStartGame:
		return applyStart(s, cmd)
	case CmdSelectTeam:
		return applySelectTeam(s, cmd)
	case CmdSpeak:
		return applySpeak(s, cmd)
	case CmdCastVote:
		return applyVote(s, cmd)
	case CmdCloseVoting:
		return applyCloseVoting(s, cmd)
	case CmdCastMissionVote:
		return applyMissionVote(s, cmd)
	case CmdAssassinate:
		return applyAssassinate(s, cmd)
	case CmdRestart:
		return applyRestart(s, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyStart(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseWaiting {
		return nil, s, ErrWrongPhase
	}
	if len(cmd.Seats) != PlayerCount {
		return nil, s, ErrNeedSevenPlayers
	}

	rng := rand.New(rand.NewSource(cmd.Seed))

	seats := make([]Seat, len(cmd.Seats))
	copy(seats, cmd.Seats)
	slices.SortFunc(seats, func(a, b Seat) int { return a.Seat - b.Seat })

	roles, personalities := assignRoles(seats, rng)
	captain := seats[rng.Intn(len(seats))].Seat

	ns := State{
		Phase:         PhaseTeamSelect,
		MissionRound:  1,
		CaptainSeat:   captain,
		Seats:         seats,
		Roles:         roles,
		Personalities: personalities,
		Votes:         map[string]bool{},
		MissionVotes:  map[string]bool{},
	}

	events := []Event{{Type: EvtPhaseChanged, Phase: PhaseRoleAssign, Round: 1}}
	for _, seat := range seats {
		role := roles[seat.PlayerID]
		events = append(events, Event{
			Type:        EvtRoleAssigned,
			PlayerID:    seat.PlayerID,
			PlayerName:  seat.Name,
			Role:        role,
			RoleTeam:    role.Alignment(),
			Info:        knowledgeFor(seat.PlayerID, seats, roles),
			Personality: personalities[seat.PlayerID],
		})
	}
	events = append(events,
		Event{Type: EvtPhaseChanged, Phase: PhaseTeamSelect, Round: 1},
		waitCaptain(ns),
	)
	return events, ns, nil
}

func applySelectTeam(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseTeamSelect {
		return nil, s, ErrWrongPhase
	}
	captain, ok := s.captain()
	if !ok || captain.PlayerID != cmd.PlayerID {
		return nil, s, ErrNotCaptain
	}
	rule := MissionTable[s.MissionRound]
	if len(cmd.Members) != rule.TeamSize {
		return nil, s, ErrWrongTeamSize
	}
	seen := make(map[string]bool, len(cmd.Members))
	for _, id := range cmd.Members {
		if !s.seated(id) {
			return nil, s, ErrNotSeated
		}
		if seen[id] {
			return nil, s, ErrDuplicateMember
		}
		seen[id] = true
	}

	ns := s
	ns.TeamIDs = slices.Clone(cmd.Members)
	ns.Phase = PhaseSpeaking
	ns.SpeakQueue = s.seatOrderFrom(s.CaptainSeat)

	events := []Event{
		{Type: EvtTeamSelected, PlayerID: captain.PlayerID, PlayerName: captain.Name,
			Members: slices.Clone(cmd.Members), Round: s.MissionRound},
		{Type: EvtPhaseChanged, Phase: PhaseSpeaking, Round: s.MissionRound},
		waitSpeaker(ns),
	}
	return events, ns, nil
}

func applySpeak(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseSpeaking {
		return nil, s, ErrWrongPhase
	}
	if len(s.SpeakQueue) == 0 || s.SpeakQueue[0] != cmd.PlayerID {
		return nil, s, ErrNotYourTurn
	}

	ns := s
	ns.SpeakQueue = slices.Clone(s.SpeakQueue[1:])

	speaker, _ := s.seat(cmd.PlayerID)
	events := []Event{{Type: EvtSpeech, PlayerID: speaker.PlayerID, PlayerName: speaker.Name, Text: cmd.Text}}

	if len(ns.SpeakQueue) == 0 {
		ns.Phase = PhaseVoting
		ns.Votes = map[string]bool{}
		events = append(events, Event{Type: EvtPhaseChanged, Phase: PhaseVoting, Round: s.MissionRound})
		events = append(events, waitAllVotes(ns)...)
		return events, ns, nil
	}
	events = append(events, waitSpeaker(ns))
	return events, ns, nil
}

func applyVote(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseVoting {
		return nil, s, ErrWrongPhase
	}
	if !s.seated(cmd.PlayerID) {
		return nil, s, ErrNotSeated
	}
	if _, voted := s.Votes[cmd.PlayerID]; voted {
		return nil, s, ErrAlreadyVoted
	}

	ns := s
	ns.Votes = cloneVotes(s.Votes)
	ns.Votes[cmd.PlayerID] = cmd.Approve

	voter, _ := s.seat(cmd.PlayerID)
	events := []Event{{Type: EvtVoteRecorded, PlayerID: voter.PlayerID, PlayerName: voter.Name}}

	if len(ns.Votes) < len(ns.Seats) {
		return events, ns, nil
	}
	tallied, ns2 := tallyTeamVote(ns)
	return append(events, tallied...), ns2, nil
}

// applyCloseVoting treats every missing ballot as a reject and closes the
// tally. Nothing in the server arms this automatically; the game waits for
// humans unless an operator forces liveness.
func applyCloseVoting(s State, _ Command) ([]Event, State, error) {
	if s.Phase != PhaseVoting {
		return nil, s, ErrWrongPhase
	}
	ns := s
	ns.Votes = cloneVotes(s.Votes)
	for _, seat := range ns.Seats {
		if _, voted := ns.Votes[seat.PlayerID]; !voted {
			ns.Votes[seat.PlayerID] = false
		}
	}
	events, ns2 := tallyTeamVote(ns)
	return events, ns2, nil
}

// tallyTeamVote assumes every seat has voted. Majority approves or the
// proposal fails; a tie is a failure.
func tallyTeamVote(s State) ([]Event, State) {
	approves, rejects := 0, 0
	for _, approve := range s.Votes {
		if approve {
			approves++
		} else {
			rejects++
		}
	}
	passed := approves > rejects

	ns := s
	ns.Votes = map[string]bool{}
	events := []Event{{
		Type: EvtVoteResult, Round: s.MissionRound,
		Approves: approves, Rejects: rejects, Passed: passed,
	}}

	if passed {
		ns.RejectCount = 0
		ns.Phase = PhaseMission
		ns.MissionVotes = map[string]bool{}
		events = append(events, Event{Type: EvtPhaseChanged, Phase: PhaseMission, Round: s.MissionRound})
		events = append(events, waitMissionBallots(ns)...)
		return events, ns
	}

	ns.RejectCount = s.RejectCount + 1
	if ns.RejectCount >= MaxRejects {
		return append(events, gameOver(&ns, TeamEvil, "连续5次组队被否决，坏人获胜")), ns
	}
	ns.rotateCaptain()
	ns.Phase = PhaseTeamSelect
	ns.TeamIDs = nil
	events = append(events,
		Event{Type: EvtPhaseChanged, Phase: PhaseTeamSelect, Round: ns.MissionRound},
		waitCaptain(ns),
	)
	return events, ns
}

func applyMissionVote(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseMission {
		return nil, s, ErrWrongPhase
	}
	if !slices.Contains(s.TeamIDs, cmd.PlayerID) {
		return nil, s, ErrNotOnMission
	}
	if _, voted := s.MissionVotes[cmd.PlayerID]; voted {
		return nil, s, ErrAlreadyVoted
	}
	// A compromised client could submit fail for a good role; the engine is
	// the authority on alignment.
	if !cmd.Success && s.Roles[cmd.PlayerID].Alignment() == TeamGood {
		return nil, s, ErrGoodCannotFail
	}

	ns := s
	ns.MissionVotes = cloneVotes(s.MissionVotes)
	ns.MissionVotes[cmd.PlayerID] = cmd.Success

	voter, _ := s.seat(cmd.PlayerID)
	events := []Event{{Type: EvtVoteRecorded, PlayerID: voter.PlayerID, PlayerName: voter.Name}}

	if len(ns.MissionVotes) < len(ns.TeamIDs) {
		return events, ns, nil
	}

	fails := 0
	for _, success := range ns.MissionVotes {
		if !success {
			fails++
		}
	}
	rule := MissionTable[s.MissionRound]
	passed := fails < rule.FailsRequired

	ns.MissionVotes = map[string]bool{}
	if passed {
		ns.MissionSuccess = s.MissionSuccess + 1
	} else {
		ns.MissionFail = s.MissionFail + 1
	}
	events = append(events, Event{
		Type: EvtMissionResult, Round: s.MissionRound,
		Fails: fails, Passed: passed,
	})

	switch {
	case ns.MissionSuccess >= MissionsToWin:
		ns.Phase = PhaseAssassinate
		ns.TeamIDs = nil
		events = append(events, Event{Type: EvtPhaseChanged, Phase: PhaseAssassinate, Round: ns.MissionRound})
		events = append(events, waitAssassin(ns))
	case ns.MissionFail >= MissionsToWin:
		events = append(events, gameOver(&ns, TeamEvil, "3次任务失败，坏人获胜"))
	default:
		ns.MissionRound = s.MissionRound + 1
		ns.rotateCaptain()
		ns.Phase = PhaseTeamSelect
		ns.TeamIDs = nil
		events = append(events,
			Event{Type: EvtPhaseChanged, Phase: PhaseTeamSelect, Round: ns.MissionRound},
			waitCaptain(ns),
		)
	}
	return events, ns, nil
}

func applyAssassinate(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseAssassinate {
		return nil, s, ErrWrongPhase
	}
	if s.Roles[cmd.PlayerID] != RoleAssassin {
		return nil, s, ErrNotAssassin
	}
	target, ok := s.seat(cmd.TargetID)
	if !ok {
		return nil, s, ErrBadTarget
	}

	ns := s
	var ev Event
	if s.Roles[target.PlayerID] == RoleMerlin {
		ev = gameOver(&ns, TeamEvil, fmt.Sprintf("刺客成功刺杀梅林（%s），坏人获胜", target.Name))
	} else {
		ev = gameOver(&ns, TeamGood, fmt.Sprintf("刺客指认 %s 失败，好人获胜", target.Name))
	}
	return []Event{ev}, ns, nil
}

func applyRestart(s State, _ Command) ([]Event, State, error) {
	if s.Phase == PhaseWaiting {
		return nil, s, ErrWrongPhase
	}
	ns := NewWaitingState()
	return []Event{{Type: EvtPhaseChanged, Phase: PhaseWaiting}}, ns, nil
}

func gameOver(ns *State, winner Team, reason string) Event {
	ns.Phase = PhaseGameOver
	ns.Winner = winner
	ns.WinReason = reason
	ns.TeamIDs = nil
	reveal := make(map[string]Role, len(ns.Roles))
	for id, role := range ns.Roles {
		reveal[id] = role
	}
	return Event{Type: EvtGameOver, Winner: winner, Reason: reason, RolesReveal: reveal}
}

func waitCaptain(s State) Event {
	captain, _ := s.captain()
	rule := MissionTable[s.MissionRound]
	return Event{
		Type: EvtWaitingInput, PlayerID: captain.PlayerID, PlayerName: captain.Name,
		Prompt: fmt.Sprintf("你是本轮队长，请选择 %d 名队员执行第 %d 轮任务", rule.TeamSize, s.MissionRound),
	}
}

func waitSpeaker(s State) Event {
	speaker, _ := s.seat(s.SpeakQueue[0])
	return Event{
		Type: EvtWaitingInput, PlayerID: speaker.PlayerID, PlayerName: speaker.Name,
		Prompt: "请发言",
	}
}

func waitAllVotes(s State) []Event {
	events := make([]Event, 0, len(s.Seats))
	for _, seat := range s.Seats {
		events = append(events, Event{
			Type: EvtWaitingInput, PlayerID: seat.PlayerID, PlayerName: seat.Name,
			Prompt: "请对本轮队伍投票：同意/反对",
		})
	}
	return events
}

func waitAssassin(s State) Event {
	for id, role := range s.Roles {
		if role == RoleAssassin {
			if seat, ok := s.seat(id); ok {
				return Event{
					Type: EvtWaitingInput, PlayerID: seat.PlayerID, PlayerName: seat.Name,
					Prompt: "好人即将获胜。你是刺客，请指认谁是梅林",
				}
			}
		}
	}
	return Event{Type: EvtWaitingInput}
}

func waitMissionBallots(s State) []Event {
	events := make([]Event, 0, len(s.TeamIDs))
	for _, id := range s.TeamIDs {
		member, _ := s.seat(id)
		events = append(events, Event{
			Type: EvtWaitingInput, PlayerID: member.PlayerID, PlayerName: member.Name,
			Prompt: "请执行任务：成功/失败",
		})
	}
	return events
}

func (s State) seat(playerID string) (Seat, bool) {
	for _, seat := range s.Seats {
		if seat.PlayerID == playerID {
			return seat, true
		}
	}
	return Seat{}, false
}

func (s State) seated(playerID string) bool {
	_, ok := s.seat(playerID)
	return ok
}

func (s State) captain() (Seat, bool) {
	for _, seat := range s.Seats {
		if seat.Seat == s.CaptainSeat {
			return seat, true
		}
	}
	return Seat{}, false
}

// seatOrderFrom lists player ids clockwise starting at the given seat,
// wrapping past the highest seat back to 1.
func (s State) seatOrderFrom(startSeat int) []string {
	ordered := make([]string, 0, len(s.Seats))
	n := len(s.Seats)
	start := 0
	for i, seat := range s.Seats {
		if seat.Seat == startSeat {
			start = i
			break
		}
	}
	for i := 0; i < n; i++ {
		ordered = append(ordered, s.Seats[(start+i)%n].PlayerID)
	}
	return ordered
}

// rotateCaptain hands the captain badge to the next seat, wrapping.
func (s *State) rotateCaptain() {
	for i, seat := range s.Seats {
		if seat.Seat == s.CaptainSeat {
			s.CaptainSeat = s.Seats[(i+1)%len(s.Seats)].Seat
			return
		}
	}
	if len(s.Seats) > 0 {
		s.CaptainSeat = s.Seats[0].Seat
	}
}

func cloneVotes(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
