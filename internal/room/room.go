package room

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qingyuz/avalon-backend/internal/credits"
	"github.com/qingyuz/avalon-backend/internal/engine"
	"github.com/qingyuz/avalon-backend/internal/protocol"
)

var (
	ErrRoomFull       = errors.New("room is full")
	ErrRoomClosed     = errors.New("room is closed")
	ErrGameInProgress = errors.New("game already in progress")
	ErrGameNotRunning = errors.New("game is not running")
	ErrNotHost        = errors.New("only the host may do this")
	ErrPlayerNotFound = errors.New("player not found in room")
	ErrNotAI          = errors.New("player is not an ai player")
	ErrCreditDenied   = errors.New("ai credit authorization failed")
)

// creditGateTimeout bounds the external authorize call at game start so a
// slow ledger cannot wedge the room actor.
const creditGateTimeout = 5 * time.Second

// Sender is the connection-manager surface the actor needs. Deliveries are
// fire-and-forget: offline players catch up via REST polling and replay.
type Sender interface {
	Send(roomID, playerID string, env protocol.Envelope)
	Broadcast(roomID string, env protocol.Envelope)
	// DisconnectAll force-closes every channel of the room, e.g. on delete.
	DisconnectAll(roomID, reason string)
}

type player struct {
	id          string
	name        string
	seat        int
	ptype       PlayerType
	online      bool
	personality string
}

// Room is a single-goroutine actor: all game-state mutation for one room is
// serialized through its inbox, so concurrent submissions cannot interleave.
// Cross-room traffic never shares state.
type Room struct {
	id     string
	name   string
	inbox  chan Msg
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	sender   Sender
	gate     credits.Gate
	onClosed func(roomID string)
	seedFn   func() int64

	hostID  string
	players []*player // sorted by seat
	state   engine.State
	// history is the append-only replay log; audience recorded per entry so
	// a reconnect never leaks another player's secrets.
	history []Routed
}

// Deps carries the room's collaborators.
type Deps struct {
	Logger   *zap.Logger
	Sender   Sender
	Gate     credits.Gate
	OnClosed func(roomID string)
	Seed     func() int64
}

// New creates a room with the given host already seated at seat 1 and starts
// the actor goroutine.
func New(parent context.Context, id, name, hostID, hostName string, deps Deps) *Room {
	ctx, cancel := context.WithCancel(parent)
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gate == nil {
		deps.Gate = credits.NopGate{}
	}
	if deps.Seed == nil {
		deps.Seed = func() int64 { return time.Now().UnixNano() }
	}
	if deps.OnClosed == nil {
		deps.OnClosed = func(string) {}
	}

	r := &Room{
		id:       id,
		name:     name,
		inbox:    make(chan Msg, 64),
		ctx:      ctx,
		cancel:   cancel,
		log:      deps.Logger.With(zap.String("room", id)),
		sender:   deps.Sender,
		gate:     deps.Gate,
		onClosed: deps.OnClosed,
		seedFn:   deps.Seed,
		hostID:   hostID,
		state:    engine.NewWaitingState(),
	}
	r.players = []*player{{id: hostID, name: hostName, seat: 1, ptype: PlayerHuman, online: true}}

	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) ID() string { return r.id }

func (r *Room) loop() {
	// After close the goroutine stays behind as a drain: a caller that grabbed
	// the *Room before the hub dropped it must still get an answer, never a
	// blocked reply channel.
	defer r.drain()
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- r.handleJoin(msg)
			case AddAI:
				msg.Reply <- r.handleAddAI(msg)
			case RemoveAI:
				msg.Reply <- r.handleRemoveAI(msg)
			case Leave:
				msg.Reply <- r.handleLeave(msg)
			case StartGame:
				msg.Reply <- r.handleStart(msg)
			case StopGame:
				msg.Reply <- r.handleStop(msg)
			case Restart:
				msg.Reply <- r.handleRestart(msg)
			case Delete:
				msg.Reply <- r.handleDelete(msg)
			case CloseVoting:
				msg.Reply <- r.handleCloseVoting(msg)
			case PlayerAction:
				r.handleAction(msg)
			case ChannelUp:
				r.handleChannelUp(msg)
			case ChannelDown:
				r.handleChannelDown(msg)
			case GetSnapshot:
				msg.Reply <- r.snapshot(msg.PlayerID)
			case Shutdown:
				r.close("房间已关闭")
				return
			}
			// A handler may have closed the room (delete, last human left);
			// stop before touching the next message so drain owns it.
			if r.ctx.Err() != nil {
				return
			}
		}
	}
}

// drain answers every message arriving after the loop stopped. Mutating
// requests fail with ErrRoomClosed; snapshot reads still see the final state
// (same goroutine as the loop, so no lock is needed).
func (r *Room) drain() {
	for m := range r.inbox {
		switch msg := m.(type) {
		case Join:
			msg.Reply <- JoinResult{Err: ErrRoomClosed}
		case AddAI:
			msg.Reply <- AddAIResult{Err: ErrRoomClosed}
		case RemoveAI:
			msg.Reply <- ErrRoomClosed
		case Leave:
			msg.Reply <- LeaveResult{Err: ErrRoomClosed}
		case StartGame:
			msg.Reply <- ErrRoomClosed
		case StopGame:
			msg.Reply <- ErrRoomClosed
		case Restart:
			msg.Reply <- ErrRoomClosed
		case Delete:
			msg.Reply <- ErrRoomClosed
		case CloseVoting:
			msg.Reply <- ErrRoomClosed
		case GetSnapshot:
			msg.Reply <- r.snapshot(msg.PlayerID)
		}
		// PlayerAction, ChannelUp, ChannelDown and Shutdown carry no reply
		// channel; dropping them is enough.
	}
}

// ---- roster ----

func (r *Room) handleJoin(msg Join) JoinResult {
	if r.state.Phase != engine.PhaseWaiting {
		return JoinResult{Err: ErrGameInProgress}
	}
	if len(r.players) >= engine.PlayerCount {
		return JoinResult{Err: ErrRoomFull}
	}

	p := &player{
		id:     newID(),
		name:   r.dedupeName(msg.Name),
		seat:   r.firstFreeSeat(),
		ptype:  PlayerHuman,
		online: true,
	}
	r.insertPlayer(p)
	r.announceJoined(p)
	return JoinResult{Player: r.view(p)}
}

func (r *Room) handleAddAI(msg AddAI) AddAIResult {
	if r.state.Phase != engine.PhaseWaiting {
		return AddAIResult{Err: ErrGameInProgress}
	}
	if msg.Count <= 0 {
		return AddAIResult{}
	}
	if len(r.players)+msg.Count > engine.PlayerCount {
		return AddAIResult{Err: ErrRoomFull}
	}

	var added []PlayerView
	for i := 0; i < msg.Count; i++ {
		name := ""
		if i < len(msg.Names) {
			name = msg.Names[i]
		}
		if name == "" {
			name = r.pickAIName()
		}
		p := &player{
			id:     newID(),
			name:   r.dedupeName(name),
			seat:   r.firstFreeSeat(),
			ptype:  PlayerAI,
			online: true, // AI clients are driven server-side; treated as present
		}
		r.insertPlayer(p)
		r.announceJoined(p)
		added = append(added, r.view(p))
	}
	return AddAIResult{Added: added}
}

func (r *Room) handleRemoveAI(msg RemoveAI) error {
	if msg.RequesterID != r.hostID {
		return ErrNotHost
	}
	if r.state.Phase != engine.PhaseWaiting {
		return ErrGameInProgress
	}
	p := r.player(msg.AIPlayerID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if p.ptype != PlayerAI {
		return ErrNotAI
	}
	r.removePlayer(p.id)
	r.announce(protocol.NewFor(protocol.TypePlayerLeft, p.id, p.name, map[string]any{
		"player_id":   p.id,
		"player_name": p.name,
	}))
	return nil
}

func (r *Room) handleLeave(msg Leave) LeaveResult {
	p := r.player(msg.PlayerID)
	if p == nil {
		return LeaveResult{Err: ErrPlayerNotFound}
	}

	gameStopped := false
	if r.state.Phase != engine.PhaseWaiting {
		r.stopGame(fmt.Sprintf("玩家 %s 离开，游戏已停止", p.name))
		gameStopped = true
	}

	wasHost := p.id == r.hostID
	r.removePlayer(p.id)

	if len(r.players) == 0 || !r.hasHuman() {
		r.close("房间已解散（没有人类玩家）")
		return LeaveResult{RoomDeleted: true, GameStopped: gameStopped}
	}

	r.announce(protocol.NewFor(protocol.TypePlayerLeft, p.id, p.name, map[string]any{
		"player_id":   p.id,
		"player_name": p.name,
	}))
	if wasHost {
		r.failoverHost()
	}
	return LeaveResult{GameStopped: gameStopped}
}

// failoverHost promotes the next-seated online human, falling back to any
// human. Callers guarantee at least one human remains.
func (r *Room) failoverHost() {
	var next *player
	for _, p := range r.players {
		if p.ptype != PlayerHuman {
			continue
		}
		if next == nil {
			next = p
		}
		if p.online {
			next = p
			break
		}
	}
	if next == nil || next.id == r.hostID {
		return
	}
	r.hostID = next.id
	r.announce(protocol.NewFor(protocol.TypeHostChanged, next.id, next.name, map[string]any{
		"new_host_id":   next.id,
		"new_host_name": next.name,
		"message":       fmt.Sprintf("%s 成为新房主", next.name),
	}))
}

// ---- game lifecycle ----

func (r *Room) handleStart(msg StartGame) error {
	if msg.RequesterID != r.hostID {
		return ErrNotHost
	}
	if r.state.Phase != engine.PhaseWaiting {
		return ErrGameInProgress
	}
	if len(r.players) != engine.PlayerCount {
		return engine.ErrNeedSevenPlayers
	}

	aiCount := 0
	for _, p := range r.players {
		if p.ptype == PlayerAI {
			aiCount++
		}
	}
	if aiCount > 0 {
		ctx, cancel := context.WithTimeout(r.ctx, creditGateTimeout)
		res, err := r.gate.Authorize(ctx, r.hostID, aiCount)
		cancel()
		if err != nil {
			r.log.Warn("credit gate unavailable", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrCreditDenied, err)
		}
		if !res.OK {
			return fmt.Errorf("%w: %s", ErrCreditDenied, res.Message)
		}
		r.log.Info("ai credits consumed",
			zap.Int("count", res.Consumed), zap.Int("remaining", res.Remaining))
	}

	r.history = nil
	r.emit(Routed{Env: protocol.New(protocol.TypeGameStart, map[string]any{
		"message": "游戏开始！角色已分配",
		"players": r.views(),
	})})

	return r.applyCommand(engine.Command{
		Type:  engine.CmdStartGame,
		Seats: r.seats(),
		Seed:  r.seedFn(),
	}, "")
}

func (r *Room) handleStop(msg StopGame) error {
	if msg.RequesterID != r.hostID {
		return ErrNotHost
	}
	if r.state.Phase == engine.PhaseWaiting {
		return ErrGameNotRunning
	}
	r.stopGame("🎮 房主结束了本局游戏，返回房间准备新的一局")
	return nil
}

func (r *Room) handleRestart(msg Restart) error {
	if msg.RequesterID != r.hostID {
		return ErrNotHost
	}
	if r.state.Phase == engine.PhaseWaiting {
		return ErrGameNotRunning
	}
	r.state = engine.NewWaitingState()
	r.history = nil
	for _, p := range r.players {
		p.personality = ""
	}
	r.announce(protocol.New(protocol.TypeGameRestart, map[string]any{
		"message": "游戏已重置，准备重新开始",
	}))
	return nil
}

// handleCloseVoting lets the host break a stalled team vote; absent ballots
// count as rejects.
func (r *Room) handleCloseVoting(msg CloseVoting) error {
	if msg.RequesterID != r.hostID {
		return ErrNotHost
	}
	return r.applyCommand(engine.Command{Type: engine.CmdCloseVoting}, "")
}

func (r *Room) handleDelete(msg Delete) error {
	if msg.RequesterID != r.hostID {
		return ErrNotHost
	}
	r.close("房主解散了房间")
	return nil
}

// stopGame resets to waiting and tells everyone; the roster is untouched.
func (r *Room) stopGame(reason string) {
	r.state = engine.NewWaitingState()
	r.history = nil
	r.announce(protocol.New(protocol.TypeGameStopped, map[string]any{
		"message": reason,
	}))
}

// close broadcasts room_closed, force-disconnects all channels and stops the
// actor. The hub is notified so the directory entry disappears.
func (r *Room) close(reason string) {
	r.announce(protocol.New(protocol.TypeRoomClosed, map[string]any{
		"message": reason,
	}))
	r.sender.DisconnectAll(r.id, reason)
	r.onClosed(r.id)
	r.cancel()
}

// ---- actions ----

func (r *Room) handleAction(msg PlayerAction) {
	p := r.player(msg.PlayerID)
	if p == nil {
		r.sendError(msg.PlayerID, "玩家不在房间中")
		return
	}

	cmd, ok := toCommand(msg.PlayerID, msg.Action)
	if !ok {
		r.sendError(msg.PlayerID, fmt.Sprintf("未知操作: %s", msg.Action.Kind))
		return
	}
	// applyCommand reports rule violations to the sender itself.
	_ = r.applyCommand(cmd, msg.PlayerID)
}

func toCommand(playerID string, a protocol.Action) (engine.Command, bool) {
	switch a.Kind {
	case protocol.ActionSelectTeam:
		return engine.Command{Type: engine.CmdSelectTeam, PlayerID: playerID, Members: a.Members}, true
	case protocol.ActionSpeak:
		return engine.Command{Type: engine.CmdSpeak, PlayerID: playerID, Text: a.Text}, true
	case protocol.ActionVote:
		return engine.Command{Type: engine.CmdCastVote, PlayerID: playerID, Approve: a.Approve}, true
	case protocol.ActionMission:
		return engine.Command{Type: engine.CmdCastMissionVote, PlayerID: playerID, Success: a.Success}, true
	case protocol.ActionAssassinate:
		return engine.Command{Type: engine.CmdAssassinate, PlayerID: playerID, TargetID: a.TargetID}, true
	default:
		return engine.Command{}, false
	}
}

// applyCommand runs the engine, fans resulting events out through the router
// and finishes with a room-wide state update. A rejected command leaves the
// state untouched and answers only the actor.
func (r *Room) applyCommand(cmd engine.Command, actorID string) error {
	events, next, err := engine.Apply(r.state, cmd)
	if err != nil {
		r.log.Debug("command rejected",
			zap.String("cmd", string(cmd.Type)), zap.String("player", actorID), zap.Error(err))
		if actorID != "" {
			r.sendError(actorID, err.Error())
		}
		return err
	}
	r.state = next
	r.syncPersonalities()

	for _, ev := range events {
		for _, routed := range routeEvent(ev) {
			r.emit(routed)
		}
	}
	r.announce(protocol.New(protocol.TypeGameStateUpdate, r.state.PublicSnapshot()))
	return nil
}

func (r *Room) syncPersonalities() {
	for _, p := range r.players {
		if flavour, ok := r.state.Personalities[p.id]; ok {
			p.personality = flavour
		}
	}
}

// ---- channels ----

func (r *Room) handleChannelUp(msg ChannelUp) {
	p := r.player(msg.PlayerID)
	if p == nil {
		return
	}
	if !p.online {
		p.online = true
		r.announce(protocol.NewFor(protocol.TypePlayerOnline, p.id, p.name, map[string]any{
			"player_id":   p.id,
			"player_name": p.name,
		}))
	}
	if msg.Kind == ChannelGame {
		r.replay(p.id)
	}
}

func (r *Room) handleChannelDown(msg ChannelDown) {
	p := r.player(msg.PlayerID)
	if p == nil || !p.online {
		return
	}
	p.online = false
	r.announce(protocol.NewFor(protocol.TypePlayerOffline, p.id, p.name, map[string]any{
		"player_id":   p.id,
		"player_name": p.name,
	}))
	if p.id == r.hostID {
		r.failoverHost()
	}
}

// replay pushes the room's message history to one player, filtered to what
// they were allowed to see, then a fresh snapshot so no gap remains.
func (r *Room) replay(playerID string) {
	for _, entry := range r.history {
		if entry.Audience == nil || slices.Contains(entry.Audience, playerID) {
			r.sender.Send(r.id, playerID, entry.Env)
		}
	}
	r.sender.Send(r.id, playerID, protocol.New(protocol.TypeGameStateUpdate, r.state.PublicSnapshot()))
}

// ---- delivery helpers ----

// emit records an envelope in the replay log and delivers it.
func (r *Room) emit(routed Routed) {
	r.history = append(r.history, routed)
	if routed.Audience == nil {
		r.sender.Broadcast(r.id, routed.Env)
		return
	}
	for _, id := range routed.Audience {
		r.sender.Send(r.id, id, routed.Env)
	}
}

// announce delivers room-wide without recording; presence and state-update
// noise has no place in the replay log.
func (r *Room) announce(env protocol.Envelope) {
	r.sender.Broadcast(r.id, env)
}

func (r *Room) announceJoined(p *player) {
	r.announce(protocol.NewFor(protocol.TypePlayerJoined, p.id, p.name, map[string]any{
		"player": r.view(p),
	}))
}

func (r *Room) sendError(playerID, message string) {
	r.sender.Send(r.id, playerID, protocol.New(protocol.TypeError, map[string]any{
		"message": message,
	}))
}

// newID is a uuid prefix: plenty for in-memory rooms, keeps urls readable.
func newID() string {
	return uuid.NewString()[:8]
}

// ---- roster helpers ----

func (r *Room) player(id string) *player {
	for _, p := range r.players {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (r *Room) insertPlayer(p *player) {
	r.players = append(r.players, p)
	slices.SortFunc(r.players, func(a, b *player) int { return a.seat - b.seat })
}

func (r *Room) removePlayer(id string) {
	r.players = slices.DeleteFunc(r.players, func(p *player) bool { return p.id == id })
}

// firstFreeSeat hands out the lowest unused seat; seats stay stable for the
// lifetime of the room, so leavers punch holes that are refilled first.
func (r *Room) firstFreeSeat() int {
	taken := map[int]bool{}
	for _, p := range r.players {
		taken[p.seat] = true
	}
	for seat := 1; seat <= engine.PlayerCount; seat++ {
		if !taken[seat] {
			return seat
		}
	}
	return len(r.players) + 1
}

func (r *Room) hasHuman() bool {
	for _, p := range r.players {
		if p.ptype == PlayerHuman {
			return true
		}
	}
	return false
}

func (r *Room) dedupeName(name string) string {
	if name == "" {
		name = fmt.Sprintf("玩家%d", len(r.players)+1)
	}
	for _, p := range r.players {
		if p.name == name {
			return fmt.Sprintf("%s_%d", name, len(r.players)+1)
		}
	}
	return name
}

var defaultAINames = []string{
	"小智", "墨言", "青衫", "玄机", "止水", "云笙", "疏影", "照夜",
}

func (r *Room) pickAIName() string {
	used := map[string]bool{}
	for _, p := range r.players {
		used[p.name] = true
	}
	for _, name := range defaultAINames {
		if !used[name] {
			return name
		}
	}
	return fmt.Sprintf("玩家%d", len(r.players)+1)
}

func (r *Room) seats() []engine.Seat {
	seats := make([]engine.Seat, 0, len(r.players))
	for _, p := range r.players {
		seats = append(seats, engine.Seat{
			PlayerID: p.id,
			Name:     p.name,
			Seat:     p.seat,
			IsAI:     p.ptype == PlayerAI,
		})
	}
	return seats
}

func (r *Room) view(p *player) PlayerView {
	onMission := slices.Contains(r.state.TeamIDs, p.id)
	return PlayerView{
		ID:          p.id,
		Name:        p.name,
		Seat:        p.seat,
		Type:        p.ptype,
		IsCaptain:   r.state.CaptainSeat == p.seat && r.state.Phase != engine.PhaseWaiting,
		IsOnMission: onMission,
		IsOnline:    p.online,
		Personality: p.personality,
	}
}

func (r *Room) views() []PlayerView {
	out := make([]PlayerView, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, r.view(p))
	}
	return out
}

func (r *Room) snapshot(playerID string) Snapshot {
	snap := Snapshot{
		ID:      r.id,
		Name:    r.name,
		HostID:  r.hostID,
		Phase:   r.state.Phase,
		Players: r.views(),
		Game:    r.state.PublicSnapshot(),
	}
	if playerID != "" && r.state.Phase != engine.PhaseWaiting {
		if role, ok := r.state.Roles[playerID]; ok {
			snap.RoleInfo = &RoleInfo{
				Role:        role,
				Team:        role.Alignment(),
				Info:        r.state.KnowledgeFor(playerID),
				RoleNotes:   role.Notes(),
				Personality: r.state.Personalities[playerID],
			}
		}
	}
	return snap
}
