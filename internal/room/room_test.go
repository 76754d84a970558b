package room

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qingyuz/avalon-backend/internal/credits"
	"github.com/qingyuz/avalon-backend/internal/engine"
	"github.com/qingyuz/avalon-backend/internal/protocol"
)

type sent struct {
	playerID string
	env      protocol.Envelope
}

// fakeSender records deliveries instead of touching sockets. The room actor
// calls it from its own goroutine, so access is guarded.
type fakeSender struct {
	mu          sync.Mutex
	sends       []sent
	broadcasts  []protocol.Envelope
	disconnects []string
}

func (f *fakeSender) Send(roomID, playerID string, env protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sent{playerID: playerID, env: env})
}

func (f *fakeSender) Broadcast(roomID string, env protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, env)
}

func (f *fakeSender) DisconnectAll(roomID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, reason)
}

func (f *fakeSender) sentTo(playerID string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, s := range f.sends {
		if s.playerID == playerID {
			out = append(out, s.env)
		}
	}
	return out
}

func (f *fakeSender) broadcastsOf(msgType string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range f.broadcasts {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = nil
	f.broadcasts = nil
}

type testRoom struct {
	room   *Room
	sender *fakeSender
	gate   *credits.MemoryGate
	hostID string
	closed chan string
}

func newTestRoom(t *testing.T) *testRoom {
	t.Helper()
	sender := &fakeSender{}
	gate := credits.NewMemoryGate(30)
	closed := make(chan string, 1)
	rm := New(context.Background(), "r1", "测试房间", "host-1", "房主", Deps{
		Sender:   sender,
		Gate:     gate,
		OnClosed: func(id string) { closed <- id },
		Seed:     func() int64 { return 42 },
	})
	t.Cleanup(func() { rm.Inbox() <- Shutdown{} })
	return &testRoom{room: rm, sender: sender, gate: gate, hostID: "host-1", closed: closed}
}

func (tr *testRoom) join(t *testing.T, name string) PlayerView {
	t.Helper()
	reply := make(chan JoinResult, 1)
	tr.room.Inbox() <- Join{Name: name, Reply: reply}
	res := <-reply
	require.NoError(t, res.Err)
	return res.Player
}

func (tr *testRoom) addAI(t *testing.T, count int) []PlayerView {
	t.Helper()
	reply := make(chan AddAIResult, 1)
	tr.room.Inbox() <- AddAI{Count: count, Reply: reply}
	res := <-reply
	require.NoError(t, res.Err)
	return res.Added
}

func (tr *testRoom) snapshot(playerID string) Snapshot {
	reply := make(chan Snapshot, 1)
	tr.room.Inbox() <- GetSnapshot{PlayerID: playerID, Reply: reply}
	return <-reply
}

func (tr *testRoom) start(t *testing.T) {
	t.Helper()
	reply := make(chan error, 1)
	tr.room.Inbox() <- StartGame{RequesterID: tr.hostID, Reply: reply}
	require.NoError(t, <-reply)
}

// fullRoster fills the room to three humans and four ai players.
func (tr *testRoom) fullRoster(t *testing.T) []PlayerView {
	t.Helper()
	tr.join(t, "小明")
	tr.join(t, "小红")
	tr.addAI(t, 4)
	snap := tr.snapshot("")
	require.Len(t, snap.Players, engine.PlayerCount)
	return snap.Players
}

func contentMap(t *testing.T, env protocol.Envelope) map[string]any {
	t.Helper()
	m, ok := env.Content.(map[string]any)
	require.True(t, ok, "content of %s is not a map", env.Type)
	return m
}

func TestJoinAssignsStableSeats(t *testing.T) {
	tr := newTestRoom(t)
	a := tr.join(t, "小明")
	b := tr.join(t, "小红")
	assert.Equal(t, 2, a.Seat)
	assert.Equal(t, 3, b.Seat)

	// A leaver punches a hole; the next join refills it.
	reply := make(chan LeaveResult, 1)
	tr.room.Inbox() <- Leave{PlayerID: a.ID, Reply: reply}
	require.NoError(t, (<-reply).Err)

	c := tr.join(t, "小刚")
	assert.Equal(t, 2, c.Seat)

	joins := tr.sender.broadcastsOf(protocol.TypePlayerJoined)
	assert.Len(t, joins, 3)
}

func TestJoinDeduplicatesNames(t *testing.T) {
	tr := newTestRoom(t)
	a := tr.join(t, "小明")
	b := tr.join(t, "小明")
	assert.Equal(t, "小明", a.Name)
	assert.NotEqual(t, a.Name, b.Name)
	assert.True(t, strings.HasPrefix(b.Name, "小明_"))
}

func TestJoinRejectedWhenFullOrRunning(t *testing.T) {
	tr := newTestRoom(t)
	tr.fullRoster(t)

	reply := make(chan JoinResult, 1)
	tr.room.Inbox() <- Join{Name: "迟到", Reply: reply}
	assert.ErrorIs(t, (<-reply).Err, ErrRoomFull)

	tr.start(t)
	tr.room.Inbox() <- Join{Name: "更迟", Reply: reply}
	assert.ErrorIs(t, (<-reply).Err, ErrGameInProgress)
}

func TestAddAIUsesDefaultNames(t *testing.T) {
	tr := newTestRoom(t)
	added := tr.addAI(t, 2)
	require.Len(t, added, 2)
	for _, p := range added {
		assert.Equal(t, PlayerAI, p.Type)
		assert.NotEmpty(t, p.Name)
		assert.True(t, p.IsOnline)
	}
	assert.NotEqual(t, added[0].Name, added[1].Name)
}

func TestRemoveAIChecks(t *testing.T) {
	tr := newTestRoom(t)
	human := tr.join(t, "小明")
	ai := tr.addAI(t, 1)[0]

	reply := make(chan error, 1)
	tr.room.Inbox() <- RemoveAI{RequesterID: human.ID, AIPlayerID: ai.ID, Reply: reply}
	assert.ErrorIs(t, <-reply, ErrNotHost)

	tr.room.Inbox() <- RemoveAI{RequesterID: tr.hostID, AIPlayerID: human.ID, Reply: reply}
	assert.ErrorIs(t, <-reply, ErrNotAI)

	tr.room.Inbox() <- RemoveAI{RequesterID: tr.hostID, AIPlayerID: ai.ID, Reply: reply}
	assert.NoError(t, <-reply)
	assert.Len(t, tr.snapshot("").Players, 2)
}

func TestStartRequiresHostAndFullRoster(t *testing.T) {
	tr := newTestRoom(t)
	p := tr.join(t, "小明")

	reply := make(chan error, 1)
	tr.room.Inbox() <- StartGame{RequesterID: p.ID, Reply: reply}
	assert.ErrorIs(t, <-reply, ErrNotHost)

	tr.room.Inbox() <- StartGame{RequesterID: tr.hostID, Reply: reply}
	assert.ErrorIs(t, <-reply, engine.ErrNeedSevenPlayers)
}

func TestStartConsumesCreditsPerAIPlayer(t *testing.T) {
	tr := newTestRoom(t)
	tr.fullRoster(t)
	tr.gate.SetBalance(tr.hostID, 10)

	tr.start(t)
	assert.Equal(t, 6, tr.gate.Balance(tr.hostID))
	assert.Equal(t, engine.PhaseTeamSelect, tr.snapshot("").Phase)
}

func TestStartDeniedOnInsufficientCredits(t *testing.T) {
	tr := newTestRoom(t)
	tr.fullRoster(t)
	tr.gate.SetBalance(tr.hostID, 3) // four ai seats need four credits

	reply := make(chan error, 1)
	tr.room.Inbox() <- StartGame{RequesterID: tr.hostID, Reply: reply}
	err := <-reply
	assert.ErrorIs(t, err, ErrCreditDenied)

	// Nothing was deducted and the room is still joinable state-wise.
	assert.Equal(t, 3, tr.gate.Balance(tr.hostID))
	assert.Equal(t, engine.PhaseWaiting, tr.snapshot("").Phase)
	assert.Empty(t, tr.sender.broadcastsOf(protocol.TypeGameStart))
}

func TestRoleAssignmentsStayPrivate(t *testing.T) {
	tr := newTestRoom(t)
	players := tr.fullRoster(t)
	tr.start(t)

	// No role_assigned envelope is ever broadcast.
	assert.Empty(t, tr.sender.broadcastsOf(protocol.TypeRoleAssigned))

	for _, p := range players {
		var own int
		for _, env := range tr.sender.sentTo(p.ID) {
			if env.Type != protocol.TypeRoleAssigned {
				continue
			}
			own++
			content := contentMap(t, env)
			assert.Equal(t, p.ID, content["player_id"])
			assert.NotEmpty(t, content["role"])
		}
		assert.Equal(t, 1, own, "player %s should receive exactly one role", p.Name)

		// Nothing addressed to p carries another player's role assignment.
		for _, env := range tr.sender.sentTo(p.ID) {
			if env.Type == protocol.TypeRoleAssigned {
				assert.Equal(t, p.ID, env.PlayerID)
			}
		}
	}
}

func TestWaitingInputPromptOnlyReachesActor(t *testing.T) {
	tr := newTestRoom(t)
	tr.fullRoster(t)
	tr.start(t)

	snap := tr.snapshot("")
	var captain PlayerView
	for _, p := range snap.Players {
		if p.IsCaptain {
			captain = p
		}
	}
	require.NotEmpty(t, captain.ID)

	var private bool
	for _, env := range tr.sender.sentTo(captain.ID) {
		if env.Type == protocol.TypeWaitingInput {
			content := contentMap(t, env)
			assert.NotEmpty(t, content["prompt"])
			private = true
		}
	}
	assert.True(t, private, "captain should get a private prompt")

	// The room-wide ping names the actor but carries no prompt.
	pings := tr.sender.broadcastsOf(protocol.TypeWaitingInput)
	require.NotEmpty(t, pings)
	for _, env := range pings {
		content := contentMap(t, env)
		assert.Equal(t, captain.Name, content["player_name"])
		assert.NotContains(t, content, "prompt")
	}
}

func TestCaptainSelectsTeamOverChannel(t *testing.T) {
	tr := newTestRoom(t)
	tr.fullRoster(t)
	tr.start(t)
	tr.sender.reset()

	snap := tr.snapshot("")
	var captain PlayerView
	for _, p := range snap.Players {
		if p.IsCaptain {
			captain = p
		}
	}
	members := []string{snap.Players[0].ID, snap.Players[1].ID}

	tr.room.Inbox() <- PlayerAction{PlayerID: captain.ID, Action: protocol.Action{
		Kind: protocol.ActionSelectTeam, Members: members,
	}}
	snap = tr.snapshot("") // fence: the actor processed the action

	assert.Equal(t, engine.PhaseSpeaking, snap.Phase)
	msgs := tr.sender.broadcastsOf(protocol.TypeGameMessage)
	require.NotEmpty(t, msgs)
	assert.Contains(t, contentMap(t, msgs[0])["content"], "队长选择了本轮队员")
	assert.NotEmpty(t, tr.sender.broadcastsOf(protocol.TypeGameStateUpdate))
}

func TestIllegalActionAnswersOnlyTheActor(t *testing.T) {
	tr := newTestRoom(t)
	players := tr.fullRoster(t)
	tr.start(t)
	tr.sender.reset()

	var notCaptain PlayerView
	for _, p := range tr.snapshot("").Players {
		if !p.IsCaptain {
			notCaptain = p
			break
		}
	}
	tr.room.Inbox() <- PlayerAction{PlayerID: notCaptain.ID, Action: protocol.Action{
		Kind: protocol.ActionSelectTeam, Members: []string{players[0].ID, players[1].ID},
	}}
	tr.room.Inbox() <- PlayerAction{PlayerID: notCaptain.ID, Action: protocol.Action{Kind: "dance"}}
	tr.snapshot("")

	var errs int
	for _, env := range tr.sender.sentTo(notCaptain.ID) {
		if env.Type == protocol.TypeError {
			errs++
		}
	}
	assert.Equal(t, 2, errs)
	assert.Empty(t, tr.sender.broadcastsOf(protocol.TypeError))
	assert.Equal(t, engine.PhaseTeamSelect, tr.snapshot("").Phase)
}

func TestCloseVotingIsHostOnlyAndPhaseChecked(t *testing.T) {
	tr := newTestRoom(t)
	players := tr.fullRoster(t)
	tr.start(t)

	reply := make(chan error, 1)
	tr.room.Inbox() <- CloseVoting{RequesterID: players[1].ID, Reply: reply}
	assert.ErrorIs(t, <-reply, ErrNotHost)

	// No vote is open during team selection.
	tr.room.Inbox() <- CloseVoting{RequesterID: tr.hostID, Reply: reply}
	assert.ErrorIs(t, <-reply, engine.ErrWrongPhase)
}

func TestLeaveDuringGameStopsIt(t *testing.T) {
	tr := newTestRoom(t)
	tr.fullRoster(t)
	tr.start(t)

	var other PlayerView
	for _, p := range tr.snapshot("").Players {
		if p.ID != tr.hostID && p.Type == PlayerHuman {
			other = p
			break
		}
	}
	reply := make(chan LeaveResult, 1)
	tr.room.Inbox() <- Leave{PlayerID: other.ID, Reply: reply}
	res := <-reply
	require.NoError(t, res.Err)
	assert.True(t, res.GameStopped)
	assert.False(t, res.RoomDeleted)

	assert.Equal(t, engine.PhaseWaiting, tr.snapshot("").Phase)
	stops := tr.sender.broadcastsOf(protocol.TypeGameStopped)
	require.NotEmpty(t, stops)
	assert.Contains(t, contentMap(t, stops[0])["message"], other.Name)
}

func TestRoomClosesWhenLastHumanLeaves(t *testing.T) {
	tr := newTestRoom(t)
	tr.addAI(t, 2)

	reply := make(chan LeaveResult, 1)
	tr.room.Inbox() <- Leave{PlayerID: tr.hostID, Reply: reply}
	res := <-reply
	require.NoError(t, res.Err)
	assert.True(t, res.RoomDeleted)

	assert.Equal(t, "r1", <-tr.closed)
	assert.NotEmpty(t, tr.sender.broadcastsOf(protocol.TypeRoomClosed))
	tr.sender.mu.Lock()
	defer tr.sender.mu.Unlock()
	assert.Len(t, tr.sender.disconnects, 1)
}

func TestHostLeaveFailsOver(t *testing.T) {
	tr := newTestRoom(t)
	next := tr.join(t, "小明")
	tr.join(t, "小红")

	reply := make(chan LeaveResult, 1)
	tr.room.Inbox() <- Leave{PlayerID: tr.hostID, Reply: reply}
	require.NoError(t, (<-reply).Err)

	assert.Equal(t, next.ID, tr.snapshot("").HostID)
	changes := tr.sender.broadcastsOf(protocol.TypeHostChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, next.ID, contentMap(t, changes[0])["new_host_id"])
}

func TestHostGoingOfflineFailsOver(t *testing.T) {
	tr := newTestRoom(t)
	next := tr.join(t, "小明")

	tr.room.Inbox() <- ChannelDown{PlayerID: tr.hostID, Kind: ChannelRoom}
	snap := tr.snapshot("")

	assert.Equal(t, next.ID, snap.HostID)
	assert.NotEmpty(t, tr.sender.broadcastsOf(protocol.TypePlayerOffline))
	// The original host is still seated, just offline.
	assert.Len(t, snap.Players, 2)
}

func TestStopAndRestartAreHostOnly(t *testing.T) {
	tr := newTestRoom(t)
	p := tr.join(t, "小明")
	tr.join(t, "小红")
	tr.addAI(t, 4)
	tr.start(t)

	reply := make(chan error, 1)
	tr.room.Inbox() <- StopGame{RequesterID: p.ID, Reply: reply}
	assert.ErrorIs(t, <-reply, ErrNotHost)

	tr.room.Inbox() <- Restart{RequesterID: tr.hostID, Reply: reply}
	assert.NoError(t, <-reply)
	assert.Equal(t, engine.PhaseWaiting, tr.snapshot("").Phase)
	assert.NotEmpty(t, tr.sender.broadcastsOf(protocol.TypeGameRestart))

	tr.room.Inbox() <- StopGame{RequesterID: tr.hostID, Reply: reply}
	assert.ErrorIs(t, <-reply, ErrGameNotRunning)
}

func TestReplayFiltersOtherPlayersSecrets(t *testing.T) {
	tr := newTestRoom(t)
	players := tr.fullRoster(t)
	tr.start(t)

	target := players[2]
	tr.sender.reset()
	tr.room.Inbox() <- ChannelUp{PlayerID: target.ID, Kind: ChannelGame}
	tr.snapshot("")

	envs := tr.sender.sentTo(target.ID)
	require.NotEmpty(t, envs)

	var ownRoles int
	for _, env := range envs {
		if env.Type == protocol.TypeRoleAssigned {
			assert.Equal(t, target.ID, env.PlayerID, "replay leaked a foreign role")
			ownRoles++
		}
		if env.Type == protocol.TypeWaitingInput {
			// Private prompts for other players must not be replayed here.
			content := contentMap(t, env)
			if _, hasPrompt := content["prompt"]; hasPrompt {
				assert.Equal(t, target.ID, env.PlayerID)
			}
		}
	}
	assert.Equal(t, 1, ownRoles)
	assert.Equal(t, protocol.TypeGameStateUpdate, envs[len(envs)-1].Type)
}

func TestSnapshotRoleInfoOnlyForRequester(t *testing.T) {
	tr := newTestRoom(t)
	players := tr.fullRoster(t)
	tr.start(t)

	anon := tr.snapshot("")
	assert.Nil(t, anon.RoleInfo)

	own := tr.snapshot(players[0].ID)
	require.NotNil(t, own.RoleInfo)
	assert.NotEmpty(t, own.RoleInfo.Role)
	assert.NotEmpty(t, own.RoleInfo.Info)
}

func TestClosedRoomStillAnswersRequests(t *testing.T) {
	tr := newTestRoom(t)
	reply := make(chan error, 1)
	tr.room.Inbox() <- Delete{RequesterID: tr.hostID, Reply: reply}
	require.NoError(t, <-reply)
	require.Equal(t, "r1", <-tr.closed)

	// A caller that grabbed the room pointer before the hub dropped it must
	// never block on its reply channel.
	snapReply := make(chan Snapshot, 1)
	tr.room.Inbox() <- GetSnapshot{Reply: snapReply}
	select {
	case snap := <-snapReply:
		assert.Equal(t, "r1", snap.ID)
	case <-time.After(time.Second):
		t.Fatal("snapshot request to a closed room blocked")
	}

	joinReply := make(chan JoinResult, 1)
	tr.room.Inbox() <- Join{Name: "迟到", Reply: joinReply}
	select {
	case res := <-joinReply:
		assert.ErrorIs(t, res.Err, ErrRoomClosed)
	case <-time.After(time.Second):
		t.Fatal("join request to a closed room blocked")
	}

	startReply := make(chan error, 1)
	tr.room.Inbox() <- StartGame{RequesterID: tr.hostID, Reply: startReply}
	select {
	case err := <-startReply:
		assert.ErrorIs(t, err, ErrRoomClosed)
	case <-time.After(time.Second):
		t.Fatal("start request to a closed room blocked")
	}
}

func TestDeleteIsHostOnlyAndDisconnects(t *testing.T) {
	tr := newTestRoom(t)
	p := tr.join(t, "小明")

	reply := make(chan error, 1)
	tr.room.Inbox() <- Delete{RequesterID: p.ID, Reply: reply}
	assert.ErrorIs(t, <-reply, ErrNotHost)

	tr.room.Inbox() <- Delete{RequesterID: tr.hostID, Reply: reply}
	assert.NoError(t, <-reply)
	assert.Equal(t, "r1", <-tr.closed)
}
