package room

import (
	"fmt"
	"strings"

	"github.com/qingyuz/avalon-backend/internal/engine"
	"github.com/qingyuz/avalon-backend/internal/protocol"
)

// Routed pairs an envelope with its audience. A nil audience means every
// current room member; otherwise delivery is restricted to the listed player
// ids. This table is the privacy boundary: role secrets and private prompts
// must never come out of routeEvent with a nil audience.
type Routed struct {
	Env      protocol.Envelope
	Audience []string
}

// routeEvent translates one engine event into wire envelopes. Events the
// clients have no use for produce nothing.
func routeEvent(ev engine.Event) []Routed {
	switch ev.Type {
	case engine.EvtPhaseChanged:
		return []Routed{{Env: protocol.New(protocol.TypePhaseChange, map[string]any{
			"phase":         ev.Phase,
			"mission_round": ev.Round,
		})}}

	case engine.EvtRoleAssigned:
		// The single most sensitive message in the protocol: one recipient.
		return []Routed{{
			Env: protocol.NewFor(protocol.TypeRoleAssigned, ev.PlayerID, ev.PlayerName, map[string]any{
				"player_id":   ev.PlayerID,
				"player_name": ev.PlayerName,
				"role":        ev.Role,
				"team":        ev.RoleTeam,
				"info":        ev.Info,
				"personality": ev.Personality,
			}),
			Audience: []string{ev.PlayerID},
		}}

	case engine.EvtWaitingInput:
		// Private prompt to the actor plus a room-wide ping that only names
		// who is acting.
		return []Routed{
			{
				Env: protocol.NewFor(protocol.TypeWaitingInput, ev.PlayerID, ev.PlayerName, map[string]any{
					"player_name": ev.PlayerName,
					"prompt":      ev.Prompt,
				}),
				Audience: []string{ev.PlayerID},
			},
			{
				Env: protocol.NewFor(protocol.TypeWaitingInput, "", ev.PlayerName, map[string]any{
					"player_name": ev.PlayerName,
				}),
			},
		}

	case engine.EvtTeamSelected:
		return []Routed{{Env: protocol.NewFor(protocol.TypeGameMessage, ev.PlayerID, ev.PlayerName, map[string]any{
			"source":  ev.PlayerName,
			"content": fmt.Sprintf("队长选择了本轮队员：%s", strings.Join(ev.Members, "、")),
		})}}

	case engine.EvtSpeech:
		return []Routed{{Env: protocol.NewFor(protocol.TypeGameMessage, ev.PlayerID, ev.PlayerName, map[string]any{
			"source":  ev.PlayerName,
			"content": ev.Text,
		})}}

	case engine.EvtVoteRecorded:
		// The fact that a player voted is public; the ballot is not.
		return []Routed{{Env: protocol.NewFor(protocol.TypeGameMessage, ev.PlayerID, ev.PlayerName, map[string]any{
			"source":  "系统",
			"content": fmt.Sprintf("%s 已提交", ev.PlayerName),
		})}}

	case engine.EvtVoteResult:
		return []Routed{{Env: protocol.New(protocol.TypeVoteResult, map[string]any{
			"round":    ev.Round,
			"approves": ev.Approves,
			"rejects":  ev.Rejects,
			"passed":   ev.Passed,
		})}}

	case engine.EvtMissionResult:
		return []Routed{{Env: protocol.New(protocol.TypeMissionResult, map[string]any{
			"round":  ev.Round,
			"fails":  ev.Fails,
			"passed": ev.Passed,
		})}}

	case engine.EvtGameOver:
		return []Routed{{Env: protocol.New(protocol.TypeGameOver, map[string]any{
			"winner": ev.Winner,
			"reason": ev.Reason,
			"roles":  ev.RolesReveal,
		})}}
	}
	return nil
}
