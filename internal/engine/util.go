package engine

// Snapshot is the public view of a running game: safe to broadcast room-wide
// and to serve from the REST polling endpoint. It never contains roles or
// ballot contents.
type Snapshot struct {
	Phase               Phase    `json:"phase"`
	MissionRound        int      `json:"mission_round"`
	Captain             string   `json:"captain,omitempty"`
	TeamMembers         []string `json:"team_members,omitempty"`
	MissionSuccessCount int      `json:"mission_success_count"`
	MissionFailCount    int      `json:"mission_fail_count"`
	RejectCount         int      `json:"reject_count"`
	NextPlayer          string   `json:"next_player,omitempty"`
	Winner              Team     `json:"winner,omitempty"`
	WinReason           string   `json:"win_reason,omitempty"`
}

// PublicSnapshot projects the state into its broadcastable form.
func (s State) PublicSnapshot() Snapshot {
	snap := Snapshot{
		Phase:               s.Phase,
		MissionRound:        s.MissionRound,
		MissionSuccessCount: s.MissionSuccess,
		MissionFailCount:    s.MissionFail,
		RejectCount:         s.RejectCount,
		Winner:              s.Winner,
		WinReason:           s.WinReason,
	}
	if captain, ok := s.captain(); ok {
		snap.Captain = captain.Name
	}
	for _, id := range s.TeamIDs {
		if seat, ok := s.seat(id); ok {
			snap.TeamMembers = append(snap.TeamMembers, seat.Name)
		}
	}
	snap.NextPlayer = s.nextPlayerName()
	return snap
}

// nextPlayerName names whose action the engine is waiting on, when a single
// player holds the turn.
func (s State) nextPlayerName() string {
	switch s.Phase {
	case PhaseTeamSelect:
		if captain, ok := s.captain(); ok {
			return captain.Name
		}
	case PhaseSpeaking:
		if len(s.SpeakQueue) > 0 {
			if seat, ok := s.seat(s.SpeakQueue[0]); ok {
				return seat.Name
			}
		}
	case PhaseAssassinate:
		for id, role := range s.Roles {
			if role == RoleAssassin {
				if seat, ok := s.seat(id); ok {
					return seat.Name
				}
			}
		}
	}
	return ""
}

// KnowledgeFor re-derives the secret information string for one player, for
// the REST snapshot a reconnecting client pulls.
func (s State) KnowledgeFor(playerID string) string {
	if s.Roles == nil {
		return ""
	}
	return knowledgeFor(playerID, s.Seats, s.Roles)
}

// ContainsEvent reports whether events includes one of the given type.
func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// FindEvent returns the first event of the given type.
func FindEvent(events []Event, eventType EventType) (Event, bool) {
	for _, event := range events {
		if event.Type == eventType {
			return event, true
		}
	}
	return Event{}, false
}
