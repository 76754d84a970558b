package engine

// MissionRule is one row of the fixed 7-player mission table.
type MissionRule struct {
	TeamSize      int
	FailsRequired int
}

// MissionTable maps mission round (1..5) to its rule. Round 4 is the
// protected round: it takes two fail ballots to sink the mission. The
// threshold lives in the table rather than in code so a future player-count
// extension only swaps tables.
var MissionTable = map[int]MissionRule{
	1: {TeamSize: 2, FailsRequired: 1},
	2: {TeamSize: 3, FailsRequired: 1},
	3: {TeamSize: 3, FailsRequired: 1},
	4: {TeamSize: 4, FailsRequired: 2},
	5: {TeamSize: 4, FailsRequired: 1},
}

// MissionsToWin ends the game as soon as either side records this many
// mission results.
const MissionsToWin = 3

// MaxRejects is the consecutive-rejection limit; hitting it hands the game
// to evil.
const MaxRejects = 5

// PlayerCount is the only roster size the current role distribution supports.
const PlayerCount = 7
