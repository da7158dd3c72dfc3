package domain

import "time"

// Match represents one game on the server. EndedAt is nil while the
// match is open; at most one match is open at a time.
type Match struct {
	ID        int64      `json:"id"`
	UUID      string     `json:"uuid"`
	MapName   string     `json:"map_name"`
	GameType  string     `json:"game_type"`
	Hostname  string     `json:"hostname"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Frag is a recorded kill: an optional killer, a required victim, and
// the cause of death. Immutable once written. KillerID is nil exactly
// when the kill was environmental.
type Frag struct {
	ID        int64     `json:"id"`
	MatchID   int64     `json:"match_id"`
	KillerID  *int64    `json:"killer_id,omitempty"`
	VictimID  int64     `json:"victim_id"`
	Cause     string    `json:"cause"`
	CreatedAt time.Time `json:"created_at"`
}

// Placeholder metadata for matches opened on the fly when a frag
// arrives with no match running.
const (
	UnknownMap      = "unknown"
	UnknownGameType = "unknown"
)

// GameType constants
const (
	GameTypeFFA = "ffa"
	GameType1v1 = "1v1"
	GameTypeTDM = "tdm"
	GameTypeCTF = "ctf"
)

// GameTypeFromString converts Q3's numeric g_gametype value to a name.
// Unparseable values pass through verbatim.
func GameTypeFromString(gt string) string {
	switch gt {
	case "0":
		return GameTypeFFA
	case "1":
		return GameType1v1
	case "3":
		return GameTypeTDM
	case "4":
		return GameTypeCTF
	case "":
		return UnknownGameType
	default:
		return gt
	}
}
