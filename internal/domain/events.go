package domain

import "time"

// Event types published on the internal bus and forwarded to WebSocket
// subscribers.
const (
	EventMatchStart = "match_start"
	EventMatchEnd   = "match_end"
	EventKill       = "kill"
	EventPlayerSeen = "player_seen"
)

// Event is a real-time notification envelope.
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// MatchStartEvent is sent when a new match begins.
type MatchStartEvent struct {
	Map      string `json:"map"`
	GameType string `json:"game_type"`
	Hostname string `json:"hostname"`
}

// MatchEndEvent is sent when the running match ends.
type MatchEndEvent struct{}

// KillEvent is sent for every parsed frag.
type KillEvent struct {
	Killer         string `json:"killer"` // empty for environmental kills
	Victim         string `json:"victim"`
	Cause          string `json:"cause"`
	KillerPlayerID *int64 `json:"killer_player_id,omitempty"`
	VictimPlayerID *int64 `json:"victim_player_id,omitempty"`
}

// PlayerSeenEvent is sent when an identity update resolves a player.
type PlayerSeenEvent struct {
	Name     string `json:"name"`
	Key      string `json:"key"`
	PlayerID *int64 `json:"player_id,omitempty"`
}
