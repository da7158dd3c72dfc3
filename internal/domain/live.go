package domain

import "time"

// LiveStatus is a point-in-time roster from the server's status query.
// Score is the server's authoritative kill count for the session.
type LiveStatus struct {
	Hostname  string            `json:"hostname"`
	MapName   string            `json:"map_name"`
	GameType  string            `json:"game_type"`
	Players   []LivePlayer      `json:"players"`
	Vars      map[string]string `json:"-"`
	Retrieved time.Time         `json:"retrieved"`
}

// LivePlayer is one roster line of a status response.
type LivePlayer struct {
	Name      string `json:"name"` // raw, may carry color codes
	CleanName string `json:"clean_name"`
	Score     int    `json:"score"`
	Ping      int    `json:"ping"`
}

// Snapshot source labels: which signal produced the current-match view.
const (
	SourceLive = "live"
	SourceTail = "tail"
)

// SnapshotPlayer is one player in the merged current-match view.
type SnapshotPlayer struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Kills    int    `json:"kills"`
	Deaths   int    `json:"deaths"`
	Suicides int    `json:"suicides,omitempty"`
	Ping     int    `json:"ping,omitempty"`
}

// CurrentMatch is the in-progress match as seen by the snapshot.
type CurrentMatch struct {
	Active    bool             `json:"active"`
	MapName   string           `json:"map_name,omitempty"`
	GameType  string           `json:"game_type,omitempty"`
	Hostname  string           `json:"hostname,omitempty"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	Players   []SnapshotPlayer `json:"players"`
}

// Snapshot is the single externally consumable view: live and historical
// signals merged, labeled with the source that produced the match view.
type Snapshot struct {
	Source       string        `json:"source"` // "live" or "tail"
	LiveInfo     *LiveStatus   `json:"live_info,omitempty"`
	CurrentMatch CurrentMatch  `json:"current_match"`
	Ladder       []LadderEntry `json:"ladder"`
}
