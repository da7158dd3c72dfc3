package domain

import "time"

// Player represents a stable identity behind noisy display names.
// Players are never deleted; every sighting refreshes the display name
// and last-seen timestamp.
type Player struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`  // identity key: color-stripped, case-folded name
	Name      string    `json:"name"` // current raw display name, may carry color codes
	CleanName string    `json:"clean_name"`
	GUID      string    `json:"guid,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// PlayerAlias is a historical display-name variant of a player. One row
// exists per distinct display form; repeated sightings only touch
// last-seen.
type PlayerAlias struct {
	ID        int64     `json:"id"`
	PlayerID  int64     `json:"player_id"`
	Name      string    `json:"name"`
	CleanName string    `json:"clean_name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// LadderEntry is a player's career totals for the ladder.
type LadderEntry struct {
	Key    string  `json:"key"`
	Name   string  `json:"name"`
	Kills  int64   `json:"kills"`
	Deaths int64   `json:"deaths"`
	KD     float64 `json:"kd"`
}

// OpponentEntry is one row of a most-killed / killed-by list.
type OpponentEntry struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// ProfileTotals holds a player's aggregated career numbers.
type ProfileTotals struct {
	Kills    int64            `json:"kills"`
	Deaths   int64            `json:"deaths"`
	KD       float64          `json:"kd"`
	Suicides int64            `json:"suicides"`
	ByCause  map[string]int64 `json:"by_cause"`
}

// PlayerProfile is the full career view of a single player.
type PlayerProfile struct {
	Player         Player          `json:"player"`
	Totals         ProfileTotals   `json:"totals"`
	MostKilled     []OpponentEntry `json:"most_killed"`
	MostKilledBots []OpponentEntry `json:"most_killed_bots"`
	KilledBy       []OpponentEntry `json:"killed_by"`
	KilledByBots   []OpponentEntry `json:"killed_by_bots"`
	HourlyActivity []int64         `json:"hourly_activity"` // trailing 24 hours, oldest bucket first
}

// KDRatio applies the ladder KD rule: kills when deaths is zero,
// otherwise kills/deaths rounded to two decimals.
func KDRatio(kills, deaths int64) float64 {
	if deaths == 0 {
		return float64(kills)
	}
	ratio := float64(kills) / float64(deaths)
	return float64(int64(ratio*100+0.5)) / 100
}
