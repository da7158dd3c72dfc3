package collector

import (
	"sort"
	"sync"
	"time"

	"github.com/ernie/fragwatch/internal/domain"
)

// MatchState is the in-memory aggregate of the currently open match and
// its kill/death counters. It is a read-through cache for low-latency
// snapshots, fully rebuildable from the store, and never the system of
// record. Single writer: the tracker's event loop.
type MatchState struct {
	mu sync.RWMutex

	active    bool
	mapName   string
	gameType  string
	hostname  string
	startedAt time.Time

	counters      map[string]*playerCounter // identity key -> counters
	trackSuicides bool
}

type playerCounter struct {
	name     string // latest raw display name seen for this identity
	kills    int
	deaths   int
	suicides int
}

// NewMatchState creates an empty match state. When trackSuicides is set,
// self-kills are additionally counted in a distinct suicide counter;
// they never count as kills either way.
func NewMatchState(trackSuicides bool) *MatchState {
	return &MatchState{
		counters:      make(map[string]*playerCounter),
		trackSuicides: trackSuicides,
	}
}

// StartMatch transitions to Active, resetting all counters. A start
// while already active is an implicit restart, not an error.
func (s *MatchState) StartMatch(mapName, gameType, hostname string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = true
	s.mapName = mapName
	s.gameType = gameType
	s.hostname = hostname
	s.startedAt = at
	s.counters = make(map[string]*playerCounter)
}

// EndMatch discards the current match metadata and counters.
func (s *MatchState) EndMatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	s.mapName = ""
	s.gameType = ""
	s.hostname = ""
	s.startedAt = time.Time{}
	s.counters = make(map[string]*playerCounter)
}

// TouchPlayer ensures a zeroed counter entry exists for the identity
// while a match is active. World and unresolved names are ignored.
func (s *MatchState) TouchPlayer(rawName string) {
	if domain.IsWorld(rawName) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.ensure(rawName)
}

// ApplyKill updates counters for one frag. A kill arriving with no match
// open starts an implicit current match rather than being dropped. The
// victim's death always counts (unless world/unresolved); the killer's
// kill counts only when the killer is a real player other than the
// victim.
func (s *MatchState) ApplyKill(killerRaw, victimRaw string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		s.active = true
		s.mapName = domain.UnknownMap
		s.gameType = domain.UnknownGameType
		s.startedAt = at
	}

	var victim *playerCounter
	if !domain.IsWorld(victimRaw) {
		victim = s.ensure(victimRaw)
		victim.deaths++
	}

	if domain.IsWorld(killerRaw) {
		return
	}

	if victim != nil && domain.IdentityKey(killerRaw) == domain.IdentityKey(victimRaw) {
		// Self-kill: death only, never a kill.
		if s.trackSuicides {
			victim.suicides++
		}
		return
	}

	s.ensure(killerRaw).kills++
}

// ensure returns the counter entry for the identity, creating a zeroed
// one if missing. Caller holds the write lock.
func (s *MatchState) ensure(rawName string) *playerCounter {
	key := domain.IdentityKey(rawName)
	entry, ok := s.counters[key]
	if !ok {
		entry = &playerCounter{}
		s.counters[key] = entry
	}
	entry.name = rawName
	return entry
}

// Active reports whether a match is currently open.
func (s *MatchState) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// DeathsFor returns the death count tracked for an identity key, zero
// when the identity was never seen this match.
func (s *MatchState) DeathsFor(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, ok := s.counters[key]; ok {
		return entry.deaths
	}
	return 0
}

// CurrentMatch builds the tail-sourced view of the open match: metadata
// plus per-player counters ordered by kills descending.
func (s *MatchState) CurrentMatch() domain.CurrentMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur := domain.CurrentMatch{
		Active:   s.active,
		MapName:  s.mapName,
		GameType: s.gameType,
		Hostname: s.hostname,
		Players:  []domain.SnapshotPlayer{},
	}
	if !s.startedAt.IsZero() {
		started := s.startedAt
		cur.StartedAt = &started
	}

	for key, entry := range s.counters {
		cur.Players = append(cur.Players, domain.SnapshotPlayer{
			Key:      key,
			Name:     entry.name,
			Kills:    entry.kills,
			Deaths:   entry.deaths,
			Suicides: entry.suicides,
		})
	}
	sort.Slice(cur.Players, func(i, j int) bool {
		if cur.Players[i].Kills != cur.Players[j].Kills {
			return cur.Players[i].Kills > cur.Players[j].Kills
		}
		return cur.Players[i].Key < cur.Players[j].Key
	})

	return cur
}
