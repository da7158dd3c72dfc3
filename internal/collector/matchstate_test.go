package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ernie/fragwatch/internal/domain"
)

func TestMatchStateLifecycle(t *testing.T) {
	s := NewMatchState(false)
	require.False(t, s.Active())

	now := time.Now()
	s.StartMatch("q3dm17", "ffa", "noisebox", now)
	require.True(t, s.Active())

	cur := s.CurrentMatch()
	require.True(t, cur.Active)
	require.Equal(t, "q3dm17", cur.MapName)
	require.Equal(t, "ffa", cur.GameType)
	require.Equal(t, "noisebox", cur.Hostname)
	require.NotNil(t, cur.StartedAt)
	require.Empty(t, cur.Players)

	s.EndMatch()
	require.False(t, s.Active())
	require.Empty(t, s.CurrentMatch().Players)
}

func TestMatchStateRestartResetsCounters(t *testing.T) {
	s := NewMatchState(false)
	now := time.Now()

	s.StartMatch("q3dm17", "ffa", "", now)
	s.ApplyKill("Sarge", "Visor", now)
	require.Len(t, s.CurrentMatch().Players, 2)

	// A second start while active is a restart, not an error.
	s.StartMatch("q3dm6", "tdm", "", now)
	cur := s.CurrentMatch()
	require.Equal(t, "q3dm6", cur.MapName)
	require.Empty(t, cur.Players)
}

func TestMatchStateApplyKill(t *testing.T) {
	s := NewMatchState(false)
	now := time.Now()
	s.StartMatch("q3dm17", "ffa", "", now)

	s.ApplyKill("^1Sarge", "Visor", now)
	s.ApplyKill("^1Sarge", "Visor", now)
	s.ApplyKill("Visor", "Sarge", now)

	cur := s.CurrentMatch()
	require.Len(t, cur.Players, 2)

	// Ordered by kills descending.
	require.Equal(t, "sarge", cur.Players[0].Key)
	require.Equal(t, 2, cur.Players[0].Kills)
	require.Equal(t, 1, cur.Players[0].Deaths)
	require.Equal(t, "visor", cur.Players[1].Key)
	require.Equal(t, 1, cur.Players[1].Kills)
	require.Equal(t, 2, cur.Players[1].Deaths)
}

func TestMatchStateWorldKill(t *testing.T) {
	s := NewMatchState(false)
	now := time.Now()
	s.StartMatch("q3dm17", "ffa", "", now)

	s.ApplyKill("<world>", "Sarge", now)

	cur := s.CurrentMatch()
	require.Len(t, cur.Players, 1, "world never appears as a player")
	require.Equal(t, "sarge", cur.Players[0].Key)
	require.Equal(t, 0, cur.Players[0].Kills)
	require.Equal(t, 1, cur.Players[0].Deaths)
}

func TestMatchStateSelfKill(t *testing.T) {
	s := NewMatchState(true)
	now := time.Now()
	s.StartMatch("q3dm17", "ffa", "", now)

	// Color variants of the same identity still count as a self-kill.
	s.ApplyKill("^1Visor", "Visor", now)

	cur := s.CurrentMatch()
	require.Len(t, cur.Players, 1)
	require.Equal(t, 0, cur.Players[0].Kills, "self-kill is never a kill")
	require.Equal(t, 1, cur.Players[0].Deaths)
	require.Equal(t, 1, cur.Players[0].Suicides)
}

func TestMatchStateSelfKillSuicidesOff(t *testing.T) {
	s := NewMatchState(false)
	now := time.Now()
	s.StartMatch("q3dm17", "ffa", "", now)

	s.ApplyKill("Visor", "Visor", now)

	cur := s.CurrentMatch()
	require.Equal(t, 1, cur.Players[0].Deaths)
	require.Equal(t, 0, cur.Players[0].Suicides)
}

func TestMatchStateImplicitMatch(t *testing.T) {
	s := NewMatchState(false)
	now := time.Now()

	// A kill with no match open starts an implicit one.
	s.ApplyKill("Sarge", "Visor", now)

	require.True(t, s.Active())
	cur := s.CurrentMatch()
	require.Equal(t, domain.UnknownMap, cur.MapName)
	require.Len(t, cur.Players, 2)
}

func TestMatchStateTouchPlayer(t *testing.T) {
	s := NewMatchState(false)

	// No match open: nothing to track yet.
	s.TouchPlayer("Sarge")
	require.Empty(t, s.CurrentMatch().Players)

	s.StartMatch("q3dm17", "ffa", "", time.Now())
	s.TouchPlayer("Sarge")
	s.TouchPlayer("<world>")

	cur := s.CurrentMatch()
	require.Len(t, cur.Players, 1)
	require.Equal(t, 0, cur.Players[0].Kills)
	require.Equal(t, 0, cur.Players[0].Deaths)
}

func TestMatchStateDeathsFor(t *testing.T) {
	s := NewMatchState(false)
	now := time.Now()
	s.StartMatch("q3dm17", "ffa", "", now)

	s.ApplyKill("Sarge", "Visor", now)
	s.ApplyKill("Sarge", "Visor", now)

	require.Equal(t, 2, s.DeathsFor("visor"))
	require.Equal(t, 0, s.DeathsFor("sarge"))
	require.Equal(t, 0, s.DeathsFor("never-seen"))
}
