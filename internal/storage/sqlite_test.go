package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ernie/fragwatch/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertPlayerCreateAndUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	player, err := store.UpsertPlayer(ctx, "^1Sarge", "", now)
	require.NoError(t, err)
	require.NotNil(t, player)
	require.Equal(t, "sarge", player.Key)
	require.Equal(t, "^1Sarge", player.Name)
	require.Equal(t, "Sarge", player.CleanName)

	// A recolored sighting resolves to the same row and refreshes the name.
	later := now.Add(time.Minute)
	again, err := store.UpsertPlayer(ctx, "^4SARGE", "", later)
	require.NoError(t, err)
	require.Equal(t, player.ID, again.ID)
	require.Equal(t, "^4SARGE", again.Name)

	stored, err := store.GetPlayerByKey(ctx, "sarge")
	require.NoError(t, err)
	require.Equal(t, "^4SARGE", stored.Name)

	aliases, err := store.GetPlayerAliases(ctx, player.ID)
	require.NoError(t, err)
	require.Len(t, aliases, 2, "one alias row per exact display form")
}

func TestTimestampsScanBackAsTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seen := time.Date(2026, 8, 23, 10, 30, 15, 0, time.UTC)

	_, err := store.UpsertPlayer(ctx, "Sarge", "", seen)
	require.NoError(t, err)

	player, err := store.GetPlayerByKey(ctx, "sarge")
	require.NoError(t, err)
	require.True(t, player.FirstSeen.Equal(seen), "first_seen: got %v", player.FirstSeen)
	require.True(t, player.LastSeen.Equal(seen), "last_seen: got %v", player.LastSeen)

	aliases, err := store.GetPlayerAliases(ctx, player.ID)
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	require.True(t, aliases[0].FirstSeen.Equal(seen))

	_, err = store.OpenMatch(ctx, "q3dm17", "ffa", "", seen)
	require.NoError(t, err)
	open, err := store.CurrentMatch(ctx)
	require.NoError(t, err)
	require.True(t, open.StartedAt.Equal(seen), "started_at: got %v", open.StartedAt)
}

func TestUpsertPlayerAliasIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	player, err := store.UpsertPlayer(ctx, "Visor", "", now)
	require.NoError(t, err)

	_, err = store.UpsertPlayer(ctx, "Visor", "", now.Add(time.Minute))
	require.NoError(t, err)

	aliases, err := store.GetPlayerAliases(ctx, player.ID)
	require.NoError(t, err)
	require.Len(t, aliases, 1, "repeat sightings of the same form only touch last-seen")
}

func TestUpsertPlayerWorldIsNotAPlayer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"<world>", "", "   ", "^1^2"} {
		player, err := store.UpsertPlayer(ctx, name, "", time.Now())
		require.NoError(t, err, "name %q", name)
		require.Nil(t, player, "name %q", name)
	}
}

func TestUpsertPlayerGUIDSurvivesRename(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	player, err := store.UpsertPlayer(ctx, "Sarge", "AAAA1111", now)
	require.NoError(t, err)

	// Same GUID, different name: same identity, not a new row, and the
	// row moves to the new identity key.
	renamed, err := store.UpsertPlayer(ctx, "SargeReborn", "AAAA1111", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, player.ID, renamed.ID)
	require.Equal(t, "SargeReborn", renamed.Name)
	require.Equal(t, "sargereborn", renamed.Key)

	// A later GUID-less sighting of the new name resolves by key to the
	// same row instead of splitting the player.
	byKey, err := store.UpsertPlayer(ctx, "SargeReborn", "", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, player.ID, byKey.ID)

	_, err = store.GetPlayerByKey(ctx, "sarge")
	require.ErrorIs(t, err, ErrPlayerNotFound, "old key no longer resolves")
}

func TestUpsertPlayerGUIDRenameAbsorbsKeyHolder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	original, err := store.UpsertPlayer(ctx, "Sarge", "AAAA1111", now)
	require.NoError(t, err)

	// Kills saw the new name before userinfo did: a GUID-less row
	// already holds the target key, with a frag attributed to it.
	phantom, err := store.UpsertPlayer(ctx, "Reborn", "", now.Add(time.Second))
	require.NoError(t, err)
	require.NotEqual(t, original.ID, phantom.ID)

	victim, err := store.UpsertPlayer(ctx, "Visor", "", now.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, store.RecordFrag(ctx, &phantom.ID, victim.ID, "MOD_ROCKET", now.Add(2*time.Second)))

	// The GUID-carried rename folds the phantom into the original row.
	merged, err := store.UpsertPlayer(ctx, "Reborn", "AAAA1111", now.Add(3*time.Second))
	require.NoError(t, err)
	require.Equal(t, original.ID, merged.ID)
	require.Equal(t, "reborn", merged.Key)

	resolved, err := store.GetPlayerByKey(ctx, "reborn")
	require.NoError(t, err)
	require.Equal(t, original.ID, resolved.ID)

	ladder, err := store.Ladder(ctx, 10, true, nil)
	require.NoError(t, err)
	require.Len(t, ladder, 2)
	require.Equal(t, "reborn", ladder[0].Key)
	require.Equal(t, int64(1), ladder[0].Kills, "frag follows the merge")
}

func TestUpsertPlayerGUIDAttachedOnFirstSight(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	player, err := store.UpsertPlayer(ctx, "Visor", "", now)
	require.NoError(t, err)
	require.Empty(t, player.GUID)

	withGUID, err := store.UpsertPlayer(ctx, "Visor", "BBBB2222", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, player.ID, withGUID.ID)
	require.Equal(t, "BBBB2222", withGUID.GUID)

	// An already attached GUID is not overwritten.
	kept, err := store.UpsertPlayer(ctx, "Visor", "CCCC3333", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, "BBBB2222", kept.GUID)
}

func TestOpenMatchDebounce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := store.OpenMatch(ctx, "q3dm17", "ffa", "box", now)
	require.NoError(t, err)

	// Same map within the window reuses the open match.
	second, err := store.OpenMatch(ctx, "q3dm17", "ffa", "box", now.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, first, second)

	count, err := store.MatchCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// Outside the window a new match is created and the old one closed.
	third, err := store.OpenMatch(ctx, "q3dm17", "ffa", "box", now.Add(time.Minute))
	require.NoError(t, err)
	require.NotEqual(t, first, third)

	open, err := store.CurrentMatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	require.Equal(t, third, open.ID)
}

func TestOpenMatchDifferentMapAlwaysNew(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := store.OpenMatch(ctx, "q3dm17", "ffa", "", now)
	require.NoError(t, err)

	second, err := store.OpenMatch(ctx, "q3dm6", "tdm", "", now.Add(time.Second))
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// Only one match may stay open.
	open, err := store.CurrentMatch(ctx)
	require.NoError(t, err)
	require.Equal(t, second, open.ID)
}

func TestCloseMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.OpenMatch(ctx, "q3dm17", "ffa", "", now)
	require.NoError(t, err)

	require.NoError(t, store.CloseMatch(ctx, id, now.Add(time.Minute)))

	open, err := store.CurrentMatch(ctx)
	require.NoError(t, err)
	require.Nil(t, open)

	// Closing again is a no-op.
	require.NoError(t, store.CloseMatch(ctx, id, now.Add(2*time.Minute)))
}

func TestRecordFragPlaceholderMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	victim, err := store.UpsertPlayer(ctx, "Visor", "", now)
	require.NoError(t, err)

	// No match open: the frag opens one with placeholder metadata.
	require.NoError(t, store.RecordFrag(ctx, nil, victim.ID, "MOD_FALLING", now))

	open, err := store.CurrentMatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	require.Equal(t, domain.UnknownMap, open.MapName)
	require.NotEmpty(t, open.UUID)

	count, err := store.FragCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// The next frag lands in the same placeholder match.
	require.NoError(t, store.RecordFrag(ctx, nil, victim.ID, "MOD_LAVA", now))
	matches, err := store.MatchCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), matches)
}

// seedFrags records kills between named players, creating them as needed.
func seedFrags(t *testing.T, store *Store, kills [][2]string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, pair := range kills {
		victim, err := store.UpsertPlayer(ctx, pair[1], "", now)
		require.NoError(t, err)

		var killerID *int64
		if !domain.IsWorld(pair[0]) {
			killer, err := store.UpsertPlayer(ctx, pair[0], "", now)
			require.NoError(t, err)
			killerID = &killer.ID
		}
		require.NoError(t, store.RecordFrag(ctx, killerID, victim.ID, "MOD_ROCKET", now))
	}
}

func TestLadderOrderingAndKD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Foo: 10 kills, 5 deaths (KD 2.0). Bar: 10 kills, 2 deaths (KD 5.0).
	var kills [][2]string
	for i := 0; i < 10; i++ {
		kills = append(kills, [2]string{"Foo", "Fodder"})
		kills = append(kills, [2]string{"Bar", "Fodder"})
	}
	for i := 0; i < 5; i++ {
		kills = append(kills, [2]string{"Fodder", "Foo"})
	}
	for i := 0; i < 2; i++ {
		kills = append(kills, [2]string{"Fodder", "Bar"})
	}
	seedFrags(t, store, kills)

	ladder, err := store.Ladder(ctx, 10, true, nil)
	require.NoError(t, err)
	require.Len(t, ladder, 3)

	// Equal kills: KD breaks the tie.
	require.Equal(t, "bar", ladder[0].Key)
	require.Equal(t, int64(10), ladder[0].Kills)
	require.Equal(t, int64(2), ladder[0].Deaths)
	require.Equal(t, 5.0, ladder[0].KD)

	require.Equal(t, "foo", ladder[1].Key)
	require.Equal(t, 2.0, ladder[1].KD)

	require.Equal(t, "fodder", ladder[2].Key)
}

func TestLadderSelfKillIsDeathOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedFrags(t, store, [][2]string{
		{"Sarge", "Sarge"},
		{"Sarge", "Visor"},
	})

	ladder, err := store.Ladder(ctx, 10, true, nil)
	require.NoError(t, err)
	require.Len(t, ladder, 2)

	require.Equal(t, "sarge", ladder[0].Key)
	require.Equal(t, int64(1), ladder[0].Kills, "self-kill never counts as a kill")
	require.Equal(t, int64(1), ladder[0].Deaths)
}

func TestLadderWorldKillCountsDeathOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedFrags(t, store, [][2]string{
		{"<world>", "Visor"},
	})

	ladder, err := store.Ladder(ctx, 10, true, nil)
	require.NoError(t, err)
	require.Len(t, ladder, 1)
	require.Equal(t, "visor", ladder[0].Key)
	require.Equal(t, int64(0), ladder[0].Kills)
	require.Equal(t, int64(1), ladder[0].Deaths)
}

func TestLadderBotFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedFrags(t, store, [][2]string{
		{"Human", "^1Orbb"},
		{"^1Orbb", "Human"},
	})

	// Blocklist names are identity-normalized before filtering.
	ladder, err := store.Ladder(ctx, 10, false, []string{"ORBB"})
	require.NoError(t, err)
	require.Len(t, ladder, 1)
	require.Equal(t, "human", ladder[0].Key)

	withBots, err := store.Ladder(ctx, 10, true, []string{"ORBB"})
	require.NoError(t, err)
	require.Len(t, withBots, 2)
}

func TestLadderExcludesInactivePlayers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Seen in the roster but never part of a frag.
	_, err := store.UpsertPlayer(ctx, "Lurker", "", time.Now())
	require.NoError(t, err)

	seedFrags(t, store, [][2]string{{"Sarge", "Visor"}})

	ladder, err := store.Ladder(ctx, 10, true, nil)
	require.NoError(t, err)
	require.Len(t, ladder, 2)
	for _, e := range ladder {
		require.NotEqual(t, "lurker", e.Key)
	}
}

func TestPlayerProfile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedFrags(t, store, [][2]string{
		{"Sarge", "Visor"},
		{"Sarge", "Visor"},
		{"Sarge", "Orbb"},
		{"Visor", "Sarge"},
		{"Sarge", "Sarge"},
		{"<world>", "Sarge"},
	})

	profile, err := store.PlayerProfile(ctx, "sarge", 0, 5, []string{"Orbb"})
	require.NoError(t, err)

	require.Equal(t, int64(3), profile.Totals.Kills)
	require.Equal(t, int64(3), profile.Totals.Deaths, "self-kill and world kill count as deaths")
	require.Equal(t, int64(1), profile.Totals.Suicides)
	require.Equal(t, 1.0, profile.Totals.KD)
	require.Equal(t, int64(3), profile.Totals.ByCause["MOD_ROCKET"])

	require.Len(t, profile.MostKilled, 1)
	require.Equal(t, "visor", profile.MostKilled[0].Key)
	require.Equal(t, int64(2), profile.MostKilled[0].Count)

	require.Len(t, profile.MostKilledBots, 1)
	require.Equal(t, "orbb", profile.MostKilledBots[0].Key)

	require.Len(t, profile.KilledBy, 1)
	require.Equal(t, "visor", profile.KilledBy[0].Key)

	// All activity happened just now: it lands in the newest bucket.
	require.Len(t, profile.HourlyActivity, 24)
	var total int64
	for _, n := range profile.HourlyActivity {
		total += n
	}
	require.Equal(t, profile.HourlyActivity[23], total)
	require.Equal(t, int64(6), total)
}

func TestPlayerProfileNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.PlayerProfile(context.Background(), "ghost", 0, 5, nil)
	require.ErrorIs(t, err, ErrPlayerNotFound)
}
