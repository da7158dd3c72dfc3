package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ernie/fragwatch/internal/domain"
)

// matchDebounce is the window within which a MatchStart for the same map
// reuses the still-open match instead of creating a duplicate. This
// absorbs seed-replay and boot-time duplicate artifacts.
const matchDebounce = 5 * time.Second

// ErrPlayerNotFound is returned when a profile lookup misses.
var ErrPlayerNotFound = errors.New("player not found")

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Player methods ---

// UpsertPlayer resolves a raw display name to a player, creating one if
// needed, refreshing the stored display name, and recording the exact
// display form as an alias. Returns (nil, nil) for world/unresolved
// names; callers must never persist those. A GUID, when present,
// strengthens resolution: it is matched before the identity key and
// attached to the row on first sight.
func (s *Store) UpsertPlayer(ctx context.Context, rawName, guid string, seen time.Time) (*domain.Player, error) {
	if domain.IsWorld(rawName) {
		return nil, nil
	}
	key := domain.IdentityKey(rawName)
	if key == "" {
		return nil, nil
	}

	if seen.IsZero() {
		seen = time.Now().UTC()
	}
	cleanName := domain.StripColors(rawName)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	player, err := findPlayer(ctx, tx, key, guid)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	if err == sql.ErrNoRows {
		// ON CONFLICT resolves a creation race to the single existing
		// row instead of duplicating the identity.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO players (key, name, clean_name, guid, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				name = excluded.name,
				clean_name = excluded.clean_name,
				last_seen = excluded.last_seen
		`, key, rawName, cleanName, guid, formatTimestamp(seen), formatTimestamp(seen))
		if err != nil {
			return nil, fmt.Errorf("creating player: %w", err)
		}

		player = &domain.Player{}
		err = tx.QueryRowContext(ctx, `
			SELECT id, key, name, clean_name, guid, first_seen, last_seen
			FROM players WHERE key = ?
		`, key).Scan(&player.ID, &player.Key, &player.Name, &player.CleanName, &player.GUID, &player.FirstSeen, &player.LastSeen)
		if err != nil {
			return nil, fmt.Errorf("reading created player: %w", err)
		}
	} else {
		newGUID := player.GUID
		if newGUID == "" {
			newGUID = guid
		}

		// A GUID-carried rename moves the row to the new identity key,
		// otherwise later GUID-less sightings of the new name would
		// split the player in two. A row already holding the new key is
		// folded into this one first.
		if player.Key != key {
			if err := s.absorbKey(ctx, tx, player.ID, key); err != nil {
				return nil, err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE players SET key = ?, name = ?, clean_name = ?, guid = ?, last_seen = ?
			WHERE id = ?
		`, key, rawName, cleanName, newGUID, formatTimestamp(seen), player.ID)
		if err != nil {
			return nil, fmt.Errorf("updating player: %w", err)
		}
		player.Key = key
		player.Name = rawName
		player.CleanName = cleanName
		player.GUID = newGUID
		player.LastSeen = seen
	}

	// One alias row per exact display form; repeat sightings only touch
	// last-seen.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO player_aliases (player_id, name, clean_name, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(player_id, name) DO UPDATE SET
			last_seen = excluded.last_seen
	`, player.ID, rawName, cleanName, formatTimestamp(seen), formatTimestamp(seen))
	if err != nil {
		return nil, fmt.Errorf("recording alias: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return player, nil
}

// absorbKey folds the player currently holding key, if any, into keepID:
// frags and aliases are re-pointed, the earliest first-seen wins, and the
// duplicate row is removed so keepID can take the key over.
func (s *Store) absorbKey(ctx context.Context, tx *sql.Tx, keepID int64, key string) error {
	var dupID int64
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM players WHERE key = ? AND id != ?
	`, key, keepID).Scan(&dupID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE frags SET killer_id = ? WHERE killer_id = ?
	`, keepID, dupID); err != nil {
		return fmt.Errorf("merging frags (killer): %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE frags SET victim_id = ? WHERE victim_id = ?
	`, keepID, dupID); err != nil {
		return fmt.Errorf("merging frags (victim): %w", err)
	}

	// Display forms already recorded on the kept row stay as they are.
	if _, err := tx.ExecContext(ctx, `
		UPDATE OR IGNORE player_aliases SET player_id = ? WHERE player_id = ?
	`, keepID, dupID); err != nil {
		return fmt.Errorf("merging aliases: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM player_aliases WHERE player_id = ?
	`, dupID); err != nil {
		return fmt.Errorf("dropping merged aliases: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET first_seen = (
			SELECT MIN(first_seen) FROM players WHERE id IN (?, ?)
		) WHERE id = ?
	`, keepID, dupID, keepID); err != nil {
		return fmt.Errorf("merging first seen: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM players WHERE id = ?
	`, dupID); err != nil {
		return fmt.Errorf("removing merged player: %w", err)
	}
	return nil
}

// findPlayer resolves by GUID first, then by identity key.
func findPlayer(ctx context.Context, tx *sql.Tx, key, guid string) (*domain.Player, error) {
	const cols = `SELECT id, key, name, clean_name, guid, first_seen, last_seen FROM players`

	var p domain.Player
	if guid != "" {
		err := tx.QueryRowContext(ctx, cols+` WHERE guid = ?`, guid).
			Scan(&p.ID, &p.Key, &p.Name, &p.CleanName, &p.GUID, &p.FirstSeen, &p.LastSeen)
		if err == nil {
			return &p, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
	}

	err := tx.QueryRowContext(ctx, cols+` WHERE key = ?`, key).
		Scan(&p.ID, &p.Key, &p.Name, &p.CleanName, &p.GUID, &p.FirstSeen, &p.LastSeen)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayerByKey returns a player by identity key.
func (s *Store) GetPlayerByKey(ctx context.Context, key string) (*domain.Player, error) {
	var p domain.Player
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key, name, clean_name, guid, first_seen, last_seen
		FROM players WHERE key = ?
	`, key).Scan(&p.ID, &p.Key, &p.Name, &p.CleanName, &p.GUID, &p.FirstSeen, &p.LastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayerAliases returns all recorded display forms for a player.
func (s *Store) GetPlayerAliases(ctx context.Context, playerID int64) ([]domain.PlayerAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_id, name, clean_name, first_seen, last_seen
		FROM player_aliases WHERE player_id = ? ORDER BY last_seen DESC
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []domain.PlayerAlias
	for rows.Next() {
		var a domain.PlayerAlias
		if err := rows.Scan(&a.ID, &a.PlayerID, &a.Name, &a.CleanName, &a.FirstSeen, &a.LastSeen); err != nil {
			return nil, err
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// --- Match methods ---

// OpenMatch opens a match, reusing the most recently created match when
// it has the same map, is still open, and started within the debounce
// window. Any other open match is closed first: at most one match is
// open at a time.
func (s *Store) OpenMatch(ctx context.Context, mapName, gameType, hostname string, startedAt time.Time) (int64, error) {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		lastID      int64
		lastMap     string
		lastStarted time.Time
		lastEnded   sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, map_name, started_at, ended_at FROM matches ORDER BY id DESC LIMIT 1
	`).Scan(&lastID, &lastMap, &lastStarted, &lastEnded)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}

	if err == nil && !lastEnded.Valid && lastMap == mapName {
		delta := startedAt.Sub(lastStarted)
		if delta < 0 {
			delta = -delta
		}
		if delta <= matchDebounce {
			return lastID, tx.Commit()
		}
	}

	// Implicit restart: whatever was open ends where the new match begins.
	if _, err := tx.ExecContext(ctx, `
		UPDATE matches SET ended_at = ? WHERE ended_at IS NULL
	`, formatTimestamp(startedAt)); err != nil {
		return 0, fmt.Errorf("closing open matches: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO matches (uuid, map_name, game_type, hostname, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), mapName, gameType, hostname, formatTimestamp(startedAt))
	if err != nil {
		return 0, fmt.Errorf("creating match: %w", err)
	}
	id, _ := result.LastInsertId()

	return id, tx.Commit()
}

// CloseMatch marks a match ended. No-op when already closed.
func (s *Store) CloseMatch(ctx context.Context, matchID int64, endedAt time.Time) error {
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE matches SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, formatTimestamp(endedAt), matchID)
	return err
}

// CloseOpenMatches ends every open match, used at shutdown.
func (s *Store) CloseOpenMatches(ctx context.Context, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE matches SET ended_at = ? WHERE ended_at IS NULL
	`, formatTimestamp(endedAt))
	return err
}

// CurrentMatch returns the open match, or nil when none is open.
func (s *Store) CurrentMatch(ctx context.Context) (*domain.Match, error) {
	var m domain.Match
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, map_name, game_type, hostname, started_at
		FROM matches WHERE ended_at IS NULL ORDER BY id DESC LIMIT 1
	`).Scan(&m.ID, &m.UUID, &m.MapName, &m.GameType, &m.Hostname, &m.StartedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MatchCount returns the number of persisted matches.
func (s *Store) MatchCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches`).Scan(&n)
	return n, err
}

// --- Frag methods ---

// RecordFrag persists one kill. When no match is open, one is opened on
// the fly with placeholder metadata rather than discarding the kill.
func (s *Store) RecordFrag(ctx context.Context, killerID *int64, victimID int64, cause string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var matchID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM matches WHERE ended_at IS NULL ORDER BY id DESC LIMIT 1
	`).Scan(&matchID)
	if err == sql.ErrNoRows {
		result, ierr := tx.ExecContext(ctx, `
			INSERT INTO matches (uuid, map_name, game_type, hostname, started_at)
			VALUES (?, ?, ?, '', ?)
		`, uuid.NewString(), domain.UnknownMap, domain.UnknownGameType, formatTimestamp(at))
		if ierr != nil {
			return fmt.Errorf("opening placeholder match: %w", ierr)
		}
		matchID, _ = result.LastInsertId()
	} else if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO frags (match_id, killer_id, victim_id, cause, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, matchID, killerID, victimID, cause, formatTimestamp(at)); err != nil {
		return fmt.Errorf("recording frag: %w", err)
	}

	return tx.Commit()
}

// FragCount returns the number of persisted frags.
func (s *Store) FragCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frags`).Scan(&n)
	return n, err
}

// --- Aggregates ---

// Ladder returns career totals over all persisted frags, ordered by
// kills descending, KD descending, deaths ascending. Self-kills count as
// deaths only. When includeBots is false, players whose identity key is
// on the blocklist are dropped.
func (s *Store) Ladder(ctx context.Context, limit int, includeBots bool, botNames []string) ([]domain.LadderEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT p.key, p.name,
			COALESCE(k.kills, 0) AS kills,
			COALESCE(d.deaths, 0) AS deaths
		FROM players p
		LEFT JOIN (
			SELECT killer_id, COUNT(*) AS kills FROM frags
			WHERE killer_id IS NOT NULL AND killer_id != victim_id
			GROUP BY killer_id
		) k ON k.killer_id = p.id
		LEFT JOIN (
			SELECT victim_id, COUNT(*) AS deaths FROM frags GROUP BY victim_id
		) d ON d.victim_id = p.id
		WHERE COALESCE(k.kills, 0) + COALESCE(d.deaths, 0) > 0
	`
	var args []interface{}

	if !includeBots && len(botNames) > 0 {
		placeholders := make([]string, len(botNames))
		for i, name := range botNames {
			placeholders[i] = "?"
			args = append(args, domain.IdentityKey(name))
		}
		query += ` AND p.key NOT IN (` + strings.Join(placeholders, ",") + `)`
	}

	query += `
		ORDER BY kills DESC,
			CASE WHEN COALESCE(d.deaths, 0) = 0 THEN COALESCE(k.kills, 0)
				ELSE CAST(COALESCE(k.kills, 0) AS REAL) / d.deaths END DESC,
			deaths ASC
		LIMIT ?
	`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LadderEntry
	for rows.Next() {
		var e domain.LadderEntry
		if err := rows.Scan(&e.Key, &e.Name, &e.Kills, &e.Deaths); err != nil {
			return nil, err
		}
		e.KD = domain.KDRatio(e.Kills, e.Deaths)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PlayerProfile returns the career view of one player: totals with
// per-cause kill breakdown, top opponents split human vs known bot, and
// an hourly activity histogram over the trailing 24 hours. sinceDays
// limits totals and opponent lists when positive; the histogram always
// covers the trailing day.
func (s *Store) PlayerProfile(ctx context.Context, key string, sinceDays, topN int, botNames []string) (*domain.PlayerProfile, error) {
	player, err := s.GetPlayerByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if topN <= 0 {
		topN = 5
	}

	now := time.Now().UTC()
	since := time.Time{}
	if sinceDays > 0 {
		since = now.Add(-time.Duration(sinceDays) * 24 * time.Hour)
	}
	sinceArg := formatTimestamp(since)

	profile := &domain.PlayerProfile{
		Player:         *player,
		MostKilled:     []domain.OpponentEntry{},
		MostKilledBots: []domain.OpponentEntry{},
		KilledBy:       []domain.OpponentEntry{},
		KilledByBots:   []domain.OpponentEntry{},
		HourlyActivity: make([]int64, 24),
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN killer_id = ? AND killer_id != victim_id THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN victim_id = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN killer_id = ? AND killer_id = victim_id THEN 1 ELSE 0 END), 0)
		FROM frags
		WHERE (killer_id = ? OR victim_id = ?) AND created_at >= ?
	`, player.ID, player.ID, player.ID, player.ID, player.ID, sinceArg).
		Scan(&profile.Totals.Kills, &profile.Totals.Deaths, &profile.Totals.Suicides)
	if err != nil {
		return nil, fmt.Errorf("aggregating totals: %w", err)
	}
	profile.Totals.KD = domain.KDRatio(profile.Totals.Kills, profile.Totals.Deaths)

	profile.Totals.ByCause, err = s.causeBreakdown(ctx, player.ID, sinceArg)
	if err != nil {
		return nil, err
	}

	botKeys := make(map[string]bool, len(botNames))
	for _, name := range botNames {
		botKeys[domain.IdentityKey(name)] = true
	}

	profile.MostKilled, profile.MostKilledBots, err = s.opponents(ctx, `
		SELECT o.key, o.name, COUNT(*) AS n
		FROM frags f JOIN players o ON o.id = f.victim_id
		WHERE f.killer_id = ? AND f.victim_id != f.killer_id AND f.created_at >= ?
		GROUP BY o.id ORDER BY n DESC
	`, player.ID, sinceArg, topN, botKeys)
	if err != nil {
		return nil, fmt.Errorf("aggregating most killed: %w", err)
	}

	profile.KilledBy, profile.KilledByBots, err = s.opponents(ctx, `
		SELECT o.key, o.name, COUNT(*) AS n
		FROM frags f JOIN players o ON o.id = f.killer_id
		WHERE f.victim_id = ? AND f.killer_id IS NOT NULL AND f.killer_id != f.victim_id AND f.created_at >= ?
		GROUP BY o.id ORDER BY n DESC
	`, player.ID, sinceArg, topN, botKeys)
	if err != nil {
		return nil, fmt.Errorf("aggregating killed by: %w", err)
	}

	if err := s.hourlyActivity(ctx, player.ID, now, profile.HourlyActivity); err != nil {
		return nil, err
	}

	return profile, nil
}

// causeBreakdown groups a player's kills by cause tag.
func (s *Store) causeBreakdown(ctx context.Context, playerID int64, sinceArg string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cause, COUNT(*) FROM frags
		WHERE killer_id = ? AND killer_id != victim_id AND created_at >= ?
		GROUP BY cause
	`, playerID, sinceArg)
	if err != nil {
		return nil, fmt.Errorf("aggregating causes: %w", err)
	}
	defer rows.Close()

	byCause := make(map[string]int64)
	for rows.Next() {
		var cause string
		var n int64
		if err := rows.Scan(&cause, &n); err != nil {
			return nil, err
		}
		byCause[cause] = n
	}
	return byCause, rows.Err()
}

// opponents runs an opponent aggregation query and splits the result
// into humans and known bots, each capped at topN.
func (s *Store) opponents(ctx context.Context, query string, playerID int64, sinceArg string, topN int, botKeys map[string]bool) ([]domain.OpponentEntry, []domain.OpponentEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, playerID, sinceArg)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	humans := []domain.OpponentEntry{}
	bots := []domain.OpponentEntry{}
	for rows.Next() {
		var e domain.OpponentEntry
		if err := rows.Scan(&e.Key, &e.Name, &e.Count); err != nil {
			return nil, nil, err
		}
		if botKeys[e.Key] {
			if len(bots) < topN {
				bots = append(bots, e)
			}
		} else if len(humans) < topN {
			humans = append(humans, e)
		}
		if len(bots) >= topN && len(humans) >= topN {
			break
		}
	}
	return humans, bots, rows.Err()
}

// hourlyActivity fills a 24-bucket histogram of the player's frags over
// the trailing day, oldest bucket first. Empty buckets stay zero.
func (s *Store) hourlyActivity(ctx context.Context, playerID int64, now time.Time, buckets []int64) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT created_at FROM frags
		WHERE (killer_id = ? OR victim_id = ?) AND created_at >= ?
	`, playerID, playerID, formatTimestamp(now.Add(-24*time.Hour)))
	if err != nil {
		return fmt.Errorf("aggregating hourly activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return err
		}
		age := int(now.Sub(at).Hours())
		if age < 0 || age > 23 {
			continue
		}
		buckets[23-age]++
	}
	return rows.Err()
}
