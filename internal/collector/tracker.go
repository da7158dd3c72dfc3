package collector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/fragwatch/internal/config"
	"github.com/ernie/fragwatch/internal/domain"
	"github.com/ernie/fragwatch/internal/storage"
)

// EventPublisher receives tracker notifications for fan-out. The bus
// implements it.
type EventPublisher interface {
	Publish(event domain.Event)
}

// Tracker runs the ingestion pipeline: log events flow into the
// in-memory match state and, gated by the seed persistence policy, into
// the store. Store failures are logged and the event is considered lost;
// nothing here is fatal.
type Tracker struct {
	cfg    *config.Config
	store  *storage.Store
	state  *MatchState
	tailer *LogTailer
	pub    EventPublisher

	persistSeed bool
	openMatchID int64 // 0 when no match was opened by this tracker

	done chan struct{}
	wg   sync.WaitGroup
}

// NewTracker creates the pipeline. pub may be nil when no event fan-out
// is wanted (tests).
func NewTracker(cfg *config.Config, store *storage.Store, pub EventPublisher) *Tracker {
	return &Tracker{
		cfg:   cfg,
		store: store,
		state: NewMatchState(cfg.Stats.CountSuicides),
		pub:   pub,
		done:  make(chan struct{}),
	}
}

// State exposes the match-state cache for snapshot building.
func (t *Tracker) State() *MatchState {
	return t.state
}

// Start runs the seed pass synchronously, then begins the live follow.
func (t *Tracker) Start(ctx context.Context) error {
	if t.cfg.Game.LogPath == "" {
		log.Info().Msg("no log path configured, running without tail ingestion")
		return nil
	}

	persistSeed, err := t.resolveSeedPolicy(ctx)
	if err != nil {
		return err
	}
	t.persistSeed = persistSeed

	t.tailer = NewLogTailer(t.cfg.Game.LogPath, t.cfg.Game.TailInterval, t.cfg.Game.TailBackoff)

	log.Info().Str("path", t.cfg.Game.LogPath).Bool("persist_seed", persistSeed).Msg("seeding from existing log content")
	if err := t.tailer.Seed(func(event LogEvent) {
		t.handleEvent(ctx, event)
	}); err != nil {
		return err
	}

	t.tailer.Start()
	t.wg.Add(1)
	go t.processEvents(ctx)

	return nil
}

// Stop stops the tailer and waits for the pipeline goroutine.
func (t *Tracker) Stop() {
	close(t.done)
	if t.tailer != nil {
		t.tailer.Stop()
	}
	t.wg.Wait()
}

// resolveSeedPolicy maps the configured mode to a decision for this run.
// "fresh" persists seed events only into an empty frags table, so the
// first boot backfills history and later restarts don't double-count it.
func (t *Tracker) resolveSeedPolicy(ctx context.Context) (bool, error) {
	switch t.cfg.Stats.SeedPersist {
	case config.SeedPersistAlways:
		return true, nil
	case config.SeedPersistNever:
		return false, nil
	default:
		count, err := t.store.FragCount(ctx)
		if err != nil {
			return false, err
		}
		return count == 0, nil
	}
}

// processEvents drains the tailer strictly in arrival order.
func (t *Tracker) processEvents(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-t.done:
			return
		case err := <-t.tailer.Errors:
			log.Warn().Err(err).Msg("log tailer")
		case event := <-t.tailer.Events:
			t.handleEvent(ctx, event)
		}
	}
}

// handleEvent applies one event to the match state and, when the
// persistence policy allows, to the store.
func (t *Tracker) handleEvent(ctx context.Context, event LogEvent) {
	persist := !event.Seed || t.persistSeed
	now := time.Now().UTC()

	switch data := event.Data.(type) {
	case MatchStartData:
		t.state.StartMatch(data.MapName, data.GameType, data.Hostname, now)
		if persist {
			id, err := t.store.OpenMatch(ctx, data.MapName, data.GameType, data.Hostname, now)
			if err != nil {
				log.Error().Err(err).Str("map", data.MapName).Msg("opening match")
			} else {
				t.openMatchID = id
			}
		}
		t.publish(event.Seed, domain.Event{
			Type:      domain.EventMatchStart,
			Timestamp: now,
			Data:      domain.MatchStartEvent{Map: data.MapName, GameType: data.GameType, Hostname: data.Hostname},
		})

	case MatchEndData:
		t.state.EndMatch()
		if persist {
			if err := t.closeMatch(ctx, now); err != nil {
				log.Error().Err(err).Msg("closing match")
			}
		}
		t.publish(event.Seed, domain.Event{
			Type:      domain.EventMatchEnd,
			Timestamp: now,
			Data:      domain.MatchEndEvent{},
		})

	case IdentityUpdateData:
		t.state.TouchPlayer(data.Name)
		if persist {
			player, err := t.store.UpsertPlayer(ctx, data.Name, data.GUID, now)
			if err != nil {
				log.Error().Err(err).Str("name", data.Name).Msg("upserting player")
				return
			}
			if player != nil {
				t.publish(event.Seed, domain.Event{
					Type:      domain.EventPlayerSeen,
					Timestamp: now,
					Data:      domain.PlayerSeenEvent{Name: data.Name, Key: player.Key, PlayerID: &player.ID},
				})
			}
		}

	case KillData:
		t.state.ApplyKill(data.KillerName, data.VictimName, now)
		if persist {
			t.persistKill(ctx, data, event.Seed, now)
		}
	}
}

// persistKill resolves both sides of a frag and writes it. The victim
// must resolve to a real player; the killer is NULL exactly when the raw
// token denotes the environment. Players are committed before the frag
// references them.
func (t *Tracker) persistKill(ctx context.Context, data KillData, seed bool, now time.Time) {
	victim, err := t.store.UpsertPlayer(ctx, data.VictimName, "", now)
	if err != nil {
		log.Error().Err(err).Str("victim", data.VictimName).Msg("resolving victim")
		return
	}
	if victim == nil {
		// Environmental or unresolvable victim: nothing to record.
		return
	}

	var killerID *int64
	killerRaw := ""
	if !domain.IsWorld(data.KillerName) {
		killer, err := t.store.UpsertPlayer(ctx, data.KillerName, "", now)
		if err != nil {
			log.Error().Err(err).Str("killer", data.KillerName).Msg("resolving killer")
			return
		}
		if killer != nil {
			killerID = &killer.ID
			killerRaw = data.KillerName
		}
	}

	if err := t.store.RecordFrag(ctx, killerID, victim.ID, data.Cause, now); err != nil {
		log.Error().Err(err).Str("victim", data.VictimName).Msg("recording frag")
		return
	}

	t.publish(seed, domain.Event{
		Type:      domain.EventKill,
		Timestamp: now,
		Data: domain.KillEvent{
			Killer:         killerRaw,
			Victim:         data.VictimName,
			Cause:          data.Cause,
			KillerPlayerID: killerID,
			VictimPlayerID: &victim.ID,
		},
	})
}

// closeMatch ends the match this tracker opened, falling back to closing
// whatever is open when the id is unknown (e.g. placeholder matches).
func (t *Tracker) closeMatch(ctx context.Context, now time.Time) error {
	if t.openMatchID != 0 {
		id := t.openMatchID
		t.openMatchID = 0
		return t.store.CloseMatch(ctx, id, now)
	}
	return t.store.CloseOpenMatches(ctx, now)
}

// publish forwards an event to the bus. Seed replays stay quiet: they
// rebuild state, they are not new activity.
func (t *Tracker) publish(seed bool, event domain.Event) {
	if seed || t.pub == nil {
		return
	}
	t.pub.Publish(event)
}
