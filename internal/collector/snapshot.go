package collector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/fragwatch/internal/domain"
	"github.com/ernie/fragwatch/internal/storage"
)

// CachedSnapshot is a built snapshot together with its serialized body
// and content hash, ready for conditional HTTP responses.
type CachedSnapshot struct {
	Snapshot *domain.Snapshot
	Body     []byte
	ETag     string

	expires time.Time
}

type snapshotKey struct {
	limit       int
	includeBots bool
}

// SnapshotBuilder merges the live status provider, the match-state cache
// and the store into one consistent view. Responses are memoized per
// request shape for a short window to absorb bursts.
type SnapshotBuilder struct {
	provider LiveStatusProvider // nil when no live endpoint is configured
	state    *MatchState
	store    *storage.Store

	timeout  time.Duration
	ttl      time.Duration
	botNames []string

	mu    sync.Mutex
	cache map[snapshotKey]*CachedSnapshot
}

// NewSnapshotBuilder wires the three signal sources together.
func NewSnapshotBuilder(provider LiveStatusProvider, state *MatchState, store *storage.Store, timeout, ttl time.Duration, botNames []string) *SnapshotBuilder {
	return &SnapshotBuilder{
		provider: provider,
		state:    state,
		store:    store,
		timeout:  timeout,
		ttl:      ttl,
		botNames: botNames,
		cache:    make(map[snapshotKey]*CachedSnapshot),
	}
}

// GetSnapshot returns the merged current-state view, serving a memoized
// response when one is still fresh for this request shape.
func (b *SnapshotBuilder) GetSnapshot(ctx context.Context, limit int, includeBots bool) (*CachedSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	key := snapshotKey{limit: limit, includeBots: includeBots}

	b.mu.Lock()
	if cached, ok := b.cache[key]; ok && time.Now().Before(cached.expires) {
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	snapshot, err := b.build(ctx, limit, includeBots)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("serializing snapshot: %w", err)
	}
	sum := sha1.Sum(body)

	cached := &CachedSnapshot{
		Snapshot: snapshot,
		Body:     body,
		ETag:     `"` + hex.EncodeToString(sum[:]) + `"`,
		expires:  time.Now().Add(b.ttl),
	}

	b.mu.Lock()
	b.cache[key] = cached
	b.mu.Unlock()

	return cached, nil
}

// Ladder returns career totals, mirroring the snapshot's bot filtering.
func (b *SnapshotBuilder) Ladder(ctx context.Context, limit int, includeBots bool) ([]domain.LadderEntry, error) {
	return b.store.Ladder(ctx, limit, includeBots, b.botNames)
}

// PlayerProfile returns one player's career view.
func (b *SnapshotBuilder) PlayerProfile(ctx context.Context, key string, sinceDays, topN int) (*domain.PlayerProfile, error) {
	return b.store.PlayerProfile(ctx, key, sinceDays, topN, b.botNames)
}

// build merges the sources: live roster when the provider answers in
// time, the match-state cache otherwise. The career ladder always comes
// from the store.
func (b *SnapshotBuilder) build(ctx context.Context, limit int, includeBots bool) (*domain.Snapshot, error) {
	snapshot := &domain.Snapshot{Source: domain.SourceTail}

	if live := b.queryLive(ctx); live != nil {
		snapshot.Source = domain.SourceLive
		snapshot.LiveInfo = live
		snapshot.CurrentMatch = b.mergeLive(live, limit, includeBots)
	} else {
		snapshot.CurrentMatch = b.tailMatch(limit, includeBots)
	}

	ladder, err := b.store.Ladder(ctx, limit, includeBots, b.botNames)
	if err != nil {
		return nil, fmt.Errorf("loading ladder: %w", err)
	}
	if ladder == nil {
		ladder = []domain.LadderEntry{}
	}
	snapshot.Ladder = ladder

	return snapshot, nil
}

// queryLive races the provider against the configured timeout. On
// timeout the request is abandoned (the deadline releases the socket);
// there is no retry within a snapshot request.
func (b *SnapshotBuilder) queryLive(ctx context.Context) *domain.LiveStatus {
	if b.provider == nil {
		return nil
	}

	qctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type answer struct {
		status *domain.LiveStatus
		err    error
	}
	ch := make(chan answer, 1)
	go func() {
		status, err := b.provider.QueryStatus(qctx)
		ch <- answer{status: status, err: err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			log.Debug().Err(a.err).Msg("live status query failed, falling back to tail")
			return nil
		}
		return a.status
	case <-qctx.Done():
		log.Debug().Msg("live status query timed out, falling back to tail")
		return nil
	}
}

// mergeLive builds the current-match view from the live roster: the
// provider's score is authoritative for session kills, deaths come
// best-effort from the match state, defaulting to zero for players the
// log never mentioned.
func (b *SnapshotBuilder) mergeLive(live *domain.LiveStatus, limit int, includeBots bool) domain.CurrentMatch {
	cur := b.state.CurrentMatch()

	merged := domain.CurrentMatch{
		Active:    true,
		MapName:   live.MapName,
		GameType:  live.GameType,
		Hostname:  live.Hostname,
		StartedAt: cur.StartedAt,
		Players:   []domain.SnapshotPlayer{},
	}

	botKeys := b.botKeySet()
	for _, p := range live.Players {
		key := domain.IdentityKey(p.Name)
		if !includeBots && botKeys[key] {
			continue
		}
		if len(merged.Players) >= limit {
			break
		}
		merged.Players = append(merged.Players, domain.SnapshotPlayer{
			Key:    key,
			Name:   p.Name,
			Kills:  p.Score,
			Deaths: b.state.DeathsFor(key),
			Ping:   p.Ping,
		})
	}

	return merged
}

// tailMatch builds the current-match view from the match state alone.
func (b *SnapshotBuilder) tailMatch(limit int, includeBots bool) domain.CurrentMatch {
	cur := b.state.CurrentMatch()

	botKeys := b.botKeySet()
	filtered := make([]domain.SnapshotPlayer, 0, len(cur.Players))
	for _, p := range cur.Players {
		if !includeBots && botKeys[p.Key] {
			continue
		}
		if len(filtered) >= limit {
			break
		}
		filtered = append(filtered, p)
	}
	cur.Players = filtered

	return cur
}

func (b *SnapshotBuilder) botKeySet() map[string]bool {
	keys := make(map[string]bool, len(b.botNames))
	for _, name := range b.botNames {
		keys[domain.IdentityKey(name)] = true
	}
	return keys
}
