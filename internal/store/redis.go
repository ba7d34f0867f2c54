package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/atmx/pnl-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache of portfolio snapshots. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Concurrent misses for one portfolio share a single primary load.
//
// Every write increments a per-portfolio generation key. A miss records the
// generation before loading and only stores its snapshot if the generation
// is unchanged, so a load that raced an ingest never re-caches the old ledger.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
	group   singleflight.Group
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertPortfolio(ctx context.Context, id, baseCurrency string) (*model.Portfolio, error) {
	p, err := s.primary.UpsertPortfolio(ctx, id, baseCurrency)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	return p, nil
}

func (s *CachedStore) MutatePortfolio(ctx context.Context, id string, fn MutateFunc) (*model.Portfolio, error) {
	p, err := s.primary.MutatePortfolio(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	// Invalidate rather than overwrite; the next read re-populates.
	s.invalidate(ctx, id)
	return p, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	data, err := s.rdb.Get(ctx, portfolioKey(id)).Bytes()
	if err == nil {
		var p model.Portfolio
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: one primary load per portfolio. The load does not inherit
	// the first caller's cancellation, so other waiters still get its result.
	ch := s.group.DoChan(id, func() (interface{}, error) {
		return s.fill(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Portfolio).Clone(), nil
	}
}

// fill loads id from the primary and caches it, unless a write bumped the
// portfolio's generation while the load was running.
func (s *CachedStore) fill(ctx context.Context, id string) (*model.Portfolio, error) {
	gen, err := s.rdb.Get(ctx, generationKey(id)).Result()
	cacheable := err == nil || errors.Is(err, redis.Nil)

	p, err := s.primary.GetPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cacheable {
		return p, nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return p, nil
	}
	keys := []string{portfolioKey(id), generationKey(id)}
	if err := s.rdb.Eval(ctx, setIfGeneration, keys, data, gen, s.ttl.Milliseconds()).Err(); err != nil {
		slog.Warn("cache fill failed", "portfolio", id, "err", err)
	}
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPortfolios(ctx context.Context) ([]string, error) {
	return s.primary.ListPortfolios(ctx)
}

// --- Cache helpers ---

// invalidate bumps the generation before deleting the snapshot, so a fill
// that loaded the ledger before this write can no longer store it.
func (s *CachedStore) invalidate(ctx context.Context, id string) {
	if err := s.rdb.Incr(ctx, generationKey(id)).Err(); err != nil {
		slog.Warn("cache generation bump failed", "portfolio", id, "err", err)
	}
	if err := s.rdb.Del(ctx, portfolioKey(id)).Err(); err != nil {
		slog.Warn("cache invalidation failed", "portfolio", id, "err", err)
	}
}

// setIfGeneration sets KEYS[1] to ARGV[1] with a PX of ARGV[3] only while
// KEYS[2] still holds ARGV[2] (empty when the key is missing).
const setIfGeneration = `
local gen = redis.call('GET', KEYS[2])
if (gen or '') ~= ARGV[2] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`

func portfolioKey(id string) string { return fmt.Sprintf("portfolio:%s", id) }

func generationKey(id string) string { return fmt.Sprintf("portfolio:%s:gen", id) }
