package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqo-hub/lqo-leaderboard/internal/application/state"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

var queryNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func loadedStore(t *testing.T) *state.Store {
	t.Helper()
	lb := leaderboard.New(leaderboard.Metadata{
		LastFetch:           1,
		NextUpdate:          queryNow.Add(5 * time.Minute).Unix(),
		LastUpdateTimestamp: queryNow.Add(-5 * time.Minute).UnixMilli(),
	})
	require.NoError(t, lb.Set("carol", leaderboard.PlayerRecord{Rating: 1650.4, Games: 3}))
	require.NoError(t, lb.Set("alice", leaderboard.PlayerRecord{Rating: 1900.6, Games: 10, Wins: 4, Draws: 1, Losses: 5}))
	require.NoError(t, lb.Set("bob", leaderboard.PlayerRecord{Rating: 1800, Games: 7}))
	lb.SortByRating()

	s := state.New()
	s.Replace(nil, lb)
	return s
}

type stubCache struct {
	entries []leaderboard.Entry
	err     error
	limit   int
}

func (c *stubCache) Replace(context.Context, *leaderboard.Snapshot) error { return nil }

func (c *stubCache) GetTop(_ context.Context, limit int) ([]leaderboard.Entry, error) {
	c.limit = limit
	return c.entries, c.err
}

func TestGetLeaderboard_TopN(t *testing.T) {
	h := NewGetLeaderboardHandler(loadedStore(t), nil).WithClock(func() time.Time { return queryNow })

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{Limit: 2})
	require.NoError(t, err)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, "alice", res.Entries[0].Name)
	assert.Equal(t, 1, res.Entries[0].Rank)
	assert.Equal(t, "first-place", res.Entries[0].Place)
	assert.Equal(t, 1901, res.Entries[0].Rating)
	assert.Equal(t, 4, res.Entries[0].Wins)
	assert.Equal(t, "bob", res.Entries[1].Name)
	assert.True(t, res.HasMore)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, queryNow.Add(5*time.Minute), res.NextUpdateAt)
	assert.Equal(t, "in 5m 0s", res.NextUpdateIn)
	assert.Equal(t, queryNow.Add(-5*time.Minute), res.LastUpdatedAt)
	require.NotNil(t, res.Document)
	assert.Equal(t, 3, res.Document.Len())
}

func TestGetLeaderboard_OffsetAndAll(t *testing.T) {
	h := NewGetLeaderboardHandler(loadedStore(t), nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{Offset: 2})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "carol", res.Entries[0].Name)
	assert.Equal(t, 3, res.Entries[0].Rank)
	assert.Equal(t, "", res.Entries[0].Place)
	assert.False(t, res.HasMore)

	res, err = h.Handle(context.Background(), GetLeaderboardQuery{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
}

func TestGetLeaderboard_Validation(t *testing.T) {
	h := NewGetLeaderboardHandler(loadedStore(t), nil)
	_, err := h.Handle(context.Background(), GetLeaderboardQuery{Limit: -1})
	assert.True(t, shared.IsValidation(err))
}

func TestGetLeaderboard_CacheBeforeLoad(t *testing.T) {
	cache := &stubCache{entries: []leaderboard.Entry{
		{Rank: 1, Name: "alice", Record: leaderboard.PlayerRecord{Rating: 1900}},
	}}
	h := NewGetLeaderboardHandler(state.New(), cache)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{Limit: 100})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 100, cache.limit)
	require.Len(t, res.Entries, 1)
	assert.Nil(t, res.Document)
}

func TestGetLeaderboard_CacheErrorFallsBackToState(t *testing.T) {
	cache := &stubCache{err: errors.New("redis down")}
	h := NewGetLeaderboardHandler(state.New(), cache)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Empty(t, res.Entries)
}

func TestGetPlayerRank(t *testing.T) {
	h := NewGetPlayerRankHandler(loadedStore(t))

	dto, err := h.Handle(context.Background(), GetPlayerRankQuery{Name: "BOB"})
	require.NoError(t, err)
	assert.Equal(t, 2, dto.Rank)
	assert.Equal(t, 3, dto.TotalPlayers)
	assert.InDelta(t, 50.0, dto.Percentile, 1e-9)
	assert.InDelta(t, 100.6, dto.PointsToNext, 1e-9)

	top, err := h.Handle(context.Background(), GetPlayerRankQuery{Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, top.PointsToNext)
	assert.Equal(t, 100.0, top.Percentile)

	_, err = h.Handle(context.Background(), GetPlayerRankQuery{Name: "nobody"})
	assert.ErrorIs(t, err, shared.ErrPlayerNotFound)

	_, err = h.Handle(context.Background(), GetPlayerRankQuery{Name: "  "})
	assert.True(t, shared.IsValidation(err))
}

type metaCache struct {
	stubCache
	meta leaderboard.Metadata
}

func (c *metaCache) Metadata(context.Context) (leaderboard.Metadata, error) { return c.meta, nil }

func TestGetLeaderboard_CacheCarriesMetadata(t *testing.T) {
	cache := &metaCache{
		stubCache: stubCache{entries: []leaderboard.Entry{{Rank: 1, Name: "alice"}}},
		meta:      leaderboard.Metadata{LastFetch: 7, NextUpdate: queryNow.Add(time.Minute).Unix()},
	}
	h := NewGetLeaderboardHandler(state.New(), cache).WithClock(func() time.Time { return queryNow })

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, int64(7), res.Metadata.LastFetch)
	assert.Equal(t, queryNow.Add(time.Minute), res.NextUpdateAt)
}
