package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache keeps the latest leaderboard in Redis.
//
// Layout:
//   - Sorted Set "{prefix}leaderboard:rank" stores name -> place
//   - Hash "{prefix}leaderboard:info" stores name -> PlayerRecord JSON
//   - String "{prefix}leaderboard:meta" stores the metadata block
//
// Scoring by place keeps the cached order identical to the file document.
type LeaderboardCache struct {
	client *Client
	ttl    time.Duration
}

// DefaultLeaderboardTTL outlives a few missed cycles.
const DefaultLeaderboardTTL = time.Hour

// NewLeaderboardCache creates a new LeaderboardCache. ttl <= 0 disables expiry.
func NewLeaderboardCache(client *Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{client: client, ttl: ttl}
}

func (l *LeaderboardCache) keys() (rank, info, meta string) {
	return l.client.Key("leaderboard", "rank"), l.client.Key("leaderboard", "info"), l.client.Key("leaderboard", "meta")
}

// Replace swaps the cached leaderboard for the snapshot in one transaction.
func (l *LeaderboardCache) Replace(ctx context.Context, snapshot *leaderboard.Snapshot) error {
	rankKey, infoKey, metaKey := l.keys()

	members, fields, err := encodeEntries(snapshot.Entries)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return fmt.Errorf("leaderboard_cache: encode metadata: %w", err)
	}

	pipe := l.client.Redis().TxPipeline()
	pipe.Del(ctx, rankKey, infoKey, metaKey)
	if len(members) > 0 {
		pipe.ZAdd(ctx, rankKey, members...)
		pipe.HSet(ctx, infoKey, fields)
	}
	pipe.Set(ctx, metaKey, meta, l.ttl)
	if l.ttl > 0 {
		pipe.Expire(ctx, rankKey, l.ttl)
		pipe.Expire(ctx, infoKey, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard_cache: replace: %w", err)
	}
	return nil
}

// GetTop returns the first limit entries in place order. limit <= 0 returns all.
func (l *LeaderboardCache) GetTop(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	rankKey, infoKey, _ := l.keys()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ranked, err := l.client.Redis().ZRangeWithScores(ctx, rankKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard_cache: range: %w", err)
	}
	if len(ranked) == 0 {
		return []leaderboard.Entry{}, nil
	}

	names := make([]string, len(ranked))
	for i, z := range ranked {
		names[i], _ = z.Member.(string)
	}
	data, err := l.client.Redis().HMGet(ctx, infoKey, names...).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard_cache: details: %w", err)
	}
	return decodeEntries(ranked, data), nil
}

// Metadata returns the cached metadata block.
func (l *LeaderboardCache) Metadata(ctx context.Context) (leaderboard.Metadata, error) {
	_, _, metaKey := l.keys()
	var meta leaderboard.Metadata

	raw, err := l.client.Redis().Get(ctx, metaKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return meta, ErrCacheMiss
	}
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("leaderboard_cache: decode metadata: %w", err)
	}
	return meta, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ENCODING
// ─────────────────────────────────────────────────────────────────────────────

func encodeEntries(entries []leaderboard.Entry) ([]redis.Z, map[string]any, error) {
	members := make([]redis.Z, 0, len(entries))
	fields := make(map[string]any, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e.Record)
		if err != nil {
			return nil, nil, fmt.Errorf("leaderboard_cache: encode %q: %w", e.Name, err)
		}
		members = append(members, redis.Z{Score: float64(e.Rank), Member: e.Name})
		fields[e.Name] = string(data)
	}
	return members, fields, nil
}

// decodeEntries pairs ranked members with their HMGET values.
// Members whose details expired or do not decode are dropped.
func decodeEntries(ranked []redis.Z, data []any) []leaderboard.Entry {
	out := make([]leaderboard.Entry, 0, len(ranked))
	for i, z := range ranked {
		if i >= len(data) {
			break
		}
		str, ok := data[i].(string)
		if !ok {
			continue
		}
		var rec leaderboard.PlayerRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			continue
		}
		name, _ := z.Member.(string)
		out = append(out, leaderboard.Entry{Rank: leaderboard.Rank(int(z.Score)), Name: name, Record: rec})
	}
	return out
}
