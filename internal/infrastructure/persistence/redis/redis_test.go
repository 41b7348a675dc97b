package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
)

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache"
	cfg.Port = 6380
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)

	cfg.URL = "redis://:secret@example:6379/3"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "example:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, "secret", opts.Password)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestClient_Key(t *testing.T) {
	c := NewClientFrom(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), "lqo:")
	defer c.Close()
	assert.Equal(t, "lqo:leaderboard:rank", c.Key("leaderboard", "rank"))
	assert.Equal(t, "lqo:lock:update", c.Key("lock", "update"))
}

func TestEntries_EncodeDecodeKeepsPlaceOrder(t *testing.T) {
	in := []leaderboard.Entry{
		{Rank: 1, Name: "alice", Record: leaderboard.PlayerRecord{Rating: 1900.5, Games: 10, Wins: 6}},
		{Rank: 2, Name: "bob", Record: leaderboard.PlayerRecord{Rating: 1800, Games: 4, AverageTimeControl: "3+2"}},
	}
	members, fields, err := encodeEntries(in)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, 1.0, members[0].Score)
	assert.Equal(t, "bob", members[1].Member)

	data := []any{fields["alice"], fields["bob"]}
	out := decodeEntries(members, data)
	assert.Equal(t, in, out)
}

func TestDecodeEntries_DropsMissingDetails(t *testing.T) {
	ranked := []goredis.Z{{Score: 1, Member: "alice"}, {Score: 2, Member: "ghost"}, {Score: 3, Member: "carol"}}
	data := []any{`{"rating":1900,"games":3}`, nil, `not json`}

	out := decodeEntries(ranked, data)
	require.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].Name)
	assert.Equal(t, leaderboard.Rank(1), out[0].Rank)
}

func TestNewLeaseProvider_Defaults(t *testing.T) {
	c := NewClientFrom(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), "lqo:")
	defer c.Close()
	p := NewLeaseProvider(c, "update", 0, nil)
	assert.Equal(t, DefaultLeaseTTL, p.ttl)
	assert.Equal(t, "lqo:lock:update", p.key)

	p = NewLeaseProvider(c, "update", time.Minute, nil)
	assert.Equal(t, time.Minute, p.ttl)
}

func newTestLease(t *testing.T) *redisLease {
	t.Helper()
	c := NewClientFrom(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), "lqo:")
	t.Cleanup(func() { _ = c.Close() })
	return &redisLease{
		provider: NewLeaseProvider(c, "update", 30*time.Millisecond, nil),
		token:    "token",
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func TestLease_KeepAliveRenewsUntilStopped(t *testing.T) {
	l := newTestLease(t)
	ticks := make(chan time.Time)
	calls := 0
	renew := func(context.Context) (bool, error) {
		calls++
		if calls == 2 {
			return false, errors.New("i/o timeout")
		}
		return true, nil
	}
	go l.keepAlive(ticks, renew)

	for i := 0; i < 3; i++ {
		ticks <- time.Time{}
	}
	close(l.stop)
	<-l.done

	assert.Equal(t, 3, calls, "a transient error must not stop renewal")
}

func TestLease_KeepAliveStopsWhenKeyLost(t *testing.T) {
	l := newTestLease(t)
	ticks := make(chan time.Time)
	calls := 0
	go l.keepAlive(ticks, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})

	ticks <- time.Time{}
	select {
	case <-l.done:
	case <-time.After(time.Second):
		t.Fatal("renewal loop kept running after the key was lost")
	}
	assert.Equal(t, 1, calls)
}
