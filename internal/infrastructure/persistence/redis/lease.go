package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED LEASE
// ══════════════════════════════════════════════════════════════════════════════

// DefaultLeaseTTL bounds how long a crashed holder can block other hosts.
const DefaultLeaseTTL = 30 * time.Minute

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript продлевает TTL, только если ключ всё ещё держит наш токен.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// LeaseProvider hands out a single update lease across hosts.
// It implements shared.LeaseProvider.
type LeaseProvider struct {
	client *Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewLeaseProvider creates a provider for the named lease.
func NewLeaseProvider(client *Client, name string, ttl time.Duration, logger *slog.Logger) *LeaseProvider {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseProvider{
		client: client,
		key:    client.Key("lock", name),
		ttl:    ttl,
		logger: logger.With("component", "redis_lease"),
	}
}

// TryAcquire takes the lease without waiting.
// Returns shared.ErrUpdateInProgress when another holder has it.
func (p *LeaseProvider) TryAcquire(ctx context.Context) (shared.Lease, error) {
	token := uuid.NewString()
	ok, err := p.client.Redis().SetNX(ctx, p.key, token, p.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lease: acquire %s: %w", p.key, err)
	}
	if !ok {
		return nil, shared.ErrUpdateInProgress
	}
	p.logger.Debug("lease acquired", "key", p.key, "ttl", p.ttl)

	l := &redisLease{
		provider: p,
		token:    token,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	ticker := time.NewTicker(p.ttl / 3)
	go func() {
		defer ticker.Stop()
		l.keepAlive(ticker.C, l.renew)
	}()
	return l, nil
}

type redisLease struct {
	provider *LeaseProvider
	token    string
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	err      error
}

// renew продлевает ключ на полный TTL. false - ключ уже не наш.
func (l *redisLease) renew(ctx context.Context) (bool, error) {
	p := l.provider
	n, err := renewScript.Run(ctx, p.client.Redis(), []string{p.key}, l.token, p.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// keepAlive продлевает lease на каждом тике до Release.
// Разовая ошибка Redis не останавливает цикл; потеря ключа останавливает.
func (l *redisLease) keepAlive(ticks <-chan time.Time, renew func(context.Context) (bool, error)) {
	defer close(l.done)
	p := l.provider
	for {
		select {
		case <-l.stop:
			return
		case <-ticks:
			ctx, cancel := context.WithTimeout(context.Background(), p.ttl/3)
			ok, err := renew(ctx)
			cancel()
			switch {
			case err != nil:
				p.logger.Warn("lease renewal failed", "key", p.key, "error", err)
			case !ok:
				p.logger.Error("lease lost before release", "key", p.key)
				return
			}
		}
	}
}

// Release deletes the key if this lease still owns it. Safe to call twice.
func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		p := l.provider
		n, err := releaseScript.Run(ctx, p.client.Redis(), []string{p.key}, l.token).Int()
		if err != nil {
			l.err = fmt.Errorf("redis lease: release %s: %w", p.key, err)
			return
		}
		if n == 0 {
			p.logger.Warn("lease expired before release", "key", p.key)
		}
	})
	return l.err
}
