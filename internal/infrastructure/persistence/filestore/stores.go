package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/archive"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
)

// Config is shared by both stores.
type Config struct {
	Path      string
	Ownership Ownership
	Logger    *slog.Logger
	Now       func() time.Time
}

func (c *Config) defaults(component string) {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("component", component, "path", c.Path)
	if c.Now == nil {
		c.Now = time.Now
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ARCHIVE STORE
// ══════════════════════════════════════════════════════════════════════════════

// ArchiveStore persists {"games":[...]}.
type ArchiveStore struct {
	cfg Config
	mu  sync.Mutex
}

// NewArchiveStore creates a store for cfg.Path.
func NewArchiveStore(cfg Config) *ArchiveStore {
	cfg.defaults("archive_store")
	return &ArchiveStore{cfg: cfg}
}

// Load reads the archive. A missing file is an empty archive; an unreadable
// one is quarantined and also treated as empty.
func (s *ArchiveStore) Load(ctx context.Context) (*archive.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := archive.New()
	ok, err := loadDocument(ctx, s.cfg, a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return archive.New(), nil
	}
	s.cfg.Logger.Info("archive loaded", "games", a.Len())
	return a, nil
}

// Save writes the whole archive atomically.
func (s *ArchiveStore) Save(ctx context.Context, a *archive.Archive) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSONAtomic(s.cfg.Path, a); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	applyOwnership(s.cfg.Path, s.cfg.Ownership, s.cfg.Logger)
	s.cfg.Logger.Info("archive saved", "games", a.Len())
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD STORE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardStore persists {"<player>": {...}, ..., "metadata": {...}}.
type LeaderboardStore struct {
	cfg Config
	mu  sync.Mutex
}

// NewLeaderboardStore creates a store for cfg.Path.
func NewLeaderboardStore(cfg Config) *LeaderboardStore {
	cfg.defaults("leaderboard_store")
	return &LeaderboardStore{cfg: cfg}
}

// Load reads the leaderboard with the same missing/unreadable rules as ArchiveStore.
func (s *LeaderboardStore) Load(ctx context.Context) (*leaderboard.Leaderboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := leaderboard.New(leaderboard.Metadata{})
	ok, err := loadDocument(ctx, s.cfg, l)
	if err != nil {
		return nil, err
	}
	if !ok {
		return leaderboard.New(leaderboard.Metadata{}), nil
	}
	s.cfg.Logger.Info("leaderboard loaded", "players", l.Len(), "last_fetch", l.Metadata.LastFetch)
	return l, nil
}

// Save writes the leaderboard atomically.
func (s *LeaderboardStore) Save(ctx context.Context, l *leaderboard.Leaderboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSONAtomic(s.cfg.Path, l); err != nil {
		return fmt.Errorf("save leaderboard: %w", err)
	}
	applyOwnership(s.cfg.Path, s.cfg.Ownership, s.cfg.Logger)
	s.cfg.Logger.Info("leaderboard saved", "players", l.Len())
	return nil
}

// loadDocument reports false when the file is missing or was quarantined.
func loadDocument(ctx context.Context, cfg Config, into json.Unmarshaler) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	data, err := readFile(cfg.Path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", cfg.Path, err)
	}
	if data == nil {
		cfg.Logger.Info("file not found, starting empty")
		return false, nil
	}
	if err := into.UnmarshalJSON(data); err != nil {
		dst, qerr := quarantine(cfg.Path, cfg.Now())
		if qerr != nil {
			return false, fmt.Errorf("unreadable %s (quarantine failed: %v): %w", cfg.Path, qerr, err)
		}
		cfg.Logger.Error("unreadable file moved aside, starting empty", "moved_to", dst, "error", err)
		return false, nil
	}
	return true, nil
}
