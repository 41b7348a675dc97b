package filestore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/archive"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
)

func quietConfig(path string) Config {
	return Config{
		Path:   path,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestArchiveStore_MissingFileIsEmpty(t *testing.T) {
	s := NewArchiveStore(quietConfig(filepath.Join(t.TempDir(), "game_archive.json")))
	a, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, a.Len())
}

func TestArchiveStore_RoundTripKeepsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game_archive.json")
	s := NewArchiveStore(quietConfig(path))

	g, err := game.Decode([]byte(`{"id":"g1","createdAt":1740400000000,"status":"mate","winner":"black","players":{"white":{"user":{"name":"alice"}},"black":{"user":{"name":"LeelaQueenOdds"}}},"lastMoveAt":1740400100000}`))
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), archive.FromGames([]*game.Game{g})))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"lastMoveAt": 1740400100000`)
	assert.True(t, strings.HasPrefix(string(raw), "{\n  \"games\""))

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, loaded.Contains("g1"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLeaderboardStore_RoundTripPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaderboard.json")
	s := NewLeaderboardStore(quietConfig(path))

	l := leaderboard.New(leaderboard.Metadata{LastFetch: 123, NextUpdate: 456})
	require.NoError(t, l.Set("zed", leaderboard.PlayerRecord{Rating: 1900, Games: 2}))
	require.NoError(t, l.Set("amy", leaderboard.PlayerRecord{Rating: 1700, Games: 1}))
	require.NoError(t, s.Save(context.Background(), l))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	assert.Less(t, strings.Index(text, `"zed"`), strings.Index(text, `"amy"`))
	assert.Less(t, strings.Index(text, `"amy"`), strings.Index(text, `"metadata"`))

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"zed", "amy"}, loaded.Names())
	assert.Equal(t, int64(123), loaded.Metadata.LastFetch)
}

func TestLeaderboardStore_CorruptFileQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaderboard.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"alice": {"rating": 17`), 0o644))

	s := NewLeaderboardStore(quietConfig(path))
	l, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".corrupt-20250601T120000Z")
	assert.NoError(t, err)
}

func TestSave_AppliesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaderboard.json")
	cfg := quietConfig(path)
	cfg.Ownership = Ownership{Mode: 0o600}
	s := NewLeaderboardStore(cfg)

	require.NoError(t, s.Save(context.Background(), leaderboard.New(leaderboard.Metadata{})))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	var doc map[string]json.RawMessage
	raw, _ := os.ReadFile(path)
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "metadata")
}

func TestSave_KeepsExistingModeWhenUnset(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	existing := filepath.Join(dir, "leaderboard.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0o600))
	require.NoError(t, os.Chmod(existing, 0o664))
	require.NoError(t, NewLeaderboardStore(quietConfig(existing)).Save(ctx, leaderboard.New(leaderboard.Metadata{})))
	info, err := os.Stat(existing)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o664), info.Mode().Perm())

	fresh := filepath.Join(dir, "game_archive.json")
	require.NoError(t, NewArchiveStore(quietConfig(fresh)).Save(ctx, archive.New()))
	info, err = os.Stat(fresh)
	require.NoError(t, err)
	assert.Equal(t, DefaultFileMode, info.Mode().Perm())
}

func TestSave_FailsInMissingDirectory(t *testing.T) {
	s := NewArchiveStore(quietConfig(filepath.Join(t.TempDir(), "nope", "game_archive.json")))
	err := s.Save(context.Background(), archive.New())
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("0664")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o664), m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0), m)

	_, err = ParseMode("rw-r--r--")
	assert.Error(t, err)
}
