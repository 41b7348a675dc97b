package postgres

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

func TestMigrations_Ordered(t *testing.T) {
	migs := Migrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.UpSQL)
	}
}

func TestGameRow_KeepsRawDocument(t *testing.T) {
	line := []byte(`{"id":"abc","createdAt":1717243200000,"status":"mate","winner":"black",` +
		`"players":{"white":{"user":{"name":"Alice"}},"black":{"user":{"name":"LeelaQueenOdds"}}},` +
		`"clock":{"initial":180,"increment":2},"lastMoveAt":1717243300000}`)
	g, err := game.Decode(line)
	require.NoError(t, err)

	args, err := gameRow(g)
	require.NoError(t, err)
	require.Len(t, args, 9)
	assert.Equal(t, "abc", args[0])
	assert.Equal(t, int64(1717243200000), args[1])
	assert.Equal(t, "Alice", args[3])
	assert.Equal(t, "LeelaQueenOdds", args[4])
	assert.Equal(t, "black", args[5])
	assert.Equal(t, "mate", args[6])
	assert.JSONEq(t, string(line), args[8].(string))
}

func TestGameRow_BuiltGameIsEncoded(t *testing.T) {
	g := &game.Game{ID: "x1", CreatedAt: 1000, Status: "draw"}
	args, err := gameRow(g)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(args[8].(string)), &doc))
	assert.Equal(t, "x1", doc["id"])
}

func TestSnapshotID(t *testing.T) {
	id := uuid.New()
	got, err := snapshotID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = snapshotID("cycle-1")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestEntryRow_MatchesColumns(t *testing.T) {
	row := entryRow(uuid.New(), leaderboard.Entry{
		Rank: 2,
		Name: "bob",
		Record: leaderboard.PlayerRecord{
			Rating: 1812.5, Games: 7, LastGame: "2025-06-01", AverageTimeControl: "3+2",
			Wins: 3, Draws: 1, Losses: 3,
		},
	})
	require.Len(t, row, len(entryColumns))
	assert.Equal(t, 2, row[1])
	assert.Equal(t, "bob", row[2])
	assert.Equal(t, 1812.5, row[3])
}
