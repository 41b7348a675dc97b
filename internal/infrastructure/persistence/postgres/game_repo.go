package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
)

// ══════════════════════════════════════════════════════════════════════════════
// GAME REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

const upsertGameSQL = `
	INSERT INTO archive_games (id, created_at, played_at, white, black, winner, status, time_control, raw)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		winner = EXCLUDED.winner,
		raw    = EXCLUDED.raw
	WHERE archive_games.raw IS DISTINCT FROM EXCLUDED.raw`

// GameRepository mirrors archived games into archive_games.
// It implements archive.Mirror.
type GameRepository struct {
	conn      *Connection
	batchSize int
}

// NewGameRepository creates a new GameRepository.
func NewGameRepository(conn *Connection) *GameRepository {
	return &GameRepository{conn: conn, batchSize: 500}
}

// UpsertGames writes games in batches and returns the number of rows touched.
// Replaying the same games is a no-op.
func (r *GameRepository) UpsertGames(ctx context.Context, games []*game.Game) (int, error) {
	if len(games) == 0 {
		return 0, nil
	}

	touched := 0
	for start := 0; start < len(games); start += r.batchSize {
		end := min(start+r.batchSize, len(games))

		batch := &pgx.Batch{}
		for _, g := range games[start:end] {
			args, err := gameRow(g)
			if err != nil {
				return touched, err
			}
			batch.Queue(upsertGameSQL, args...)
		}

		err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
			br := tx.SendBatch(ctx, batch)
			defer br.Close()
			for i := start; i < end; i++ {
				tag, err := br.Exec()
				if err != nil {
					return fmt.Errorf("upsert game %s: %w", games[i].ID, err)
				}
				touched += int(tag.RowsAffected())
			}
			return nil
		})
		if err != nil {
			return touched, err
		}
	}
	return touched, nil
}

// CountGames returns the number of mirrored games.
func (r *GameRepository) CountGames(ctx context.Context) (int, error) {
	var n int
	if err := r.conn.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM archive_games`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}
	return n, nil
}

// gameRow maps a game onto the upsert parameters.
func gameRow(g *game.Game) ([]any, error) {
	raw := g.Raw()
	if len(raw) == 0 {
		b, err := json.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("encode game %s: %w", g.ID, err)
		}
		raw = b
	}
	tc, _ := g.TimeControl()
	return []any{
		g.ID,
		g.CreatedAt,
		g.Time().Truncate(time.Millisecond),
		g.Players.White.Name(),
		g.Players.Black.Name(),
		string(g.Winner),
		g.Status,
		tc,
		string(raw),
	}, nil
}
