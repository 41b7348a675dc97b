package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRepository implements leaderboard.SnapshotRepository for PostgreSQL.
type SnapshotRepository struct {
	conn *Connection
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// SaveSnapshot saves a leaderboard snapshot with all of its entries.
// Saving the same snapshot ID twice keeps the first copy.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, snapshot *leaderboard.Snapshot) error {
	id, err := snapshotID(snapshot.ID)
	if err != nil {
		return err
	}

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO leaderboard_snapshots (id, taken_at, last_fetch, next_update, policy, players, total_games)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`,
			id,
			snapshot.TakenAt,
			snapshot.Metadata.LastFetch,
			snapshot.Metadata.NextUpdate,
			snapshot.Metadata.Policy,
			snapshot.Count(),
			snapshot.TotalGames,
		)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
		if tag.RowsAffected() == 0 || snapshot.IsEmpty() {
			return nil
		}

		rows := make([][]any, 0, len(snapshot.Entries))
		for _, e := range snapshot.Entries {
			rows = append(rows, entryRow(id, e))
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"leaderboard_entries"},
			entryColumns,
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy entries: %w", err)
		}
		return nil
	})
}

// LatestSnapshot returns the most recent snapshot.
func (r *SnapshotRepository) LatestSnapshot(ctx context.Context) (*leaderboard.Snapshot, error) {
	var (
		id       uuid.UUID
		takenAt  time.Time
		snapshot leaderboard.Snapshot
	)
	err := r.conn.Pool().QueryRow(ctx, `
		SELECT id, taken_at, last_fetch, next_update, policy, total_games
		FROM leaderboard_snapshots
		ORDER BY taken_at DESC
		LIMIT 1
	`).Scan(&id, &takenAt, &snapshot.Metadata.LastFetch, &snapshot.Metadata.NextUpdate, &snapshot.Metadata.Policy, &snapshot.TotalGames)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	snapshot.ID = id.String()
	snapshot.TakenAt = takenAt.UTC()

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT rank, player, rating, games, last_game, average_time_control, wins, draws, losses
		FROM leaderboard_entries
		WHERE snapshot_id = $1
		ORDER BY rank
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot entries: %w", err)
	}
	snapshot.Entries, err = pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot entries: %w", err)
	}
	return &snapshot, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// HELPERS
// ─────────────────────────────────────────────────────────────────────────────

var entryColumns = []string{
	"snapshot_id", "rank", "player", "rating", "games",
	"last_game", "average_time_control", "wins", "draws", "losses",
}

func snapshotID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, shared.WrapError("leaderboard", "SaveSnapshot", shared.ErrInvalidInput, "snapshot id is not a uuid", err)
	}
	return id, nil
}

func entryRow(id uuid.UUID, e leaderboard.Entry) []any {
	return []any{
		id,
		int(e.Rank),
		e.Name,
		e.Record.Rating,
		e.Record.Games,
		e.Record.LastGame,
		e.Record.AverageTimeControl,
		e.Record.Wins,
		e.Record.Draws,
		e.Record.Losses,
	}
}

func scanEntry(row pgx.CollectableRow) (leaderboard.Entry, error) {
	var (
		e    leaderboard.Entry
		rank int
	)
	err := row.Scan(&rank, &e.Name, &e.Record.Rating, &e.Record.Games, &e.Record.LastGame,
		&e.Record.AverageTimeControl, &e.Record.Wins, &e.Record.Draws, &e.Record.Losses)
	e.Rank = leaderboard.Rank(rank)
	return e, err
}
