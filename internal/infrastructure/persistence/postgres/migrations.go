package postgres

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migrations returns all embedded migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_archive_games", UpSQL: migration001Up},
		{Version: 2, Name: "create_leaderboard_snapshots", UpSQL: migration002Up},
	}
}

const migration001Up = `
CREATE TABLE IF NOT EXISTS archive_games (
    id           TEXT PRIMARY KEY,
    created_at   BIGINT NOT NULL,
    played_at    TIMESTAMPTZ NOT NULL,
    white        TEXT NOT NULL DEFAULT '',
    black        TEXT NOT NULL DEFAULT '',
    winner       TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT '',
    time_control TEXT NOT NULL DEFAULT '',
    raw          JSONB NOT NULL,
    inserted_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_archive_games_created_at ON archive_games(created_at);
CREATE INDEX IF NOT EXISTS idx_archive_games_white ON archive_games(lower(white));
CREATE INDEX IF NOT EXISTS idx_archive_games_black ON archive_games(lower(black));
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS leaderboard_snapshots (
    id          UUID PRIMARY KEY,
    taken_at    TIMESTAMPTZ NOT NULL,
    last_fetch  BIGINT NOT NULL,
    next_update BIGINT NOT NULL,
    policy      TEXT NOT NULL DEFAULT '',
    players     INTEGER NOT NULL,
    total_games INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leaderboard_snapshots_taken_at ON leaderboard_snapshots(taken_at DESC);

CREATE TABLE IF NOT EXISTS leaderboard_entries (
    snapshot_id          UUID NOT NULL REFERENCES leaderboard_snapshots(id) ON DELETE CASCADE,
    rank                 INTEGER NOT NULL,
    player               TEXT NOT NULL,
    rating               DOUBLE PRECISION NOT NULL,
    games                INTEGER NOT NULL,
    last_game            TEXT NOT NULL DEFAULT '',
    average_time_control TEXT NOT NULL DEFAULT '',
    wins                 INTEGER NOT NULL DEFAULT 0,
    draws                INTEGER NOT NULL DEFAULT 0,
    losses               INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (snapshot_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_leaderboard_entries_player ON leaderboard_entries(lower(player));
`
