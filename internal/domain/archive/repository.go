package archive

import (
	"context"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
)

// Store - основное хранилище архива (файл game_archive.json).
type Store interface {
	// Load читает архив. Отсутствующий файл - пустой архив без ошибки.
	Load(ctx context.Context) (*Archive, error)

	// Save атомарно записывает архив целиком.
	Save(ctx context.Context, a *Archive) error
}

// Mirror - необязательная копия партий во внешней БД.
type Mirror interface {
	// UpsertGames записывает партии; повторная запись той же партии не дублирует её.
	UpsertGames(ctx context.Context, games []*game.Game) (int, error)
}
