package leaderboard

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Store определяет контракт основного хранилища документа лидерборда.
// Реализация находится в infrastructure слое (filestore).
type Store interface {
	// Load читает документ. Отсутствующий файл - пустой лидерборд без ошибки.
	Load(ctx context.Context) (*Leaderboard, error)

	// Save атомарно записывает документ.
	Save(ctx context.Context, l *Leaderboard) error
}

// SnapshotRepository - зеркало снапшотов (PostgreSQL).
type SnapshotRepository interface {
	// SaveSnapshot сохраняет снапшот со всеми записями.
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error

	// LatestSnapshot возвращает последний снапшот.
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
}

// Cache определяет контракт для кеширования лидерборда.
// Отделён от основного хранилища для гибкости (Redis, in-memory).
type Cache interface {
	// Replace полностью заменяет закешированный лидерборд.
	Replace(ctx context.Context, snapshot *Snapshot) error

	// GetTop возвращает топ-N из кеша.
	GetTop(ctx context.Context, limit int) ([]Entry, error)
}
