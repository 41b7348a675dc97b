// Package state владеет архивом и лидербордом процесса.
// Оба значения защищены одним мьютексом: цикл обновления держит его всё время
// работы, читатели - только на время копирования.
package state

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/archive"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
)

// State - пара архив + лидерборд, которую видит цикл обновления.
type State struct {
	Archive     *archive.Archive
	Leaderboard *leaderboard.Leaderboard
}

// Store - мьютекс над State.
type Store struct {
	mu        sync.Mutex
	current   State
	loaded    bool
	version   uint64
	updatedAt time.Time

	// status публикуется после каждой фиксации и читается без мьютекса.
	status atomic.Pointer[Status]
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{current: State{
		Archive:     archive.New(),
		Leaderboard: leaderboard.New(leaderboard.Metadata{}),
	}}
}

// Loaded сообщает, было ли состояние прочитано с диска.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Update выполняет fn под мьютексом. fn получает текущее состояние и
// возвращает новое; при ошибке текущее состояние не меняется.
// Контекст проверяется до захвата работы, но не прерывает fn.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, cur State) (State, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	next, err := fn(ctx, s.current)
	if err != nil {
		return err
	}
	if next.Archive == nil {
		next.Archive = s.current.Archive
	}
	if next.Leaderboard == nil {
		next.Leaderboard = s.current.Leaderboard
	}
	s.current = next
	s.commit()
	return nil
}

// Replace подменяет состояние целиком (загрузка при старте).
func (s *Store) Replace(a *archive.Archive, l *leaderboard.Leaderboard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a == nil {
		a = archive.New()
	}
	if l == nil {
		l = leaderboard.New(leaderboard.Metadata{})
	}
	s.current = State{Archive: a, Leaderboard: l}
	s.commit()
}

// commit вызывается под мьютексом.
func (s *Store) commit() {
	s.loaded = true
	s.version++
	s.updatedAt = time.Now().UTC()
	s.status.Store(&Status{
		Loaded:      true,
		Version:     s.version,
		UpdatedAt:   s.updatedAt,
		Metadata:    s.current.Leaderboard.Metadata,
		Players:     s.current.Leaderboard.Len(),
		ArchiveSize: s.current.Archive.Len(),
	})
}

// Status - сводка последней фиксации.
type Status struct {
	Loaded      bool                 `json:"loaded"`
	Version     uint64               `json:"version"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Metadata    leaderboard.Metadata `json:"metadata"`
	Players     int                  `json:"players"`
	ArchiveSize int                  `json:"archive_size"`
}

// Status не ждёт мьютекс, поэтому не блокируется на время цикла обновления.
func (s *Store) Status() Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

// ArchiveGames возвращает партии архива (срез копируется, сами партии неизменяемы).
func (s *Store) ArchiveGames() []*game.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*game.Game(nil), s.current.Archive.Games()...)
}

// View - копия для читателей.
type View struct {
	Leaderboard *leaderboard.Leaderboard
	ArchiveSize int
	Version     uint64
	UpdatedAt   time.Time
}

// Snapshot копирует лидерборд под мьютексом.
func (s *Store) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Leaderboard: s.current.Leaderboard.Clone(),
		ArchiveSize: s.current.Archive.Len(),
		Version:     s.version,
		UpdatedAt:   s.updatedAt,
	}
}
