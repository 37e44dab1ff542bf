// Package history loads the chatroom metadata and participant roster a
// session needs before it may open the push channel.
//
// Both resources are fetched twice in sequence and only the second result is
// kept. The first fetch warms server-side caches that the backend populates
// lazily; callers must not treat it as authoritative.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/roster"
)

// ErrLoadFailure is returned when either fetch of a resource fails.
var ErrLoadFailure = errors.New("history load failed")

// Fetcher is the REST surface the loader needs.
type Fetcher interface {
	Chatroom(ctx context.Context, chatroomID int64) (api.Chatroom, error)
	Roster(ctx context.Context, chatroomID int64) ([]roster.User, error)
}

// Resource tracks one double-fetched value. IsLoading stays true until the
// second fetch succeeds, and stays true forever after a failure.
type Resource[T any] struct {
	mu      sync.RWMutex
	loading bool
	value   T
	err     error
}

// NewResource returns a resource in the loading state.
func NewResource[T any]() *Resource[T] {
	return &Resource[T]{loading: true}
}

// IsLoading reports whether the authoritative value is not yet available.
func (r *Resource[T]) IsLoading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loading
}

// Value returns the authoritative value and whether it is available.
func (r *Resource[T]) Value() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, !r.loading
}

// Err returns the load failure, if any.
func (r *Resource[T]) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Fetch runs DoubleFetch and records its outcome. The resource is loading
// for the whole fetch and stays loading when it fails, so a failed refetch
// never reports the stale value as ready.
func (r *Resource[T]) Fetch(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	r.mu.Lock()
	r.loading = true
	r.mu.Unlock()

	value, err := DoubleFetch(ctx, fetch)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.err = err
		return value, err
	}
	r.value = value
	r.loading = false
	r.err = nil
	return value, nil
}

// DoubleFetch calls fetch twice in sequence and returns the second result.
// Either failure is wrapped in ErrLoadFailure.
func DoubleFetch[T any](ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if _, err := fetch(ctx); err != nil {
		return zero, fmt.Errorf("%w: first fetch: %w", ErrLoadFailure, err)
	}
	value, err := fetch(ctx)
	if err != nil {
		return zero, fmt.Errorf("%w: second fetch: %w", ErrLoadFailure, err)
	}
	return value, nil
}

// Snapshot is the loaded state a session starts from.
type Snapshot struct {
	Chatroom api.Chatroom
	Roster   roster.Map
}

// Loader fetches chatroom metadata and roster.
type Loader struct {
	fetcher Fetcher
	logger  *slog.Logger

	Chatroom *Resource[api.Chatroom]
	Users    *Resource[[]roster.User]
}

// NewLoader creates a loader. Resources start in the loading state.
func NewLoader(log *slog.Logger, fetcher Fetcher) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		fetcher:  fetcher,
		logger:   log.With(slog.String("component", "history")),
		Chatroom: NewResource[api.Chatroom](),
		Users:    NewResource[[]roster.User](),
	}
}

// IsLoading reports whether either resource is still loading.
func (l *Loader) IsLoading() bool {
	return l.Chatroom.IsLoading() || l.Users.IsLoading()
}

// Load double-fetches both resources concurrently and returns the snapshot
// once both are authoritative.
func (l *Loader) Load(ctx context.Context, chatroomID int64) (Snapshot, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := l.Chatroom.Fetch(gctx, func(ctx context.Context) (api.Chatroom, error) {
			return l.fetcher.Chatroom(ctx, chatroomID)
		})
		return err
	})
	g.Go(func() error {
		_, err := l.Users.Fetch(gctx, func(ctx context.Context) ([]roster.User, error) {
			return l.fetcher.Roster(ctx, chatroomID)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		l.logger.Error("history load failed", slog.Int64("chatroom_id", chatroomID), slog.Any("error", err))
		return Snapshot{}, err
	}

	room, _ := l.Chatroom.Value()
	users, _ := l.Users.Value()
	snap := Snapshot{Chatroom: room, Roster: roster.Build(users)}
	l.logger.Info("history loaded",
		slog.Int64("chatroom_id", chatroomID),
		slog.Int("participants", snap.Roster.Len()),
	)
	return snap, nil
}
