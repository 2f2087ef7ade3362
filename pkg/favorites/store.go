// Package favorites mirrors a user's remote favorites collection locally.
//
// Mutations are pessimistic: nothing changes locally until the server has
// confirmed it. The one local shortcut is duplicate detection on add, which
// fails without a network call.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"transithub/pkg/api"
	"transithub/pkg/liveness"
	"transithub/pkg/logging"
	"transithub/pkg/metrics"
	"transithub/pkg/otel"
	"transithub/pkg/session"
	"transithub/pkg/types"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrEmptyID is returned when an id is blank after normalization.
var ErrEmptyID = errors.New("id must not be empty")

// Remote is the server side of one favorites collection.
type Remote[T ~string] interface {
	Kind() string
	List(ctx context.Context, token string) ([]T, error)
	Add(ctx context.Context, token string, id T) (T, error)
	Remove(ctx context.Context, token string, id T) error
}

// State is a store's observable state. Each operation has its own error slot
// and loading flag.
type State[T ~string] struct {
	Items []T

	// Loaded is set once a list call has completed for the current session.
	Loaded bool

	Loading  bool
	Adding   bool
	Removing bool

	FetchErr  string
	AddErr    string
	RemoveErr string

	// AddConflict is set when AddErr reports an existing favorite.
	AddConflict bool
}

type change[T ~string] struct {
	seq   uint64
	added bool
	id    T
}

// Store holds one favorites collection as a sorted set.
type Store[T ~string] struct {
	remote    Remote[T]
	session   *session.Watcher
	normalize func(string) T
	guard     *liveness.Guard
	tracer    trace.Tracer
	logger    *slog.Logger

	// OnUpdate, if set before Start, is called after every state change.
	OnUpdate func(State[T])

	mu       sync.Mutex
	state    State[T]
	fetching int
	adding   int
	removing int

	// Confirmed mutations, replayed onto list results that were issued
	// before them. Only kept while a list call is in flight.
	seq     uint64
	journal []change[T]

	ctx    context.Context
	cancel func()
}

func newStore[T ~string](remote Remote[T], w *session.Watcher, normalize func(string) T) *Store[T] {
	return &Store[T]{
		remote:    remote,
		session:   w,
		normalize: normalize,
		guard:     liveness.New(),
		tracer:    otelapi.Tracer("transithub-favorites"),
		logger:    logging.Component("favorites").With("kind", remote.Kind()),
		ctx:       context.Background(),
	}
}

// NewRouteStore returns a store whose ids are trimmed and upper-cased.
func NewRouteStore(remote Remote[types.RouteID], w *session.Watcher) *Store[types.RouteID] {
	return newStore(remote, w, func(s string) types.RouteID {
		return types.RouteID(strings.ToUpper(strings.TrimSpace(s)))
	})
}

// NewStationStore returns a store whose ids are trimmed, case preserved.
func NewStationStore(remote Remote[types.StationID], w *session.Watcher) *Store[types.StationID] {
	return newStore(remote, w, func(s string) types.StationID {
		return types.StationID(strings.TrimSpace(s))
	})
}

func (s *Store[T]) Kind() string { return s.remote.Kind() }

// Start follows the session: a new session discards local state and
// refreshes, a lost session clears everything.
func (s *Store[T]) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	cancel := s.session.Observe(s.onSession)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// Stop detaches from the session. Operations still in flight are dropped when
// they complete.
func (s *Store[T]) Stop() {
	s.guard.Kill()

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Store[T]) onSession(st session.State) {
	if !s.guard.Alive() {
		return
	}
	// Results issued for the previous session must not land in this one.
	s.guard.Reset()

	s.mu.Lock()
	s.state = State[T]{}
	s.fetching, s.adding, s.removing = 0, 0, 0
	s.journal = nil
	snapshot := s.snapshotLocked()
	ctx := s.ctx
	s.mu.Unlock()

	s.recordSize(ctx, 0)
	s.notify(snapshot)

	if st.Status == session.StatusAuthenticated {
		// The ticket is taken while the watcher still holds this session, so a
		// sign-out racing the goroutine fences the refresh out.
		t := s.guard.Begin()
		go s.refresh(ctx, t)
	}
}

// List returns the current sorted ids.
func (s *Store[T]) List() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.Items)
}

// State returns a copy of the current state.
func (s *Store[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store[T]) snapshotLocked() State[T] {
	st := s.state
	st.Items = slices.Clone(s.state.Items)
	st.Loading = s.fetching > 0
	st.Adding = s.adding > 0
	st.Removing = s.removing > 0
	return st
}

// Refresh replaces the local set with the server's. Without a session it
// returns an auth error and leaves the state untouched.
func (s *Store[T]) Refresh(ctx context.Context) error {
	t := s.guard.Begin()
	if s.session.State().Status != session.StatusAuthenticated {
		return &api.AuthError{Err: session.ErrNoSession}
	}
	return s.refresh(ctx, t)
}

func (s *Store[T]) refresh(ctx context.Context, t liveness.Ticket) error {
	ctx, span := s.startSpan(ctx, "refresh", "")
	defer span.End()

	var since uint64
	if !s.commit(t, func() {
		s.fetching++
		s.state.FetchErr = ""
		since = s.seq
	}) {
		return nil
	}

	var ids []T
	token, err := s.session.Token(ctx)
	if err == nil {
		ids, err = s.remote.List(ctx, token)
	}

	if err == nil {
		ids = slices.Clone(ids)
		slices.Sort(ids)
		ids = slices.Compact(ids)
	}

	var size int
	applied := s.commit(t, func() {
		s.fetching--
		s.state.Loaded = true
		if err != nil {
			s.state.FetchErr = api.Message(err)
		} else {
			s.state.Items = s.replayLocked(ids, since)
			size = len(s.state.Items)
		}
		if s.fetching == 0 {
			s.journal = nil
		}
	})
	s.finish(ctx, span, "list", applied, err)
	if err == nil && applied {
		s.recordSize(ctx, size)
	}
	return err
}

// replayLocked applies mutations confirmed after seq since to a list result.
func (s *Store[T]) replayLocked(ids []T, since uint64) []T {
	for _, c := range s.journal {
		if c.seq <= since {
			continue
		}
		i, found := slices.BinarySearch(ids, c.id)
		switch {
		case c.added && !found:
			ids = slices.Insert(ids, i, c.id)
		case !c.added && found:
			ids = slices.Delete(ids, i, i+1)
		}
	}
	return ids
}

// confirmLocked records a mutation the server has confirmed.
func (s *Store[T]) confirmLocked(added bool, id T) {
	s.seq++
	if s.fetching > 0 {
		s.journal = append(s.journal, change[T]{seq: s.seq, added: added, id: id})
	}
}

// Add stores id remotely and, once confirmed, inserts the server's canonical
// id locally.
func (s *Store[T]) Add(ctx context.Context, raw string) error {
	id := s.normalize(raw)
	ctx, span := s.startSpan(ctx, "add", string(id))
	defer span.End()

	if id == "" {
		err := fmt.Errorf("%s %w", s.singular(), ErrEmptyID)
		s.failFast(ctx, span, "add", err, func(msg string) {
			s.state.AddErr = msg
			s.state.AddConflict = false
		})
		return err
	}

	s.mu.Lock()
	_, exists := slices.BinarySearch(s.state.Items, id)
	s.mu.Unlock()
	if exists {
		err := &api.ConflictError{ID: string(id), Local: true}
		s.failFast(ctx, span, "add", err, func(msg string) {
			s.state.AddErr = msg
			s.state.AddConflict = true
		})
		return err
	}

	t := s.guard.Begin()
	if !s.commit(t, func() {
		s.adding++
		s.state.AddErr = ""
		s.state.AddConflict = false
	}) {
		return nil
	}

	var canonical T
	token, err := s.session.Token(ctx)
	if err == nil {
		canonical, err = s.remote.Add(ctx, token, id)
	}

	var size int
	applied := s.commit(t, func() {
		s.adding--
		if err != nil {
			s.state.AddErr = api.Message(err)
			s.state.AddConflict = errors.Is(err, api.ErrAlreadyFavorite)
			return
		}
		if canonical == "" {
			canonical = id
		}
		if i, found := slices.BinarySearch(s.state.Items, canonical); !found {
			s.state.Items = slices.Insert(s.state.Items, i, canonical)
		}
		s.confirmLocked(true, canonical)
		size = len(s.state.Items)
	})
	s.finish(ctx, span, "add", applied, err)
	if err == nil && applied {
		s.recordSize(ctx, size)
	}
	return err
}

// Remove deletes id remotely and only then locally. Failures leave the set
// unchanged.
func (s *Store[T]) Remove(ctx context.Context, raw string) error {
	id := s.normalize(raw)
	ctx, span := s.startSpan(ctx, "remove", string(id))
	defer span.End()

	if id == "" {
		err := fmt.Errorf("%s %w", s.singular(), ErrEmptyID)
		s.failFast(ctx, span, "remove", err, func(msg string) {
			s.state.RemoveErr = msg
		})
		return err
	}

	t := s.guard.Begin()
	if !s.commit(t, func() {
		s.removing++
		s.state.RemoveErr = ""
	}) {
		return nil
	}

	token, err := s.session.Token(ctx)
	if err == nil {
		err = s.remote.Remove(ctx, token, id)
	}

	var size int
	applied := s.commit(t, func() {
		s.removing--
		if err != nil {
			s.state.RemoveErr = api.Message(err)
			return
		}
		if i, found := slices.BinarySearch(s.state.Items, id); found {
			s.state.Items = slices.Delete(s.state.Items, i, i+1)
		}
		s.confirmLocked(false, id)
		size = len(s.state.Items)
	})
	s.finish(ctx, span, "remove", applied, err)
	if err == nil && applied {
		s.recordSize(ctx, size)
	}
	return err
}

// commit runs fn against the state if t is still current, then notifies.
func (s *Store[T]) commit(t liveness.Ticket, fn func()) bool {
	var snapshot State[T]
	ok := s.guard.Apply(t, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		fn()
		snapshot = s.snapshotLocked()
	})
	if ok {
		s.notify(snapshot)
	}
	return ok
}

// failFast reports an error that needed no network call.
func (s *Store[T]) failFast(ctx context.Context, span trace.Span, op string, err error, set func(msg string)) {
	t := s.guard.Begin()
	s.commit(t, func() { set(api.Message(err)) })
	s.finish(ctx, span, op, true, err)
}

func (s *Store[T]) finish(ctx context.Context, span trace.Span, op string, applied bool, err error) {
	outcome := "success"
	switch {
	case !applied:
		outcome = "dropped"
	case errors.Is(err, api.ErrAlreadyFavorite):
		outcome = "conflict"
	case err != nil:
		outcome = "error"
	}

	metrics.FavoritesMutationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", s.Kind()),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	span.SetAttributes(attribute.String("favorites.outcome", outcome))

	switch {
	case err == nil:
		otel.SetSpanOk(span)
		s.logger.Debug("Favorites operation completed", "op", op, "applied", applied)
	case errors.Is(err, api.ErrAlreadyFavorite):
		otel.RecordError(span, err, otel.ErrorTypeConflict, false)
		s.logger.Info("Favorite already exists", "op", op, "error", err)
	case errors.Is(err, ErrEmptyID):
		otel.RecordError(span, err, otel.ErrorTypeValidation, false)
	default:
		var authErr *api.AuthError
		errType := otel.ErrorTypeHTTP
		if errors.As(err, &authErr) {
			errType = otel.ErrorTypeAuth
		}
		otel.RecordError(span, err, errType, false)
		s.logger.Warn("Favorites operation failed", "op", op, "error", err)
	}
}

func (s *Store[T]) startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("favorites.kind", s.Kind())}
	if id != "" {
		attrs = append(attrs, attribute.String("favorites.id", id))
	}
	return s.tracer.Start(ctx, "favorites."+op, trace.WithAttributes(attrs...))
}

func (s *Store[T]) recordSize(ctx context.Context, n int) {
	metrics.FavoritesSize.Record(ctx, int64(n), metric.WithAttributes(attribute.String("kind", s.Kind())))
}

func (s *Store[T]) notify(st State[T]) {
	if s.OnUpdate != nil {
		s.OnUpdate(st)
	}
}

// singular turns "routes" into "route".
func (s *Store[T]) singular() string {
	return strings.TrimSuffix(s.Kind(), "s")
}
