// Package session watches the identity provider and hands out fresh bearer
// tokens for the current session.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"transithub/pkg/api"
	"transithub/pkg/liveness"
	"transithub/pkg/logging"
	"transithub/pkg/metrics"
	"transithub/pkg/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNoSession is returned by Token when nobody is signed in.
var ErrNoSession = errors.New("no active session")

type Status int

const (
	StatusChecking Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "checking"
	}
}

// State is the watcher's view of the session. Identity is set only when
// Status is StatusAuthenticated.
type State struct {
	Status   Status
	Identity *types.Identity
}

// Watcher owns the single provider subscription for its lifetime.
type Watcher struct {
	provider Provider
	guard    *liveness.Guard
	logger   *slog.Logger

	// notifyMu serializes transitions so observers see them in arrival order.
	notifyMu sync.Mutex

	mu          sync.Mutex
	state       State
	started     bool
	unsubscribe func()
	nextID      int
	observers   []observer
}

type observer struct {
	id int
	fn func(State)
}

func NewWatcher(provider Provider) *Watcher {
	return &Watcher{
		provider: provider,
		guard:    liveness.New(),
		logger:   logging.Component("session"),
	}
}

// Start subscribes to the provider. It may be called once.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("session watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	unsubscribe := w.provider.Subscribe(w.handle)

	w.mu.Lock()
	w.unsubscribe = unsubscribe
	w.mu.Unlock()

	if !w.guard.Alive() {
		// Stopped while subscribing.
		unsubscribe()
	}
	return nil
}

// Stop releases the provider subscription. Callbacks that arrive later are
// ignored.
func (w *Watcher) Stop() {
	w.guard.Kill()

	w.mu.Lock()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.observers = nil
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (w *Watcher) handle(id *types.Identity) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	if !w.guard.Alive() {
		return
	}

	next := State{Status: StatusAnonymous}
	if id != nil {
		cp := *id
		next = State{Status: StatusAuthenticated, Identity: &cp}
	}

	w.mu.Lock()
	prev := w.state
	w.state = next
	fns := make([]func(State), len(w.observers))
	for i, o := range w.observers {
		fns[i] = o.fn
	}
	w.mu.Unlock()

	if prev.Status != next.Status || uid(prev) != uid(next) {
		w.logger.Info("Session changed", "from", prev.Status, "to", next.Status, "uid", uid(next))
		metrics.SessionTransitionsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", next.Status.String())))
	}

	for _, fn := range fns {
		fn(next)
	}
}

func uid(s State) string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.UID
}

// State returns the current session state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Observe registers fn for every later transition. If the session is already
// settled, fn is called with the current state before Observe returns. fn must
// not call Observe.
func (w *Watcher) Observe(fn func(State)) (cancel func()) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.observers = append(w.observers, observer{id: id, fn: fn})
	current := w.state
	w.mu.Unlock()

	if current.Status != StatusChecking {
		fn(current)
	}

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, o := range w.observers {
			if o.id == id {
				w.observers = append(w.observers[:i], w.observers[i+1:]...)
				return
			}
		}
	}
}

// Token asks the provider for a fresh bearer token. Tokens are never cached.
// Failures are returned as *api.AuthError.
func (w *Watcher) Token(ctx context.Context) (string, error) {
	state := w.State()
	if state.Status != StatusAuthenticated {
		return "", &api.AuthError{Err: ErrNoSession}
	}

	token, err := w.provider.Token(ctx, *state.Identity)
	if err != nil {
		w.logger.Warn("Failed to obtain token", "uid", state.Identity.UID, "error", err)
		return "", &api.AuthError{Err: err}
	}
	return token, nil
}

// SignOut ends the session through the provider.
func (w *Watcher) SignOut(ctx context.Context) error {
	return w.provider.SignOut(ctx)
}
