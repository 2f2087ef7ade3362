package session

import (
	"context"
	"errors"
	"testing"

	"transithub/pkg/api"
	"transithub/pkg/types"

	"golang.org/x/oauth2"
)

func TestWatcher_CheckingUntilFirstCallback(t *testing.T) {
	provider := NewStaticProvider("tok")
	w := NewWatcher(provider)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if got := w.State().Status; got != StatusChecking {
		t.Fatalf("Status = %v, want checking", got)
	}

	provider.SetIdentity(nil)
	if got := w.State().Status; got != StatusAnonymous {
		t.Errorf("Status = %v, want anonymous", got)
	}

	provider.SetIdentity(&types.Identity{UID: "u1", Email: "a@example.com"})
	state := w.State()
	if state.Status != StatusAuthenticated || state.Identity == nil || state.Identity.UID != "u1" {
		t.Errorf("State = %+v, want authenticated u1", state)
	}
}

func TestWatcher_StartTwice(t *testing.T) {
	w := NewWatcher(NewStaticProvider("tok"))
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("second Start should fail")
	}
}

func TestWatcher_StopUnsubscribes(t *testing.T) {
	provider := NewStaticProvider("tok")
	w := NewWatcher(provider)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var calls int
	w.Observe(func(State) { calls++ })

	w.Stop()
	provider.SetIdentity(&types.Identity{UID: "u1"})

	if w.State().Status != StatusChecking {
		t.Errorf("State changed after Stop: %+v", w.State())
	}
	if calls != 0 {
		t.Errorf("observer called %d times after Stop", calls)
	}
	if n := len(provider.listeners); n != 0 {
		t.Errorf("provider still has %d listeners", n)
	}
}

func TestWatcher_ObserveReplaysAndOrders(t *testing.T) {
	provider := NewStaticProvider("tok")
	w := NewWatcher(provider)
	w.Start()
	defer w.Stop()

	var early []Status
	w.Observe(func(s State) { early = append(early, s.Status) })
	if len(early) != 0 {
		t.Fatalf("checking state should not be replayed, got %v", early)
	}

	provider.SetIdentity(&types.Identity{UID: "u1"})
	provider.SetIdentity(nil)

	var late []Status
	cancel := w.Observe(func(s State) { late = append(late, s.Status) })

	provider.SetIdentity(&types.Identity{UID: "u2"})
	cancel()
	provider.SetIdentity(nil)

	wantEarly := []Status{StatusAuthenticated, StatusAnonymous, StatusAuthenticated, StatusAnonymous}
	if !equalStatuses(early, wantEarly) {
		t.Errorf("early observer saw %v, want %v", early, wantEarly)
	}
	wantLate := []Status{StatusAnonymous, StatusAuthenticated}
	if !equalStatuses(late, wantLate) {
		t.Errorf("late observer saw %v, want %v", late, wantLate)
	}
}

func equalStatuses(a, b []Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestWatcher_Token(t *testing.T) {
	provider := NewStaticProvider("tok-1")
	w := NewWatcher(provider)
	w.Start()
	defer w.Stop()
	ctx := context.Background()

	t.Run("anonymous", func(t *testing.T) {
		provider.SetIdentity(nil)
		_, err := w.Token(ctx)
		var authErr *api.AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("Expected AuthError, got %v", err)
		}
		if !errors.Is(err, ErrNoSession) {
			t.Error("Expected errors.Is(err, ErrNoSession)")
		}
	})

	t.Run("fresh every call", func(t *testing.T) {
		provider.SetIdentity(&types.Identity{UID: "u1"})
		before := provider.TokenCalls()

		tok, err := w.Token(ctx)
		if err != nil || tok != "tok-1" {
			t.Fatalf("Token = %q, %v", tok, err)
		}
		provider.SetToken("tok-2", nil)
		tok, err = w.Token(ctx)
		if err != nil || tok != "tok-2" {
			t.Fatalf("Token = %q, %v; want tok-2", tok, err)
		}
		if calls := provider.TokenCalls() - before; calls != 2 {
			t.Errorf("provider called %d times, want 2", calls)
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		provider.SetToken("", errors.New("token expired"))
		_, err := w.Token(ctx)
		var transport *api.TransportError
		if !errors.As(err, &transport) {
			t.Fatalf("Expected error usable as TransportError, got %v", err)
		}
	})
}

func TestWatcher_SignOut(t *testing.T) {
	provider := NewStaticProvider("tok")
	w := NewWatcher(provider)
	w.Start()
	defer w.Stop()

	provider.SetIdentity(&types.Identity{UID: "u1"})
	if err := w.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if w.State().Status != StatusAnonymous {
		t.Errorf("Status = %v, want anonymous", w.State().Status)
	}
}

type failingSource struct{}

func (failingSource) Token() (*oauth2.Token, error) {
	return nil, errors.New("refresh rejected")
}

func TestTokenSourceProvider(t *testing.T) {
	identity := types.Identity{UID: "u1", Email: "a@example.com"}

	t.Run("valid source signs in", func(t *testing.T) {
		p := NewTokenSourceProvider(identity, StaticTokenSource("abc"))
		settled := make(chan *types.Identity, 1)
		defer p.Subscribe(func(id *types.Identity) { settled <- id })()

		if id := <-settled; id == nil || id.UID != "u1" {
			t.Fatalf("settled with %v, want u1", id)
		}
		tok, err := p.Token(context.Background(), identity)
		if err != nil || tok != "abc" {
			t.Errorf("Token = %q, %v", tok, err)
		}
	})

	t.Run("failing source is anonymous", func(t *testing.T) {
		p := NewTokenSourceProvider(identity, failingSource{})
		settled := make(chan *types.Identity, 1)
		defer p.Subscribe(func(id *types.Identity) { settled <- id })()

		if id := <-settled; id != nil {
			t.Fatalf("settled with %v, want nil", id)
		}
		if _, err := p.Token(context.Background(), identity); !errors.Is(err, ErrNoSession) {
			t.Errorf("Token error = %v, want ErrNoSession", err)
		}
	})
}
