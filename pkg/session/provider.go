package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"transithub/pkg/types"

	"golang.org/x/oauth2"
)

// Provider is the identity provider the watcher subscribes to.
type Provider interface {
	// Subscribe registers fn for session changes. A nil identity means no
	// session. The returned func removes the registration.
	Subscribe(fn func(*types.Identity)) (unsubscribe func())

	// Token obtains a bearer token for id. It fails when the session has
	// expired or is absent.
	Token(ctx context.Context, id types.Identity) (string, error)

	SignOut(ctx context.Context) error
}

// broadcaster keeps provider subscriptions in registration order.
type broadcaster struct {
	mu        sync.Mutex
	next      int
	listeners []listener
	settled   bool
	current   *types.Identity
}

type listener struct {
	id int
	fn func(*types.Identity)
}

func (b *broadcaster) subscribe(fn func(*types.Identity)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.listeners = append(b.listeners, listener{id: id, fn: fn})
	settled, current := b.settled, b.current
	b.mu.Unlock()

	if settled {
		fn(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, l := range b.listeners {
				if l.id == id {
					b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *broadcaster) publish(id *types.Identity) {
	b.mu.Lock()
	b.settled = true
	if id != nil {
		cp := *id
		id = &cp
	}
	b.current = id
	fns := make([]func(*types.Identity), len(b.listeners))
	for i, l := range b.listeners {
		fns[i] = l.fn
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}

func (b *broadcaster) identity() *types.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// StaticProvider is an in-memory identity provider. Nothing is delivered to
// subscribers until SetIdentity is called for the first time.
type StaticProvider struct {
	broadcaster

	tokenMu    sync.Mutex
	token      string
	tokenErr   error
	tokenCalls int
}

func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

func (p *StaticProvider) Subscribe(fn func(*types.Identity)) func() {
	return p.subscribe(fn)
}

// SetIdentity signs id in, or signs out when id is nil, and notifies every
// subscriber.
func (p *StaticProvider) SetIdentity(id *types.Identity) {
	p.publish(id)
}

// SetToken changes what subsequent Token calls return.
func (p *StaticProvider) SetToken(token string, err error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()
	p.token = token
	p.tokenErr = err
}

func (p *StaticProvider) Token(ctx context.Context, id types.Identity) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()
	p.tokenCalls++

	current := p.identity()
	if current == nil || current.UID != id.UID {
		return "", ErrNoSession
	}
	if p.tokenErr != nil {
		return "", p.tokenErr
	}
	return p.token, nil
}

// TokenCalls reports how many times Token has been called.
func (p *StaticProvider) TokenCalls() int {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()
	return p.tokenCalls
}

func (p *StaticProvider) SignOut(ctx context.Context) error {
	p.publish(nil)
	return nil
}

// TokenSourceProvider backs a fixed identity with an oauth2.TokenSource. The
// session is considered live for as long as the source yields valid tokens.
type TokenSourceProvider struct {
	broadcaster

	identity types.Identity
	source   oauth2.TokenSource
	once     sync.Once
}

func NewTokenSourceProvider(identity types.Identity, source oauth2.TokenSource) *TokenSourceProvider {
	return &TokenSourceProvider{identity: identity, source: source}
}

// StaticTokenSource returns a source that always yields token.
func StaticTokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// RefreshTokenSource exchanges refreshToken at tokenURL whenever the current
// access token expires.
func RefreshTokenSource(ctx context.Context, tokenURL, clientID, refreshToken string) oauth2.TokenSource {
	cfg := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

// Subscribe registers fn and, on first use, validates the token source in the
// background to settle the initial session state.
func (p *TokenSourceProvider) Subscribe(fn func(*types.Identity)) func() {
	unsubscribe := p.subscribe(fn)
	p.once.Do(func() {
		go func() {
			if _, err := p.source.Token(); err != nil {
				p.publish(nil)
				return
			}
			p.publish(&p.identity)
		}()
	})
	return unsubscribe
}

func (p *TokenSourceProvider) Token(ctx context.Context, id types.Identity) (string, error) {
	current := p.broadcaster.identity()
	if current == nil || current.UID != id.UID {
		return "", ErrNoSession
	}

	tok, err := p.source.Token()
	if err != nil {
		p.publish(nil)
		return "", fmt.Errorf("session expired: %w", err)
	}
	if !tok.Valid() {
		p.publish(nil)
		return "", errors.New("session expired: token source returned an invalid token")
	}
	return tok.AccessToken, nil
}

func (p *TokenSourceProvider) SignOut(ctx context.Context) error {
	p.publish(nil)
	return nil
}
