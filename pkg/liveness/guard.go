// Package liveness fences asynchronous continuations. Requests are not
// cancelled on teardown, so every continuation must pass through a Guard
// before it writes component state.
package liveness

import "sync"

// Ticket identifies one asynchronous operation issued by a Guard.
type Ticket struct {
	Gen   uint64
	Epoch uint64
}

// Guard tracks whether its owning component is still alive, hands out
// monotonically increasing generations, and decides which results may commit.
// The zero value is an alive guard.
type Guard struct {
	mu      sync.Mutex
	dead    bool
	epoch   uint64
	next    uint64
	applied uint64
}

func New() *Guard {
	return &Guard{}
}

// Begin issues a ticket for a new operation.
func (g *Guard) Begin() Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return Ticket{Gen: g.next, Epoch: g.epoch}
}

// Alive reports whether the owner has not been torn down.
func (g *Guard) Alive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.dead
}

// Kill marks the owner as torn down. Once Kill returns no further Apply or
// ApplyLatest call runs its function.
func (g *Guard) Kill() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dead = true
}

// Reset invalidates every outstanding ticket without killing the guard.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.epoch++
	g.applied = g.next
}

// Apply runs fn if the guard is alive and the ticket belongs to the current
// epoch. It reports whether fn ran.
func (g *Guard) Apply(t Ticket, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dead || t.Epoch != g.epoch {
		return false
	}
	fn()
	return true
}

// ApplyLatest is Apply with newest-wins fencing: a ticket older than one that
// has already committed is dropped.
func (g *Guard) ApplyLatest(t Ticket, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dead || t.Epoch != g.epoch || t.Gen <= g.applied {
		return false
	}
	g.applied = t.Gen
	fn()
	return true
}
