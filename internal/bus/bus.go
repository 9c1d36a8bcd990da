// Package bus broadcasts kiosk display state from the session controller to
// any number of rendering consumers (the terminal screen, tests, future
// remote displays).
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Smart-Cart-System/cart-kiosk/internal/api"
)

// DisplayState is everything a renderer needs to draw the kiosk screen.
type DisplayState struct {
	Phase string // session phase: no-cart, no-session, active, thank-you

	// Pairing screen
	PairingPhase   string
	PairingQR      string
	PairingErr     string

	// Active-session screen
	Cart           api.CartContents
	Preview        *api.Item
	WeightAdvisory string // "", "increased", "decreased"
	Connection     string // realtime channel state
}

// DisplayBus fans DisplayState snapshots out to subscribers.
type DisplayBus struct {
	mu   sync.RWMutex
	subs map[string]func(DisplayState)
	last DisplayState
	seen bool
}

func New() *DisplayBus {
	return &DisplayBus{subs: make(map[string]func(DisplayState))}
}

// Subscribe registers a consumer and immediately replays the latest
// snapshot to it, if any. Returns the subscriber ID for Unsubscribe.
func (b *DisplayBus) Subscribe(fn func(DisplayState)) string {
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = fn
	replay := b.seen
	last := b.last
	b.mu.Unlock()

	if replay {
		fn(last)
	}
	return id
}

// Unsubscribe removes a consumer.
func (b *DisplayBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish sends a snapshot to all subscribers. Handlers should be
// non-blocking.
func (b *DisplayBus) Publish(state DisplayState) {
	b.mu.Lock()
	b.last = state
	b.seen = true
	subs := make([]func(DisplayState), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// Last returns the most recent snapshot and whether one was ever published.
func (b *DisplayBus) Last() (DisplayState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.seen
}
