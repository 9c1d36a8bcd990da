// Package controller owns the kiosk's session state machine:
//
//	no-cart → no-session → active → thank-you → no-session (loop)
//
// It wires the pairing flow, the persistent session store, the realtime
// channel and the token clock together, and publishes display snapshots for
// the rendering layer. Internal plumbing failures never escape here; they
// resolve to a conservative state (empty cart, expired session) so the
// machine stays well-defined.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Smart-Cart-System/cart-kiosk/internal/api"
	"github.com/Smart-Cart-System/cart-kiosk/internal/bus"
	"github.com/Smart-Cart-System/cart-kiosk/internal/pairing"
	"github.com/Smart-Cart-System/cart-kiosk/internal/realtime"
	"github.com/Smart-Cart-System/cart-kiosk/internal/store"
	"github.com/Smart-Cart-System/cart-kiosk/internal/tokenclock"
	"github.com/Smart-Cart-System/cart-kiosk/pkg/protocol"
)

// Phase is the kiosk's top-level session state.
type Phase string

const (
	PhaseNoCart    Phase = "no-cart"
	PhaseNoSession Phase = "no-session"
	PhaseActive    Phase = "active"
	PhaseThankYou  Phase = "thank-you"
)

// Options tunes controller timing and endpoints.
type Options struct {
	WSBaseURL         string
	TokenPollInterval time.Duration
	ReconnectInterval time.Duration
	ThankYouDwell     time.Duration
	Pairing           pairing.Options
}

// Controller drives the session state machine. Construct with New, run
// with Start, dispose with Stop.
type Controller struct {
	store   *store.SessionStore
	api     *api.Client
	display *bus.DisplayBus
	opts    Options

	flow  *pairing.Flow
	clock *tokenclock.Clock

	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	phase          Phase
	channel        *realtime.Channel
	handlerID      string
	sessionID      string
	cart           api.CartContents
	preview        *api.Item
	weightAdvisory string
	dwellTimer     *time.Timer
	unsubStore     func()
}

// New builds a controller. The store, API client and display bus are shared
// with the rest of the process; the pairing flow and token clock are owned
// here.
func New(st *store.SessionStore, apiClient *api.Client, display *bus.DisplayBus, opts Options) *Controller {
	if opts.ThankYouDwell <= 0 {
		opts.ThankYouDwell = 15 * time.Second
	}

	c := &Controller{
		store:   st,
		api:     apiClient,
		display: display,
		opts:    opts,
		clock:   tokenclock.New(),
		phase:   PhaseNoCart,
		cart:    api.CartContents{Items: []api.CartLine{}},
	}
	c.flow = pairing.New(apiClient, st, opts.Pairing, func(pairing.Snapshot) { c.publish() })
	return c
}

// Start subscribes to the store and begins reconciling. It returns
// immediately; the state machine runs on its own goroutine until Stop or
// context cancellation.
func (c *Controller) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.kick = make(chan struct{}, 1)

	c.mu.Lock()
	c.unsubStore = c.store.Subscribe(func(store.Key, string) { c.scheduleReconcile() })
	c.mu.Unlock()

	go c.loop()
	c.scheduleReconcile()
}

// Stop tears everything down: channel, clock, pairing flow, timers.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	unsub := c.unsubStore
	c.unsubStore = nil
	if c.dwellTimer != nil {
		c.dwellTimer.Stop()
		c.dwellTimer = nil
	}
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.teardownSession()
	c.flow.Stop()
}

// Phase returns the current session phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// RetryPairing re-triggers a pairing credential fetch (the user-facing
// affordance on an expired QR).
func (c *Controller) RetryPairing() {
	c.flow.Retry()
}

// Checkout starts the payment flow for the active session. Completion
// arrives later as a payment-result message, not through this call.
func (c *Controller) Checkout(ctx context.Context) (*api.PaymentHandle, error) {
	c.mu.Lock()
	phase, sid := c.phase, c.sessionID
	c.mu.Unlock()

	if phase != PhaseActive || sid == "" {
		return nil, fmt.Errorf("no active session to check out")
	}
	return c.api.CreatePayment(ctx, sid)
}

// scheduleReconcile requests a reconcile pass; coalesces if one is pending.
func (c *Controller) scheduleReconcile() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Controller) loop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.kick:
			c.reconcile()
		}
	}
}

// reconcile is the single authoritative transition function: it compares
// the store's contents against the current phase and moves the machine.
func (c *Controller) reconcile() {
	snap := c.store.Snapshot()

	c.mu.Lock()
	phase := c.phase
	curSession := c.sessionID
	c.mu.Unlock()

	switch {
	case snap.CartID == "":
		if phase != PhaseNoCart {
			c.enterNoCart()
		}
	case snap.SessionID == "" || snap.AuthToken == "":
		if phase != PhaseNoSession {
			c.enterNoSession(snap.CartID)
		}
	case phase == PhaseThankYou:
		// Holding the thank-you screen; the dwell timer clears the
		// session pair and loops us back around.
	default:
		if phase != PhaseActive || curSession != snap.SessionID {
			c.enterActive(snap)
		}
	}

	c.publish()
}

func (c *Controller) enterNoCart() {
	slog.Info("session: waiting for cart provisioning")
	c.teardownSession()
	c.flow.Stop()

	c.mu.Lock()
	c.phase = PhaseNoCart
	c.clearTransientLocked()
	c.mu.Unlock()
}

func (c *Controller) enterNoSession(cartID string) {
	slog.Info("session: waiting for customer pairing", "cart", cartID)
	c.teardownSession()

	c.mu.Lock()
	c.phase = PhaseNoSession
	c.clearTransientLocked()
	c.mu.Unlock()

	c.flow.Start(cartID)
}

func (c *Controller) enterActive(snap store.Session) {
	slog.Info("session: active", "session", snap.SessionID)
	c.flow.Stop()
	// The previous session's channel must be fully gone before a new one
	// opens; two channels for two session ids never coexist.
	c.teardownSession()

	c.clock.Track(snap.AuthToken, c.onTokenExpired, c.opts.TokenPollInterval)
	cart := c.api.FetchCartItems(c.ctx, snap.SessionID)

	ch := realtime.NewWithOptions(c.opts.WSBaseURL, snap.SessionID, c.opts.ReconnectInterval)
	handlerID := ch.AddHandler(c.handleMessage)

	c.mu.Lock()
	c.phase = PhaseActive
	c.sessionID = snap.SessionID
	c.cart = cart
	c.channel = ch
	c.handlerID = handlerID
	c.mu.Unlock()
}

func (c *Controller) enterThankYou() {
	slog.Info("session: payment complete")
	c.teardownSession()

	c.mu.Lock()
	c.phase = PhaseThankYou
	c.clearTransientLocked()
	if c.dwellTimer != nil {
		c.dwellTimer.Stop()
	}
	c.dwellTimer = time.AfterFunc(c.opts.ThankYouDwell, c.finishThankYou)
	c.mu.Unlock()

	c.publish()
}

// finishThankYou clears the session pair after the thank-you dwell; the
// store notification loops the machine back to no-session.
func (c *Controller) finishThankYou() {
	if err := c.store.Clear(store.KeySessionID, store.KeyAuthToken); err != nil {
		slog.Error("session: post-payment clear failed", "error", err)
	}
	c.scheduleReconcile()
}

// onTokenExpired handles auth expiry as a state transition, not an error:
// channel down first, then transient state, then the stored pair. The cart
// ID stays for the next customer.
func (c *Controller) onTokenExpired() {
	slog.Info("session: auth token expired, resetting")
	c.teardownSession()

	c.mu.Lock()
	c.clearTransientLocked()
	c.mu.Unlock()

	if err := c.store.Clear(store.KeySessionID, store.KeyAuthToken); err != nil {
		slog.Error("session: expiry clear failed", "error", err)
	}
	c.scheduleReconcile()
}

// teardownSession closes the realtime channel and stops the token clock.
// Safe to call when nothing is open.
func (c *Controller) teardownSession() {
	c.mu.Lock()
	ch := c.channel
	handlerID := c.handlerID
	c.channel = nil
	c.handlerID = ""
	c.sessionID = ""
	c.mu.Unlock()

	c.clock.Stop()
	if ch != nil {
		ch.RemoveHandler(handlerID)
		ch.Disconnect()
	}
}

// clearTransientLocked resets per-session display state. Caller holds c.mu.
func (c *Controller) clearTransientLocked() {
	c.cart = api.CartContents{Items: []api.CartLine{}}
	c.preview = nil
	c.weightAdvisory = ""
}

// handleMessage reacts to realtime channel messages while active. Unknown
// message types are deliberate no-ops for forward compatibility.
func (c *Controller) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeCartUpdated:
		// A confirmed cart change also resolves any pending weight fault.
		c.mu.Lock()
		c.weightAdvisory = ""
		sid := c.sessionID
		c.mu.Unlock()
		go c.refreshCart(sid)

	case protocol.TypeItemRead:
		barcode, ok := msg.Barcode()
		if !ok {
			slog.Warn("session: item-read without a usable barcode")
			return
		}
		go c.previewItem(barcode)

	case protocol.TypeWeightIncreased, protocol.TypeWeightDecreased:
		c.mu.Lock()
		c.weightAdvisory = msg.WeightDirection()
		c.mu.Unlock()
		slog.Warn("session: weight fault", "direction", msg.WeightDirection())
		c.publish()

	case protocol.TypePaymentResult:
		if msg.PaymentSuccess() {
			c.enterThankYou()
		} else {
			slog.Warn("session: payment did not complete")
		}

	case protocol.TypeConnectionEstablished:
		slog.Info("session: realtime channel acknowledged")
		c.publish()

	default:
		slog.Debug("session: ignoring message", "type", msg.Type)
	}
}

func (c *Controller) refreshCart(sessionID string) {
	if sessionID == "" {
		return
	}
	cart := c.api.FetchCartItems(c.ctx, sessionID)

	c.mu.Lock()
	if c.sessionID != sessionID {
		c.mu.Unlock()
		return // session changed underneath the fetch
	}
	c.cart = cart
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) previewItem(barcode int64) {
	item, err := c.api.FetchItem(c.ctx, barcode)
	if err != nil {
		slog.Warn("session: item lookup failed", "barcode", barcode, "error", err)
		return
	}

	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	c.preview = item // auto-replaces any prior preview
	c.mu.Unlock()
	c.publish()
}

// publish pushes a display snapshot to the bus.
func (c *Controller) publish() {
	pairSnap := c.flow.Snapshot()

	c.mu.Lock()
	state := bus.DisplayState{
		Phase:          string(c.phase),
		PairingPhase:   string(pairSnap.Phase),
		PairingQR:      pairSnap.QRTerminal,
		PairingErr:     pairSnap.Err,
		Cart:           c.cart,
		Preview:        c.preview,
		WeightAdvisory: c.weightAdvisory,
		Connection:     string(realtime.StateDisconnected),
	}
	ch := c.channel
	c.mu.Unlock()

	if ch != nil {
		state.Connection = string(ch.State())
	}
	c.display.Publish(state)
}
