// Package pairing implements the kiosk's session-establishment flow.
//
// The flow:
//  1. Fetches a short-lived pairing credential for the cart
//  2. Renders it as a QR code for the customer's companion app
//  3. Listens on the backend's push channel (SSE) scoped to the cart
//  4. On a session-started event, writes the session pair to the store
//     exactly once and closes the listener
//
// The credential carries its own expiry; when it lapses the QR grays out
// and the customer can trigger a fresh one. A fully expired flow falls back
// to idle after a dwell so the kiosk never shows a stale code forever.
package pairing

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Smart-Cart-System/cart-kiosk/internal/api"
	"github.com/Smart-Cart-System/cart-kiosk/internal/store"
	"github.com/Smart-Cart-System/cart-kiosk/internal/tokenclock"
	"github.com/Smart-Cart-System/cart-kiosk/pkg/protocol"
)

// Phase is the pairing flow's display state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseShowing  Phase = "showing"
	PhaseExpired  Phase = "expired"
)

const (
	// defaultCredentialPoll is how often the credential clock re-checks
	// expiry. Pairing credentials live well under a minute, so the poll is
	// tight.
	defaultCredentialPoll = time.Second
	// defaultExpiredDwell is how long an expired QR stays on screen before
	// the flow resets fully to idle.
	defaultExpiredDwell = 60 * time.Second
)

// Options tunes flow timing; zero values take the defaults above.
type Options struct {
	CredentialPoll time.Duration
	ExpiredDwell   time.Duration
}

// Snapshot is what the rendering layer needs to draw the pairing screen.
type Snapshot struct {
	Phase      Phase
	Credential string
	QRTerminal string
	Err        string
}

// Flow drives one cart's pairing lifecycle. Safe for concurrent use.
type Flow struct {
	api      *api.Client
	store    *store.SessionStore
	clock    *tokenclock.Clock
	opts     Options
	onChange func(Snapshot)

	mu         sync.Mutex
	cartID     string
	phase      Phase
	credential string
	qrTerminal string
	errMsg     string
	consumed   bool
	gen        uint64 // credential generation; stale callbacks check it and bail
	sseCancel  context.CancelFunc
	dwellTimer *time.Timer
	ctx        context.Context
	cancel     context.CancelFunc
}

// New creates a pairing flow. onChange (optional) fires on every state
// change with a fresh snapshot, outside the flow's lock.
func New(apiClient *api.Client, st *store.SessionStore, opts Options, onChange func(Snapshot)) *Flow {
	if opts.CredentialPoll <= 0 {
		opts.CredentialPoll = defaultCredentialPoll
	}
	if opts.ExpiredDwell <= 0 {
		opts.ExpiredDwell = defaultExpiredDwell
	}
	return &Flow{
		api:      apiClient,
		store:    st,
		clock:    tokenclock.New(),
		opts:     opts,
		onChange: onChange,
		phase:    PhaseIdle,
	}
}

// Start begins pairing for a cart: fetches a credential and opens the push
// listener. Calling Start on a running flow restarts it.
func (f *Flow) Start(cartID string) {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.cartID = cartID
	f.mu.Unlock()

	go f.requestCredential()
}

// Retry re-fetches a credential. It is the user-facing affordance on an
// expired (or errored) QR; a no-op while one is being fetched or shown.
func (f *Flow) Retry() {
	f.mu.Lock()
	ok := f.phase == PhaseIdle || f.phase == PhaseExpired
	f.mu.Unlock()
	if ok {
		go f.requestCredential()
	}
}

// Stop tears the flow down: cancels the push listener, the credential
// clock, and any dwell timer. The flow returns to idle.
func (f *Flow) Stop() {
	f.clock.Stop()
	f.setState(func() {
		f.gen++
		if f.cancel != nil {
			f.cancel()
			f.cancel = nil
		}
		f.closeListenerLocked()
		f.stopDwellLocked()
		f.phase = PhaseIdle
		f.credential = ""
		f.qrTerminal = ""
		f.errMsg = ""
	})
}

// Snapshot returns the current display state.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Flow) requestCredential() {
	f.mu.Lock()
	if f.phase == PhaseFetching || f.ctx == nil {
		f.mu.Unlock()
		return
	}
	ctx := f.ctx
	cartID := f.cartID
	f.closeListenerLocked()
	f.stopDwellLocked()
	f.phase = PhaseFetching
	f.errMsg = ""
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	cred, err := f.api.FetchPairingCredential(ctx, cartID)
	if ctx.Err() != nil {
		return // flow stopped while fetching
	}
	if err != nil {
		slog.Warn("pairing: credential fetch failed", "cart", cartID, "error", err)
		f.setState(func() {
			f.phase = PhaseIdle
			f.errMsg = "Could not reach the pairing service. Tap to retry."
		})
		return
	}

	var gen uint64
	stopped := false
	f.setState(func() {
		if ctx.Err() != nil {
			stopped = true
			return
		}
		f.gen++
		gen = f.gen
		f.credential = cred
		f.qrTerminal = TerminalQR(cred)
		f.consumed = false
		f.phase = PhaseShowing

		listenCtx, cancel := context.WithCancel(ctx)
		f.sseCancel = cancel
		url := f.api.BaseURL() + "/sse/" + cartID
		go listen(listenCtx, url,
			func(ev protocol.PushEvent) { f.handlePushEvent(gen, ev) },
			func(err error) { f.listenerError(gen, err) },
		)
	})
	if stopped {
		return
	}

	slog.Info("pairing: credential shown", "cart", cartID)
	f.clock.Track(cred, func() { f.credentialExpired(gen) }, f.opts.CredentialPoll)
}

// credentialExpired moves showing → expired and arms the idle dwell.
func (f *Flow) credentialExpired(gen uint64) {
	f.setState(func() {
		if gen != f.gen || f.phase != PhaseShowing {
			return
		}
		slog.Info("pairing: credential expired", "cart", f.cartID)
		f.phase = PhaseExpired
		f.closeListenerLocked()
		f.dwellTimer = time.AfterFunc(f.opts.ExpiredDwell, func() {
			f.setState(func() {
				if gen != f.gen || f.phase != PhaseExpired {
					return
				}
				f.phase = PhaseIdle
				f.credential = ""
				f.qrTerminal = ""
			})
		})
	})
}

// handlePushEvent consumes a session-started event at most once per
// credential. Redeliveries and events for superseded credentials are
// ignored so an established session is never overwritten.
func (f *Flow) handlePushEvent(gen uint64, ev protocol.PushEvent) {
	if ev.EventType != protocol.EventSessionStarted {
		return
	}

	f.mu.Lock()
	if gen != f.gen || f.consumed {
		f.mu.Unlock()
		slog.Debug("pairing: ignoring redelivered session event", "session", ev.SessionID)
		return
	}
	f.consumed = true
	f.mu.Unlock()

	// Store write happens outside the lock: its subscribers run
	// synchronously and may call back into this flow.
	err := f.store.SetSession(strconv.FormatInt(ev.SessionID, 10), ev.Token)
	if err != nil {
		slog.Error("pairing: session write failed", "error", err)
		f.setState(func() {
			if gen == f.gen {
				f.consumed = false
				f.errMsg = "Could not save the session. Tap to retry."
			}
		})
		return
	}

	slog.Info("pairing: session established", "session", ev.SessionID)
	f.clock.Stop()
	f.setState(func() {
		if gen != f.gen {
			return
		}
		f.closeListenerLocked()
		f.stopDwellLocked()
		f.phase = PhaseIdle
		f.credential = ""
		f.qrTerminal = ""
		f.errMsg = ""
	})
}

// listenerError surfaces push-channel failures. Errors after the credential
// expired are expected noise and swallowed.
func (f *Flow) listenerError(gen uint64, err error) {
	f.setState(func() {
		if gen != f.gen {
			return
		}
		if f.phase != PhaseShowing {
			slog.Debug("pairing: push listener error after expiry", "error", err)
			return
		}
		slog.Warn("pairing: push listener error", "error", err)
		f.errMsg = "Connection error. Please try again."
	})
}

// setState runs mutate under the lock, then notifies outside it.
func (f *Flow) setState(mutate func()) {
	f.mu.Lock()
	mutate()
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)
}

func (f *Flow) notify(snap Snapshot) {
	if f.onChange != nil {
		f.onChange(snap)
	}
}

func (f *Flow) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:      f.phase,
		Credential: f.credential,
		QRTerminal: f.qrTerminal,
		Err:        f.errMsg,
	}
}

// closeListenerLocked cancels the push listener if one is open. Caller holds f.mu.
func (f *Flow) closeListenerLocked() {
	if f.sseCancel != nil {
		f.sseCancel()
		f.sseCancel = nil
	}
}

// stopDwellLocked cancels the expired-dwell timer. Caller holds f.mu.
func (f *Flow) stopDwellLocked() {
	if f.dwellTimer != nil {
		f.dwellTimer.Stop()
		f.dwellTimer = nil
	}
}
