// Package tokenclock watches a bearer token's expiry claim and fires a
// callback once the (buffered) deadline is crossed.
package tokenclock

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiryBuffer is subtracted from the token deadline to absorb
// network latency: a token is treated as expired 5s early rather than late.
const DefaultExpiryBuffer = 5 * time.Second

// DefaultPollInterval is how often the clock re-checks the deadline.
const DefaultPollInterval = 30 * time.Second

// Clock tracks at most one token at a time. Calling Track again supersedes
// the previous token: the old poll can never fire afterward.
type Clock struct {
	mu     sync.Mutex
	gen    uint64
	cancel chan struct{}
	buffer time.Duration
}

// New creates a clock with the default expiry buffer.
func New() *Clock {
	return &Clock{buffer: DefaultExpiryBuffer}
}

// Track decodes the token's exp claim and arranges for onExpired to run
// exactly once when the buffered deadline passes. A malformed token counts
// as already expired and fires synchronously. Any poll started by a previous
// Track call is cancelled first.
func (c *Clock) Track(token string, onExpired func(), pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		close(c.cancel)
	}
	cancel := make(chan struct{})
	c.cancel = cancel
	c.mu.Unlock()

	deadline, err := ExpiresAt(token)
	if err != nil {
		slog.Warn("token clock: decode failed, treating as expired", "error", err)
		c.fire(gen, cancel, onExpired)
		return
	}

	threshold := deadline.Add(-c.buffer)
	if !time.Now().Before(threshold) {
		c.fire(gen, cancel, onExpired)
		return
	}

	go c.poll(gen, cancel, threshold, onExpired, pollInterval)
}

// Stop cancels any pending poll. The callback will not fire afterward.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
}

func (c *Clock) poll(gen uint64, cancel chan struct{}, threshold time.Time, onExpired func(), interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			if !time.Now().Before(threshold) {
				c.fire(gen, cancel, onExpired)
				return
			}
		}
	}
}

// fire invokes the callback unless this generation has been superseded.
func (c *Clock) fire(gen uint64, cancel chan struct{}, onExpired func()) {
	c.mu.Lock()
	live := gen == c.gen
	c.mu.Unlock()
	if !live {
		return
	}
	select {
	case <-cancel:
		return
	default:
	}
	onExpired()
}

// ExpiresAt extracts the exp claim from a JWT without verifying its
// signature. The kiosk never trusts the token's contents beyond the
// deadline; verification is the backend's job.
func ExpiresAt(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return exp.Time, nil
}
