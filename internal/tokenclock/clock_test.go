package tokenclock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signToken builds a token whose buffered deadline lands ttl from now
// (i.e. exp = now + buffer + ttl).
func signToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"cartid": 123,
		"exp":    time.Now().Add(DefaultExpiryBuffer + ttl).Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestTrack_FiresOnceAfterDeadline(t *testing.T) {
	c := New()
	var fired int32

	c.Track(signToken(t, 100*time.Millisecond), func() {
		atomic.AddInt32(&fired, 1)
	}, 10*time.Millisecond)

	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("fired before deadline")
	}

	time.Sleep(300 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Errorf("expected exactly 1 fire, got %d", n)
	}
}

func TestTrack_MalformedTokenFiresSynchronously(t *testing.T) {
	c := New()
	fired := false
	c.Track("not-a-jwt", func() { fired = true }, 10*time.Millisecond)
	if !fired {
		t.Error("malformed token must count as already expired")
	}
}

func TestTrack_AlreadyExpiredFiresSynchronously(t *testing.T) {
	c := New()
	fired := false
	c.Track(signToken(t, -10*time.Second), func() { fired = true }, 10*time.Millisecond)
	if !fired {
		t.Error("expired token must fire synchronously")
	}
}

// Re-tracking before the first deadline must cancel the first poll: the
// callback fires at most once, and only for the second token.
func TestTrack_SupersedeCancelsPreviousPoll(t *testing.T) {
	c := New()
	var firedA, firedB int32

	c.Track(signToken(t, 80*time.Millisecond), func() {
		atomic.AddInt32(&firedA, 1)
	}, 5*time.Millisecond)
	c.Track(signToken(t, 150*time.Millisecond), func() {
		atomic.AddInt32(&firedB, 1)
	}, 5*time.Millisecond)

	time.Sleep(400 * time.Millisecond)

	if n := atomic.LoadInt32(&firedA); n != 0 {
		t.Errorf("superseded token fired %d times", n)
	}
	if n := atomic.LoadInt32(&firedB); n != 1 {
		t.Errorf("expected 1 fire for second token, got %d", n)
	}
}

func TestStop_PreventsFire(t *testing.T) {
	c := New()
	var fired int32
	c.Track(signToken(t, 50*time.Millisecond), func() {
		atomic.AddInt32(&fired, 1)
	}, 5*time.Millisecond)
	c.Stop()

	time.Sleep(200 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Errorf("stopped clock fired %d times", n)
	}
}

func TestExpiresAt(t *testing.T) {
	want := time.Now().Add(30 * time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": want.Unix()})
	signed, err := tok.SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := ExpiresAt(signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Unix() != want.Unix() {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := ExpiresAt("garbage"); err == nil {
		t.Error("expected error for malformed token")
	}

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
	signed, _ = noExp.SignedString([]byte("k"))
	if _, err := ExpiresAt(signed); err == nil {
		t.Error("expected error for missing exp claim")
	}
}
