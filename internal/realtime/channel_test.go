package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Smart-Cart-System/cart-kiosk/pkg/protocol"
)

// wsServer is a minimal backend stand-in: it accepts websocket upgrades on
// any path and exposes each accepted connection.
type wsServer struct {
	srv      *httptest.Server
	accepted chan *websocket.Conn
	open     int32
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{accepted: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}

	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&ws.open, 1)
		ws.accepted <- conn
		go func() {
			// Drain until the client goes away.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
			atomic.AddInt32(&ws.open, -1)
		}()
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) openCount() int {
	return int(atomic.LoadInt32(&ws.open))
}

// waitFor polls cond for up to a second.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandlerRefCounting(t *testing.T) {
	ws := newWSServer(t)
	ch := NewWithOptions(ws.wsURL(), "42", 20*time.Millisecond)

	if ch.State() != StateDisconnected {
		t.Fatal("channel must start disconnected")
	}

	id1 := ch.AddHandler(func(protocol.Message) {})
	waitFor(t, "connection open", func() bool { return ch.State() == StateOpen })
	if ws.openCount() != 1 {
		t.Errorf("expected 1 server connection, got %d", ws.openCount())
	}

	id2 := ch.AddHandler(func(protocol.Message) {})
	if ws.openCount() != 1 {
		t.Errorf("second handler must reuse the connection, got %d", ws.openCount())
	}

	// Removing one of two handlers keeps the connection.
	ch.RemoveHandler(id1)
	time.Sleep(50 * time.Millisecond)
	if ch.State() != StateOpen || ws.openCount() != 1 {
		t.Errorf("connection must survive while a handler remains: state=%s open=%d", ch.State(), ws.openCount())
	}

	// Removing the last handler closes it, and no reconnect follows.
	ch.RemoveHandler(id2)
	waitFor(t, "connection close", func() bool { return ws.openCount() == 0 })
	if ch.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", ch.State())
	}

	time.Sleep(100 * time.Millisecond) // several reconnect intervals
	if ws.openCount() != 0 {
		t.Error("reconnect was scheduled after last handler removal")
	}
}

func TestDispatch_ArrivalOrderAndGreetingRemap(t *testing.T) {
	ws := newWSServer(t)
	ch := NewWithOptions(ws.wsURL(), "42", 20*time.Millisecond)

	var mu sync.Mutex
	var got []string
	id := ch.AddHandler(func(m protocol.Message) {
		mu.Lock()
		got = append(got, m.Type)
		mu.Unlock()
	})
	defer ch.RemoveHandler(id)

	conn := <-ws.accepted
	conn.WriteMessage(websocket.TextMessage, []byte(`{"Message":"Web socket connection established"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"cart-updated"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"weight increased"}`))

	waitFor(t, "three frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{protocol.TypeConnectionEstablished, protocol.TypeCartUpdated, protocol.TypeWeightIncreased}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDispatch_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	ws := newWSServer(t)
	ch := NewWithOptions(ws.wsURL(), "42", 20*time.Millisecond)

	var delivered int32
	id1 := ch.AddHandler(func(protocol.Message) { panic("boom") })
	id2 := ch.AddHandler(func(protocol.Message) { atomic.AddInt32(&delivered, 1) })
	defer ch.RemoveHandler(id1)
	defer ch.RemoveHandler(id2)

	conn := <-ws.accepted
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"cart-updated"}`))

	waitFor(t, "delivery past panic", func() bool { return atomic.LoadInt32(&delivered) == 1 })
	if ch.State() != StateOpen {
		t.Errorf("panic must not kill the channel, state=%s", ch.State())
	}
}

func TestRemovedHandlerSeesNoFurtherFrames(t *testing.T) {
	ws := newWSServer(t)
	ch := NewWithOptions(ws.wsURL(), "42", 20*time.Millisecond)

	var first, second int32
	id1 := ch.AddHandler(func(protocol.Message) { atomic.AddInt32(&first, 1) })
	id2 := ch.AddHandler(func(protocol.Message) { atomic.AddInt32(&second, 1) })
	defer ch.RemoveHandler(id2)

	conn := <-ws.accepted
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"cart-updated"}`))
	waitFor(t, "first frame", func() bool { return atomic.LoadInt32(&second) == 1 })

	ch.RemoveHandler(id1)
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"cart-updated"}`))
	waitFor(t, "second frame", func() bool { return atomic.LoadInt32(&second) == 2 })

	if n := atomic.LoadInt32(&first); n != 1 {
		t.Errorf("removed handler received %d frames, want 1", n)
	}
}

func TestReconnectAfterServerClose(t *testing.T) {
	ws := newWSServer(t)
	ch := NewWithOptions(ws.wsURL(), "42", 20*time.Millisecond)

	id := ch.AddHandler(func(protocol.Message) {})
	defer ch.RemoveHandler(id)

	conn := <-ws.accepted
	conn.Close()

	// The channel must come back on its own after the flat backoff.
	select {
	case <-ws.accepted:
	case <-time.After(time.Second):
		t.Fatal("channel did not reconnect")
	}
	waitFor(t, "reopen", func() bool { return ch.State() == StateOpen })
}

func TestDisconnect_Terminal(t *testing.T) {
	ws := newWSServer(t)
	ch := NewWithOptions(ws.wsURL(), "42", 20*time.Millisecond)

	ch.AddHandler(func(protocol.Message) {})
	<-ws.accepted

	ch.Disconnect()
	waitFor(t, "close", func() bool { return ws.openCount() == 0 })

	if ch.HandlerCount() != 0 {
		t.Error("disconnect must clear all handlers")
	}

	// A disposed channel must not resurrect, even if poked.
	ch.AddHandler(func(protocol.Message) {})
	ch.Connect()
	time.Sleep(100 * time.Millisecond)
	if ws.openCount() != 0 {
		t.Error("disposed channel reconnected")
	}
	if ch.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", ch.State())
	}
}

func TestDialFailureKeepsRetryingUntilHandlersLeave(t *testing.T) {
	// Point at a closed port: every dial fails.
	ch := NewWithOptions("ws://127.0.0.1:1", "42", 10*time.Millisecond)

	id := ch.AddHandler(func(protocol.Message) {})
	time.Sleep(60 * time.Millisecond)

	st := ch.State()
	if st != StateConnecting && st != StateReconnectPending {
		t.Errorf("expected an in-progress state, got %s", st)
	}

	ch.RemoveHandler(id)
	waitFor(t, "settle", func() bool { return ch.State() == StateDisconnected })
}
