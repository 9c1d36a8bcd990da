package pairing

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Smart-Cart-System/cart-kiosk/pkg/protocol"
)

// sseClient has no timeout: the push channel is a long-lived stream and is
// torn down via context cancellation instead.
var sseClient = &http.Client{}

// listen consumes a text/event-stream until the context is cancelled or the
// stream breaks. Each complete event's data payload is decoded as a push
// event; undecodable payloads are logged and skipped. onErr fires only for
// real failures — a cancelled context is a deliberate close, not an error.
func listen(ctx context.Context, url string, onEvent func(protocol.PushEvent), onErr func(error)) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		onErr(err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := sseClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		onErr(fmt.Errorf("open push channel: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		onErr(fmt.Errorf("push channel: status %d", resp.StatusCode))
		return
	}

	slog.Info("pairing: push channel open", "url", url)

	reader := bufio.NewReader(resp.Body)
	var data []string

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			onErr(fmt.Errorf("push channel read: %w", err))
			return
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			// Blank line terminates an event.
			if len(data) > 0 {
				dispatch(strings.Join(data, "\n"), onEvent)
				data = data[:0]
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		default:
			// event:/id:/retry: fields are irrelevant here; the backend
			// tags its events inside the data payload.
		}
	}
}

func dispatch(payload string, onEvent func(protocol.PushEvent)) {
	ev, err := protocol.DecodePushEvent([]byte(payload))
	if err != nil {
		slog.Warn("pairing: undecodable push event", "error", err)
		return
	}
	onEvent(ev)
}
