package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/Smart-Cart-System/cart-kiosk/internal/api"
	"github.com/Smart-Cart-System/cart-kiosk/internal/bus"
	"github.com/Smart-Cart-System/cart-kiosk/internal/config"
	"github.com/Smart-Cart-System/cart-kiosk/internal/controller"
	"github.com/Smart-Cart-System/cart-kiosk/internal/pairing"
	"github.com/Smart-Cart-System/cart-kiosk/internal/render"
	"github.com/Smart-Cart-System/cart-kiosk/internal/store"
)

// clearScreen moves the cursor home and wipes the terminal before a frame.
const clearScreen = "\x1b[2J\x1b[H"

// runKiosk is the long-running kiosk process: it owns the screen and runs
// until interrupted.
func runKiosk() {
	cfg := loadConfig()

	st, err := store.Open(cfg.Kiosk.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	apiClient := api.New(cfg.Backend.BaseURL, func() string {
		tok, _ := st.Get(store.KeyAuthToken)
		return tok
	})

	display := bus.New()
	frames := bus.NewCoalescer(cfg.Kiosk.RedrawWindow, func(state bus.DisplayState) {
		fmt.Fprint(os.Stdout, clearScreen+render.Screen(state))
	})
	display.Subscribe(frames.Push)

	ctl := controller.New(st, apiClient, display, controller.Options{
		WSBaseURL:         cfg.Backend.WSURL,
		TokenPollInterval: cfg.Kiosk.TokenPollInterval,
		ReconnectInterval: cfg.Kiosk.ReconnectInterval,
		ThankYouDwell:     cfg.Kiosk.ThankYouDwell,
		Pairing:           pairing.Options{ExpiredDwell: cfg.Kiosk.ExpiredQRDwell},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctl.Start(ctx)
	go readKeys(ctx, cancel, ctl)

	watcher := watchConfig(cfg)

	<-ctx.Done()
	slog.Info("kiosk: shutting down")
	if watcher != nil {
		watcher.Stop()
	}
	ctl.Stop()
	frames.Stop()
	fmt.Fprint(os.Stdout, clearScreen)
}

// readKeys handles the kiosk's minimal keyboard surface: r retries an
// expired QR, c starts checkout, q quits. Input is line-buffered.
func readKeys(ctx context.Context, quit context.CancelFunc, ctl *controller.Controller) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch sc.Text() {
		case "r":
			ctl.RetryPairing()
		case "c":
			handle, err := ctl.Checkout(ctx)
			if err != nil {
				slog.Warn("kiosk: checkout refused", "error", err)
				continue
			}
			slog.Info("kiosk: payment created", "url", handle.PaymentURL)
		case "q":
			quit()
			return
		}
	}
}

// watchConfig hot-watches the config file. Backend and timing settings are
// bound at startup, so for now a change only logs a restart notice; the
// watch keeps broken edits from going unnoticed until the next reboot.
func watchConfig(current *config.Config) *config.Watcher {
	watcher, err := config.NewWatcher(resolveConfigPath())
	if err != nil {
		slog.Warn("kiosk: config watch unavailable", "error", err)
		return nil
	}
	watcher.OnChange(func(next *config.Config) {
		if next.Backend != current.Backend || next.Kiosk != current.Kiosk {
			slog.Warn("kiosk: config changed on disk, restart to apply")
		}
	})
	if err := watcher.Start(); err != nil {
		slog.Warn("kiosk: config watch failed to start", "error", err)
		return nil
	}
	return watcher
}

// setupLogging sends logs to a file next to the state file. The kiosk owns
// the terminal for its screen; interleaving log lines would corrupt it.
func setupLogging(cfg *config.Config) {
	dir := filepath.Dir(cfg.Kiosk.StatePath)
	var out io.Writer = os.Stderr
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Warn("kiosk: cannot create state directory", "error", err)
	}
	if f, err := os.OpenFile(filepath.Join(dir, "kiosk.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
		out = f
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, nil)))
}
