package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Smart-Cart-System/cart-kiosk/internal/api"
	"github.com/Smart-Cart-System/cart-kiosk/internal/store"
)

func checkoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout",
		Short: "Start payment for the stored session",
		Long: "Creates a payment for the current session directly against the backend.\n" +
			"Useful when the kiosk screen is not running; the payment result still\n" +
			"arrives on the realtime channel.",
		Run: func(cmd *cobra.Command, args []string) {
			runCheckout()
		},
	}
}

func runCheckout() {
	cfg := loadConfig()
	st, err := store.Open(cfg.Kiosk.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %v\n", err)
		os.Exit(1)
	}

	snap := st.Snapshot()
	if snap.SessionID == "" {
		fmt.Fprintln(os.Stderr, "Error: no active session to check out")
		os.Exit(1)
	}

	apiClient := api.New(cfg.Backend.BaseURL, func() string {
		tok, _ := st.Get(store.KeyAuthToken)
		return tok
	})
	handle, err := apiClient.CreatePayment(context.Background(), snap.SessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating payment: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Payment %s (%s)\n", handle.PaymentID, handle.Status)
	if handle.PaymentURL != "" {
		fmt.Printf("Complete it at: %s\n", handle.PaymentURL)
	}
}
