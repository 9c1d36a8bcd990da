package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Smart-Cart-System/cart-kiosk/internal/store"
	"github.com/Smart-Cart-System/cart-kiosk/internal/tokenclock"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset the kiosk's stored session",
	}
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionResetCmd())
	return cmd
}

func sessionShowCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored cart id and session",
		Run: func(cmd *cobra.Command, args []string) {
			runSessionShow(jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runSessionShow(jsonOutput bool) {
	snap := openStore().Snapshot()

	if jsonOutput {
		out := map[string]any{
			"cart_id":    snap.CartID,
			"session_id": snap.SessionID,
			"has_token":  snap.AuthToken != "",
		}
		if exp, err := tokenclock.ExpiresAt(snap.AuthToken); err == nil {
			out["token_expires_at"] = exp
		}
		json.NewEncoder(os.Stdout).Encode(out)
		return
	}

	if snap.CartID == "" {
		fmt.Println("Kiosk is not provisioned.")
		return
	}
	fmt.Printf("Cart:    %s\n", snap.CartID)
	if snap.SessionID == "" {
		fmt.Println("Session: none (waiting for pairing)")
		return
	}
	fmt.Printf("Session: %s\n", snap.SessionID)
	if exp, err := tokenclock.ExpiresAt(snap.AuthToken); err == nil {
		fmt.Printf("Token:   expires %s\n", exp.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Token:   unreadable")
	}
}

func sessionResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the active session (keeps the cart assignment)",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			if err := st.Clear(store.KeySessionID, store.KeyAuthToken); err != nil {
				fmt.Fprintf(os.Stderr, "Error clearing session: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Session cleared.")
		},
	}
}

func openStore() *store.SessionStore {
	cfg := loadConfig()
	st, err := store.Open(cfg.Kiosk.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %v\n", err)
		os.Exit(1)
	}
	return st
}
