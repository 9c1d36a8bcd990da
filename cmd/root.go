// Package cmd holds the cart-kiosk CLI: the kiosk daemon itself plus the
// small operator commands for provisioning and session management.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Smart-Cart-System/cart-kiosk/internal/config"
)

var configFlag string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart-kiosk",
		Short: "Smart shopping cart kiosk client",
		Long: "cart-kiosk drives the customer-facing screen of a smart shopping cart:\n" +
			"QR pairing, the live cart view, and checkout.",
		Run: func(cmd *cobra.Command, args []string) {
			runKiosk()
		},
	}
	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file path")

	cmd.AddCommand(provisionCmd())
	cmd.AddCommand(sessionCmd())
	cmd.AddCommand(checkoutCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfigPath honors, in order: the --config flag, the
// CART_KIOSK_CONFIG environment variable, the default location.
func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if env := os.Getenv("CART_KIOSK_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath()
}

// loadConfig loads the resolved config file or exits with a readable error.
func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
