package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/Smart-Cart-System/cart-kiosk/internal/store"
)

func provisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision [cart-id]",
		Short: "Assign this kiosk to a physical cart",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runProvision(args[0])
		},
	}
	cmd.AddCommand(provisionHashCmd())
	return cmd
}

func runProvision(rawID string) {
	id, err := strconv.Atoi(rawID)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Error: cart id must be a positive integer, got %q\n", rawID)
		os.Exit(1)
	}

	cfg := loadConfig()
	if cfg.Admin.PasswordHash != "" {
		if !promptAdminPassword(cfg.Admin.PasswordHash) {
			fmt.Fprintln(os.Stderr, "Error: admin password does not match")
			os.Exit(1)
		}
	}

	st, err := store.Open(cfg.Kiosk.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %v\n", err)
		os.Exit(1)
	}
	if err := st.Set(store.KeyCartID, strconv.Itoa(id)); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving cart id: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Kiosk provisioned for cart %d.\n", id)
}

func promptAdminPassword(hash string) bool {
	var password string
	inp := huh.NewInput().
		Title("Admin password").
		EchoMode(huh.EchoModePassword).
		Value(&password)
	if err := huh.NewForm(huh.NewGroup(inp)).Run(); err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// --- provision hash ---

func provisionHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Generate a password hash for the admin.password_hash config key",
		Run: func(cmd *cobra.Command, args []string) {
			runProvisionHash()
		},
	}
}

func runProvisionHash() {
	var password string
	inp := huh.NewInput().
		Title("New admin password").
		EchoMode(huh.EchoModePassword).
		Value(&password)
	if err := huh.NewForm(huh.NewGroup(inp)).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if password == "" {
		fmt.Fprintln(os.Stderr, "Error: password must not be empty")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}
