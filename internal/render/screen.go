// Package render draws the kiosk screen from display snapshots. The kiosk
// runs full-screen on a terminal, so every state change produces one
// complete frame; there is no incremental drawing.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Smart-Cart-System/cart-kiosk/internal/bus"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	hintStyle = lipgloss.NewStyle().Faint(true)

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("203")).
			Padding(0, 1)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2)

	totalStyle = lipgloss.NewStyle().Bold(true)

	footerStyle = lipgloss.NewStyle().Faint(true).PaddingTop(1)
)

// Screen renders one full frame for the given display state.
func Screen(s bus.DisplayState) string {
	var body string
	switch s.Phase {
	case "no-cart":
		body = noCartScreen()
	case "no-session":
		body = pairingScreen(s)
	case "active":
		body = activeScreen(s)
	case "thank-you":
		body = thankYouScreen()
	default:
		body = noCartScreen()
	}

	footer := footerStyle.Render("connection: " + s.Connection)
	if s.Phase != "active" {
		footer = ""
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer) + "\n"
}

func noCartScreen() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Cart not provisioned"),
		hintStyle.Render("Run `cart-kiosk provision <cart-id>` to assign this kiosk to a cart."),
	)
}

func pairingScreen(s bus.DisplayState) string {
	var lines []string
	switch s.PairingPhase {
	case "fetching":
		lines = append(lines, titleStyle.Render("Preparing your QR code..."))
	case "showing":
		lines = append(lines,
			titleStyle.Render("Scan to start shopping"),
			s.PairingQR,
		)
	case "expired":
		lines = append(lines,
			titleStyle.Render("QR code expired"),
			hintStyle.Render("Press r to get a fresh code."),
		)
	default:
		lines = append(lines, titleStyle.Render("Getting ready..."))
	}

	if s.PairingErr != "" {
		lines = append(lines, warnStyle.Render(s.PairingErr))
	}
	return lipgloss.JoinVertical(lipgloss.Center, lines...)
}

func activeScreen(s bus.DisplayState) string {
	var lines []string
	lines = append(lines, titleStyle.Render("Your cart"))

	if len(s.Cart.Items) == 0 {
		lines = append(lines, hintStyle.Render("Cart is empty. Scan an item to begin."))
	} else {
		var rows strings.Builder
		for _, it := range s.Cart.Items {
			fmt.Fprintf(&rows, "%-28s x%-3d %8.2f\n", clip(it.Name, 28), it.Quantity, it.Price)
		}
		lines = append(lines, rows.String())
		lines = append(lines, totalStyle.Render(
			fmt.Sprintf("%d items — total %.2f", s.Cart.ItemCount, s.Cart.TotalPrice)))
	}

	if s.Preview != nil {
		lines = append(lines, cardStyle.Render(fmt.Sprintf(
			"%s\n%.2f\n%s", s.Preview.Name, s.Preview.Price, clip(s.Preview.Description, 40))))
	}

	if s.WeightAdvisory != "" {
		lines = append(lines, warnStyle.Render("Unexpected weight "+s.WeightAdvisory+
			" — please check the cart contents"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func thankYouScreen() string {
	return cardStyle.Render(titleStyle.Render("Thank you for shopping with us!"))
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
