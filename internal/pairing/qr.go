package pairing

import (
	"log/slog"

	qrcode "github.com/skip2/go-qrcode"
)

// TerminalQR renders the credential as a half-block QR string for the
// kiosk's text screen. Returns "" if the payload cannot be encoded.
func TerminalQR(content string) string {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		slog.Error("pairing: QR encode failed", "error", err)
		return ""
	}
	return q.ToSmallString(false)
}

// PNG renders the credential as a size×size PNG, for displays that can
// show images.
func PNG(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, size)
}
