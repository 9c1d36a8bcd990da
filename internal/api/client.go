// Package api is the HTTP client for the cart backend. The backend's
// internals are opaque; this package only knows the request/response
// contracts the kiosk depends on.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// TokenSource supplies the current bearer token, or "" when no customer
// session is active.
type TokenSource func() string

// CartLine is one entry in the customer's cart.
type CartLine struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Image    string  `json:"image"`
}

// CartContents is the response of the cart-items endpoint.
type CartContents struct {
	Items      []CartLine `json:"items"`
	TotalPrice float64    `json:"total_price"`
	ItemCount  int        `json:"item_count"`
}

// Item is the detail record behind a scanned barcode.
type Item struct {
	Barcode     int64   `json:"barcode"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Image       string  `json:"image_url"`
}

// PaymentHandle is the backend's acknowledgment of a created payment.
// Completion arrives asynchronously over the realtime channel, never here.
type PaymentHandle struct {
	PaymentID  string `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
	Status     string `json:"status"`
}

// Client talks to the cart backend.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

// New creates a backend client. token may be nil for unauthenticated use.
func New(baseURL string, token TokenSource) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultRequestTimeout},
		token:   token,
	}
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchCartItems returns the current cart contents for a session.
// Transport and decode failures degrade to an empty cart rather than an
// error: the kiosk always has a sane empty state to render.
func (c *Client) FetchCartItems(ctx context.Context, sessionID string) CartContents {
	empty := CartContents{Items: []CartLine{}}

	body, err := c.get(ctx, "/cart-items/session/"+sessionID)
	if err != nil {
		slog.Warn("cart fetch failed, rendering empty cart", "session", sessionID, "error", err)
		return empty
	}

	var contents CartContents
	if err := json.Unmarshal(body, &contents); err != nil {
		slog.Warn("cart response malformed, rendering empty cart", "session", sessionID, "error", err)
		return empty
	}
	if contents.Items == nil {
		contents.Items = []CartLine{}
	}
	return contents
}

// FetchItem looks up the item detail for a scanned barcode.
func (c *Client) FetchItem(ctx context.Context, barcode int64) (*Item, error) {
	body, err := c.get(ctx, fmt.Sprintf("/items/read/%d", barcode))
	if err != nil {
		return nil, err
	}
	var item Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("decode item %d: %w", barcode, err)
	}
	if item.Barcode == 0 {
		item.Barcode = barcode
	}
	return &item, nil
}

// FetchPairingCredential requests a fresh short-lived pairing credential
// for a cart. The backend returns the bare credential string, sometimes
// wrapped in JSON quotes.
func (c *Client) FetchPairingCredential(ctx context.Context, cartID string) (string, error) {
	body, err := c.get(ctx, "/customer-session/qr/"+cartID)
	if err != nil {
		return "", err
	}
	cred := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if cred == "" {
		return "", fmt.Errorf("empty pairing credential for cart %s", cartID)
	}
	return cred, nil
}

// CreatePayment starts the checkout flow for a session. The returned handle
// only acknowledges creation; the payment-result message on the realtime
// channel signals completion.
func (c *Client) CreatePayment(ctx context.Context, sessionID string) (*PaymentHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment/create-payment/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read payment response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create payment: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var handle PaymentHandle
	if err := json.Unmarshal(body, &handle); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	return &handle, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}
