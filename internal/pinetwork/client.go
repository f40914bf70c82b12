// Package pinetwork is a client for the Pi Network platform payments API.
package pinetwork

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/shopspring/decimal"

	"pitaxi/internal/config"
)

// DefaultBaseURL is the production platform API.
const DefaultBaseURL = "https://api.minepi.com"

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 2048

// APIError is a non-2xx response from the platform API.
type APIError struct {
	StatusCode int
	Operation  string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pinetwork: %s: unexpected status %d", e.Operation, e.StatusCode)
}

// Client calls the platform API with the server API key.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient constructs a client. A nil httpClient gets one with the configured
// timeout and New Relic external segments.
func NewClient(cfg config.PaymentConfig, httpClient *http.Client) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, config.ErrMissingPaymentAPIKey
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: newrelic.NewRoundTripper(http.DefaultTransport),
		}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
	}, nil
}

// Approve marks a user-initiated payment ready for the user to sign.
func (c *Client) Approve(ctx context.Context, paymentID string) (*Payment, error) {
	var p Payment
	if err := c.do(ctx, "approve", http.MethodPost, paymentPath(paymentID, "approve"), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Complete finalizes a payment once its blockchain transaction is known.
func (c *Client) Complete(ctx context.Context, paymentID, txID string) (*Payment, error) {
	body := map[string]string{"txid": txID}
	var p Payment
	if err := c.do(ctx, "complete", http.MethodPost, paymentPath(paymentID, "complete"), body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Cancel cancels a payment that has not been completed.
func (c *Client) Cancel(ctx context.Context, paymentID string) (*Payment, error) {
	var p Payment
	if err := c.do(ctx, "cancel", http.MethodPost, paymentPath(paymentID, "cancel"), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Status fetches the current state of a payment.
func (c *Client) Status(ctx context.Context, paymentID string) (*Payment, error) {
	var p Payment
	if err := c.do(ctx, "status", http.MethodGet, paymentPath(paymentID, ""), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Transfer creates an app-to-user payment to the recipient.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Payment, error) {
	if req.RecipientUID == "" {
		return nil, errors.New("pinetwork: transfer recipient is required")
	}
	if !req.Amount.IsPositive() {
		return nil, errors.New("pinetwork: transfer amount must be positive")
	}

	body := map[string]any{
		"payment": map[string]any{
			"amount":   json.Number(req.Amount.StringFixed(2)),
			"memo":     req.Memo,
			"metadata": req.Metadata,
			"uid":      req.RecipientUID,
		},
	}

	var p Payment
	if err := c.do(ctx, "transfer", http.MethodPost, "/v2/payments", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Me resolves a user access token to the platform user.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/me", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	var u User
	if err := c.send(httpReq, "me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Key "+c.apiKey)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return c.send(httpReq, op, out)
}

func (c *Client) send(httpReq *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("pinetwork: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Operation: op, Body: string(data)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("pinetwork: %s: decode response: %w", op, err)
	}
	return nil
}

func paymentPath(paymentID, action string) string {
	p := "/v2/payments/" + url.PathEscape(paymentID)
	if action != "" {
		p += "/" + action
	}
	return p
}

// Payment is the platform's payment record.
type Payment struct {
	Identifier  string          `json:"identifier"`
	UserUID     string          `json:"user_uid"`
	Amount      decimal.Decimal `json:"amount"`
	Memo        string          `json:"memo"`
	Metadata    map[string]any  `json:"metadata"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Direction   string          `json:"direction"`
	Network     string          `json:"network"`
	CreatedAt   string          `json:"created_at"`
	Status      PaymentStatus   `json:"status"`
	Transaction *Transaction    `json:"transaction"`
}

// TxID returns the blockchain transaction id, if any.
func (p *Payment) TxID() string {
	if p.Transaction == nil {
		return ""
	}
	return p.Transaction.TxID
}

// PaymentStatus holds the platform's status flags.
type PaymentStatus struct {
	DeveloperApproved   bool `json:"developer_approved"`
	TransactionVerified bool `json:"transaction_verified"`
	DeveloperCompleted  bool `json:"developer_completed"`
	Cancelled           bool `json:"cancelled"`
	UserCancelled       bool `json:"user_cancelled"`
}

// Transaction is the blockchain side of a payment.
type Transaction struct {
	TxID     string `json:"txid"`
	Verified bool   `json:"verified"`
	Link     string `json:"_link"`
}

// TransferRequest describes an app-to-user payout.
type TransferRequest struct {
	RecipientUID string
	Amount       decimal.Decimal
	Memo         string
	Metadata     map[string]any
}

// User is the authenticated platform user.
type User struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}
