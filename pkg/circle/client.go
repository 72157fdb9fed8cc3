package circle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.circle.com"
	responseBodyReadLimit int64 = 1024
)

var (
	errAPIKeyRequired = errors.New("circle api key is required")
)

// Client wraps the Circle Web3 Services APIs the relay polls during
// reconciliation and health checks.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout overrides the default per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds the Circle client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// Transaction is the normalized provider view of a payment operation.
type Transaction struct {
	ID        string
	State     string
	TxHash    string
	Amount    string
	Currency  string
	UpdatedAt time.Time
}

// IsTerminal reports whether the provider considers the transaction settled.
func (t Transaction) IsTerminal() bool {
	switch strings.ToUpper(t.State) {
	case "COMPLETE", "COMPLETED", "CONFIRMED", "FAILED", "CANCELLED", "DENIED":
		return true
	}
	return false
}

// Succeeded reports whether the provider settled the transaction successfully.
func (t Transaction) Succeeded() bool {
	switch strings.ToUpper(t.State) {
	case "COMPLETE", "COMPLETED", "CONFIRMED":
		return true
	}
	return false
}

// GetTransaction fetches the current provider state for the given transaction id.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "circle client not configured")
	}
	trimmed := strings.TrimSpace(transactionID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	endpoint := fmt.Sprintf("%s/v1/w3s/transactions/%s", strings.TrimRight(c.baseURL, "/"), url.PathEscape(trimmed))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build transaction request")
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute transaction request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found at provider")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "transaction request failed")
	}

	var apiResp struct {
		Data struct {
			Transaction struct {
				ID         string    `json:"id"`
				State      string    `json:"state"`
				TxHash     string    `json:"txHash"`
				Amounts    []string  `json:"amounts"`
				UpdateDate time.Time `json:"updateDate"`
			} `json:"transaction"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode transaction response")
	}

	tx := apiResp.Data.Transaction
	if tx.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "provider returned empty transaction")
	}

	normalized := &Transaction{
		ID:        tx.ID,
		State:     tx.State,
		TxHash:    tx.TxHash,
		UpdatedAt: tx.UpdateDate,
	}
	if len(tx.Amounts) > 0 {
		normalized.Amount = tx.Amounts[0]
	}
	return normalized, nil
}

// Card is the normalized provider view of a card resource.
type Card struct {
	ID        string
	Status    string
	UpdatedAt time.Time
}

// IsTerminal reports whether the provider considers the card settled.
func (c Card) IsTerminal() bool {
	switch strings.ToUpper(c.Status) {
	case "COMPLETE", "COMPLETED", "FAILED", "DECLINED":
		return true
	}
	return false
}

// Succeeded reports whether the card reached its success state.
func (c Card) Succeeded() bool {
	switch strings.ToUpper(c.Status) {
	case "COMPLETE", "COMPLETED":
		return true
	}
	return false
}

// GetCard fetches the current provider state for the given card id.
func (c *Client) GetCard(ctx context.Context, cardID string) (*Card, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "circle client not configured")
	}
	trimmed := strings.TrimSpace(cardID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card id is required")
	}

	endpoint := fmt.Sprintf("%s/v1/cards/%s", strings.TrimRight(c.baseURL, "/"), url.PathEscape(trimmed))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build card request")
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute card request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "card not found at provider")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "card request failed")
	}

	var apiResp struct {
		Data struct {
			ID         string    `json:"id"`
			Status     string    `json:"status"`
			UpdateDate time.Time `json:"updateDate"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode card response")
	}
	if apiResp.Data.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "provider returned empty card")
	}

	return &Card{
		ID:        apiResp.Data.ID,
		Status:    apiResp.Data.Status,
		UpdatedAt: apiResp.Data.UpdateDate,
	}, nil
}

// Ping verifies the provider API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "circle client not configured")
	}

	endpoint := fmt.Sprintf("%s/ping", strings.TrimRight(c.baseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build ping request")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute ping request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("provider ping returned status %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}
