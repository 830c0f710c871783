// Package shield talks to the privacy-pool backend that holds shielded
// funds. The backend is consumed as a black box; when it is
// unreachable, a local demo fallback ledger stands in.
package shield

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fabrknt/fabcash/pkg/models"
)

// Balance is the shielded balance per asset, in smallest units.
type Balance struct {
	Sol  uint64 `json:"sol"`
	Usdc uint64 `json:"usdc"`
}

// WithdrawResult reports a completed withdrawal from the pool.
type WithdrawResult struct {
	Signature string `json:"signature"`
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee"`
}

// Client is the shielding backend collaborator.
type Client interface {
	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	// Deposit moves amount of token into the privacy pool and returns
	// the deposit signature.
	Deposit(ctx context.Context, token models.TokenType, amount uint64) (string, error)

	// Withdraw moves amount of token out of the pool to recipient.
	Withdraw(ctx context.Context, token models.TokenType, amount uint64, recipient string) (WithdrawResult, error)

	// Balance returns the current shielded balances.
	Balance(ctx context.Context) (Balance, error)
}

// HTTPClient is a Client over the backend's HTTP API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Make sure we conform to the interface
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the backend at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s: %s", path, apiErr.Error)
		}
		return fmt.Errorf("%s: http status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

func (c *HTTPClient) Deposit(ctx context.Context, token models.TokenType, amount uint64) (string, error) {
	var resp struct {
		Signature string `json:"signature"`
	}
	body := map[string]any{"token": token, "amount": amount}
	if err := c.do(ctx, http.MethodPost, "/api/shield", body, &resp); err != nil {
		return "", err
	}
	return resp.Signature, nil
}

func (c *HTTPClient) Withdraw(ctx context.Context, token models.TokenType, amount uint64, recipient string) (WithdrawResult, error) {
	var resp WithdrawResult
	body := map[string]any{"token": token, "amount": amount, "recipient": recipient}
	if err := c.do(ctx, http.MethodPost, "/api/withdraw", body, &resp); err != nil {
		return WithdrawResult{}, err
	}
	return resp, nil
}

func (c *HTTPClient) Balance(ctx context.Context) (Balance, error) {
	var resp Balance
	if err := c.do(ctx, http.MethodGet, "/api/balance", nil, &resp); err != nil {
		return Balance{}, err
	}
	return resp, nil
}
