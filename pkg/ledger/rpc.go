package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RPCClient talks JSON-RPC 2.0 to a ledger node over HTTP. It performs
// no internal retry; retry policy belongs to the broadcast engine so
// attempt counts stay observable.
type RPCClient struct {
	rpcURL     string
	httpClient *http.Client
}

// Make sure we conform to the interface
var _ Client = (*RPCClient)(nil)

// NewRPCClient creates a client for the node at rpcURL.
func NewRPCClient(rpcURL string) *RPCClient {
	return &RPCClient{
		rpcURL:     rpcURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type rpcResponse struct {
	JsonRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	ID int `json:"id"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &RPCError{Code: -resp.StatusCode, Message: fmt.Sprintf("%s: http status %d", method, resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	return rpcResp.Result, nil
}

// Health checks node connectivity via getHealth.
func (c *RPCClient) Health(ctx context.Context) error {
	_, err := c.call(ctx, "getHealth", nil)
	return err
}

// GetAnchor fetches the latest checkpoint via getLatestBlockhash.
func (c *RPCClient) GetAnchor(ctx context.Context) (Anchor, error) {
	raw, err := c.call(ctx, "getLatestBlockhash", []any{map[string]any{"commitment": "confirmed"}})
	if err != nil {
		return Anchor{}, err
	}
	var result struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return Anchor{}, fmt.Errorf("decode anchor: %w", err)
	}
	return Anchor{
		Checkpoint:     result.Value.Blockhash,
		ValidityHeight: result.Value.LastValidBlockHeight,
	}, nil
}

// Submit sends the raw signed payload via sendTransaction.
func (c *RPCClient) Submit(ctx context.Context, payload string) (string, error) {
	raw, err := c.call(ctx, "sendTransaction", []any{
		payload,
		map[string]any{"encoding": "base64", "preflightCommitment": "confirmed"},
	})
	if err != nil {
		return "", err
	}
	var sig string
	if err := json.Unmarshal(raw, &sig); err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	return sig, nil
}

// GetStatuses reports confirmation status via getSignatureStatuses.
func (c *RPCClient) GetStatuses(ctx context.Context, signatures []string) ([]SignatureStatus, error) {
	raw, err := c.call(ctx, "getSignatureStatuses", []any{signatures})
	if err != nil {
		return nil, err
	}
	var result struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode signature statuses: %w", err)
	}

	statuses := make([]SignatureStatus, len(signatures))
	for i, sig := range signatures {
		statuses[i] = SignatureStatus{Signature: sig}
		if i >= len(result.Value) || result.Value[i] == nil {
			continue
		}
		statuses[i].Tier = result.Value[i].ConfirmationStatus
		if result.Value[i].Err != nil {
			errJSON, _ := json.Marshal(result.Value[i].Err)
			statuses[i].Err = string(errJSON)
		}
	}
	return statuses, nil
}

// GetBalance returns the base-asset balance of address.
func (c *RPCClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	raw, err := c.call(ctx, "getBalance", []any{address})
	if err != nil {
		return 0, err
	}
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	return result.Value, nil
}
